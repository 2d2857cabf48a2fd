package dialog

import (
	"time"

	"github.com/mobilivr/fabric/internal/agiclient"
)

// VisitHistory tracks the node names a call has passed through, with
// consecutive self-loops collapsed to one entry so PREVIOUS and the
// EVAL prev=/last= tests see a genuine transition history rather than
// every repeated visit to an AUDIO/OPTION retry loop.
type VisitHistory struct {
	names []string
}

// Push records entry into node name, collapsing a repeat of the
// current top entry.
func (h *VisitHistory) Push(name string) {
	if len(h.names) > 0 && h.names[len(h.names)-1] == name {
		return
	}
	h.names = append(h.names, name)
}

// Pop returns to the previous node name (PREVIOUS destination), or
// false if there is nowhere to go back to.
func (h *VisitHistory) Pop() (string, bool) {
	if len(h.names) < 2 {
		return "", false
	}
	h.names = h.names[:len(h.names)-1]
	return h.names[len(h.names)-1], true
}

// Last returns the most recently visited node name.
func (h *VisitHistory) Last() (string, bool) {
	if len(h.names) == 0 {
		return "", false
	}
	return h.names[len(h.names)-1], true
}

// Contains reports whether name has ever been visited (EVAL's prev=
// test).
func (h *VisitHistory) Contains(name string) bool {
	for _, n := range h.names {
		if n == name {
			return true
		}
	}
	return false
}

// DTMFInput captures one collected DTMF digit string.
type DTMFInput struct {
	Digits   string
	BargedIn bool
}

// CallHistoryEntry is one node visit's full record, captured for
// reporting and for custom-function/EVAL inspection after the fact.
type CallHistoryEntry struct {
	NodeName  string
	EnteredAt time.Time
	ExitedAt  time.Time

	DTMF      *DTMFInput
	ASR       *agiclient.ASRResult
	Recording *agiclient.RecordingResult

	IsTimeout    bool
	IsInvalid    bool
	IsMaxRetries bool

	CustomData map[string]string
}

// CallHistory is the ordered record of a single call's walk through a
// Dialog, from entry to EXIT.
type CallHistory struct {
	Entries []CallHistoryEntry
}

func (h *CallHistory) Append(e CallHistoryEntry) {
	h.Entries = append(h.Entries, e)
}

func (h *CallHistory) Last() *CallHistoryEntry {
	if len(h.Entries) == 0 {
		return nil
	}
	return &h.Entries[len(h.Entries)-1]
}
