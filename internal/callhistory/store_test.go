package callhistory

import (
	"context"
	"testing"
	"time"

	"github.com/mobilivr/fabric/internal/agiclient"
	"github.com/mobilivr/fabric/internal/dialog"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleHistory() *dialog.CallHistory {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	h := &dialog.CallHistory{}
	h.Append(dialog.CallHistoryEntry{
		NodeName:  "Greeting",
		EnteredAt: now,
		ExitedAt:  now.Add(2 * time.Second),
		DTMF:      &dialog.DTMFInput{Digits: "1"},
	})
	h.Append(dialog.CallHistoryEntry{
		NodeName:  "MainMenu",
		EnteredAt: now.Add(2 * time.Second),
		ExitedAt:  now.Add(5 * time.Second),
		ASR: &agiclient.ASRResult{
			Utterance: "billing",
			Level:     agiclient.ConfidenceHigh,
			Score:     0.92,
		},
		CustomData: map[string]string{"department": "billing"},
	})
	h.Append(dialog.CallHistoryEntry{
		NodeName:     "Exit",
		EnteredAt:    now.Add(5 * time.Second),
		ExitedAt:     now.Add(5 * time.Second),
		IsMaxRetries: true,
	})
	return h
}

func TestRecordAndGetByCallID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	history := sampleHistory()

	if err := s.RecordCall(ctx, "call-1", "MainIVR", "+27821234567", "SIP/100-001", history, true); err != nil {
		t.Fatalf("RecordCall: %v", err)
	}

	rec, err := s.GetByCallID(ctx, "call-1")
	if err != nil {
		t.Fatalf("GetByCallID: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record, got nil")
	}
	if rec.DialogName != "MainIVR" || rec.CallerID != "+27821234567" || !rec.Completed {
		t.Errorf("unexpected call summary: %+v", rec)
	}
	if len(rec.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(rec.Entries))
	}

	first := rec.Entries[0]
	if !first.DTMFDigits.Valid || first.DTMFDigits.String != "1" {
		t.Errorf("entry 0 dtmf = %+v", first.DTMFDigits)
	}

	second := rec.Entries[1]
	if !second.ASRUtterance.Valid || second.ASRUtterance.String != "billing" {
		t.Errorf("entry 1 asr utterance = %+v", second.ASRUtterance)
	}
	if second.CustomData["department"] != "billing" {
		t.Errorf("entry 1 custom data = %+v", second.CustomData)
	}

	third := rec.Entries[2]
	if !third.IsMaxRetries {
		t.Errorf("entry 2 expected IsMaxRetries")
	}
}

func TestGetByCallIDUnknownReturnsNil(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.GetByCallID(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("GetByCallID: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil record, got %+v", rec)
	}
}

func TestListRecentOrdersByStartedAtDesc(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := sampleHistory()
	if err := s.RecordCall(ctx, "call-older", "MainIVR", "+1", "chan1", older, true); err != nil {
		t.Fatalf("RecordCall older: %v", err)
	}

	newer := sampleHistory()
	for i := range newer.Entries {
		newer.Entries[i].EnteredAt = newer.Entries[i].EnteredAt.Add(time.Hour)
		newer.Entries[i].ExitedAt = newer.Entries[i].ExitedAt.Add(time.Hour)
	}
	if err := s.RecordCall(ctx, "call-newer", "MainIVR", "+2", "chan2", newer, true); err != nil {
		t.Fatalf("RecordCall newer: %v", err)
	}

	recs, err := s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("recs = %d, want 2", len(recs))
	}
	if recs[0].CallID != "call-newer" {
		t.Errorf("recs[0] = %q, want call-newer", recs[0].CallID)
	}
}
