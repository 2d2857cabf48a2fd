// Package dialog implements the Dialog Runtime (C7, spec.md §4.7): a
// single-threaded event loop that drives a call session through a named
// graph of nodes, playing prompts, collecting DTMF or ASR input, and
// following destinations the way internal/flow's Engine walks a React
// Flow graph — generalized from an edge list keyed by output-handle name
// to spec.md's goto/option/error-policy destinations.
package dialog

import "crypto/sha1"

// InputMode selects how a node collects caller input during its AUDIO/
// OPTION transition.
type InputMode string

const (
	InputDTMF InputMode = "DTMF"
	InputASR  InputMode = "ASR"
)

// InputSettings configures how a node waits for input, mirroring spec.md
// §4.7's node data: a collection mode, timing, and (for ASR) recognizer
// tuning.
type InputSettings struct {
	Mode         InputMode
	MaxTimeMs    int
	MaxVisits    int
	ValidDigits  string // explicit DTMF alphabet; ignored when UseAllDTMF is set
	UseAllDTMF   bool

	// ASR-specific.
	BargeInDurationMs        int
	ConsecutiveSpeechDurMs   int
	SilenceTimeoutMs         int
	Grammar                  string
}

// ErrorPolicy holds a node's three error destinations (spec.md §4.7).
type ErrorPolicy struct {
	Unknown  Destination
	Timeout  Destination
	Reroute  Destination
}

// AudioSource is where an AudioItem's content comes from.
type AudioSource string

const (
	AudioFile AudioSource = "FILE"
	AudioText AudioSource = "TEXT"
)

// AudioItem is one entry in a node's ordered prompt list. ByLanguage, if
// non-empty, maps a language index to an alternate value; Resolve picks
// the caller's language if present, falling back to Value.
type AudioItem struct {
	Source     AudioSource
	Value      string
	ByLanguage map[string]string
}

func (a AudioItem) Resolve(language string) string {
	if language != "" {
		if v, ok := a.ByLanguage[language]; ok {
			return v
		}
	}
	return a.Value
}

// CustomItem names a hook function to invoke during the CUSTOM state,
// identified the way spec.md §4.7 describes: a source file plus a
// module/function pair within it, resolved through a registry the dialog
// owner supplies (see Engine.RegisterCustomFunc).
type CustomItem struct {
	Path     string
	Module   string
	Function string
}

// RecordingItem configures a node's optional recording step.
type RecordingItem struct {
	Filename               string
	MaxTimeMs              int
	IntKeys                string
	PlayBeep               bool
	SilenceTimeoutMs       int
	CustomSilenceDetection bool
}

// Node is one state in a Dialog's graph (spec.md §4.7).
type Node struct {
	Name string

	Input         *InputSettings
	ErrorPolicy   *ErrorPolicy
	DefaultGoto   Destination
	AudioItems    []AudioItem
	CustomItems   []CustomItem
	Recording     *RecordingItem
	OptionItems   map[string]Destination
	ApplyGlobals  bool
	Exit          bool
}

// NameHash is the SHA-1 digest of the node's name used as its storage
// key and as the target of a named Destination, matching spec.md §4.7's
// "name (and its SHA-1 hash used as key)".
func NameHash(name string) [20]byte {
	return sha1.Sum([]byte(name))
}
