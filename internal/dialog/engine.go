package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mobilivr/fabric/internal/agiclient"
)

// defaultMaxVisits is the visit-count ceiling a node falls back to when
// its InputSettings.MaxVisits is unset.
const defaultMaxVisits = 3

// Session is the subset of agiclient.Session the dialog engine drives.
// Declaring it as an interface (rather than importing *agiclient.Session
// directly everywhere) lets engine tests run against a fake PBX leg
// without a real AGI socket.
type Session interface {
	CallerID() string
	Channel() string
	DNID() string
	UniqueID() string

	PlayAudio(file, intKeys string) (int, error)
	GetInput(timeoutMs int) (int, error)
	SayDTMF(text, valid string, maxTimeout int) (string, error)
	PlayDTMF(file, valid string, maxTimeout, delayAfterInput int) (int, int64, bool, int, error)
	PlayASR(file, grammar string, recogTimeoutMs, bargeInDurMs, consecutiveSpeechDurMs, silenceTimeoutMs int, confidenceThreshold float64) (agiclient.ASRResult, error)
	SayASR(text, grammar string, recogTimeoutMs, bargeInDurMs, consecutiveSpeechDurMs, silenceTimeoutMs int, confidenceThreshold float64) (agiclient.ASRResult, error)
	RecordAudio(file string, maxTimeMs int, intKeys string, playBeep bool, silenceTimeoutMs int, customSilenceDetection bool, localDir string) (agiclient.RecordingResult, error)
	GetVariable(name string) (string, bool, error)
	SetVariable(name, value string) error
}

var _ Session = (*agiclient.Session)(nil)

// CustomFunc is a registered CUSTOM-state hook (spec.md §4.7's
// path/module/function triple resolves to one of these at Dialog load
// time). custom is the running node visit's scratch data, carried into
// the CallHistoryEntry once the node is exited.
type CustomFunc func(ctx context.Context, sess Session, custom map[string]string) error

// DefaultASRConfidenceThreshold is the confidence-score cutoff every
// Engine built by NewEngine applies to ASR results.
const DefaultASRConfidenceThreshold = 0.5

// Engine runs a single call through a Dialog: CUSTOM -> AUDIO -> OPTION
// -> {RECORD | UNKNOWN | TIMEOUT | REROUTE | EXIT}, the state machine
// spec.md §4.7 names, generalized from internal/flow's walkGraph the
// way this package's doc comment describes.
type Engine struct {
	dialog      *Dialog
	logger      *slog.Logger
	customFuncs map[string]CustomFunc
	language    string
	recordDir   string
	confidence  float64
}

// NewEngine builds an Engine for d. language selects AudioItem.ByLanguage
// entries; recordDir is where RECORD-state audio is pulled back to.
func NewEngine(d *Dialog, logger *slog.Logger, language, recordDir string) *Engine {
	return &Engine{
		dialog:      d,
		logger:      logger,
		customFuncs: make(map[string]CustomFunc),
		language:    language,
		recordDir:   recordDir,
		confidence:  DefaultASRConfidenceThreshold,
	}
}

// RegisterCustomFunc binds a module.function pair named by a node's
// CustomItem to the code that runs it.
func (e *Engine) RegisterCustomFunc(module, function string, fn CustomFunc) {
	e.customFuncs[module+"."+function] = fn
}

// Run drives sess through the dialog from its entry node until a node
// with Exit set is reached, returning the full call history.
func (e *Engine) Run(ctx context.Context, sess Session) (*CallHistory, error) {
	entryNode, err := e.dialog.Entry()
	if err != nil {
		return nil, err
	}

	history := &VisitHistory{}
	callHistory := &CallHistory{}
	visits := make(map[[20]byte]int)

	currentName := entryNode.Name
	for {
		select {
		case <-ctx.Done():
			return callHistory, ctx.Err()
		default:
		}

		node, ok := e.dialog.Node(currentName)
		if !ok {
			return callHistory, fmt.Errorf("dialog: node %q not found", currentName)
		}
		history.Push(node.Name)

		dest, entry, err := e.runNode(ctx, sess, node, history, visits)
		callHistory.Append(entry)
		if err != nil {
			return callHistory, err
		}
		if node.Exit {
			return callHistory, nil
		}

		resolved := dest.Resolve(history)
		switch resolved.Kind {
		case DestPrevious:
			prev, ok := history.Pop()
			if !ok {
				return callHistory, fmt.Errorf("dialog: node %q: PREVIOUS with no prior node", node.Name)
			}
			currentName = prev
		case DestCurrent:
			currentName = node.Name
		case DestNamed:
			if _, ok := e.dialog.Node(resolved.NodeName); !ok {
				return callHistory, fmt.Errorf("dialog: node %q: destination %q not found", node.Name, resolved.NodeName)
			}
			currentName = resolved.NodeName
		default:
			return callHistory, fmt.Errorf("dialog: node %q: unresolved destination", node.Name)
		}
	}
}

// runNode executes one node's CUSTOM, AUDIO and OPTION states and
// returns the (unresolved, possibly EVAL) destination to follow next.
func (e *Engine) runNode(ctx context.Context, sess Session, node *Node, history *VisitHistory, visits map[[20]byte]int) (Destination, CallHistoryEntry, error) {
	entry := CallHistoryEntry{NodeName: node.Name, EnteredAt: time.Now(), CustomData: make(map[string]string)}

	// CUSTOM
	for _, c := range node.CustomItems {
		fn, ok := e.customFuncs[c.Module+"."+c.Function]
		if !ok {
			entry.ExitedAt = time.Now()
			return Destination{}, entry, fmt.Errorf("dialog: node %q: no registered custom func for %s.%s", node.Name, c.Module, c.Function)
		}
		if err := fn(ctx, sess, entry.CustomData); err != nil {
			entry.ExitedAt = time.Now()
			return Destination{}, entry, fmt.Errorf("dialog: node %q: custom func %s.%s: %w", node.Name, c.Module, c.Function, err)
		}
	}

	hash := NameHash(node.Name)
	visits[hash]++

	// AUDIO
	intKeys := e.intKeys(node)
	isASR := node.Input != nil && node.Input.Mode == InputASR
	isDTMFWait := node.Input != nil && node.Input.Mode == InputDTMF
	lead := node.AudioItems
	var asrPrompt *AudioItem
	if isASR && len(node.AudioItems) > 0 {
		lead = node.AudioItems[:len(node.AudioItems)-1]
		last := node.AudioItems[len(node.AudioItems)-1]
		asrPrompt = &last
	}

	// spec.md §4.7: "only the last item allows user interruption" — so
	// only the final audio item, when the node is waiting on DTMF, is
	// split off here and played through PlayDTMF/SayDTMF below; every
	// earlier item plays to completion with no interrupt keys.
	var lastItem *AudioItem
	if isDTMFWait && len(lead) > 0 {
		last := lead[len(lead)-1]
		lead = lead[:len(lead)-1]
		lastItem = &last
	}

	for _, item := range lead {
		value := item.Resolve(e.language)
		switch item.Source {
		case AudioFile:
			if _, err := sess.PlayAudio(value, ""); err != nil {
				entry.ExitedAt = time.Now()
				return Destination{}, entry, fmt.Errorf("dialog: node %q: playing %q: %w", node.Name, value, err)
			}
		case AudioText:
			if _, err := sess.SayDTMF(value, "", 0); err != nil {
				entry.ExitedAt = time.Now()
				return Destination{}, entry, fmt.Errorf("dialog: node %q: saying %q: %w", node.Name, value, err)
			}
		}
	}

	// A digit pressed during (or, failing that, within MaxTimeMs after)
	// the final audio item is captured directly here via PlayDTMF/SayDTMF
	// — the combined play+wait-for-digit primitives — rather than waiting
	// to ask for one again once OPTION runs.
	var dtmf dtmfCapture
	if lastItem != nil {
		value := lastItem.Resolve(e.language)
		switch lastItem.Source {
		case AudioFile:
			digit, _, bargedIn, _, err := sess.PlayDTMF(value, intKeys, node.Input.MaxTimeMs, 0)
			if err != nil {
				entry.ExitedAt = time.Now()
				return Destination{}, entry, fmt.Errorf("dialog: node %q: playing %q: %w", node.Name, value, err)
			}
			dtmf = dtmfCapture{digit: digit, bargedIn: bargedIn, captured: true}
		case AudioText:
			digitStr, err := sess.SayDTMF(value, intKeys, node.Input.MaxTimeMs)
			if err != nil {
				entry.ExitedAt = time.Now()
				return Destination{}, entry, fmt.Errorf("dialog: node %q: saying %q: %w", node.Name, value, err)
			}
			digit, _ := strconv.Atoi(digitStr)
			dtmf = dtmfCapture{digit: digit, captured: true}
		}
	}

	if node.Recording != nil {
		rec, err := sess.RecordAudio(node.Recording.Filename, node.Recording.MaxTimeMs, node.Recording.IntKeys,
			node.Recording.PlayBeep, node.Recording.SilenceTimeoutMs, node.Recording.CustomSilenceDetection, e.recordDir)
		if err != nil {
			entry.ExitedAt = time.Now()
			return Destination{}, entry, fmt.Errorf("dialog: node %q: recording: %w", node.Name, err)
		}
		entry.Recording = &rec
	}

	if node.Exit {
		entry.ExitedAt = time.Now()
		return Destination{}, entry, nil
	}

	// OPTION
	dest, err := e.collectOption(sess, node, &entry, visits[hash], asrPrompt, dtmf)
	entry.ExitedAt = time.Now()
	if err != nil {
		return Destination{}, entry, err
	}
	if entry.IsMaxRetries || (!entry.IsTimeout && !entry.IsInvalid) {
		visits[hash] = 0
	}
	return dest, entry, nil
}

func (e *Engine) intKeys(node *Node) string {
	if node.Input == nil {
		return ""
	}
	if node.Input.UseAllDTMF {
		return "0123456789*#"
	}
	return node.Input.ValidDigits
}

// collectOption runs the OPTION state: collect input (if the node has
// InputSettings), classify it, and return the destination to follow.
// Visit-count handling here implements the resolution to spec.md
// §4.7's UNKNOWN/TIMEOUT/REROUTE ambiguity recorded in DESIGN.md: the
// count increments once per node entry (see runNode), UNKNOWN/TIMEOUT
// follow the error destination without resetting while under the
// node's max-visit ceiling, a successful resolution resets the count,
// and REROUTE (count at or over the ceiling) follows its destination
// and unconditionally resets.
func (e *Engine) collectOption(sess Session, node *Node, entry *CallHistoryEntry, visitCount int, asrPrompt *AudioItem, dtmf dtmfCapture) (Destination, error) {
	if node.Input == nil {
		return node.DefaultGoto, nil
	}

	switch node.Input.Mode {
	case InputDTMF:
		return e.collectDTMF(sess, node, entry, visitCount, dtmf)
	case InputASR:
		return e.collectASR(sess, node, entry, visitCount, asrPrompt)
	default:
		return Destination{}, fmt.Errorf("dialog: node %q: unknown input mode %q", node.Name, node.Input.Mode)
	}
}

// dtmfCapture carries a digit already collected during the AUDIO state's
// final, interruptible item (spec.md §4.7: "if input arrived during
// playback the event jumps straight to OPTION"). captured is false when
// the node had no audio to interrupt (or no DTMF wait at all), in which
// case collectDTMF falls back to its own fresh GetInput wait.
type dtmfCapture struct {
	digit    int
	bargedIn bool
	captured bool
}

func (e *Engine) collectDTMF(sess Session, node *Node, entry *CallHistoryEntry, visitCount int, dtmf dtmfCapture) (Destination, error) {
	code := dtmf.digit
	if !dtmf.captured {
		var err error
		code, err = sess.GetInput(node.Input.MaxTimeMs)
		if err != nil {
			return Destination{}, fmt.Errorf("dialog: node %q: collecting DTMF: %w", node.Name, err)
		}
	}
	if code <= 0 {
		entry.IsTimeout = true
		return e.errorDestination(node, visitCount, true, entry)
	}

	digits := string(rune(code))
	entry.DTMF = &DTMFInput{Digits: digits, BargedIn: dtmf.bargedIn}

	if dest, ok := node.OptionItems[digits]; ok {
		return dest, nil
	}
	if node.ApplyGlobals {
		if dest, ok := e.dialog.Globals[digits]; ok {
			return dest, nil
		}
	}
	entry.IsInvalid = true
	return e.errorDestination(node, visitCount, false, entry)
}

func (e *Engine) collectASR(sess Session, node *Node, entry *CallHistoryEntry, visitCount int, prompt *AudioItem) (Destination, error) {
	threshold := e.confidence
	in := node.Input
	var result agiclient.ASRResult
	var err error
	switch {
	case prompt == nil:
		result, err = sess.PlayASR("", in.Grammar, in.MaxTimeMs, in.BargeInDurationMs, in.ConsecutiveSpeechDurMs, in.SilenceTimeoutMs, threshold)
	case prompt.Source == AudioText:
		result, err = sess.SayASR(prompt.Resolve(e.language), in.Grammar, in.MaxTimeMs, in.BargeInDurationMs, in.ConsecutiveSpeechDurMs, in.SilenceTimeoutMs, threshold)
	default:
		result, err = sess.PlayASR(prompt.Resolve(e.language), in.Grammar, in.MaxTimeMs, in.BargeInDurationMs, in.ConsecutiveSpeechDurMs, in.SilenceTimeoutMs, threshold)
	}
	if err != nil {
		return Destination{}, fmt.Errorf("dialog: node %q: collecting ASR: %w", node.Name, err)
	}
	entry.ASR = &result

	if result.Utterance == "-1" || result.Utterance == "" {
		entry.IsTimeout = true
		return e.errorDestination(node, visitCount, true, entry)
	}
	if result.Level == agiclient.ConfidenceLow {
		entry.IsInvalid = true
		return e.errorDestination(node, visitCount, false, entry)
	}
	if dest, ok := node.OptionItems[result.Utterance]; ok {
		return dest, nil
	}
	if node.ApplyGlobals {
		if dest, ok := e.dialog.Globals[result.Utterance]; ok {
			return dest, nil
		}
	}
	entry.IsInvalid = true
	return e.errorDestination(node, visitCount, false, entry)
}

// errorDestination picks the UNKNOWN/TIMEOUT/REROUTE destination for a
// failed OPTION collection, given the node's current visit count.
func (e *Engine) errorDestination(node *Node, visitCount int, timeout bool, entry *CallHistoryEntry) (Destination, error) {
	if node.ErrorPolicy == nil {
		return Destination{}, fmt.Errorf("dialog: node %q: no error policy", node.Name)
	}
	maxVisits := node.Input.MaxVisits
	if maxVisits <= 0 {
		maxVisits = defaultMaxVisits
	}
	if visitCount >= maxVisits {
		entry.IsMaxRetries = true
		return node.ErrorPolicy.Reroute, nil
	}
	if timeout {
		return node.ErrorPolicy.Timeout, nil
	}
	return node.ErrorPolicy.Unknown, nil
}
