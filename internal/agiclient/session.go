package agiclient

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Session is the synchronous, line-oriented AGI client exposed to the
// dialog runtime. It owns a Conn for its entire lifetime and is the single
// point where wire-level results become AGIErrors or plain Go values.
type Session struct {
	conn    *Conn
	Headers Headers
}

// NewSession reads the connection's header block and returns a ready Session.
func NewSession(c *Conn) (*Session, error) {
	h, err := c.ReadHeaders()
	if err != nil {
		return nil, err
	}
	return &Session{conn: c, Headers: h}, nil
}

// WrapSession builds a Session from a Conn whose header block has already
// been consumed by the caller (the FastAGI server reads headers itself
// before it knows whether this leg is an inbound call or a return leg).
func WrapSession(c *Conn, headers Headers) *Session {
	return &Session{conn: c, Headers: headers}
}

func (s *Session) CallerID() string  { return s.Headers["callerid"] }
func (s *Session) Channel() string   { return s.Headers["channel"] }
func (s *Session) DNID() string      { return s.Headers["dnid"] }
func (s *Session) UniqueID() string  { return s.Headers["uniqueid"] }

func (s *Session) Close() error { return s.conn.Close() }

func (s *Session) Answer() error {
	r, err := s.conn.Command("ANSWER")
	if err != nil {
		return wrapError("ANSWER", err)
	}
	if r.Code != StatusOK {
		return newStatusError("ANSWER", r.Code)
	}
	return nil
}

// Hangup sets AGISTATUS to status ("HANGUP", "SUCCESS" or "FAILURE") before
// closing the socket, matching the PBX-side convention for the final call
// disposition variable.
func (s *Session) Hangup(status string) error {
	if err := s.SetVariable("AGISTATUS", status); err != nil {
		return err
	}
	_, err := s.conn.Command("HANGUP")
	if err != nil {
		return wrapError("HANGUP", err)
	}
	return s.Close()
}

// PlayAudio streams file on the PBX. Returns the interrupting DTMF digit,
// 0 if none arrived, negative on failure.
func (s *Session) PlayAudio(file, intKeys string) (int, error) {
	r, err := s.conn.Command("STREAM FILE %s %q", file, intKeys)
	if err != nil {
		return 0, wrapError("STREAM FILE", err)
	}
	if r.Code != StatusOK {
		return -1, nil
	}
	return r.Value, nil
}

// GetVariable returns the PBX channel variable's value and whether it was set.
func (s *Session) GetVariable(name string) (string, bool, error) {
	r, err := s.conn.Command("GET VARIABLE %s", name)
	if err != nil {
		return "", false, wrapError("GET VARIABLE", err)
	}
	if r.Code != StatusOK || r.Value == 0 {
		return "", false, nil
	}
	return r.Quoted, true, nil
}

func (s *Session) SetVariable(name, value string) error {
	r, err := s.conn.Command("SET VARIABLE %s %q", name, value)
	if err != nil {
		return wrapError("SET VARIABLE", err)
	}
	if r.Code != StatusOK || r.Value == 0 {
		return newStatusError("SET VARIABLE", r.Code)
	}
	return nil
}

// GetInput waits up to timeoutMs for a single DTMF digit.
func (s *Session) GetInput(timeoutMs int) (int, error) {
	r, err := s.conn.Command("WAIT FOR DIGIT %d", timeoutMs)
	if err != nil {
		return 0, wrapError("WAIT FOR DIGIT", err)
	}
	if r.Code != StatusOK {
		return -1, nil
	}
	return r.Value, nil
}

// SayDTMF renders text via TTS into a buffered file, plays it with
// interrupt keys = valid, and (if nothing interrupted and maxTimeout > 0)
// waits that long for a digit. Result is the digit string, "0" if no input
// was required, "-1" on timeout.
func (s *Session) SayDTMF(text, valid string, maxTimeout int) (string, error) {
	file, err := s.renderTTS(text)
	if err != nil {
		return "", err
	}
	digit, _, _, _, err := s.PlayDTMF(file, valid, maxTimeout, 0)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(digit), nil
}

// PlayDTMF plays file with interrupt keys = valid; if nothing interrupts
// and maxTimeout > 0, waits for a digit afterwards. Returns
// (digit, timestampMs, bargedIn, playbackStoppedAtMs).
func (s *Session) PlayDTMF(file, valid string, maxTimeout, delayAfterInput int) (int, int64, bool, int, error) {
	r, err := s.conn.Command("STREAM FILE %s %q", file, valid)
	if err != nil {
		return 0, 0, false, 0, wrapError("STREAM FILE", err)
	}
	if r.Code != StatusOK {
		return -1, 0, false, 0, nil
	}
	if r.Value != 0 {
		return r.Value, time.Now().UnixMilli(), true, r.EndPos, nil
	}
	if maxTimeout <= 0 {
		return 0, 0, false, r.EndPos, nil
	}
	digit, err := s.GetInput(maxTimeout)
	if err != nil {
		return 0, 0, false, 0, err
	}
	if digit <= 0 {
		return -1, 0, false, r.EndPos, nil
	}
	return digit, time.Now().UnixMilli(), false, r.EndPos, nil
}

// Transfer issues a PBX Dial toward number and returns (status, bridgedMillis),
// bridgedMillis == -1 if the call was never answered.
func (s *Session) Transfer(number string, dialTimeoutSec int, announcement string, ringing bool) (string, int64, error) {
	args := number
	if ringing {
		args += ",r"
	}
	if _, err := s.conn.Command("EXEC Dial %q,%d", args, dialTimeoutSec); err != nil {
		return "", -1, wrapError("EXEC Dial", err)
	}
	status, _, err := s.GetVariable("DIALSTATUS")
	if err != nil {
		return "", -1, err
	}
	if status != "ANSWER" {
		return status, -1, nil
	}
	billsec, _, err := s.GetVariable("DIALEDTIME")
	if err != nil || billsec == "" {
		return status, 0, nil
	}
	ms, err := strconv.ParseInt(billsec, 10, 64)
	if err != nil {
		return status, 0, nil
	}
	return status, ms * 1000, nil
}

// ExecAGI instructs the PBX to re-dial this leg to the AGI server at
// host:port (spec.md §4.5 step (e), the federated-routing re-dial).
func (s *Session) ExecAGI(host string, port int) error {
	r, err := s.conn.Command("EXEC AGI %q", fmt.Sprintf("agi://%s:%d", host, port))
	if err != nil {
		return wrapError("EXEC AGI", err)
	}
	if r.Code != StatusOK {
		return newStatusError("EXEC AGI", r.Code)
	}
	return nil
}

// renderTTS asks the PBX to synthesize text to a buffer file and returns
// its name. Grounded on the same EXEC convention as Transfer.
func (s *Session) renderTTS(text string) (string, error) {
	file := "tts-" + strings.ReplaceAll(strconv.Itoa(int(time.Now().UnixMilli())), "-", "")
	r, err := s.conn.Command("EXEC %s %q", "Festival", text+"&&"+file)
	if err != nil {
		return "", wrapError("EXEC Festival", err)
	}
	if r.Code != StatusOK {
		return "", newStatusError("EXEC Festival", r.Code)
	}
	return file, nil
}
