package agiclient

import "strconv"

type Confidence string

const (
	ConfidenceHigh Confidence = "HIGH"
	ConfidenceLow  Confidence = "LOW"
)

// ASRResult is the outcome of a recognizer pass: PlayASR/SayASR return -1
// (as utterance) when the PBX reports an empty transcript.
type ASRResult struct {
	Utterance      string
	Level          Confidence
	Score          float64
	BargedIn       bool
	BargeInFrame   int
}

// PlayASR streams file, then invokes the PBX recognizer application with
// the given grammar and timing parameters, and parses the recognition
// result variables it leaves behind.
func (s *Session) PlayASR(file, grammar string, recogTimeoutMs, bargeInDurMs, consecutiveSpeechDurMs, silenceTimeoutMs int, confidenceThreshold float64) (ASRResult, error) {
	if _, err := s.conn.Command("STREAM FILE %s %q", file, ""); err != nil {
		return ASRResult{}, wrapError("STREAM FILE", err)
	}
	return s.runRecognizer(grammar, recogTimeoutMs, bargeInDurMs, consecutiveSpeechDurMs, silenceTimeoutMs, confidenceThreshold)
}

// SayASR is PlayASR preceded by TTS rendering of text instead of a stored file.
func (s *Session) SayASR(text, grammar string, recogTimeoutMs, bargeInDurMs, consecutiveSpeechDurMs, silenceTimeoutMs int, confidenceThreshold float64) (ASRResult, error) {
	file, err := s.renderTTS(text)
	if err != nil {
		return ASRResult{}, err
	}
	return s.PlayASR(file, grammar, recogTimeoutMs, bargeInDurMs, consecutiveSpeechDurMs, silenceTimeoutMs, confidenceThreshold)
}

func (s *Session) runRecognizer(grammar string, recogTimeoutMs, bargeInDurMs, consecutiveSpeechDurMs, silenceTimeoutMs int, confidenceThreshold float64) (ASRResult, error) {
	r, err := s.conn.Command("EXEC Recognize %q,%d,%d,%d,%d", grammar, recogTimeoutMs, bargeInDurMs, consecutiveSpeechDurMs, silenceTimeoutMs)
	if err != nil {
		return ASRResult{}, wrapError("EXEC Recognize", err)
	}
	if r.Code != StatusOK {
		return ASRResult{}, newStatusError("EXEC Recognize", r.Code)
	}

	utterance, _, err := s.GetVariable("RECOGNITION_RESULTS")
	if err != nil {
		return ASRResult{}, err
	}
	if utterance == "" {
		return ASRResult{Utterance: "-1"}, nil
	}

	scoreStr, _, err := s.GetVariable("RECOGNITION_CONFIDENCE")
	if err != nil {
		return ASRResult{}, err
	}
	score, _ := strconv.ParseFloat(scoreStr, 64)

	bargeStr, _, err := s.GetVariable("RECOGNITION_BARGIN")
	if err != nil {
		return ASRResult{}, err
	}
	bargedIn := bargeStr == "1" || bargeStr == "true"

	frameStr, _, err := s.GetVariable("RECOGNITION_BARGINFRAME")
	if err != nil {
		return ASRResult{}, err
	}
	frame, _ := strconv.Atoi(frameStr)

	level := ConfidenceLow
	if score > confidenceThreshold {
		level = ConfidenceHigh
	}

	return ASRResult{
		Utterance:    utterance,
		Level:        level,
		Score:        score,
		BargedIn:     bargedIn,
		BargeInFrame: frame,
	}, nil
}
