package agiclient

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const fileTransferChunkBytes = 57 // raw bytes per base64 line, per the wire convention

// RecordingResult is what RecordAudio returns: the local path the recorded
// audio was written to, the silence percentage the PBX measured, and
// whether recording ended because of a detected silence-hash match rather
// than maxTime or an interrupt key.
type RecordingResult struct {
	LocalPath        string
	SilencePercent   float64
	HashTerminated   bool
}

// RecordAudio records file on the PBX, then pulls the produced audio back
// over the wire via base64-chunked GET SOUNDFILE and writes it to localDir.
// The fetch is always attempted: a PBX that does not answer GET SOUNDFILE
// with status 200 makes RecordAudio return an error even though the
// recording itself succeeded.
func (s *Session) RecordAudio(file string, maxTimeMs int, intKeys string, playBeep bool, silenceTimeoutMs int, customSilenceDetection bool, localDir string) (RecordingResult, error) {
	beepArg := "0"
	if playBeep {
		beepArg = "1"
	}
	r, err := s.conn.Command("RECORD FILE %s wav %q %d %s %d", file, intKeys, maxTimeMs, beepArg, silenceTimeoutMs)
	if err != nil {
		return RecordingResult{}, wrapError("RECORD FILE", err)
	}
	if r.Code != StatusOK {
		return RecordingResult{}, newStatusError("RECORD FILE", r.Code)
	}

	silenceStr, _, err := s.GetVariable("SILENCE_PERCENT")
	if err != nil {
		return RecordingResult{}, err
	}
	silence, _ := strconv.ParseFloat(silenceStr, 64)

	hashTerm, _, err := s.GetVariable("RECORD_HASH_TERMINATED")
	if err != nil {
		return RecordingResult{}, err
	}

	localPath := localDir + "/" + file + ".wav"
	if err := s.fetchSoundFile(file, localPath); err != nil {
		return RecordingResult{}, err
	}

	return RecordingResult{
		LocalPath:      localPath,
		SilencePercent: silence,
		HashTerminated: hashTerm == "1" || hashTerm == "true",
	}, nil
}

// fetchSoundFile issues GET SOUNDFILE name and reads the size header plus
// base64-chunked lines until size bytes have accumulated, writing the
// decoded result to localPath.
func (s *Session) fetchSoundFile(name, localPath string) error {
	r, err := s.conn.Command("GET SOUNDFILE %s", name)
	if err != nil {
		return wrapError("GET SOUNDFILE", err)
	}
	if r.Code != StatusOK {
		return newStatusError("GET SOUNDFILE", r.Code)
	}
	size := r.Value
	var decoded bytes.Buffer
	for decoded.Len() < size {
		line, err := s.conn.reader.ReadString('\n')
		if err != nil {
			return wrapError("GET SOUNDFILE", err)
		}
		line = strings.TrimRight(line, "\r\n")
		chunk, err := base64.StdEncoding.DecodeString(line)
		if err != nil {
			return wrapError("GET SOUNDFILE", fmt.Errorf("decoding chunk: %w", err))
		}
		decoded.Write(chunk)
	}
	return writeFile(localPath, decoded.Bytes())
}

// pushSoundFile is the PUT SOUNDFILE counterpart: writes a size header
// followed by base64 lines of at most fileTransferChunkBytes raw bytes each.
func (s *Session) pushSoundFile(name string, data []byte) error {
	if _, err := s.conn.Command("PUT SOUNDFILE %s %d", name, len(data)); err != nil {
		return wrapError("PUT SOUNDFILE", err)
	}
	for i := 0; i < len(data); i += fileTransferChunkBytes {
		end := i + fileTransferChunkBytes
		if end > len(data) {
			end = len(data)
		}
		line := base64.StdEncoding.EncodeToString(data[i:end])
		if _, err := s.conn.Raw().Write([]byte(line + "\n")); err != nil {
			return wrapError("PUT SOUNDFILE", err)
		}
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return wrapError("GET SOUNDFILE", fmt.Errorf("writing %s: %w", path, err))
	}
	return nil
}
