package callhistory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mobilivr/fabric/internal/dialog"
)

// CallRecord is one completed call's summary row, returned by GetByCallID
// and ListRecent.
type CallRecord struct {
	ID         int64
	CallID     string
	DialogName string
	CallerID   string
	Channel    string
	StartedAt  time.Time
	EndedAt    sql.NullTime
	Completed  bool
	Entries    []EntryRecord
}

// EntryRecord is one node visit, flattened for storage.
type EntryRecord struct {
	NodeName                string
	EnteredAt               time.Time
	ExitedAt                time.Time
	IsTimeout               bool
	IsInvalid               bool
	IsMaxRetries            bool
	DTMFDigits              sql.NullString
	ASRUtterance            sql.NullString
	ASRScore                sql.NullFloat64
	ASRLevel                sql.NullString
	RecordingPath           sql.NullString
	RecordingSilencePercent sql.NullFloat64
	RecordingHashTerminated sql.NullBool
	CustomData              map[string]string
}

// RecordCall persists a completed call's full trace: the call summary
// row and every CallHistoryEntry, in one transaction.
func (s *Store) RecordCall(ctx context.Context, callID, dialogName, callerID, channel string, history *dialog.CallHistory, completed bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("callhistory: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var startedAt, endedAt any
	if len(history.Entries) > 0 {
		startedAt = history.Entries[0].EnteredAt
		endedAt = history.Entries[len(history.Entries)-1].ExitedAt
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO calls (call_id, dialog_name, caller_id, channel, started_at, ended_at, completed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(call_id) DO UPDATE SET ended_at = excluded.ended_at, completed = excluded.completed`,
		callID, dialogName, callerID, channel, startedAt, endedAt, completed,
	)
	if err != nil {
		return fmt.Errorf("callhistory: inserting call: %w", err)
	}
	_ = res

	for i, e := range history.Entries {
		var dtmf, asrUtterance, asrLevel, recPath sql.NullString
		var asrScore, recSilence sql.NullFloat64
		var recHashTerm sql.NullBool

		if e.DTMF != nil {
			dtmf = sql.NullString{String: e.DTMF.Digits, Valid: true}
		}
		if e.ASR != nil {
			asrUtterance = sql.NullString{String: e.ASR.Utterance, Valid: true}
			asrLevel = sql.NullString{String: string(e.ASR.Level), Valid: true}
			asrScore = sql.NullFloat64{Float64: e.ASR.Score, Valid: true}
		}
		if e.Recording != nil {
			recPath = sql.NullString{String: e.Recording.LocalPath, Valid: true}
			recSilence = sql.NullFloat64{Float64: e.Recording.SilencePercent, Valid: true}
			recHashTerm = sql.NullBool{Bool: e.Recording.HashTerminated, Valid: true}
		}

		var customJSON []byte
		if len(e.CustomData) > 0 {
			customJSON, err = json.Marshal(e.CustomData)
			if err != nil {
				return fmt.Errorf("callhistory: marshalling custom data for %q: %w", e.NodeName, err)
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO call_entries (call_id, seq, node_name, entered_at, exited_at,
			 is_timeout, is_invalid, is_max_retries, dtmf_digits, asr_utterance,
			 asr_score, asr_level, recording_path, recording_silence_percent,
			 recording_hash_terminated, custom_data_json)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			callID, i, e.NodeName, e.EnteredAt, e.ExitedAt,
			e.IsTimeout, e.IsInvalid, e.IsMaxRetries, dtmf, asrUtterance,
			asrScore, asrLevel, recPath, recSilence, recHashTerm, string(customJSON),
		)
		if err != nil {
			return fmt.Errorf("callhistory: inserting entry %d for call %s: %w", i, callID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("callhistory: committing call %s: %w", callID, err)
	}
	return nil
}

// GetByCallID returns the call summary and its full entry trace, or nil
// if callID is unknown.
func (s *Store) GetByCallID(ctx context.Context, callID string) (*CallRecord, error) {
	var rec CallRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, call_id, dialog_name, caller_id, channel, started_at, ended_at, completed
		 FROM calls WHERE call_id = ?`, callID,
	).Scan(&rec.ID, &rec.CallID, &rec.DialogName, &rec.CallerID, &rec.Channel, &rec.StartedAt, &rec.EndedAt, &rec.Completed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("callhistory: querying call %s: %w", callID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT node_name, entered_at, exited_at, is_timeout, is_invalid, is_max_retries,
		 dtmf_digits, asr_utterance, asr_score, asr_level, recording_path,
		 recording_silence_percent, recording_hash_terminated, custom_data_json
		 FROM call_entries WHERE call_id = ? ORDER BY seq ASC`, callID,
	)
	if err != nil {
		return nil, fmt.Errorf("callhistory: querying entries for %s: %w", callID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var e EntryRecord
		var customJSON sql.NullString
		if err := rows.Scan(&e.NodeName, &e.EnteredAt, &e.ExitedAt, &e.IsTimeout, &e.IsInvalid, &e.IsMaxRetries,
			&e.DTMFDigits, &e.ASRUtterance, &e.ASRScore, &e.ASRLevel, &e.RecordingPath,
			&e.RecordingSilencePercent, &e.RecordingHashTerminated, &customJSON); err != nil {
			return nil, fmt.Errorf("callhistory: scanning entry for %s: %w", callID, err)
		}
		if customJSON.Valid && customJSON.String != "" {
			if err := json.Unmarshal([]byte(customJSON.String), &e.CustomData); err != nil {
				return nil, fmt.Errorf("callhistory: decoding custom data for %s: %w", callID, err)
			}
		}
		rec.Entries = append(rec.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("callhistory: iterating entries for %s: %w", callID, err)
	}

	return &rec, nil
}

// ListRecent returns the most recently started calls, up to limit, with
// their entries omitted (callers fetch entries via GetByCallID).
func (s *Store) ListRecent(ctx context.Context, limit int) ([]CallRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, call_id, dialog_name, caller_id, channel, started_at, ended_at, completed
		 FROM calls ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("callhistory: listing recent calls: %w", err)
	}
	defer rows.Close()

	var recs []CallRecord
	for rows.Next() {
		var rec CallRecord
		if err := rows.Scan(&rec.ID, &rec.CallID, &rec.DialogName, &rec.CallerID, &rec.Channel, &rec.StartedAt, &rec.EndedAt, &rec.Completed); err != nil {
			return nil, fmt.Errorf("callhistory: scanning recent call: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("callhistory: iterating recent calls: %w", err)
	}
	return recs, nil
}

// CountRecent returns the number of calls started within window,
// split into completed and abandoned (completed = false), for
// metrics.CallVolumeProvider.
func (s *Store) CountRecent(ctx context.Context, window time.Duration) (completed, abandoned int64, err error) {
	since := time.Now().Add(-window)
	row := s.db.QueryRowContext(ctx,
		`SELECT
		   COALESCE(SUM(CASE WHEN completed THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN completed THEN 0 ELSE 1 END), 0)
		 FROM calls WHERE started_at >= ?`, since,
	)
	if err := row.Scan(&completed, &abandoned); err != nil {
		return 0, 0, fmt.Errorf("callhistory: counting recent calls: %w", err)
	}
	return completed, abandoned, nil
}
