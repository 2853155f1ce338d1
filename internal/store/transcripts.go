package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"call-coach-go/internal/types"
)

// CreateTranscript inserts a freshly uploaded transcript. Status must
// be pending; timestamps are filled in here.
func (s *Store) CreateTranscript(t *types.DailyTranscript) error {
	if t.Status == "" {
		t.Status = types.StatusPending
	}
	if t.Status != types.StatusPending {
		return fmt.Errorf("store: new transcript must be pending, got %s", t.Status)
	}
	now := nowUTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	_, err := s.db.Exec(`
		INSERT INTO transcripts
			(id, sdr_id, transcript_date, raw_text, upload_method,
			 total_calls_detected, meaningful_calls_count, status,
			 processing_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SDRID, t.TranscriptDate, t.RawText, string(t.UploadMethod),
		t.TotalCallsDetected, t.MeaningfulCallsCount, string(t.Status),
		t.ProcessingError, timeStr(t.CreatedAt), timeStr(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

const transcriptCols = `id, sdr_id, transcript_date, raw_text, upload_method,
	total_calls_detected, meaningful_calls_count, status, processing_error,
	created_at, updated_at`

func scanTranscript(row interface{ Scan(...any) error }) (types.DailyTranscript, error) {
	var t types.DailyTranscript
	var method, status, created, updated string
	err := row.Scan(&t.ID, &t.SDRID, &t.TranscriptDate, &t.RawText, &method,
		&t.TotalCallsDetected, &t.MeaningfulCallsCount, &status,
		&t.ProcessingError, &created, &updated)
	if err != nil {
		return t, err
	}
	t.UploadMethod = types.UploadMethod(method)
	t.Status = types.ProcessingStatus(status)
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return t, nil
}

// GetTranscript loads one transcript by id.
func (s *Store) GetTranscript(id string) (types.DailyTranscript, error) {
	row := s.db.QueryRow(`SELECT `+transcriptCols+` FROM transcripts WHERE id = ?`, id)
	t, err := scanTranscript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("transcript %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return t, fmt.Errorf("get transcript: %w", err)
	}
	return t, nil
}

// TranscriptFilter narrows ListTranscripts. Zero values mean "any".
type TranscriptFilter struct {
	SDRID    string
	Status   types.ProcessingStatus
	DateFrom string // inclusive, YYYY-MM-DD
	DateTo   string // inclusive, YYYY-MM-DD
}

// ListTranscripts returns transcripts matching the filter, newest
// date first.
func (s *Store) ListTranscripts(f TranscriptFilter) ([]types.DailyTranscript, error) {
	var conds []string
	var args []any
	if f.SDRID != "" {
		conds = append(conds, "sdr_id = ?")
		args = append(args, f.SDRID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.DateFrom != "" {
		conds = append(conds, "transcript_date >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		conds = append(conds, "transcript_date <= ?")
		args = append(args, f.DateTo)
	}
	q := `SELECT ` + transcriptCols + ` FROM transcripts`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY transcript_date DESC, created_at DESC"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var out []types.DailyTranscript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransitionStatus moves a transcript through the status machine,
// refusing illegal moves. procErr replaces the stored processing
// error; pass nil to clear it.
func (s *Store) TransitionStatus(id string, to types.ProcessingStatus, procErr *string) error {
	t, err := s.GetTranscript(id)
	if err != nil {
		return err
	}
	if !types.CanTransition(t.Status, to) {
		return &types.ErrIllegalTransition{From: t.Status, To: to}
	}
	_, err = s.db.Exec(`
		UPDATE transcripts SET status = ?, processing_error = ?, updated_at = ?
		WHERE id = ?`,
		string(to), procErr, timeStr(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// UpdateCounts stores the derived call counts for a transcript.
func (s *Store) UpdateCounts(id string, total, meaningful int) error {
	if meaningful > total {
		return fmt.Errorf("store: meaningful count %d exceeds total %d", meaningful, total)
	}
	res, err := s.db.Exec(`
		UPDATE transcripts
		SET total_calls_detected = ?, meaningful_calls_count = ?, updated_at = ?
		WHERE id = ?`,
		total, meaningful, timeStr(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("update counts: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transcript %s: %w", id, ErrNotFound)
	}
	return nil
}

// TouchTranscript bumps updated_at so pollers see liveness during a
// long run.
func (s *Store) TouchTranscript(id string) error {
	_, err := s.db.Exec(`UPDATE transcripts SET updated_at = ? WHERE id = ?`,
		timeStr(nowUTC()), id)
	return err
}
