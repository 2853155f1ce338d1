package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"call-coach-go/internal/capability"
	"call-coach-go/internal/types"
)

// InsertSegments bulk-inserts the segments of one transcript inside a
// transaction. Indices must already be assigned and unique; the schema
// enforces the collision invariant.
func (s *Store) InsertSegments(segs []types.CallSegment) error {
	if len(segs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := nowUTC()
	stmt, err := tx.Prepare(`
		INSERT INTO calls
			(id, transcript_id, segment_index, raw_text, start_timestamp,
			 duration_seconds, call_type, is_meaningful, prospect_name,
			 prospect_company, reasoning, grade_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range segs {
		seg := &segs[i]
		seg.CreatedAt = now
		seg.UpdatedAt = now
		var ct any
		if seg.CallType != "" {
			ct = string(seg.CallType)
		}
		if _, err := stmt.Exec(
			seg.ID, seg.TranscriptID, seg.SegmentIndex, seg.RawText,
			nullStr(seg.StartTimestamp), seg.DurationSeconds, ct,
			boolInt(seg.IsMeaningful), seg.ProspectName, seg.ProspectCompany,
			nullStr(seg.Reasoning), seg.GradeError,
			timeStr(now), timeStr(now)); err != nil {
			return fmt.Errorf("insert segment %d: %w", seg.SegmentIndex, err)
		}
	}
	return tx.Commit()
}

// UpdateClassification replaces the classification fields of one
// segment. Re-classification replaces, never appends.
func (s *Store) UpdateClassification(callID string, cl capability.Classification) error {
	if !types.ValidCallType(types.CallType(cl.CallType)) {
		return fmt.Errorf("store: invalid call type %q", cl.CallType)
	}
	res, err := s.db.Exec(`
		UPDATE calls
		SET call_type = ?, is_meaningful = ?, prospect_name = ?,
		    prospect_company = ?, reasoning = ?, updated_at = ?
		WHERE id = ?`,
		cl.CallType, boolInt(cl.IsMeaningful), cl.ProspectName,
		cl.ProspectCompany, nullStr(cl.Reasoning), timeStr(nowUTC()), callID)
	if err != nil {
		return fmt.Errorf("update classification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("call %s: %w", callID, ErrNotFound)
	}
	return nil
}

// SetGradeError records (or clears, with nil) a per-segment grading
// failure for diagnosis on partial transcripts.
func (s *Store) SetGradeError(callID string, msg *string) error {
	res, err := s.db.Exec(`UPDATE calls SET grade_error = ?, updated_at = ? WHERE id = ?`,
		msg, timeStr(nowUTC()), callID)
	if err != nil {
		return fmt.Errorf("set grade error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("call %s: %w", callID, ErrNotFound)
	}
	return nil
}

const callCols = `c.id, c.transcript_id, c.segment_index, c.raw_text,
	c.start_timestamp, c.duration_seconds, c.call_type, c.is_meaningful,
	c.prospect_name, c.prospect_company, c.reasoning, c.grade_error,
	c.created_at, c.updated_at`

func scanCall(row interface{ Scan(...any) error }, withGrade bool) (types.CallSegment, error) {
	var c types.CallSegment
	var startTS, callType, reasoning sql.NullString
	var meaningful int
	var created, updated string

	dest := []any{&c.ID, &c.TranscriptID, &c.SegmentIndex, &c.RawText,
		&startTS, &c.DurationSeconds, &callType, &meaningful,
		&c.ProspectName, &c.ProspectCompany, &reasoning, &c.GradeError,
		&created, &updated}

	var g gradeRow
	if withGrade {
		dest = append(dest, g.dest()...)
	}
	if err := row.Scan(dest...); err != nil {
		return c, err
	}
	c.StartTimestamp = startTS.String
	c.CallType = types.CallType(callType.String)
	c.IsMeaningful = meaningful != 0
	c.Reasoning = reasoning.String
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	if withGrade {
		c.Grade = g.toGrade()
	}
	return c, nil
}

// GetCall loads one segment with its grade eager-loaded.
func (s *Store) GetCall(id string) (types.CallSegment, error) {
	row := s.db.QueryRow(`
		SELECT `+callCols+`, `+gradeColsNullable+`
		FROM calls c
		LEFT JOIN call_grades g ON g.call_id = c.id
		WHERE c.id = ?`, id)
	c, err := scanCall(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("call %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return c, fmt.Errorf("get call: %w", err)
	}
	return c, nil
}

// CallFilter narrows ListCalls. Zero values mean "any".
type CallFilter struct {
	TranscriptID string
	SDRID        string
}

// ListCalls returns segments in ordinal order with grades
// eager-loaded.
func (s *Store) ListCalls(f CallFilter) ([]types.CallSegment, error) {
	var conds []string
	var args []any
	if f.TranscriptID != "" {
		conds = append(conds, "c.transcript_id = ?")
		args = append(args, f.TranscriptID)
	}
	if f.SDRID != "" {
		conds = append(conds, "t.sdr_id = ?")
		args = append(args, f.SDRID)
	}
	q := `
		SELECT ` + callCols + `, ` + gradeColsNullable + `
		FROM calls c
		JOIN transcripts t ON t.id = c.transcript_id
		LEFT JOIN call_grades g ON g.call_id = c.id`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY c.transcript_id, c.segment_index"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []types.CallSegment
	for rows.Next() {
		c, err := scanCall(rows, true)
		if err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteSegments removes all segments (and cascaded grades) of a
// transcript. Only the destructive re-split path calls this.
func (s *Store) DeleteSegments(transcriptID string) error {
	_, err := s.db.Exec(`DELETE FROM calls WHERE transcript_id = ?`, transcriptID)
	if err != nil {
		return fmt.Errorf("delete segments: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
