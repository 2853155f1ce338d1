package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"call-coach-go/internal/types"
)

const gradeColsNullable = `g.id, g.call_id, g.overall_grade, g.opener_score,
	g.engagement_score, g.objection_handling_score, g.appointment_setting_score,
	g.professionalism_score, g.meeting_scheduled, g.call_summary, g.strengths,
	g.improvements, g.key_moments, g.coaching_notes, g.feedback_helpful,
	g.feedback_note, g.feedback_at, g.created_at, g.updated_at`

// gradeRow scans a LEFT JOINed grade that may be entirely absent.
type gradeRow struct {
	id, callID, overall             sql.NullString
	opener, engagement, objection   sql.NullInt64
	appointment, professionalism    sql.NullInt64
	meeting, summary, strengths     sql.NullString
	improvements, keyMoments, notes sql.NullString
	feedbackHelpful                 sql.NullInt64
	feedbackNote, feedbackAt        sql.NullString
	created, updated                sql.NullString
}

func (g *gradeRow) dest() []any {
	return []any{&g.id, &g.callID, &g.overall, &g.opener, &g.engagement,
		&g.objection, &g.appointment, &g.professionalism, &g.meeting,
		&g.summary, &g.strengths, &g.improvements, &g.keyMoments, &g.notes,
		&g.feedbackHelpful, &g.feedbackNote, &g.feedbackAt, &g.created,
		&g.updated}
}

func (g *gradeRow) toGrade() *types.CallGrade {
	if !g.id.Valid {
		return nil
	}
	out := &types.CallGrade{
		ID:                      g.id.String,
		CallID:                  g.callID.String,
		OverallGrade:            g.overall.String,
		OpenerScore:             int(g.opener.Int64),
		EngagementScore:         int(g.engagement.Int64),
		ObjectionHandlingScore:  int(g.objection.Int64),
		AppointmentSettingScore: int(g.appointment.Int64),
		ProfessionalismScore:    int(g.professionalism.Int64),
		MeetingScheduled:        types.MeetingOutcome(g.meeting.String),
		CallSummary:             g.summary.String,
		CoachingNotes:           g.notes.String,
		CreatedAt:               parseTime(g.created.String),
		UpdatedAt:               parseTime(g.updated.String),
	}
	_ = json.Unmarshal([]byte(g.strengths.String), &out.Strengths)
	_ = json.Unmarshal([]byte(g.improvements.String), &out.Improvements)
	_ = json.Unmarshal([]byte(g.keyMoments.String), &out.KeyMoments)
	if g.feedbackHelpful.Valid {
		b := g.feedbackHelpful.Int64 != 0
		out.FeedbackHelpful = &b
	}
	if g.feedbackNote.Valid {
		n := g.feedbackNote.String
		out.FeedbackNote = &n
	}
	if g.feedbackAt.Valid {
		t := parseTime(g.feedbackAt.String)
		out.FeedbackAt = &t
	}
	return out
}

// UpsertGrade writes the pipeline-authored fields of a grade, replacing
// any prior grade for the call wholesale. Reviewer feedback columns are
// never touched here: they survive every re-grade. Grading a
// non-meaningful segment is refused as a contract violation.
func (s *Store) UpsertGrade(g *types.CallGrade) error {
	call, err := s.GetCall(g.CallID)
	if err != nil {
		return err
	}
	if !call.IsMeaningful {
		return fmt.Errorf("store: call %s is not meaningful, refusing grade", g.CallID)
	}

	strengths, _ := json.Marshal(emptySlice(g.Strengths))
	improvements, _ := json.Marshal(emptySlice(g.Improvements))
	moments, _ := json.Marshal(emptyMoments(g.KeyMoments))
	now := nowUTC()

	_, err = s.db.Exec(`
		INSERT INTO call_grades
			(id, call_id, overall_grade, opener_score, engagement_score,
			 objection_handling_score, appointment_setting_score,
			 professionalism_score, meeting_scheduled, call_summary,
			 strengths, improvements, key_moments, coaching_notes,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (call_id) DO UPDATE SET
			overall_grade = excluded.overall_grade,
			opener_score = excluded.opener_score,
			engagement_score = excluded.engagement_score,
			objection_handling_score = excluded.objection_handling_score,
			appointment_setting_score = excluded.appointment_setting_score,
			professionalism_score = excluded.professionalism_score,
			meeting_scheduled = excluded.meeting_scheduled,
			call_summary = excluded.call_summary,
			strengths = excluded.strengths,
			improvements = excluded.improvements,
			key_moments = excluded.key_moments,
			coaching_notes = excluded.coaching_notes,
			updated_at = excluded.updated_at`,
		g.ID, g.CallID, g.OverallGrade, g.OpenerScore, g.EngagementScore,
		g.ObjectionHandlingScore, g.AppointmentSettingScore,
		g.ProfessionalismScore, string(g.MeetingScheduled), g.CallSummary,
		string(strengths), string(improvements), string(moments),
		nullStr(g.CoachingNotes), timeStr(now), timeStr(now))
	if err != nil {
		return fmt.Errorf("upsert grade: %w", err)
	}
	return nil
}

// GetGrade loads one grade by its own id.
func (s *Store) GetGrade(id string) (types.CallGrade, error) {
	row := s.db.QueryRow(`SELECT `+gradeColsNullable+` FROM call_grades g WHERE g.id = ?`, id)
	var g gradeRow
	if err := row.Scan(g.dest()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.CallGrade{}, fmt.Errorf("grade %s: %w", id, ErrNotFound)
		}
		return types.CallGrade{}, fmt.Errorf("get grade: %w", err)
	}
	return *g.toGrade(), nil
}

// UpdateFeedback mutates only the reviewer-owned feedback fields.
func (s *Store) UpdateFeedback(gradeID string, helpful bool, note *string) error {
	res, err := s.db.Exec(`
		UPDATE call_grades
		SET feedback_helpful = ?, feedback_note = ?, feedback_at = ?
		WHERE id = ?`,
		boolInt(helpful), note, timeStr(nowUTC()), gradeID)
	if err != nil {
		return fmt.Errorf("update feedback: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("grade %s: %w", gradeID, ErrNotFound)
	}
	return nil
}

func emptySlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func emptyMoments(in []types.KeyMoment) []types.KeyMoment {
	if in == nil {
		return []types.KeyMoment{}
	}
	return in
}
