// Package types defines the domain model shared by the transcript
// processing pipeline, the store, and the HTTP surface.
package types

import "time"

// UploadMethod records how a daily transcript entered the system.
type UploadMethod string

const (
	UploadText  UploadMethod = "text"
	UploadAudio UploadMethod = "audio"
)

// CallType is the fixed classification taxonomy. Every segment gets
// exactly one.
type CallType string

const (
	CallConversation CallType = "conversation"
	CallVoicemail    CallType = "voicemail"
	CallHangup       CallType = "hangup"
	CallInternal     CallType = "internal"
	CallReminder     CallType = "reminder"
)

// ValidCallType reports whether t is a member of the taxonomy.
func ValidCallType(t CallType) bool {
	switch t {
	case CallConversation, CallVoicemail, CallHangup, CallInternal, CallReminder:
		return true
	}
	return false
}

// MeetingOutcome is the tri-state meeting_scheduled flag on a grade.
type MeetingOutcome string

const (
	MeetingYes     MeetingOutcome = "true"
	MeetingNo      MeetingOutcome = "false"
	MeetingUnknown MeetingOutcome = "unknown"
)

// DailyTranscript is one ingestion unit: a full day's dialer log for
// one SDR, uploaded as a single blob.
type DailyTranscript struct {
	ID                   string           `json:"id"`
	SDRID                string           `json:"sdr_id"`
	TranscriptDate       string           `json:"transcript_date"` // YYYY-MM-DD
	RawText              string           `json:"raw_text,omitempty"`
	UploadMethod         UploadMethod     `json:"upload_method"`
	TotalCallsDetected   int              `json:"total_calls_detected"`
	MeaningfulCallsCount int              `json:"meaningful_calls_count"`
	Status               ProcessingStatus `json:"status"`
	ProcessingError      *string          `json:"processing_error,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`

	// Stuck is derived at read time, never persisted.
	Stuck bool `json:"stuck"`
}

// CallSegment is one detected interaction within a transcript. Ordinal
// indices are unique and monotone within a transcript, and the
// concatenation of all segments' RawText in index order reconstructs
// the parent transcript exactly.
type CallSegment struct {
	ID              string     `json:"id"`
	TranscriptID    string     `json:"transcript_id"`
	SegmentIndex    int        `json:"segment_index"`
	RawText         string     `json:"raw_text"`
	StartTimestamp  string     `json:"start_timestamp,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	CallType        CallType   `json:"call_type,omitempty"`
	IsMeaningful    bool       `json:"is_meaningful"`
	ProspectName    *string    `json:"prospect_name,omitempty"`
	ProspectCompany *string    `json:"prospect_company,omitempty"`
	Reasoning       string     `json:"reasoning,omitempty"`
	GradeError      *string    `json:"grade_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Grade           *CallGrade `json:"grade,omitempty"`
}

// Classified reports whether the segment has been through the
// classifier yet.
func (s *CallSegment) Classified() bool { return s.CallType != "" }

// KeyMoment is one coachable moment inside a graded call.
type KeyMoment struct {
	Timestamp   string `json:"timestamp"`
	Description string `json:"description"`
	Sentiment   string `json:"sentiment"`
}

// CallGrade is the scored, coached output for one meaningful call.
// At most one exists per segment; re-grades replace it wholesale except
// for the feedback fields, which belong to the human reviewer.
type CallGrade struct {
	ID                      string         `json:"id"`
	CallID                  string         `json:"call_id"`
	OverallGrade            string         `json:"overall_grade"`
	OpenerScore             int            `json:"opener_score"`
	EngagementScore         int            `json:"engagement_score"`
	ObjectionHandlingScore  int            `json:"objection_handling_score"`
	AppointmentSettingScore int            `json:"appointment_setting_score"`
	ProfessionalismScore    int            `json:"professionalism_score"`
	MeetingScheduled        MeetingOutcome `json:"meeting_scheduled"`
	CallSummary             string         `json:"call_summary"`
	Strengths               []string       `json:"strengths"`
	Improvements            []string       `json:"improvements"`
	KeyMoments              []KeyMoment    `json:"key_moments"`
	CoachingNotes           string         `json:"coaching_notes,omitempty"`
	FeedbackHelpful         *bool          `json:"feedback_helpful,omitempty"`
	FeedbackNote            *string        `json:"feedback_note,omitempty"`
	FeedbackAt              *time.Time     `json:"feedback_at,omitempty"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
}

// DimensionScores returns the five rubric scores in a fixed order:
// opener, engagement, objection handling, appointment setting,
// professionalism.
func (g *CallGrade) DimensionScores() [5]int {
	return [5]int{
		g.OpenerScore,
		g.EngagementScore,
		g.ObjectionHandlingScore,
		g.AppointmentSettingScore,
		g.ProfessionalismScore,
	}
}
