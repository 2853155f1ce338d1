// Package capability declares the contracts of the external
// splitting, classification, and grading capabilities consumed by the
// pipeline. Production wiring uses the heuristic segmenter and the LLM
// gateway client; tests substitute deterministic stubs.
package capability

import "context"

// RawSegment is one detected call-shaped slice of a daily transcript,
// before classification.
type RawSegment struct {
	RawText         string `json:"raw_text"`
	StartTimestamp  string `json:"start_timestamp"`
	DurationSeconds *int   `json:"approx_duration_seconds"`
}

// Classification is the classifier's verdict for one segment.
// SegmentIndex matches the input order of the batch exactly.
type Classification struct {
	SegmentIndex    int     `json:"segment_index"`
	CallType        string  `json:"call_type"`
	IsMeaningful    bool    `json:"is_meaningful"`
	ProspectName    *string `json:"prospect_name"`
	ProspectCompany *string `json:"prospect_company"`
	Reasoning       string  `json:"reasoning"`
}

// RawKeyMoment mirrors the key_moments entries on the grading wire.
type RawKeyMoment struct {
	Timestamp   string `json:"timestamp"`
	Description string `json:"description"`
	Sentiment   string `json:"sentiment"`
}

// RawGrade is the grading capability's wire shape. Scores arrive
// unclamped and meeting_scheduled untyped; the grader package
// normalizes both before anything is persisted.
type RawGrade struct {
	OverallGrade            string         `json:"overall_grade"`
	OpenerScore             int            `json:"opener_score"`
	EngagementScore         int            `json:"engagement_score"`
	ObjectionHandlingScore  int            `json:"objection_handling_score"`
	AppointmentSettingScore int            `json:"appointment_setting_score"`
	ProfessionalismScore    int            `json:"professionalism_score"`
	MeetingScheduled        any            `json:"meeting_scheduled"`
	CallSummary             string         `json:"call_summary"`
	Strengths               []string       `json:"strengths"`
	Improvements            []string       `json:"improvements"`
	KeyMoments              []RawKeyMoment `json:"key_moments"`
	CoachingNotes           string         `json:"coaching_notes"`
}

// Splitter turns one raw daily transcript into ordered segments.
type Splitter interface {
	Split(ctx context.Context, rawText string) ([]RawSegment, error)
}

// Classifier assigns each segment of a batch one call type, one
// meaningful flag, and optional prospect identity. Output length and
// order must match input exactly.
type Classifier interface {
	Classify(ctx context.Context, segments []RawSegment) ([]Classification, error)
}

// Grader scores one meaningful segment's raw text against the rubric.
type Grader interface {
	Grade(ctx context.Context, rawText string) (RawGrade, error)
}
