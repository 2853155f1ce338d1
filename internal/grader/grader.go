// Package grader post-processes raw grading payloads into CallGrade
// records: score clamping, meeting-outcome parsing, artifact
// validation, and the deterministic letter banding.
package grader

import (
	"errors"
	"fmt"
	"strings"

	"call-coach-go/internal/capability"
	"call-coach-go/internal/types"
)

// Band cut-points quoted from the coaching rubric. Contiguous and
// non-overlapping; the overall letter is the band of the unweighted
// mean of the five dimension scores.
const (
	bandAPlus = 9.5
	bandA     = 8.5
	bandB     = 7.0
	bandC     = 5.5
	bandD     = 4.0
)

// ErrEmptyArtifacts marks a grade payload with no usable coaching
// content. An empty payload is a stage failure, never a valid
// zero-content grade.
var ErrEmptyArtifacts = errors.New("grader: empty coaching artifacts")

// Letter returns the overall letter grade for a mean dimension score.
func Letter(mean float64) string {
	switch {
	case mean >= bandAPlus:
		return "A+"
	case mean >= bandA:
		return "A"
	case mean >= bandB:
		return "B"
	case mean >= bandC:
		return "C"
	case mean >= bandD:
		return "D"
	default:
		return "F"
	}
}

// clampScore pins a raw dimension score to the 1-10 integer rubric
// range. Zero or negative means the model reported no basis to score;
// neutral is the caller-supplied default for that case.
func clampScore(v, neutral int) int {
	if v <= 0 {
		return neutral
	}
	if v > 10 {
		return 10
	}
	return v
}

// Normalize validates a raw grading payload and produces the CallGrade
// content for one call. Identity, feedback, and timestamps are the
// store's concern and stay zero here. The model's own overall_grade is
// advisory only; the letter is always recomputed from the scores.
func Normalize(callID string, raw capability.RawGrade) (types.CallGrade, error) {
	g := types.CallGrade{
		CallID: callID,
		// No objection opportunity scores a neutral 5; every other
		// dimension with no signal bottoms out at 1.
		OpenerScore:             clampScore(raw.OpenerScore, 1),
		EngagementScore:         clampScore(raw.EngagementScore, 1),
		ObjectionHandlingScore:  clampScore(raw.ObjectionHandlingScore, 5),
		AppointmentSettingScore: clampScore(raw.AppointmentSettingScore, 1),
		ProfessionalismScore:    clampScore(raw.ProfessionalismScore, 1),
		MeetingScheduled:        ParseMeetingOutcome(raw.MeetingScheduled),
		CallSummary:             strings.TrimSpace(raw.CallSummary),
		Strengths:               trimAll(raw.Strengths),
		Improvements:            trimAll(raw.Improvements),
		CoachingNotes:           strings.TrimSpace(raw.CoachingNotes),
	}
	for _, km := range raw.KeyMoments {
		if strings.TrimSpace(km.Description) == "" {
			continue
		}
		g.KeyMoments = append(g.KeyMoments, types.KeyMoment{
			Timestamp:   strings.TrimSpace(km.Timestamp),
			Description: strings.TrimSpace(km.Description),
			Sentiment:   strings.ToLower(strings.TrimSpace(km.Sentiment)),
		})
	}
	if g.CallSummary == "" || len(g.Strengths) == 0 || len(g.Improvements) == 0 {
		return types.CallGrade{}, fmt.Errorf("%w for call %s", ErrEmptyArtifacts, callID)
	}
	g.OverallGrade = Letter(Mean(g.DimensionScores()))
	return g, nil
}

// Mean averages the five dimension scores.
func Mean(scores [5]int) float64 {
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return float64(sum) / 5.0
}

// ParseMeetingOutcome maps the untyped meeting_scheduled wire value to
// the tri-state. Only a concrete confirmation counts as true; anything
// unrecognized stays unknown.
func ParseMeetingOutcome(v any) types.MeetingOutcome {
	switch t := v.(type) {
	case bool:
		if t {
			return types.MeetingYes
		}
		return types.MeetingNo
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes":
			return types.MeetingYes
		case "false", "no":
			return types.MeetingNo
		}
	}
	return types.MeetingUnknown
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
