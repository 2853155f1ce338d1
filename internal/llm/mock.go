package llm

import (
	"strings"

	"call-coach-go/internal/capability"
)

// Deterministic offline mode for demos and local runs without a
// gateway (USE_MOCK_LLM=true). Verdicts are derived from transcript
// content alone so repeated runs agree.

func mockClassify(segments []capability.RawSegment) []capability.Classification {
	out := make([]capability.Classification, len(segments))
	for i, s := range segments {
		lower := strings.ToLower(s.RawText)
		var ct string
		switch {
		case strings.Contains(lower, "you have reached") || strings.Contains(lower, "leave a message") ||
			strings.Contains(lower, "after the beep") || strings.Contains(lower, "voicemail"):
			ct = "voicemail"
		case strings.Contains(lower, "crm") || strings.Contains(lower, "internal") ||
			strings.Contains(lower, "hey team"):
			ct = "internal"
		case strings.Contains(lower, "confirm") && (strings.Contains(lower, "appointment") || strings.Contains(lower, "tomorrow")):
			ct = "reminder"
		case strings.Contains(lower, "prospect:") || strings.Contains(lower, "speaker 2"):
			ct = "conversation"
		case len(strings.TrimSpace(lower)) < 80:
			ct = "hangup"
		default:
			ct = "conversation"
		}
		out[i] = capability.Classification{
			SegmentIndex: i,
			CallType:     ct,
			IsMeaningful: ct == "conversation",
			Reasoning:    "mock classification from content keywords",
		}
		if ct == "conversation" {
			name := "Jordan Blake"
			company := "Acme Manufacturing"
			out[i].ProspectName = &name
			out[i].ProspectCompany = &company
		}
	}
	return out
}

func mockGrade(rawText string) capability.RawGrade {
	lower := strings.ToLower(rawText)
	scheduled := strings.Contains(lower, "tuesday") || strings.Contains(lower, "calendar")
	meeting := "unknown"
	appointment := 4
	if scheduled {
		meeting = "true"
		appointment = 9
	}
	objection := 0 // neutral default applies downstream
	if strings.Contains(lower, "not interested") || strings.Contains(lower, "too expensive") {
		objection = 7
	}
	return capability.RawGrade{
		OverallGrade:            "B",
		OpenerScore:             7,
		EngagementScore:         6,
		ObjectionHandlingScore:  objection,
		AppointmentSettingScore: appointment,
		ProfessionalismScore:    8,
		MeetingScheduled:        meeting,
		CallSummary:             "Rep introduced themselves, qualified the prospect, and worked toward a next step.",
		Strengths:               []string{"Clear self-introduction", "Held a two-way dialogue"},
		Improvements:            []string{"Propose a concrete meeting time earlier"},
		KeyMoments: []capability.RawKeyMoment{
			{Timestamp: "00:00:05", Description: "Opening introduction", Sentiment: "neutral"},
		},
		CoachingNotes: "Solid structure; tighten the close.",
	}
}
