package llm

import (
	"encoding/json"
	"fmt"

	"call-coach-go/internal/capability"
)

// buildClassifyPrompt asks for one verdict per segment, strict JSON
// only, segment_index matching input order.
func buildClassifyPrompt(segments []capability.RawSegment) string {
	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.RawText
	}
	segJSON, _ := json.MarshalIndent(texts, "", "  ")

	return fmt.Sprintf(`You are a sales-call classification engine for SDR dialer logs.

You receive an ordered JSON array of call segments from one day of dialing.
Classify EVERY segment with exactly one call_type from this fixed set:

- "conversation": two-way dialogue with a prospect. Even a single reply
  like "not interested" counts.
- "voicemail": a voicemail-system greeting or a left message, no live
  back-and-forth.
- "hangup": immediate disconnect with negligible content.
- "internal": rep-to-colleague or rep-to-system chatter, no prospect on
  the line.
- "reminder": a short call whose sole purpose is confirming an existing
  appointment time.

Rules:
- is_meaningful is true ONLY for "conversation".
- Every segment gets exactly one type. Pick the closest type for
  ambiguous segments; never leave one unclassified.
- Extract prospect_name and prospect_company when stated, else null.
- reasoning is one short diagnostic sentence.

Return ONLY a JSON object of this exact shape, one entry per input
segment, segment_index matching input order starting at 0:

{"calls": [{"segment_index": 0, "call_type": "", "is_meaningful": false, "prospect_name": null, "prospect_company": null, "reasoning": ""}]}

SEGMENTS:
%s
`, string(segJSON))
}

// buildGradePrompt asks for a full rubric grade for one conversation,
// strict JSON only.
func buildGradePrompt(rawText string) string {
	return fmt.Sprintf(`You are an expert SDR call coach. Grade this cold-call
conversation against the rubric below. Score each dimension as an
integer from 1 to 10 based only on what is observable in the
transcript:

- opener_score: clear self-introduction and a curiosity hook.
- engagement_score: two-way question/response and rapport signals.
- objection_handling_score: acknowledges the objection, then redirects.
  Use 5 as the neutral score when no objection opportunity existed.
- appointment_setting_score: concrete time/date proposal and calendar
  confirmation.
- professionalism_score: courtesy, pacing, clean close.

meeting_scheduled is true ONLY when a concrete date/time was confirmed,
false when clearly not, "unknown" otherwise. Never count vague interest.

Also produce: call_summary (2-3 sentences), strengths (non-empty list),
improvements (non-empty list), key_moments (each with timestamp,
description, sentiment of positive|negative|neutral), and
coaching_notes.

Return ONLY a JSON object with exactly these keys:
{"overall_grade": "", "opener_score": 0, "engagement_score": 0, "objection_handling_score": 0, "appointment_setting_score": 0, "professionalism_score": 0, "meeting_scheduled": "unknown", "call_summary": "", "strengths": [], "improvements": [], "key_moments": [], "coaching_notes": ""}

TRANSCRIPT:
"""%s"""
`, rawText)
}
