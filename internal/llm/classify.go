package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"call-coach-go/internal/capability"
	"call-coach-go/internal/types"
)

// classifyResponse is the wire shape the classification prompt demands.
type classifyResponse struct {
	Calls []capability.Classification `json:"calls"`
}

// Classify assigns a call type, meaningful flag, and optional prospect
// identity to each segment of the batch. The reply must carry exactly
// one entry per input segment in input order; anything else is a stage
// failure.
func (c *Client) Classify(ctx context.Context, segments []capability.RawSegment) ([]capability.Classification, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	if c.mock {
		return mockClassify(segments), nil
	}

	raw, err := c.chat(ctx, buildClassifyPrompt(segments))
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	var parsed classifyResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("classify: malformed response: %w", err)
	}
	if len(parsed.Calls) != len(segments) {
		return nil, fmt.Errorf("classify: got %d entries for %d segments", len(parsed.Calls), len(segments))
	}
	for i := range parsed.Calls {
		if parsed.Calls[i].SegmentIndex != i {
			return nil, fmt.Errorf("classify: entry %d carries segment_index %d", i, parsed.Calls[i].SegmentIndex)
		}
		normalizeClassification(&parsed.Calls[i], segments[i].RawText)
	}
	return parsed.Calls, nil
}

// normalizeClassification pins the verdict to the fixed taxonomy. The
// meaningful flag is derived, not trusted: meaningful iff conversation.
func normalizeClassification(cl *capability.Classification, rawText string) {
	t := types.CallType(strings.ToLower(strings.TrimSpace(cl.CallType)))
	if !types.ValidCallType(t) {
		// Ambiguous labels resolve to the closest member by content.
		t = closestCallType(rawText, cl.IsMeaningful)
	}
	cl.CallType = string(t)
	cl.IsMeaningful = t == types.CallConversation
	if cl.ProspectName != nil && strings.TrimSpace(*cl.ProspectName) == "" {
		cl.ProspectName = nil
	}
	if cl.ProspectCompany != nil && strings.TrimSpace(*cl.ProspectCompany) == "" {
		cl.ProspectCompany = nil
	}
}

// closestCallType picks a taxonomy member for a segment the model
// labeled with something outside the fixed set.
func closestCallType(rawText string, claimedMeaningful bool) types.CallType {
	lower := strings.ToLower(rawText)
	switch {
	case strings.Contains(lower, "leave a message") || strings.Contains(lower, "you have reached") ||
		strings.Contains(lower, "voicemail") || strings.Contains(lower, "after the beep"):
		return types.CallVoicemail
	case strings.Contains(lower, "confirm") && (strings.Contains(lower, "appointment") || strings.Contains(lower, "meeting")):
		return types.CallReminder
	case claimedMeaningful:
		return types.CallConversation
	case len(strings.TrimSpace(lower)) < 80:
		return types.CallHangup
	default:
		return types.CallInternal
	}
}
