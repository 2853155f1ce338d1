package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"call-coach-go/internal/capability"
)

// Grade scores one meaningful segment's raw text against the coaching
// rubric. The reply must match the CallGrade wire shape; the grader
// package validates and normalizes it afterwards.
func (c *Client) Grade(ctx context.Context, rawText string) (capability.RawGrade, error) {
	if c.mock {
		return mockGrade(rawText), nil
	}

	raw, err := c.chat(ctx, buildGradePrompt(rawText))
	if err != nil {
		return capability.RawGrade{}, fmt.Errorf("grade: %w", err)
	}

	var parsed capability.RawGrade
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return capability.RawGrade{}, fmt.Errorf("grade: malformed response: %w", err)
	}
	return parsed, nil
}
