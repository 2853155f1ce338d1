package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-coach-go/internal/capability"
	"call-coach-go/internal/store"
	"call-coach-go/internal/types"
)

// ---- deterministic capability stubs ----

type stubSplitter struct {
	mu    sync.Mutex
	segs  []capability.RawSegment
	err   error
	calls int
}

func (s *stubSplitter) Split(_ context.Context, _ string) ([]capability.RawSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.segs, nil
}

// stubClassifier labels a segment "conversation" when its text carries
// the CONV marker, "voicemail"/"hangup"/"internal" round-robin
// otherwise.
type stubClassifier struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (c *stubClassifier) Classify(_ context.Context, segs []capability.RawSegment) ([]capability.Classification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	other := []string{"voicemail", "hangup", "internal"}
	out := make([]capability.Classification, len(segs))
	for i, s := range segs {
		ct := other[i%len(other)]
		if strings.Contains(s.RawText, "CONV") {
			ct = "conversation"
		}
		out[i] = capability.Classification{
			SegmentIndex: i,
			CallType:     ct,
			IsMeaningful: ct == "conversation",
			Reasoning:    "stub",
		}
	}
	return out, nil
}

type stubGrader struct {
	mu         sync.Mutex
	failSubstr string
	block      chan struct{}
	calls      map[string]int
}

func newStubGrader() *stubGrader {
	return &stubGrader{calls: map[string]int{}}
}

func (g *stubGrader) setFail(substr string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failSubstr = substr
}

func (g *stubGrader) callCount(substr string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for text, c := range g.calls {
		if strings.Contains(text, substr) {
			n += c
		}
	}
	return n
}

func (g *stubGrader) Grade(ctx context.Context, rawText string) (capability.RawGrade, error) {
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return capability.RawGrade{}, ctx.Err()
		}
	}
	g.mu.Lock()
	g.calls[rawText]++
	fail := g.failSubstr != "" && strings.Contains(rawText, g.failSubstr)
	g.mu.Unlock()
	if fail {
		return capability.RawGrade{}, errors.New("grading capability timed out")
	}
	return capability.RawGrade{
		OpenerScore:             8,
		EngagementScore:         7,
		ObjectionHandlingScore:  5,
		AppointmentSettingScore: 9,
		ProfessionalismScore:    8,
		MeetingScheduled:        "true",
		CallSummary:             "Graded: " + rawText,
		Strengths:               []string{"clear intro"},
		Improvements:            []string{"tighter close"},
		CoachingNotes:           "stub notes",
	}, nil
}

// ---- fixtures ----

// tenCallDay builds the raw segments for a day with 10 detected calls
// of which 3 are conversations.
func tenCallDay() []capability.RawSegment {
	segs := make([]capability.RawSegment, 10)
	for i := range segs {
		text := fmt.Sprintf("segment %d: routine dial\n", i)
		if i == 1 || i == 4 || i == 8 {
			text = fmt.Sprintf("segment %d: CONV two-way talk\n", i)
		}
		segs[i] = capability.RawSegment{RawText: text, StartTimestamp: fmt.Sprintf("09:%02d:00", i)}
	}
	return segs
}

type fixture struct {
	store    *store.Store
	pipe     *Pipeline
	split    *stubSplitter
	classify *stubClassifier
	grade    *stubGrader
}

func newFixture(t *testing.T, segs []capability.RawSegment) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "pipe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		store:    st,
		split:    &stubSplitter{segs: segs},
		classify: &stubClassifier{},
		grade:    newStubGrader(),
	}
	f.pipe = New(st, f.split, f.classify, f.grade,
		WithStageTimeout(5*time.Second), WithGradeWorkers(3))
	return f
}

func (f *fixture) newTranscript(t *testing.T) types.DailyTranscript {
	t.Helper()
	tr := types.DailyTranscript{
		ID:             uuid.New().String(),
		SDRID:          "sdr-1",
		TranscriptDate: "2026-03-02",
		RawText:        "the raw day",
		UploadMethod:   types.UploadText,
	}
	require.NoError(t, f.store.CreateTranscript(&tr))
	return tr
}

func (f *fixture) waitTerminal(t *testing.T, id string) types.DailyTranscript {
	t.Helper()
	var got types.DailyTranscript
	require.Eventually(t, func() bool {
		var err error
		got, err = f.store.GetTranscript(id)
		return err == nil && got.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond, "transcript never reached a terminal state")
	return got
}

func gradedCalls(t *testing.T, st *store.Store, transcriptID string) (all []types.CallSegment, graded int) {
	t.Helper()
	calls, err := st.ListCalls(store.CallFilter{TranscriptID: transcriptID})
	require.NoError(t, err)
	for _, c := range calls {
		if c.Grade != nil {
			graded++
		}
	}
	return calls, graded
}

// ---- tests ----

func TestRunCompletesAndCounts(t *testing.T) {
	f := newFixture(t, tenCallDay())
	tr := f.newTranscript(t)

	require.NoError(t, f.pipe.Run(context.Background(), tr.ID))

	got, err := f.store.GetTranscript(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Nil(t, got.ProcessingError)
	assert.Equal(t, 10, got.TotalCallsDetected)
	assert.Equal(t, 3, got.MeaningfulCallsCount)

	calls, graded := gradedCalls(t, f.store, tr.ID)
	require.Len(t, calls, 10)
	assert.Equal(t, 3, graded, "exactly one grade per meaningful call")

	for i, c := range calls {
		assert.Equal(t, i, c.SegmentIndex, "ordinal order is stable")
		assert.Equal(t, c.IsMeaningful, c.CallType == types.CallConversation,
			"meaningful iff conversation")
		if c.IsMeaningful {
			require.NotNil(t, c.Grade)
			// stub scores 8,7,5,9,8 -> mean 7.4 -> B
			assert.Equal(t, "B", c.Grade.OverallGrade)
		} else {
			assert.Nil(t, c.Grade, "non-meaningful segments never carry grades")
		}
	}
}

func TestRunSegmenterFailureMarksFailed(t *testing.T) {
	f := newFixture(t, nil)
	f.split.err = errors.New("splitter exploded")
	tr := f.newTranscript(t)

	require.NoError(t, f.pipe.Run(context.Background(), tr.ID))

	got, err := f.store.GetTranscript(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	require.NotNil(t, got.ProcessingError)
	assert.Contains(t, *got.ProcessingError, "segmentation failed")
}

func TestRunClassifierFailureMarksFailed(t *testing.T) {
	f := newFixture(t, tenCallDay())
	f.classify.err = errors.New("malformed JSON from capability")
	tr := f.newTranscript(t)

	require.NoError(t, f.pipe.Run(context.Background(), tr.ID))

	got, err := f.store.GetTranscript(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status, "no usable output means failed, not partial")
}

func TestRetryAfterClassifierFailureReusesSegments(t *testing.T) {
	f := newFixture(t, tenCallDay())
	f.classify.err = errors.New("gateway down")
	tr := f.newTranscript(t)

	require.NoError(t, f.pipe.Run(context.Background(), tr.ID))
	before, _ := gradedCalls(t, f.store, tr.ID)
	require.Len(t, before, 10, "segments survive the failed classification")

	f.classify.err = nil
	require.NoError(t, f.pipe.RetryTranscript(tr.ID))
	got := f.waitTerminal(t, tr.ID)
	assert.Equal(t, types.StatusCompleted, got.Status)

	assert.Equal(t, 1, f.split.calls, "retry never re-splits an already segmented transcript")
	after, graded := gradedCalls(t, f.store, tr.ID)
	assert.Equal(t, 3, graded)
	for i := range after {
		assert.Equal(t, before[i].ID, after[i].ID, "retry keeps segment identity and numbering")
	}
}

func TestPartialGradeFailureThenRetry(t *testing.T) {
	f := newFixture(t, tenCallDay())
	f.grade.setFail("segment 4") // 1 of the 3 conversations
	tr := f.newTranscript(t)

	require.NoError(t, f.pipe.Run(context.Background(), tr.ID))

	got, err := f.store.GetTranscript(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPartial, got.Status)
	require.NotNil(t, got.ProcessingError)
	assert.Contains(t, *got.ProcessingError, "grading failed for 1 of 3")

	calls, graded := gradedCalls(t, f.store, tr.ID)
	assert.Equal(t, 2, graded, "successful siblings are retained")
	var failedSeg types.CallSegment
	gradeIDs := map[string]string{}
	for _, c := range calls {
		if strings.Contains(c.RawText, "segment 4") {
			failedSeg = c
		}
		if c.Grade != nil {
			gradeIDs[c.ID] = c.Grade.ID
		}
	}
	require.NotNil(t, failedSeg.GradeError, "the failed segment records its error for diagnosis")
	assert.Contains(t, *failedSeg.GradeError, "timed out")

	// Retry fills only the gap.
	f.grade.setFail("")
	require.NoError(t, f.pipe.RetryTranscript(tr.ID))
	got = f.waitTerminal(t, tr.ID)
	assert.Equal(t, types.StatusCompleted, got.Status)

	calls, graded = gradedCalls(t, f.store, tr.ID)
	assert.Equal(t, 3, graded)
	for _, c := range calls {
		if c.Grade == nil {
			continue
		}
		if prev, ok := gradeIDs[c.ID]; ok {
			assert.Equal(t, prev, c.Grade.ID, "already graded calls are not recomputed")
		}
		assert.Nil(t, c.GradeError)
	}
	assert.Equal(t, 1, f.grade.callCount("segment 1:"), "untouched sibling graded exactly once")
	assert.Equal(t, 2, f.grade.callCount("segment 4:"), "failed call graded once per attempt")
}

func TestNoDoubleProcessing(t *testing.T) {
	f := newFixture(t, tenCallDay())
	f.grade.block = make(chan struct{})
	tr := f.newTranscript(t)

	require.NoError(t, f.pipe.Start(tr.ID))
	assert.ErrorIs(t, f.pipe.Start(tr.ID), ErrAlreadyProcessing)
	assert.ErrorIs(t, f.pipe.RetryTranscript(tr.ID), ErrAlreadyProcessing)
	assert.ErrorIs(t, f.pipe.Resplit(tr.ID), ErrAlreadyProcessing)

	close(f.grade.block)
	got := f.waitTerminal(t, tr.ID)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, 1, f.split.calls, "exactly one pipeline run happened")
}

func TestRetryRejectsNonRetryableStates(t *testing.T) {
	f := newFixture(t, tenCallDay())
	tr := f.newTranscript(t)

	assert.ErrorIs(t, f.pipe.RetryTranscript(tr.ID), ErrNotRetryable, "pending is not retryable")

	require.NoError(t, f.pipe.Run(context.Background(), tr.ID))
	assert.ErrorIs(t, f.pipe.RetryTranscript(tr.ID), ErrNotRetryable, "completed is not retryable")
}

func TestRegradeIsIdempotentAndPreservesFeedback(t *testing.T) {
	f := newFixture(t, tenCallDay())
	tr := f.newTranscript(t)
	require.NoError(t, f.pipe.Run(context.Background(), tr.ID))

	calls, _ := gradedCalls(t, f.store, tr.ID)
	var conv types.CallSegment
	for _, c := range calls {
		if c.IsMeaningful {
			conv = c
			break
		}
	}
	require.NotNil(t, conv.Grade)

	note := "great coaching"
	require.NoError(t, f.store.UpdateFeedback(conv.Grade.ID, true, &note))

	require.NoError(t, f.pipe.RegradeCall(context.Background(), conv.ID))
	require.NoError(t, f.pipe.RegradeCall(context.Background(), conv.ID))

	after, err := f.store.GetCall(conv.ID)
	require.NoError(t, err)
	require.NotNil(t, after.Grade)
	assert.Equal(t, conv.Grade.OverallGrade, after.Grade.OverallGrade)
	assert.Equal(t, conv.Grade.CallSummary, after.Grade.CallSummary)
	assert.Equal(t, conv.Grade.DimensionScores(), after.Grade.DimensionScores())
	require.NotNil(t, after.Grade.FeedbackHelpful)
	assert.True(t, *after.Grade.FeedbackHelpful)
	require.NotNil(t, after.Grade.FeedbackNote)
	assert.Equal(t, note, *after.Grade.FeedbackNote)
}

func TestRegradeRefusesNonMeaningfulCall(t *testing.T) {
	f := newFixture(t, tenCallDay())
	tr := f.newTranscript(t)
	require.NoError(t, f.pipe.Run(context.Background(), tr.ID))

	calls, _ := gradedCalls(t, f.store, tr.ID)
	for _, c := range calls {
		if !c.IsMeaningful {
			err := f.pipe.RegradeCall(context.Background(), c.ID)
			assert.ErrorIs(t, err, ErrNotMeaningful)
			return
		}
	}
	t.Fatal("fixture produced no non-meaningful call")
}

func TestStartRegradeRecordsFailureOnCall(t *testing.T) {
	f := newFixture(t, tenCallDay())
	tr := f.newTranscript(t)
	require.NoError(t, f.pipe.Run(context.Background(), tr.ID))

	calls, _ := gradedCalls(t, f.store, tr.ID)
	var conv types.CallSegment
	for _, c := range calls {
		if c.IsMeaningful {
			conv = c
			break
		}
	}
	require.NotNil(t, conv.Grade)

	f.grade.setFail("segment")
	require.NoError(t, f.pipe.StartRegrade(conv.ID))
	require.Eventually(t, func() bool {
		got, err := f.store.GetCall(conv.ID)
		return err == nil && got.GradeError != nil
	}, 5*time.Second, 10*time.Millisecond, "background re-grade failure never surfaced on the call")

	got, err := f.store.GetCall(conv.ID)
	require.NoError(t, err)
	assert.Contains(t, *got.GradeError, "timed out")
	require.NotNil(t, got.Grade, "the previous grade survives a failed re-grade")

	// A later successful re-grade clears the diagnosis again.
	f.grade.setFail("")
	require.Eventually(t, func() bool {
		return f.pipe.RegradeCall(context.Background(), conv.ID) == nil
	}, 5*time.Second, 10*time.Millisecond)
	got, err = f.store.GetCall(conv.ID)
	require.NoError(t, err)
	assert.Nil(t, got.GradeError)
}

func TestResplitRenumbersFromScratch(t *testing.T) {
	f := newFixture(t, tenCallDay())
	tr := f.newTranscript(t)
	require.NoError(t, f.pipe.Run(context.Background(), tr.ID))

	// The day is re-split into a different segmentation.
	f.split.mu.Lock()
	f.split.segs = []capability.RawSegment{
		{RawText: "whole day CONV as one block\n"},
	}
	f.split.mu.Unlock()

	require.NoError(t, f.pipe.ResplitSync(context.Background(), tr.ID))

	got, err := f.store.GetTranscript(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.TotalCallsDetected)
	assert.Equal(t, 1, got.MeaningfulCallsCount)

	calls, graded := gradedCalls(t, f.store, tr.ID)
	require.Len(t, calls, 1)
	assert.Equal(t, 1, graded)
	assert.Equal(t, 2, f.split.calls)
}
