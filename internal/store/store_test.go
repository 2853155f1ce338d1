package store

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-coach-go/internal/capability"
	"call-coach-go/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTranscript(t *testing.T, st *Store) types.DailyTranscript {
	t.Helper()
	tr := types.DailyTranscript{
		ID:             uuid.New().String(),
		SDRID:          "sdr-1",
		TranscriptDate: "2026-03-02",
		RawText:        "call one\ncall two\n",
		UploadMethod:   types.UploadText,
	}
	require.NoError(t, st.CreateTranscript(&tr))
	return tr
}

func insertSegment(t *testing.T, st *Store, transcriptID string, idx int, meaningful bool) types.CallSegment {
	t.Helper()
	seg := types.CallSegment{
		ID:           uuid.New().String(),
		TranscriptID: transcriptID,
		SegmentIndex: idx,
		RawText:      "segment text",
	}
	require.NoError(t, st.InsertSegments([]types.CallSegment{seg}))
	ct := "internal"
	if meaningful {
		ct = "conversation"
	}
	require.NoError(t, st.UpdateClassification(seg.ID, capability.Classification{
		CallType:     ct,
		IsMeaningful: meaningful,
		Reasoning:    "test",
	}))
	got, err := st.GetCall(seg.ID)
	require.NoError(t, err)
	return got
}

func sampleGrade(callID string) types.CallGrade {
	return types.CallGrade{
		ID:                      uuid.New().String(),
		CallID:                  callID,
		OverallGrade:            "B",
		OpenerScore:             7,
		EngagementScore:         7,
		ObjectionHandlingScore:  5,
		AppointmentSettingScore: 8,
		ProfessionalismScore:    8,
		MeetingScheduled:        types.MeetingYes,
		CallSummary:             "Good call.",
		Strengths:               []string{"intro"},
		Improvements:            []string{"close"},
		KeyMoments:              []types.KeyMoment{{Timestamp: "00:00:10", Description: "hook", Sentiment: "positive"}},
		CoachingNotes:           "notes",
	}
}

func TestTranscriptLifecycle(t *testing.T) {
	st := openTestStore(t)
	tr := newTranscript(t, st)

	got, err := st.GetTranscript(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Equal(t, types.UploadText, got.UploadMethod)

	require.NoError(t, st.TransitionStatus(tr.ID, types.StatusProcessing, nil))
	msg := "grading failed for 1 call"
	require.NoError(t, st.TransitionStatus(tr.ID, types.StatusPartial, &msg))

	got, err = st.GetTranscript(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPartial, got.Status)
	require.NotNil(t, got.ProcessingError)
	assert.Equal(t, msg, *got.ProcessingError)
}

func TestTransitionStatusRejectsIllegalMoves(t *testing.T) {
	st := openTestStore(t)
	tr := newTranscript(t, st)

	err := st.TransitionStatus(tr.ID, types.StatusCompleted, nil)
	var illegal *types.ErrIllegalTransition
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, types.StatusPending, illegal.From)

	// The stored status is untouched after a rejected move.
	got, err := st.GetTranscript(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)
}

func TestGetTranscriptNotFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.GetTranscript("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTranscriptsFilters(t *testing.T) {
	st := openTestStore(t)
	a := newTranscript(t, st)
	b := types.DailyTranscript{
		ID:             uuid.New().String(),
		SDRID:          "sdr-2",
		TranscriptDate: "2026-03-05",
		RawText:        "x",
		UploadMethod:   types.UploadAudio,
	}
	require.NoError(t, st.CreateTranscript(&b))
	require.NoError(t, st.TransitionStatus(b.ID, types.StatusProcessing, nil))
	require.NoError(t, st.TransitionStatus(b.ID, types.StatusFailed, nil))

	byOwner, err := st.ListTranscripts(TranscriptFilter{SDRID: "sdr-1"})
	require.NoError(t, err)
	require.Len(t, byOwner, 1)
	assert.Equal(t, a.ID, byOwner[0].ID)

	byStatus, err := st.ListTranscripts(TranscriptFilter{Status: types.StatusFailed})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, b.ID, byStatus[0].ID)

	byRange, err := st.ListTranscripts(TranscriptFilter{DateFrom: "2026-03-03", DateTo: "2026-03-31"})
	require.NoError(t, err)
	require.Len(t, byRange, 1)
	assert.Equal(t, b.ID, byRange[0].ID)
}

func TestSegmentIndexCollision(t *testing.T) {
	st := openTestStore(t)
	tr := newTranscript(t, st)
	insertSegment(t, st, tr.ID, 0, false)

	dup := types.CallSegment{
		ID:           uuid.New().String(),
		TranscriptID: tr.ID,
		SegmentIndex: 0,
		RawText:      "colliding",
	}
	assert.Error(t, st.InsertSegments([]types.CallSegment{dup}),
		"ordinal indices must be unique within a transcript")
}

func TestUpdateCountsInvariant(t *testing.T) {
	st := openTestStore(t)
	tr := newTranscript(t, st)

	require.NoError(t, st.UpdateCounts(tr.ID, 10, 3))
	assert.Error(t, st.UpdateCounts(tr.ID, 3, 10),
		"meaningful count may never exceed the total")
}

func TestGradeOnlyForMeaningfulSegments(t *testing.T) {
	st := openTestStore(t)
	tr := newTranscript(t, st)
	internal := insertSegment(t, st, tr.ID, 0, false)

	g := sampleGrade(internal.ID)
	err := st.UpsertGrade(&g)
	require.Error(t, err, "grading a non-meaningful segment is a contract violation")
}

func TestUpsertGradePreservesFeedback(t *testing.T) {
	st := openTestStore(t)
	tr := newTranscript(t, st)
	conv := insertSegment(t, st, tr.ID, 0, true)

	first := sampleGrade(conv.ID)
	require.NoError(t, st.UpsertGrade(&first))

	loaded, err := st.GetCall(conv.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.Grade)
	gradeID := loaded.Grade.ID

	note := "spot on"
	require.NoError(t, st.UpdateFeedback(gradeID, true, &note))

	// Replace the grade wholesale; the reviewer's fields must survive.
	second := sampleGrade(conv.ID)
	second.OverallGrade = "A"
	second.CallSummary = "Even better on review."
	require.NoError(t, st.UpsertGrade(&second))

	loaded, err = st.GetCall(conv.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.Grade)
	assert.Equal(t, gradeID, loaded.Grade.ID, "the grade row identity is stable across re-grades")
	assert.Equal(t, "A", loaded.Grade.OverallGrade)
	assert.Equal(t, "Even better on review.", loaded.Grade.CallSummary)
	require.NotNil(t, loaded.Grade.FeedbackHelpful)
	assert.True(t, *loaded.Grade.FeedbackHelpful)
	require.NotNil(t, loaded.Grade.FeedbackNote)
	assert.Equal(t, note, *loaded.Grade.FeedbackNote)
	assert.NotNil(t, loaded.Grade.FeedbackAt)
}

func TestListCallsEagerLoadsGrades(t *testing.T) {
	st := openTestStore(t)
	tr := newTranscript(t, st)
	conv := insertSegment(t, st, tr.ID, 0, true)
	insertSegment(t, st, tr.ID, 1, false)

	g := sampleGrade(conv.ID)
	require.NoError(t, st.UpsertGrade(&g))

	calls, err := st.ListCalls(CallFilter{TranscriptID: tr.ID})
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, 0, calls[0].SegmentIndex)
	require.NotNil(t, calls[0].Grade)
	assert.Equal(t, []string{"intro"}, calls[0].Grade.Strengths)
	assert.Nil(t, calls[1].Grade)

	bySDR, err := st.ListCalls(CallFilter{SDRID: "sdr-1"})
	require.NoError(t, err)
	assert.Len(t, bySDR, 2)
}

func TestDeleteSegmentsCascadesGrades(t *testing.T) {
	st := openTestStore(t)
	tr := newTranscript(t, st)
	conv := insertSegment(t, st, tr.ID, 0, true)
	g := sampleGrade(conv.ID)
	require.NoError(t, st.UpsertGrade(&g))

	require.NoError(t, st.DeleteSegments(tr.ID))
	calls, err := st.ListCalls(CallFilter{TranscriptID: tr.ID})
	require.NoError(t, err)
	assert.Empty(t, calls)

	_, err = st.GetCall(conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetGradeError(t *testing.T) {
	st := openTestStore(t)
	tr := newTranscript(t, st)
	conv := insertSegment(t, st, tr.ID, 0, true)

	msg := "grading timed out"
	require.NoError(t, st.SetGradeError(conv.ID, &msg))
	got, err := st.GetCall(conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.GradeError)
	assert.Equal(t, msg, *got.GradeError)

	require.NoError(t, st.SetGradeError(conv.ID, nil))
	got, err = st.GetCall(conv.ID)
	require.NoError(t, err)
	assert.Nil(t, got.GradeError)
}
