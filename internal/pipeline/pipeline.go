// Package pipeline orchestrates the daily transcript processing run:
// split into segments, classify each segment, grade the meaningful
// ones, and drive the transcript's status machine. Stage failures are
// converted into status updates, never crashes, and work that already
// succeeded is never recomputed or discarded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"call-coach-go/internal/capability"
	"call-coach-go/internal/grader"
	"call-coach-go/internal/logger"
	"call-coach-go/internal/store"
	"call-coach-go/internal/types"
)

var (
	// ErrAlreadyProcessing is returned when a run, retry, or re-grade
	// is requested for a transcript that already has one in flight.
	ErrAlreadyProcessing = errors.New("pipeline: transcript already processing")

	// ErrNotMeaningful is returned when a re-grade targets a segment
	// that is not a meaningful conversation.
	ErrNotMeaningful = errors.New("pipeline: call is not a meaningful conversation")

	// ErrNotClassified is returned when a re-grade targets a segment
	// the classifier has not seen yet.
	ErrNotClassified = errors.New("pipeline: call is not classified yet")
)

// Pipeline wires the three capabilities to the store.
type Pipeline struct {
	store    *store.Store
	split    capability.Splitter
	classify capability.Classifier
	grade    capability.Grader
	log      *logger.Logger

	stageTimeout time.Duration
	gradeWorkers int
	locks        *runLocks
}

// Option tweaks a Pipeline.
type Option func(*Pipeline)

// WithStageTimeout bounds each individual capability call.
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.stageTimeout = d }
}

// WithGradeWorkers caps how many sibling segments grade concurrently.
func WithGradeWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.gradeWorkers = n
		}
	}
}

// New builds a Pipeline.
func New(st *store.Store, sp capability.Splitter, cl capability.Classifier, gr capability.Grader, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:        st,
		split:        sp,
		classify:     cl,
		grade:        gr,
		log:          logger.New().WithComponent("pipeline"),
		stageTimeout: 60 * time.Second,
		gradeWorkers: 4,
		locks:        newRunLocks(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start moves the transcript into processing and runs the pipeline in
// the background. The caller gets ErrAlreadyProcessing instead of a
// duplicate run when one is already in flight.
func (p *Pipeline) Start(transcriptID string) error {
	if !p.locks.tryAcquire(transcriptID) {
		return ErrAlreadyProcessing
	}
	if err := p.enterProcessing(transcriptID); err != nil {
		p.locks.release(transcriptID)
		return err
	}
	go func() {
		defer p.locks.release(transcriptID)
		p.runLocked(context.Background(), transcriptID)
	}()
	return nil
}

// Run executes the pipeline synchronously. Same exclusivity contract
// as Start.
func (p *Pipeline) Run(ctx context.Context, transcriptID string) error {
	if !p.locks.tryAcquire(transcriptID) {
		return ErrAlreadyProcessing
	}
	defer p.locks.release(transcriptID)
	if err := p.enterProcessing(transcriptID); err != nil {
		return err
	}
	p.runLocked(ctx, transcriptID)
	return nil
}

// enterProcessing performs the pending/terminal -> processing move. A
// transcript already marked processing (a previous process died midway)
// is re-entered without a transition.
func (p *Pipeline) enterProcessing(transcriptID string) error {
	t, err := p.store.GetTranscript(transcriptID)
	if err != nil {
		return err
	}
	if t.Status == types.StatusProcessing {
		return p.store.TouchTranscript(transcriptID)
	}
	return p.store.TransitionStatus(transcriptID, types.StatusProcessing, nil)
}

// runLocked is the pipeline body. The caller holds the transcript's
// run lock and has already moved it into processing; this always
// finishes with a terminal transition.
func (p *Pipeline) runLocked(ctx context.Context, transcriptID string) {
	log := p.log.WithTranscript(transcriptID)
	start := time.Now()

	segs, err := p.store.ListCalls(store.CallFilter{TranscriptID: transcriptID})
	if err != nil {
		p.finish(transcriptID, types.StatusFailed, fmt.Sprintf("load segments: %v", err))
		return
	}

	// Split only when the transcript has never been segmented.
	// Re-runs reuse persisted segments so indices stay stable.
	if len(segs) == 0 {
		segs, err = p.splitStage(ctx, transcriptID)
		if err != nil {
			log.WithError(err).Warn("segmentation stage failed")
			p.finish(transcriptID, types.StatusFailed, fmt.Sprintf("segmentation failed: %v", err))
			return
		}
		log.WithField("segments", len(segs)).Info("transcript segmented")
	}

	classifyErr := p.classifyStage(ctx, segs)
	if classifyErr != nil {
		log.WithError(classifyErr).Warn("classification stage failed")
	}

	total := len(segs)
	meaningful := 0
	classified := 0
	for i := range segs {
		if segs[i].Classified() {
			classified++
		}
		if segs[i].IsMeaningful {
			meaningful++
		}
	}
	if err := p.store.UpdateCounts(transcriptID, total, meaningful); err != nil {
		log.WithError(err).Error("failed to persist call counts")
	}

	if classified == 0 {
		p.finish(transcriptID, types.StatusFailed, fmt.Sprintf("classification failed: %v", classifyErr))
		return
	}

	gradeFailures := p.gradeStage(ctx, segs)

	log.WithField("duration_ms", time.Since(start).Milliseconds()).
		WithField("total_calls", total).
		WithField("meaningful_calls", meaningful).
		Info("pipeline run finished")

	switch {
	case classifyErr != nil:
		p.finish(transcriptID, types.StatusPartial, fmt.Sprintf("classification failed for %d segments: %v", total-classified, classifyErr))
	case gradeFailures > 0:
		p.finish(transcriptID, types.StatusPartial, fmt.Sprintf("grading failed for %d of %d meaningful calls", gradeFailures, meaningful))
	default:
		p.finish(transcriptID, types.StatusCompleted, "")
	}
}

// splitStage runs the splitting capability and persists the resulting
// segments with stable ordinal indices.
func (p *Pipeline) splitStage(ctx context.Context, transcriptID string) ([]types.CallSegment, error) {
	t, err := p.store.GetTranscript(transcriptID)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()
	raw, err := p.split.Split(sctx, t.RawText)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("splitter produced no segments")
	}

	segs := make([]types.CallSegment, len(raw))
	for i, r := range raw {
		segs[i] = types.CallSegment{
			ID:              uuid.New().String(),
			TranscriptID:    transcriptID,
			SegmentIndex:    i,
			RawText:         r.RawText,
			StartTimestamp:  r.StartTimestamp,
			DurationSeconds: r.DurationSeconds,
		}
	}
	if err := p.store.InsertSegments(segs); err != nil {
		return nil, err
	}
	return segs, nil
}

// classifyStage classifies every still-unclassified segment in one
// batch and persists the verdicts, updating segs in place. Segments
// classified on an earlier run are left alone.
func (p *Pipeline) classifyStage(ctx context.Context, segs []types.CallSegment) error {
	var pending []int
	for i := range segs {
		if !segs[i].Classified() {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	batch := make([]capability.RawSegment, len(pending))
	for bi, si := range pending {
		batch[bi] = capability.RawSegment{
			RawText:         segs[si].RawText,
			StartTimestamp:  segs[si].StartTimestamp,
			DurationSeconds: segs[si].DurationSeconds,
		}
	}

	cctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()
	verdicts, err := p.classify.Classify(cctx, batch)
	if err != nil {
		return err
	}
	if len(verdicts) != len(batch) {
		return fmt.Errorf("classifier returned %d verdicts for %d segments", len(verdicts), len(batch))
	}

	for bi, si := range pending {
		v := verdicts[bi]
		// The meaningful flag is a function of the type, whatever the
		// capability claimed.
		v.IsMeaningful = v.CallType == string(types.CallConversation)
		if err := p.store.UpdateClassification(segs[si].ID, v); err != nil {
			return err
		}
		segs[si].CallType = types.CallType(v.CallType)
		segs[si].IsMeaningful = v.IsMeaningful
		segs[si].ProspectName = v.ProspectName
		segs[si].ProspectCompany = v.ProspectCompany
		segs[si].Reasoning = v.Reasoning
	}
	return nil
}

// gradeStage grades every meaningful segment that does not have a
// grade yet. Sibling segments run concurrently; one failure never
// aborts the others. Returns the number of failed segments.
func (p *Pipeline) gradeStage(ctx context.Context, segs []types.CallSegment) int {
	var toGrade []*types.CallSegment
	for i := range segs {
		if segs[i].IsMeaningful && segs[i].Grade == nil {
			toGrade = append(toGrade, &segs[i])
		}
	}
	if len(toGrade) == 0 {
		return 0
	}

	var mu sync.Mutex
	failures := 0

	g := new(errgroup.Group)
	g.SetLimit(p.gradeWorkers)
	for _, seg := range toGrade {
		seg := seg
		g.Go(func() error {
			if err := p.gradeOne(ctx, seg); err != nil {
				p.log.WithTranscript(seg.TranscriptID).
					WithField("call_id", seg.ID).
					WithError(err).Warn("grading failed for segment")
				msg := err.Error()
				if serr := p.store.SetGradeError(seg.ID, &msg); serr != nil {
					p.log.WithError(serr).Error("failed to record grade error")
				}
				mu.Lock()
				failures++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

// gradeOne runs the grading capability for one meaningful segment and
// persists the normalized grade, clearing any stale per-segment error.
func (p *Pipeline) gradeOne(ctx context.Context, seg *types.CallSegment) error {
	gctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()

	raw, err := p.grade.Grade(gctx, seg.RawText)
	if err != nil {
		return err
	}
	grade, err := grader.Normalize(seg.ID, raw)
	if err != nil {
		return err
	}
	grade.ID = uuid.New().String()
	if err := p.store.UpsertGrade(&grade); err != nil {
		return err
	}
	seg.Grade = &grade
	return p.store.SetGradeError(seg.ID, nil)
}

// finish applies the terminal transition. msg == "" clears the stored
// processing error.
func (p *Pipeline) finish(transcriptID string, status types.ProcessingStatus, msg string) {
	var errPtr *string
	if msg != "" {
		errPtr = &msg
	}
	if err := p.store.TransitionStatus(transcriptID, status, errPtr); err != nil {
		p.log.WithTranscript(transcriptID).WithError(err).Error("terminal status transition failed")
	}
}
