package pipeline

import (
	"context"
	"errors"
	"fmt"

	"call-coach-go/internal/types"
)

// ErrNotRetryable is returned when a transcript-level retry targets a
// transcript that is neither failed nor partial.
var ErrNotRetryable = errors.New("pipeline: transcript is not in a retryable state")

// RetryTranscript re-enters processing for a failed or partial
// transcript. Already-classified segments and already-stored grades
// are reused; only missing or errored outputs are recomputed.
func (p *Pipeline) RetryTranscript(transcriptID string) error {
	t, err := p.store.GetTranscript(transcriptID)
	if err != nil {
		return err
	}
	if t.Status == types.StatusProcessing {
		return ErrAlreadyProcessing
	}
	if !t.Status.Retryable() {
		return fmt.Errorf("%w (status %s)", ErrNotRetryable, t.Status)
	}
	return p.Start(transcriptID)
}

// Resplit discards every segment and grade of the transcript and runs
// the full pipeline from scratch. This is the only operation that
// renumbers segments; everything else keeps indices stable.
func (p *Pipeline) Resplit(transcriptID string) error {
	if !p.locks.tryAcquire(transcriptID) {
		return ErrAlreadyProcessing
	}
	if err := p.enterProcessing(transcriptID); err != nil {
		p.locks.release(transcriptID)
		return err
	}
	go func() {
		defer p.locks.release(transcriptID)
		p.resplitLocked(context.Background(), transcriptID)
	}()
	return nil
}

// ResplitSync is Resplit without the background goroutine.
func (p *Pipeline) ResplitSync(ctx context.Context, transcriptID string) error {
	if !p.locks.tryAcquire(transcriptID) {
		return ErrAlreadyProcessing
	}
	defer p.locks.release(transcriptID)
	if err := p.enterProcessing(transcriptID); err != nil {
		return err
	}
	p.resplitLocked(ctx, transcriptID)
	return nil
}

func (p *Pipeline) resplitLocked(ctx context.Context, transcriptID string) {
	if err := p.store.DeleteSegments(transcriptID); err != nil {
		p.finish(transcriptID, types.StatusFailed, fmt.Sprintf("re-split: %v", err))
		return
	}
	if err := p.store.UpdateCounts(transcriptID, 0, 0); err != nil {
		p.log.WithTranscript(transcriptID).WithError(err).Error("failed to reset call counts")
	}
	p.runLocked(ctx, transcriptID)
}

// StartRegrade re-invokes only the grading stage for one call, in the
// background. The new grade replaces the old one wholesale; reviewer
// feedback survives untouched.
func (p *Pipeline) StartRegrade(callID string) error {
	seg, err := p.checkRegradable(callID)
	if err != nil {
		return err
	}
	if !p.locks.tryAcquire(seg.TranscriptID) {
		return ErrAlreadyProcessing
	}
	go func() {
		defer p.locks.release(seg.TranscriptID)
		if err := p.gradeOne(context.Background(), &seg); err != nil {
			p.log.WithTranscript(seg.TranscriptID).
				WithField("call_id", seg.ID).
				WithError(err).Warn("re-grade failed")
			// Same diagnosis path as the grading stage, so callers
			// polling the call can see the failure.
			msg := err.Error()
			if serr := p.store.SetGradeError(seg.ID, &msg); serr != nil {
				p.log.WithError(serr).Error("failed to record grade error")
			}
		}
	}()
	return nil
}

// RegradeCall is StartRegrade run synchronously.
func (p *Pipeline) RegradeCall(ctx context.Context, callID string) error {
	seg, err := p.checkRegradable(callID)
	if err != nil {
		return err
	}
	if !p.locks.tryAcquire(seg.TranscriptID) {
		return ErrAlreadyProcessing
	}
	defer p.locks.release(seg.TranscriptID)
	return p.gradeOne(ctx, &seg)
}

// checkRegradable enforces the grading contract: only classified,
// meaningful segments are ever graded.
func (p *Pipeline) checkRegradable(callID string) (types.CallSegment, error) {
	seg, err := p.store.GetCall(callID)
	if err != nil {
		return types.CallSegment{}, err
	}
	if !seg.Classified() {
		return types.CallSegment{}, fmt.Errorf("%w: call %s", ErrNotClassified, callID)
	}
	if !seg.IsMeaningful {
		return types.CallSegment{}, fmt.Errorf("%w: call %s is %s", ErrNotMeaningful, callID, seg.CallType)
	}
	// Force a fresh grade even when one exists.
	seg.Grade = nil
	return seg, nil
}
