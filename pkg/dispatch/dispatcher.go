package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"InferenceGovernor/pkg/sessions"
)

// SessionBook is the pool surface the dispatcher needs.
type SessionBook interface {
	Get(id string) (sessions.Session, error)
	Touch(id string, units int, latencyMs float64) error
}

// Recorder observes every produced sample.
type Recorder interface {
	ObserveSample(Sample)
}

// Dispatcher executes work for a session and records the result.
type Dispatcher struct {
	book     SessionBook
	exec     WorkExecutor
	recorder Recorder
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher. recorder and logger may be nil.
func NewDispatcher(book SessionBook, exec WorkExecutor, recorder Recorder, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{book: book, exec: exec, recorder: recorder, logger: logger}
}

// Dispatch runs work on behalf of sessionID. The only error it returns is
// sessions.ErrSessionNotFound; executor failures become unsuccessful samples.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, work Work) (Sample, error) {
	if _, err := d.book.Get(sessionID); err != nil {
		return Sample{}, err
	}

	outcome, err := d.execute(ctx, work)
	if err != nil {
		sample := Sample{
			SessionID: sessionID,
			Success:   false,
			Err:       fmt.Errorf("%w: %v", ErrWorkExecutionFailed, err).Error(),
		}
		d.logger.Warn("work execution failed", zap.String("session_id", sessionID), zap.Error(err))
		d.observe(sample)
		return sample, nil
	}

	sample := Sample{
		SessionID:  sessionID,
		Success:    true,
		TTFT:       outcome.TTFT,
		Total:      outcome.Total,
		Units:      outcome.Units,
		Throughput: Throughput(outcome.Units, outcome.Total),
		Text:       outcome.Text,
	}

	if err := d.book.Touch(sessionID, sample.Units, sample.TotalMillis()); err != nil {
		// released while the work was in flight
		d.logger.Debug("session gone before bookkeeping", zap.String("session_id", sessionID), zap.Error(err))
	}
	d.observe(sample)
	return sample, nil
}

func (d *Dispatcher) execute(ctx context.Context, work Work) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return d.exec.Execute(ctx, work)
}

func (d *Dispatcher) observe(s Sample) {
	if d.recorder != nil {
		d.recorder.ObserveSample(s)
	}
}
