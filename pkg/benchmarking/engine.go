package benchmarking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"InferenceGovernor/pkg/sessions"
	"InferenceGovernor/pkg/stats"
)

// DefaultLevels are the concurrency levels used when none are given.
var DefaultLevels = []int{1, 2, 4, 8}

// Options tune an Engine.
type Options struct {
	// LevelTimeout caps each level's wall-clock window. Zero means no cap.
	LevelTimeout time.Duration
	// OnLevel is called after each level completes.
	OnLevel func(Result)
	Logger  *zap.Logger
}

// Engine runs load levels against a Target.
type Engine struct {
	target Target
	opts   Options
	logger *zap.Logger
}

// NewEngine creates an engine for target.
func NewEngine(target Target, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{target: target, opts: opts, logger: logger}
}

// clientTally is one virtual client's private buffer, merged after the level.
type clientTally struct {
	ttft       *stats.Aggregator
	latency    *stats.Aggregator
	tps        *stats.Aggregator
	units      int
	failed     int
	rejected   sessions.Reason
	sessionErr bool
}

// Run executes each level in order and returns one Result per completed
// level. Levels never overlap. If ctx is cancelled the results gathered so
// far are returned with ctx's error.
func (e *Engine) Run(ctx context.Context, levels []int, requestsPerClient int, factory WorkFactory) ([]Result, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("at least one concurrency level is required")
	}
	for _, c := range levels {
		if c <= 0 {
			return nil, fmt.Errorf("concurrency levels must be positive, got %d", c)
		}
	}
	if requestsPerClient <= 0 {
		return nil, fmt.Errorf("requests per client must be positive, got %d", requestsPerClient)
	}
	results := make([]Result, 0, len(levels))
	for _, c := range levels {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		e.logger.Info("starting level", zap.Int("concurrency", c), zap.Int("requests_per_client", requestsPerClient))
		res := e.RunLevel(ctx, c, requestsPerClient, factory)
		results = append(results, res)

		e.logger.Info("level complete",
			zap.Int("concurrency", c),
			zap.Int("successful", res.SuccessfulRequests),
			zap.Int("total", res.TotalRequests),
			zap.Int("rejected_clients", res.RejectedClients),
			zap.Float64("ttft_p50_ms", res.TTFTP50Ms),
			zap.Float64("total_throughput", res.TotalThroughput),
			zap.Bool("cancelled", res.Cancelled),
		)
		if e.opts.OnLevel != nil {
			e.opts.OnLevel(res)
		}
	}
	return results, ctx.Err()
}

// RunLevel starts concurrency clients, each holding one session for
// requestsPerClient sequential dispatches, and summarizes the window. A nil
// factory cycles DefaultPrompts.
func (e *Engine) RunLevel(ctx context.Context, concurrency, requestsPerClient int, factory WorkFactory) Result {
	if factory == nil {
		factory = PromptCycle(nil, 0, 0.7)
	}
	levelCtx := ctx
	if e.opts.LevelTimeout > 0 {
		var cancel context.CancelFunc
		levelCtx, cancel = context.WithTimeout(ctx, e.opts.LevelTimeout)
		defer cancel()
	}

	tallies := make([]*clientTally, concurrency)
	start := time.Now()

	var g errgroup.Group
	for i := 0; i < concurrency; i++ {
		i := i
		g.Go(func() error {
			tallies[i] = e.runClient(levelCtx, i, requestsPerClient, factory)
			return nil
		})
	}
	_ = g.Wait()
	window := time.Since(start)

	return summarize(concurrency, tallies, window, levelCtx.Err() != nil)
}

func (e *Engine) runClient(ctx context.Context, client, requests int, factory WorkFactory) *clientTally {
	t := &clientTally{
		ttft:    stats.New(requests),
		latency: stats.New(requests),
		tps:     stats.New(requests),
	}

	id, err := e.target.CreateSession(ctx)
	if err != nil {
		if reason, ok := sessions.RejectionReason(err); ok {
			t.rejected = reason
		} else if ctx.Err() == nil {
			t.sessionErr = true
			e.logger.Warn("session create failed", zap.Int("client", client), zap.Error(err))
		}
		return t
	}
	defer func() {
		if err := e.target.ReleaseSession(context.WithoutCancel(ctx), id); err != nil {
			e.logger.Warn("session release failed", zap.String("session_id", id), zap.Error(err))
		}
	}()

	for r := 0; r < requests; r++ {
		if ctx.Err() != nil {
			return t
		}

		sample, err := e.target.Dispatch(ctx, id, factory(client, r))
		if ctx.Err() != nil {
			// abandoned in flight
			return t
		}
		if err != nil {
			t.failed++
			if errors.Is(err, sessions.ErrSessionNotFound) {
				return t
			}
			continue
		}
		if !sample.Success {
			t.failed++
			continue
		}

		t.ttft.Record(sample.TTFTMillis())
		t.latency.Record(sample.TotalMillis())
		t.tps.Record(sample.Throughput)
		t.units += sample.Units
	}
	return t
}

func summarize(concurrency int, tallies []*clientTally, window time.Duration, cancelled bool) Result {
	ttft, latency, tps := stats.New(0), stats.New(0), stats.New(0)
	res := Result{Concurrency: concurrency, Cancelled: cancelled}

	for _, t := range tallies {
		if t == nil {
			continue
		}
		ttft.Merge(t.ttft)
		latency.Merge(t.latency)
		tps.Merge(t.tps)
		res.TotalUnits += t.units
		res.FailedRequests += t.failed

		switch t.rejected {
		case sessions.ReasonCapacityExceeded:
			res.RejectedClients++
			res.RejectedCapacity++
		case sessions.ReasonThermalCritical:
			res.RejectedClients++
			res.RejectedThermal++
		}
		if t.sessionErr {
			res.SessionErrors++
		}
	}

	res.SuccessfulRequests = latency.Count()
	res.TotalRequests = res.SuccessfulRequests + res.FailedRequests
	res.applyTTFT(ttft.Summarize())
	res.applyLatency(latency.Summarize())
	res.TokensPerSecondMean = tps.Mean()
	res.TestDurationSec = window.Seconds()
	if window > 0 {
		res.TotalThroughput = float64(res.TotalUnits) / window.Seconds()
	}
	return res
}
