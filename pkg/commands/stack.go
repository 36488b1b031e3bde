package commands

import (
	"errors"

	"go.uber.org/zap"

	"InferenceGovernor/pkg/backends"
	"InferenceGovernor/pkg/config"
	"InferenceGovernor/pkg/dispatch"
	"InferenceGovernor/pkg/metrics"
	"InferenceGovernor/pkg/sessions"
	"InferenceGovernor/pkg/telemetry"
)

// stack is the in-process governor: pool, dispatcher and, when a source is
// available, the telemetry poller gating admission.
type stack struct {
	poller     *telemetry.Poller
	metrics    *metrics.Metrics
	pool       *sessions.Pool
	dispatcher *dispatch.Dispatcher
}

func openPoller(cfg *config.Config, logger *zap.Logger) (*telemetry.Poller, error) {
	src, err := telemetry.Open(cfg.Telemetry.Source, logger)
	if err != nil {
		return nil, err
	}
	return telemetry.NewPoller(src, telemetry.PollerConfig{
		Interval: cfg.Telemetry.Interval,
		Thermal:  cfg.Telemetry.Thermal,
		Memory:   cfg.Telemetry.Memory,
	}, logger.Named("telemetry")), nil
}

func buildStack(cfg *config.Config, logger *zap.Logger) (*stack, error) {
	s := &stack{metrics: metrics.New(cfg.Backend.Model)}

	poller, err := openPoller(cfg, logger)
	switch {
	case errors.Is(err, telemetry.ErrSourceUnavailable):
		logger.Warn("telemetry unavailable, device state treated as normal", zap.Error(err))
	case err != nil:
		return nil, err
	default:
		s.poller = poller
		poller.OnSnapshot(s.metrics.ObserveSnapshot)
	}

	opts := []sessions.Option{
		sessions.WithObserver(s.metrics),
		sessions.WithLogger(logger.Named("pool")),
	}
	if s.poller != nil {
		opts = append(opts, sessions.WithState(s.poller))
	}
	s.pool = sessions.NewPool(sessions.Config{
		MaxSessions:      cfg.Pool.MaxSessions,
		ThrottleFactor:   cfg.Pool.ThrottleFactor,
		RejectOnCritical: cfg.Pool.RejectOnCritical,
	}, opts...)
	if s.poller != nil {
		s.poller.OnSnapshot(func(telemetry.Snapshot) {
			s.metrics.CapacityChanged(s.pool.EffectiveCapacity())
		})
	}

	exec, err := backends.New(cfg.Backend, s.pool.Count)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.dispatcher = dispatch.NewDispatcher(s.pool, exec, s.metrics, logger.Named("dispatch"))
	return s, nil
}

func (s *stack) Close() {
	if s.poller != nil {
		_ = s.poller.Close()
	}
}
