package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Broadcaster receives every event the Sampler produces. Publish must not block.
type Broadcaster interface {
	Publish(e Event)
}

// SamplerConfig holds the timing and the fixed probe list of a Sampler
type SamplerConfig struct {
	Sensors  []SensorID
	Interval time.Duration
	// Timeout bounds each gateway read; zero means no bound.
	Timeout time.Duration
}

// Sampler periodically reads the gateway, records a Snapshot in the Store
// and hands it to the hub. It is the only writer of the Store.
type Sampler struct {
	config  SamplerConfig
	gateway Gateway
	store   *Store
	hub     Broadcaster
	table   *ActuatorTable
	logger  *zap.SugaredLogger
	metrics *Metrics

	now    func() time.Time
	lastTS string
}

// NewSampler creates a Sampler
func NewSampler(config SamplerConfig, gateway Gateway, store *Store, hub Broadcaster, table *ActuatorTable, logger *zap.SugaredLogger, metrics *Metrics) *Sampler {
	return &Sampler{
		config:  config,
		gateway: gateway,
		store:   store,
		hub:     hub,
		table:   table,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Run samples until ctx is cancelled. A cycle that overruns the interval
// is followed immediately by the next one.
func (s *Sampler) Run(ctx context.Context) error {
	s.logger.Infow("sampler: started", "interval", s.config.Interval, "sensors", len(s.config.Sensors))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sampler: stopped")
			return ctx.Err()
		case <-timer.C:
		}

		start := time.Now()
		s.Cycle(ctx)

		wait := s.config.Interval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// Cycle performs one read-record-publish round and returns its Snapshot
func (s *Sampler) Cycle(ctx context.Context) Snapshot {
	start := time.Now()

	raw, err := s.read(ctx)
	if err != nil {
		err = &GatewayUnavailable{Err: err}
		s.logger.Errorw("sampler: read cycle failed", "error", err)
		raw = nil
	}

	snapshot := NewSnapshot(s.now(), s.config.Sensors, raw, s.pins(ctx))
	snapshot.Timestamp = s.timestamp(snapshot.Timestamp)
	s.store.Record(snapshot)

	if err != nil {
		s.hub.Publish(NewErrorEvent(err))
	}
	s.hub.Publish(NewTelemetryEvent(snapshot))

	absent := snapshot.Absent()
	if err == nil && absent > 0 {
		s.logger.Warnw("sampler: probes absent", "absent", absent)
	}
	s.metrics.observeCycle(time.Since(start), absent, err != nil)

	return snapshot
}

func (s *Sampler) read(ctx context.Context) (map[SensorID]*float64, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}
	return s.gateway.ReadAll(ctx)
}

func (s *Sampler) pins(ctx context.Context) Pins {
	r, ok := s.gateway.(PinReader)
	if !ok {
		return s.table.Pins()
	}

	p, err := r.ReadPins(ctx)
	if err != nil {
		s.logger.Warnw("sampler: pin readback failed", "error", err)
		return UnknownPins()
	}
	return p
}

// timestamp clamps ts to the last emitted one. The layout sorts
// lexically, so a stepped-back clock or a DST fall-back repeats the last
// timestamp instead of going backward.
func (s *Sampler) timestamp(ts string) string {
	if ts < s.lastTS {
		return s.lastTS
	}
	s.lastTS = ts
	return ts
}
