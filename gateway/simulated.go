package gateway

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/raymondelooff/probe-telemetry-hub/telemetry"
	"go.uber.org/zap"
)

// Simulated is a gateway for development without hardware. Each probe
// follows a bounded random walk around 22 °C and actuators hold whatever
// was last written.
type Simulated struct {
	mu        sync.Mutex
	rnd       *rand.Rand
	temps     map[telemetry.SensorID]float64
	sensors   []telemetry.SensorID
	actuators map[telemetry.ActuatorID]telemetry.State
	logger    *zap.SugaredLogger
}

// NewSimulated creates a Simulated gateway for the given probes
func NewSimulated(sensors []telemetry.SensorID, seed int64, logger *zap.SugaredLogger) *Simulated {
	s := &Simulated{
		rnd:       rand.New(rand.NewSource(seed)),
		temps:     make(map[telemetry.SensorID]float64, len(sensors)),
		sensors:   sensors,
		actuators: make(map[telemetry.ActuatorID]telemetry.State, len(telemetry.Actuators)),
		logger:    logger,
	}
	for i, id := range sensors {
		s.temps[id] = 21 + float64(i)*0.5
	}
	for _, id := range telemetry.Actuators {
		s.actuators[id] = telemetry.Off
	}

	logger.Infow("gateway: simulated probes", "sensors", len(sensors))

	return s
}

// ReadAll advances every probe one step
func (s *Simulated) ReadAll(ctx context.Context) (map[telemetry.SensorID]*float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	readings := make(map[telemetry.SensorID]*float64, len(s.sensors))
	for _, id := range s.sensors {
		t := s.temps[id] + (s.rnd.Float64()-0.5)*0.2
		t = math.Max(15, math.Min(30, t))
		s.temps[id] = t

		v := math.Round(t*1000) / 1000
		readings[id] = &v
	}

	return readings, nil
}

// SetActuator records the state of id
func (s *Simulated) SetActuator(ctx context.Context, id telemetry.ActuatorID, state telemetry.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.actuators[id] = state
	s.logger.Debugw("gateway: simulated actuator set", "actuator", id, "state", state)

	return nil
}

// ReadPins reports the recorded actuator states; the trigger stays off
func (s *Simulated) ReadPins(ctx context.Context) (telemetry.Pins, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := telemetry.Pins{
		Actuators: make(map[telemetry.ActuatorID]telemetry.State, len(s.actuators)),
		Trigger:   telemetry.Off,
	}
	for id, st := range s.actuators {
		p.Actuators[id] = st
	}

	return p, nil
}
