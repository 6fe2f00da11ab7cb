package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/raymondelooff/probe-telemetry-hub/telemetry"
	"go.uber.org/zap"
)

var errClosed = errors.New("gateway closed")

type prober interface {
	ReadAll(ctx context.Context) (map[telemetry.SensorID]*float64, error)
}

// Hardware is the Raspberry Pi gateway: DS18B20 probes on the 1-Wire bus,
// the pump and V-relay on output pins and the trigger on an input pin.
// Bus reads and pin access are serialized by separate mutexes, so a slow
// bus read never holds up a command. closed is written under both.
type Hardware struct {
	busMu      sync.Mutex
	pinMu      sync.Mutex
	bus        prober
	pins       pinDriver
	outputs    map[telemetry.ActuatorID]int
	trigger    int
	activeHigh bool
	closed     bool
	logger     *zap.SugaredLogger
}

// NewHardware opens the GPIO, binds the probes and drives every actuator
// inactive
func NewHardware(config telemetry.GatewayConfig, sensors []telemetry.SensorConfig, logger *zap.SugaredLogger) (*Hardware, error) {
	bus := NewW1Bus(config.W1Base, sensors, logger)

	return newHardware(config, bus, rpioDriver{}, logger)
}

func newHardware(config telemetry.GatewayConfig, bus prober, pins pinDriver, logger *zap.SugaredLogger) (*Hardware, error) {
	if err := pins.Open(); err != nil {
		return nil, err
	}

	h := &Hardware{
		bus:  bus,
		pins: pins,
		outputs: map[telemetry.ActuatorID]int{
			telemetry.PrimaryPump: config.PumpPin,
			telemetry.RelayV:      config.RelayVPin,
		},
		trigger:    config.TriggerPin,
		activeHigh: config.ActiveLevel == nil || *config.ActiveLevel == 1,
		logger:     logger,
	}

	for _, pin := range h.outputs {
		pins.Output(pin)
		pins.Write(pin, h.level(telemetry.Off))
	}
	if h.trigger >= 0 {
		pins.InputPullDown(h.trigger)
	}

	logger.Infow("gateway: hardware ready",
		"pump_pin", config.PumpPin,
		"relay_v_pin", config.RelayVPin,
		"trigger_pin", config.TriggerPin,
		"active_high", h.activeHigh,
	)

	return h, nil
}

// level returns the electrical level that puts an actuator in state s
func (h *Hardware) level(s telemetry.State) bool {
	return (s == telemetry.On) == h.activeHigh
}

// ReadAll reads every probe
func (h *Hardware) ReadAll(ctx context.Context) (map[telemetry.SensorID]*float64, error) {
	h.busMu.Lock()
	defer h.busMu.Unlock()

	if h.closed {
		return nil, errClosed
	}

	return h.bus.ReadAll(ctx)
}

// SetActuator drives the pin of id and verifies it by reading it back
func (h *Hardware) SetActuator(ctx context.Context, id telemetry.ActuatorID, state telemetry.State) error {
	h.pinMu.Lock()
	defer h.pinMu.Unlock()

	if h.closed {
		return errClosed
	}

	pin, ok := h.outputs[id]
	if !ok {
		return fmt.Errorf("gateway: no pin for actuator %s", id)
	}

	want := h.level(state)
	h.pins.Write(pin, want)
	if got := h.pins.Read(pin); got != want {
		return fmt.Errorf("gateway: pin %d reads back %v after write", pin, got)
	}

	return nil
}

// ReadPins reads the actuator outputs and the trigger input
func (h *Hardware) ReadPins(ctx context.Context) (telemetry.Pins, error) {
	h.pinMu.Lock()
	defer h.pinMu.Unlock()

	if h.closed {
		return telemetry.Pins{}, errClosed
	}

	p := telemetry.Pins{
		Actuators: make(map[telemetry.ActuatorID]telemetry.State, len(h.outputs)),
		Trigger:   telemetry.Unknown,
	}
	for id, pin := range h.outputs {
		p.Actuators[id] = telemetry.Off
		if h.pins.Read(pin) == h.level(telemetry.On) {
			p.Actuators[id] = telemetry.On
		}
	}
	if h.trigger >= 0 {
		p.Trigger = telemetry.Off
		if h.pins.Read(h.trigger) {
			p.Trigger = telemetry.On
		}
	}

	return p, nil
}

// Close drives every actuator inactive and releases the GPIO
func (h *Hardware) Close() error {
	h.busMu.Lock()
	defer h.busMu.Unlock()
	h.pinMu.Lock()
	defer h.pinMu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	for _, pin := range h.outputs {
		h.pins.Write(pin, h.level(telemetry.Off))
	}

	h.logger.Info("gateway: actuators released")

	return h.pins.Close()
}
