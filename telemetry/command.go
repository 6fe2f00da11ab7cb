package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ActuatorTable holds the last state successfully written to each actuator.
// It backs snapshots when the gateway cannot read pins back.
type ActuatorTable struct {
	mu     sync.RWMutex
	states map[ActuatorID]State
}

// NewActuatorTable creates a table with every actuator unknown
func NewActuatorTable() *ActuatorTable {
	t := &ActuatorTable{states: make(map[ActuatorID]State, len(Actuators))}
	for _, id := range Actuators {
		t.states[id] = Unknown
	}
	return t
}

// Set records the assumed state of id
func (t *ActuatorTable) Set(id ActuatorID, s State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.states[id] = s
}

// Pins returns the assumed actuator states; the trigger is always unknown
func (t *ActuatorTable) Pins() Pins {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p := Pins{Actuators: make(map[ActuatorID]State, len(t.states)), Trigger: Unknown}
	for id, s := range t.states {
		p.Actuators[id] = s
	}
	return p
}

// Result is the outcome of a successful command
type Result struct {
	Success   bool
	Actuators map[ActuatorID]State
	Trigger   State
}

// Commander validates actuator commands and applies them through the gateway
type Commander struct {
	gateway Gateway
	table   *ActuatorTable
	logger  *zap.SugaredLogger
	metrics *Metrics
}

// NewCommander creates a Commander
func NewCommander(gateway Gateway, table *ActuatorTable, logger *zap.SugaredLogger, metrics *Metrics) *Commander {
	return &Commander{
		gateway: gateway,
		table:   table,
		logger:  logger,
		metrics: metrics,
	}
}

// Handle sets actuator to desired. Invalid input fails with
// ErrInvalidCommand before the gateway is touched; a gateway failure is
// returned as *ActuatorFault and is not retried.
func (c *Commander) Handle(ctx context.Context, actuator string, desired string) (Result, error) {
	id := ActuatorID(actuator)
	if !id.Valid() {
		c.metrics.command(actuator, "invalid")
		return Result{}, fmt.Errorf("%w: unknown actuator %q", ErrInvalidCommand, actuator)
	}

	state := State(desired)
	if state != On && state != Off {
		c.metrics.command(actuator, "invalid")
		return Result{}, fmt.Errorf("%w: action must be on/off, got %q", ErrInvalidCommand, desired)
	}

	if err := c.gateway.SetActuator(ctx, id, state); err != nil {
		c.metrics.command(actuator, "fault")
		c.logger.Errorw("command: actuator fault", "actuator", id, "state", state, "error", err)

		return Result{}, &ActuatorFault{Actuator: id, Err: err}
	}

	c.table.Set(id, state)
	c.metrics.command(actuator, "ok")
	c.logger.Infow("command: actuator set", "actuator", id, "state", state)

	pins := c.table.Pins()
	if r, ok := c.gateway.(PinReader); ok {
		if p, err := r.ReadPins(ctx); err == nil {
			pins = p
		}
	}

	return Result{Success: true, Actuators: pins.Actuators, Trigger: pins.Trigger}, nil
}
