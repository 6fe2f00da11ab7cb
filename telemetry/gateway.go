package telemetry

import (
	"context"
	"errors"
	"fmt"
)

// Gateway hides sensor and actuator hardware access.
// Calls may be slow and may fail as a whole.
type Gateway interface {
	// ReadAll returns one value per probe it could read; nil means absent.
	ReadAll(ctx context.Context) (map[SensorID]*float64, error)
	SetActuator(ctx context.Context, id ActuatorID, state State) error
}

// PinReader is implemented by gateways that can read back pin levels
type PinReader interface {
	ReadPins(ctx context.Context) (Pins, error)
}

// ErrInvalidCommand is returned for an unknown actuator or desired state
var ErrInvalidCommand = errors.New("invalid command")

// GatewayUnavailable reports that a whole read cycle failed
type GatewayUnavailable struct {
	Err error
}

func (e *GatewayUnavailable) Error() string {
	return fmt.Sprintf("gateway unavailable: %v", e.Err)
}

func (e *GatewayUnavailable) Unwrap() error { return e.Err }

// ActuatorFault reports that the gateway refused or failed a valid command
type ActuatorFault struct {
	Actuator ActuatorID
	Err      error
}

func (e *ActuatorFault) Error() string {
	return fmt.Sprintf("actuator %s fault: %v", e.Actuator, e.Err)
}

func (e *ActuatorFault) Unwrap() error { return e.Err }
