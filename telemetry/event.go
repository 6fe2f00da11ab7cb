package telemetry

import (
	"github.com/segmentio/encoding/json"
)

// EventType names the kind of an Event on the wire
type EventType string

// Event types
const (
	TelemetryEvent EventType = "telemetry"
	ErrorEvent     EventType = "telemetry_error"
)

// Event is one unit delivered by the Hub: either a Snapshot or an error
// notice about a failed read cycle.
type Event struct {
	Type     EventType
	Snapshot *Snapshot
	Err      string
}

// NewTelemetryEvent wraps a Snapshot
func NewTelemetryEvent(s Snapshot) Event {
	return Event{Type: TelemetryEvent, Snapshot: &s}
}

// NewErrorEvent wraps a read cycle failure
func NewErrorEvent(err error) Event {
	return Event{Type: ErrorEvent, Err: err.Error()}
}

// GPIOPayload is the pin block of a telemetry payload
type GPIOPayload struct {
	Bomba   *int `json:"bomba"`
	RelayV  *int `json:"relay_v"`
	Trigger *int `json:"trigger"`
}

// TelemetryPayload is the JSON form of a Snapshot
type TelemetryPayload struct {
	Timestamp *string               `json:"ts"`
	Temps     map[SensorID]*float64 `json:"temps"`
	Avg       *float64              `json:"avg"`
	GPIO      GPIOPayload           `json:"gpio"`
}

// ErrorPayload is the JSON form of a telemetry error
type ErrorPayload struct {
	Error string `json:"error"`
}

// Envelope frames an event for viewer sessions
type Envelope struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

// NewGPIOPayload maps actuator and trigger states to 0/1/null levels
func NewGPIOPayload(actuators map[ActuatorID]State, trigger State) GPIOPayload {
	state := func(id ActuatorID) State {
		if s, ok := actuators[id]; ok {
			return s
		}
		return Unknown
	}
	return GPIOPayload{
		Bomba:   state(PrimaryPump).Level(),
		RelayV:  state(RelayV).Level(),
		Trigger: trigger.Level(),
	}
}

// NewTelemetryPayload converts a Snapshot. A nil Snapshot yields the empty
// payload served before the first cycle completes.
func NewTelemetryPayload(s *Snapshot) TelemetryPayload {
	if s == nil {
		return TelemetryPayload{
			Temps: map[SensorID]*float64{},
			GPIO:  NewGPIOPayload(nil, Unknown),
		}
	}

	p := TelemetryPayload{
		Temps: make(map[SensorID]*float64, len(s.Readings)),
		Avg:   s.Average,
		GPIO:  NewGPIOPayload(s.Actuators, s.Trigger),
	}
	if s.Timestamp != "" {
		ts := s.Timestamp
		p.Timestamp = &ts
	}
	for id, r := range s.Readings {
		p.Temps[id] = r
	}
	return p
}

// Payload returns the JSON-ready body of the event
func (e Event) Payload() interface{} {
	if e.Type == ErrorEvent {
		return ErrorPayload{Error: e.Err}
	}
	return NewTelemetryPayload(e.Snapshot)
}

// MarshalPayload encodes the bare payload, as used by the AMQP relay
func (e Event) MarshalPayload() ([]byte, error) {
	return json.Marshal(e.Payload())
}

// MarshalEnvelope encodes the event inside its type envelope
func (e Event) MarshalEnvelope() ([]byte, error) {
	return json.Marshal(Envelope{Type: e.Type, Payload: e.Payload()})
}
