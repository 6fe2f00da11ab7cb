package telemetry

import (
	"math"
	"time"
)

// TimestampLayout is the layout of Snapshot.Timestamp
const TimestampLayout = "2006-01-02 15:04:05"

// SensorID identifies one temperature probe by its configured alias
type SensorID string

// ActuatorID identifies a switchable output
type ActuatorID string

// Known actuators
const (
	PrimaryPump ActuatorID = "primary-pump"
	RelayV      ActuatorID = "relay-v"
)

// Actuators lists every known ActuatorID in reporting order
var Actuators = []ActuatorID{PrimaryPump, RelayV}

// Valid reports whether id is a known actuator
func (id ActuatorID) Valid() bool {
	for _, a := range Actuators {
		if a == id {
			return true
		}
	}
	return false
}

// State is the tri-valued level of an actuator or input pin
type State string

// Pin states
const (
	On      State = "on"
	Off     State = "off"
	Unknown State = "unknown"
)

// Level returns 1 for On, 0 for Off and nil when the state is unknown
func (s State) Level() *int {
	var v int
	switch s {
	case On:
		v = 1
	case Off:
		v = 0
	default:
		return nil
	}
	return &v
}

// Pins is the readback of every actuator plus the trigger input
type Pins struct {
	Actuators map[ActuatorID]State
	Trigger   State
}

// UnknownPins returns Pins with every level unknown
func UnknownPins() Pins {
	p := Pins{Actuators: make(map[ActuatorID]State, len(Actuators)), Trigger: Unknown}
	for _, id := range Actuators {
		p.Actuators[id] = Unknown
	}
	return p
}

// Snapshot is one consistent reading of all probes and pins.
// A nil reading or average means no data, which is distinct from zero.
type Snapshot struct {
	Timestamp string
	Readings  map[SensorID]*float64
	Average   *float64
	Actuators map[ActuatorID]State
	Trigger   State
}

// NewSnapshot builds a Snapshot holding exactly one reading per sensor.
// Readings for sensors that are not listed are discarded.
func NewSnapshot(ts time.Time, sensors []SensorID, raw map[SensorID]*float64, pins Pins) Snapshot {
	readings := make(map[SensorID]*float64, len(sensors))
	for _, id := range sensors {
		var v *float64
		if r, ok := raw[id]; ok && r != nil && !math.IsNaN(*r) {
			x := *r
			v = &x
		}
		readings[id] = v
	}

	actuators := make(map[ActuatorID]State, len(Actuators))
	for _, id := range Actuators {
		s, ok := pins.Actuators[id]
		if !ok || s == "" {
			s = Unknown
		}
		actuators[id] = s
	}
	trigger := pins.Trigger
	if trigger == "" {
		trigger = Unknown
	}

	return Snapshot{
		Timestamp: ts.Format(TimestampLayout),
		Readings:  readings,
		Average:   Average(readings),
		Actuators: actuators,
		Trigger:   trigger,
	}
}

// Average returns the mean of the present readings rounded to 3 decimals,
// or nil if none is present.
func Average(readings map[SensorID]*float64) *float64 {
	var (
		sum float64
		n   int
	)
	for _, r := range readings {
		if r == nil {
			continue
		}
		sum += *r
		n++
	}
	if n == 0 {
		return nil
	}
	avg := math.Round(sum/float64(n)*1000) / 1000
	return &avg
}

// Absent returns the number of readings without data
func (s Snapshot) Absent() int {
	n := 0
	for _, r := range s.Readings {
		if r == nil {
			n++
		}
	}
	return n
}
