package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errBusGone = errors.New("bus gone")

type setCall struct {
	id    ActuatorID
	state State
}

// fakeGateway serves fixed readings, fails the read cycles listed in
// failOn (1-based) and records actuator writes. Reads take delays[n]
// in turn when delays is set. It has no pin readback.
type fakeGateway struct {
	mu       sync.Mutex
	readings map[SensorID]*float64
	failOn   map[int]bool
	block    bool
	delays   []time.Duration
	starts   []time.Time
	reads    int
	setErr   error
	sets     []setCall
}

func (g *fakeGateway) ReadAll(ctx context.Context) (map[SensorID]*float64, error) {
	g.mu.Lock()
	g.reads++
	n := g.reads
	block := g.block
	g.starts = append(g.starts, time.Now())
	var delay time.Duration
	if len(g.delays) > 0 {
		delay = g.delays[(n-1)%len(g.delays)]
	}
	g.mu.Unlock()

	time.Sleep(delay)

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if g.failOn[n] {
		return nil, errBusGone
	}

	out := make(map[SensorID]*float64, len(g.readings))
	for id, v := range g.readings {
		out[id] = v
	}
	return out, nil
}

func (g *fakeGateway) SetActuator(ctx context.Context, id ActuatorID, state State) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sets = append(g.sets, setCall{id: id, state: state})
	return g.setErr
}

func (g *fakeGateway) readStarts() []time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]time.Time(nil), g.starts...)
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.reads + len(g.sets)
}

// readbackGateway adds pin readback derived from the successful writes
type readbackGateway struct {
	*fakeGateway
	trigger State
}

func (g *readbackGateway) ReadPins(ctx context.Context) (Pins, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := Pins{Actuators: map[ActuatorID]State{PrimaryPump: Off, RelayV: Off}, Trigger: g.trigger}
	if g.setErr == nil {
		for _, c := range g.sets {
			p.Actuators[c.id] = c.state
		}
	}
	return p, nil
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingBroadcaster) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
}

func (r *recordingBroadcaster) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Event(nil), r.events...)
}
