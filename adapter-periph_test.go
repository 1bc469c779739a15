//go:build !tinygo

package mcp23s17

import (
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
)

// fakePinIO implements gpio.PinIO. WaitForEdge blocks on the edges
// channel; reconfiguring with NoEdge unblocks it with false, like the
// real host drivers do.
type fakePinIO struct {
	name  string
	mu    sync.Mutex
	edge  gpio.Edge
	edges chan bool
}

func (f *fakePinIO) String() string   { return f.name }
func (f *fakePinIO) Halt() error      { return nil }
func (f *fakePinIO) Name() string     { return f.name }
func (f *fakePinIO) Number() int      { return 99 }
func (f *fakePinIO) Function() string { return "In" }

func (f *fakePinIO) In(pull gpio.Pull, edge gpio.Edge) error {
	f.mu.Lock()
	f.edge = edge
	f.mu.Unlock()
	if edge == gpio.NoEdge {
		select {
		case f.edges <- false:
		default:
		}
	}
	return nil
}

func (f *fakePinIO) Read() gpio.Level                       { return gpio.Low }
func (f *fakePinIO) WaitForEdge(timeout time.Duration) bool { return <-f.edges }
func (f *fakePinIO) Pull() gpio.Pull                        { return gpio.Float }
func (f *fakePinIO) DefaultPull() gpio.Pull                 { return gpio.Float }
func (f *fakePinIO) Out(l gpio.Level) error                 { return nil }

func (f *fakePinIO) PWM(duty gpio.Duty, freq physic.Frequency) error { return nil }

func TestRealPinUnwatchStopsWatcher(t *testing.T) {
	fake := &fakePinIO{name: "FAKEINT", edges: make(chan bool, 1)}
	p := &realPin{PinIO: fake}

	fired := make(chan struct{}, 4)
	if err := p.Watch(RisingEdge, func() { fired <- struct{}{} }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	fake.edges <- true
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("handler not invoked for edge")
	}

	if err := p.Unwatch(); err != nil {
		t.Fatalf("Unwatch failed: %v", err)
	}
	// A second Unwatch must be a harmless no-op.
	if err := p.Unwatch(); err != nil {
		t.Fatalf("repeated Unwatch failed: %v", err)
	}

	// If the watch goroutine survived, this edge would fire the handler.
	fake.edges <- true
	select {
	case <-fired:
		t.Fatal("handler invoked after Unwatch")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLookupINTPin(t *testing.T) {
	p, err := lookupINTPin("")
	if err != nil || p != nil {
		t.Errorf("lookupINTPin(\"\") = (%v, %v), want (nil, nil)", p, err)
	}

	if _, err := lookupINTPin("NO_SUCH_PIN"); err == nil {
		t.Error("unknown pin name accepted")
	}

	fake := &fakePinIO{name: "MCPTESTINT", edges: make(chan bool, 1)}
	if err := gpioreg.Register(fake); err != nil {
		t.Fatalf("gpioreg.Register failed: %v", err)
	}
	p, err = lookupINTPin("MCPTESTINT")
	if err != nil {
		t.Fatalf("lookupINTPin failed: %v", err)
	}
	if p == nil {
		t.Fatal("registered pin not resolved")
	}
}
