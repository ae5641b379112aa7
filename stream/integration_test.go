package stream_test

import (
	"context"
	"testing"

	"github.com/ringof/sddc-fx3/clock"
	"github.com/ringof/sddc-fx3/conn/physic"
	"github.com/ringof/sddc-fx3/core"
	"github.com/ringof/sddc-fx3/events"
	"github.com/ringof/sddc-fx3/frontend"
	"github.com/ringof/sddc-fx3/platform"
	"github.com/ringof/sddc-fx3/platform/platformtest"
	"github.com/ringof/sddc-fx3/stream"
	"github.com/ringof/sddc-fx3/usbctl"
)

// fakeBus is a minimal i2c.Bus standing in for the Si5351/R828D: every
// transaction succeeds, and any read reports a status byte of 0 (PLL
// locked, no fault bits set), the same simplification cmd/sddcsim's
// simBus makes.
type fakeBus struct{}

func (fakeBus) String() string { return "fakeBus" }

func (fakeBus) Tx(addr uint16, w, r []byte) error {
	for i := range r {
		r[i] = 0
	}
	return nil
}

func (fakeBus) Speed(hz int64) error { return nil }

// TestBringUpOrderingAndSessionLifecycle exercises core's dependency-stage
// ordering end to end: platform before clock/events, clock/events before
// stream, stream before usbctl's wiring, the same chain cmd/sddcsim drives
// at process startup. It then runs a START/STATS/STOP cycle through the
// wired-up Dispatcher and Supervisor to confirm the components core.Init
// brought up actually cooperate.
func TestBringUpOrderingAndSessionLifecycle(t *testing.T) {
	core.Reset()
	t.Cleanup(core.Reset)

	bus := fakeBus{}
	clk := clock.New(bus)
	dma := &platformtest.Dma{}
	pib := platformtest.NewPib()
	ep := &platformtest.BulkEndpoint{}
	boardGpio := platformtest.NewGpio()
	stats := &events.Stats{}
	eventBus := events.NewBus(platform.NewChanQueue(32))
	console := events.NewConsole(eventBus)
	board := frontend.NewBoard(boardGpio)

	var sup *stream.Supervisor
	var dispatcher *usbctl.Dispatcher
	var hits []string

	core.MustRegister(stageFunc{
		name: "platform",
		run: func() error {
			hits = append(hits, "platform")
			return clk.Init()
		},
	})
	core.MustRegister(stageFunc{
		name: "clock",
		deps: []string{"platform"},
		run: func() error {
			hits = append(hits, "clock")
			return clk.SetADCClock(32 * physic.MegaHertz)
		},
	})
	core.MustRegister(stageFunc{
		name: "events",
		deps: []string{"platform"},
		run: func() error {
			hits = append(hits, "events")
			return nil
		},
	})
	core.MustRegister(stageFunc{
		name: "stream",
		deps: []string{"clock", "events"},
		run: func() error {
			hits = append(hits, "stream")
			var err error
			sup, err = stream.New(dma, pib, ep, clk, stats, eventBus)
			return err
		},
	})
	core.MustRegister(stageFunc{
		name: "usbctl",
		deps: []string{"stream"},
		run: func() error {
			hits = append(hits, "usbctl")
			dispatcher = usbctl.New(sup, clk, bus, board, console, eventBus, stats, usbctl.Identity{FWMajor: 1})
			dispatcher.SetSessionActive(true)
			return nil
		},
	})

	state, err := core.Init(context.Background())
	if err != nil {
		t.Fatalf("core.Init: %v", err)
	}
	if len(state.Initialized) != 5 {
		t.Fatalf("Initialized = %v, want 5 components", state.Initialized)
	}

	pos := map[string]int{}
	for i, name := range hits {
		pos[name] = i
	}
	if pos["platform"] > pos["clock"] || pos["platform"] > pos["events"] {
		t.Fatal("platform must initialize before clock and events")
	}
	if pos["clock"] > pos["stream"] || pos["events"] > pos["stream"] {
		t.Fatal("clock and events must initialize before stream")
	}
	if pos["stream"] > pos["usbctl"] {
		t.Fatal("stream must initialize before usbctl")
	}

	startResp := dispatcher.Handle(usbctl.Request{ReqType: usbctl.TypeVendor, Request: 0xAA, Data: make([]byte, 4)})
	if startResp.Stall {
		t.Fatal("START stalled after a clean bring-up")
	}
	if sup.State() != stream.Streaming {
		t.Fatalf("state = %s, want Streaming", sup.State())
	}

	dma.Commit()
	statsResp := dispatcher.Handle(usbctl.Request{ReqType: usbctl.TypeVendor, Request: 0xB3, Length: events.StatsWireLen})
	if statsResp.Stall || len(statsResp.Data) != events.StatsWireLen {
		t.Fatalf("STATS response = %+v, want a full %d-byte payload", statsResp, events.StatsWireLen)
	}

	stopResp := dispatcher.Handle(usbctl.Request{ReqType: usbctl.TypeVendor, Request: 0xAB})
	if stopResp.Stall {
		t.Fatal("STOP stalled")
	}
	if sup.State() != stream.Stopped {
		t.Fatalf("state = %s, want Stopped after STOP", sup.State())
	}
}

// stageFunc adapts a plain closure to core.Component, mirroring
// cmd/sddcsim's componentFunc without importing the cmd package.
type stageFunc struct {
	name string
	deps []string
	run  func() error
}

func (s stageFunc) String() string          { return s.name }
func (s stageFunc) Prerequisites() []string { return s.deps }
func (s stageFunc) Init(context.Context) error {
	return s.run()
}
