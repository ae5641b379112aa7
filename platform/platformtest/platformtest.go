// Package platformtest provides in-memory fakes for the platform package's
// interfaces, mirroring the record/playback approach conn/i2c/i2ctest uses
// for i2c.Bus: no hardware, deterministic behavior driven entirely by the
// test.
package platformtest

import (
	"fmt"
	"sync"

	"github.com/ringof/sddc-fx3/conn/gpio"
	"github.com/ringof/sddc-fx3/platform"
)

// Dma is a fake platform.Dma. Completions are driven by the test calling
// Commit; ConfigureErr/ResetErr/etc. let a test inject a failure on every
// call to the matching method while the field is set.
type Dma struct {
	mu sync.Mutex

	Configured      bool
	BufferSize      int
	ProducerSockets int
	Armed           bool
	Destroyed       bool

	ConfigureErr error
	ResetErr     error
	SetXferErr   error
	DestroyErr   error

	cb func()
}

func (d *Dma) Configure(bufferSize, producerSockets int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ConfigureErr != nil {
		return d.ConfigureErr
	}
	d.Configured = true
	d.BufferSize = bufferSize
	d.ProducerSockets = producerSockets
	return nil
}

func (d *Dma) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ResetErr != nil {
		return d.ResetErr
	}
	d.Armed = false
	return nil
}

func (d *Dma) SetInfiniteTransfer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SetXferErr != nil {
		return d.SetXferErr
	}
	d.Armed = true
	return nil
}

func (d *Dma) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DestroyErr != nil {
		return d.DestroyErr
	}
	d.Destroyed = true
	d.Armed = false
	return nil
}

func (d *Dma) OnProducerCommitted(cb func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cb = cb
}

// Commit simulates a producer-socket completion, the DMA-completion-ISR
// equivalent. It is a no-op if the ring isn't armed, matching the real
// hardware's behavior of not generating completions on a torn-down channel.
func (d *Dma) Commit() {
	d.mu.Lock()
	cb := d.cb
	armed := d.Armed
	d.mu.Unlock()
	if armed && cb != nil {
		cb()
	}
}

// Pib is a fake platform.Pib.
type Pib struct {
	mu sync.Mutex

	Loaded    bool
	Running   bool
	Triggered bool
	state     platform.GpifState

	LoadErr  error
	StartErr error

	errCb func(arg uint16)
}

func NewPib() *Pib { return &Pib{state: platform.Unloaded} }

func (p *Pib) LoadWaveform() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.LoadErr != nil {
		return p.LoadErr
	}
	p.Loaded = true
	return nil
}

func (p *Pib) Start(initialState uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.StartErr != nil {
		return p.StartErr
	}
	p.Running = true
	p.state = platform.GpifState(initialState)
	return nil
}

func (p *Pib) Disable(force bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Running = false
	p.Triggered = false
	p.state = platform.Unloaded
	return nil
}

func (p *Pib) SetSWTrigger(asserted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Triggered = asserted
	return nil
}

func (p *Pib) State() (platform.GpifState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, nil
}

// SetState lets a test move the state machine into a specific state, e.g.
// to simulate the GPIF wedging in a busy-or-wait state.
func (p *Pib) SetState(s platform.GpifState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

func (p *Pib) RegisterErrorCallback(cb func(arg uint16)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errCb = cb
}

// Fault simulates the PIB error ISR firing.
func (p *Pib) Fault(arg uint16) {
	p.mu.Lock()
	cb := p.errCb
	p.mu.Unlock()
	if cb != nil {
		cb(arg)
	}
}

// BulkEndpoint is a fake platform.BulkEndpoint.
type BulkEndpoint struct {
	mu          sync.Mutex
	FlushCount  int
	ClearCount  int
	FlushErr    error
	ClearHaltFn func() error
}

func (b *BulkEndpoint) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.FlushCount++
	return b.FlushErr
}

func (b *BulkEndpoint) ClearHalt() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ClearCount++
	if b.ClearHaltFn != nil {
		return b.ClearHaltFn()
	}
	return nil
}

// Gpio is a fake platform.Gpio backed by a plain map, rather than the real
// conn/gpio registry, so front-end tests don't need to register/unregister
// pins around every test.
type Gpio struct {
	mu      sync.Mutex
	Levels  map[string]gpio.Level
	Configs map[string]bool // name -> out
	FailPin string
}

func NewGpio() *Gpio {
	return &Gpio{Levels: map[string]gpio.Level{}, Configs: map[string]bool{}}
}

func (g *Gpio) Configure(name string, out bool, pull gpio.Pull) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if name == g.FailPin {
		return fmt.Errorf("platformtest: simulated configure failure on %q", name)
	}
	g.Configs[name] = out
	return nil
}

func (g *Gpio) SetPin(name string, level gpio.Level) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if name == g.FailPin {
		return fmt.Errorf("platformtest: simulated set failure on %q", name)
	}
	g.Levels[name] = level
	return nil
}

var (
	_ platform.Dma          = (*Dma)(nil)
	_ platform.Pib          = (*Pib)(nil)
	_ platform.BulkEndpoint = (*BulkEndpoint)(nil)
	_ platform.Gpio         = (*Gpio)(nil)
)
