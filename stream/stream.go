// Package stream implements the streaming supervisor: the state machine
// that brings the PIB state machine and DMA ring from idle through a
// long-lived bulk session, runs the watchdog, and recovers from pipeline
// wedges.
package stream

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ringof/sddc-fx3/clock"
	"github.com/ringof/sddc-fx3/conn/physic"
	"github.com/ringof/sddc-fx3/events"
	"github.com/ringof/sddc-fx3/platform"
)

// State is the supervisor's externally observable lifecycle state.
type State uint8

const (
	Stopped State = iota
	Streaming
	RecoveryAttempt
	RecoveryCapped
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Streaming:
		return "Streaming"
	case RecoveryAttempt:
		return "RecoveryAttempt"
	case RecoveryCapped:
		return "RecoveryCapped"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// stallThreshold is the number of consecutive 100ms watchdog polls (300ms)
// a stalled dma_completions count must survive in a busy-or-wait PIB state
// before the watchdog treats it as a wedge.
const stallThreshold = 3

// WatchdogPeriod is the application task's poll cadence.
const WatchdogPeriod = 100 * time.Millisecond

// bufferSize and producerSockets size the DMA ring: 16KiB buffers, filled
// by the two ping/pong producer sockets feeding the single consumer (bulk
// endpoint) socket. The number of buffers is left to the Dma adapter.
const (
	bufferSize      = 16 * 1024
	producerSockets = 2
)

// Supervisor owns the streaming lifecycle.
type Supervisor struct {
	dma   platform.Dma
	pib   platform.Pib
	ep    platform.BulkEndpoint
	clock *clock.Controller
	stats *events.Stats
	bus   *events.Bus

	mu                    sync.Mutex
	state                 State
	recoveryCount         uint8
	recoveryCap           uint8 // 0 == unlimited, host-configurable via SET_ARG
	consecutiveStallPolls int
	prevCompletions       uint32

	watchdogStop chan struct{}
	watchdogDone chan struct{}
}

// New builds a Supervisor in the Stopped state. The DMA ring is configured
// once, here, and reused (reset/rearmed) across start/stop cycles rather
// than recreated.
func New(dma platform.Dma, pib platform.Pib, ep platform.BulkEndpoint, clk *clock.Controller, stats *events.Stats, bus *events.Bus) (*Supervisor, error) {
	if err := dma.Configure(bufferSize, producerSockets); err != nil {
		return nil, fmt.Errorf("stream: configure DMA ring: %w", err)
	}
	s := &Supervisor{dma: dma, pib: pib, ep: ep, clock: clk, stats: stats, bus: bus}
	dma.OnProducerCommitted(func() { stats.IncDMACompletions() })
	pib.RegisterErrorCallback(func(arg uint16) {
		stats.RecordPIBError(arg)
		bus.SendPIBError(arg)
	})
	return s, nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PIBState reports the PIB state machine's current state, for the STATS
// vendor reply.
func (s *Supervisor) PIBState() (uint8, error) {
	state, err := s.pib.State()
	return uint8(state), err
}

// SetRecoveryCap implements SET_ARG's WATCHDOG_CAP argument.
func (s *Supervisor) SetRecoveryCap(cap uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recoveryCap = cap
}

// preflight requires the ADC clock to be both enabled and locked: the PIB
// SM is clocked directly by it and has no state-count timeout, so starting
// without a valid clock wedges the SM permanently in a read state.
func (s *Supervisor) preflight() bool {
	return s.clock.ADCClockEnabled() && s.clock.PLLLocked()
}

// Start runs the preflight gate and, on success, brings the DMA ring and
// PIB SM up into a fresh Streaming session.
func (s *Supervisor) Start() error {
	// Guard against a back-to-back Start without an intervening Stop: tear
	// down any still-running watchdog first so it can't race the fresh
	// session's hardware bring-up below, and so its goroutine is never
	// leaked.
	s.stopWatchdog()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.preflight() {
		return fmt.Errorf("stream: preflight failed: adc_clock_enabled=%v pll_locked=%v",
			s.clock.ADCClockEnabled(), s.clock.PLLLocked())
	}

	if err := s.pib.Disable(true); err != nil {
		s.state = Stopped
		return fmt.Errorf("stream: force-disable PIB: %w", err)
	}
	if err := s.dma.Reset(); err != nil {
		s.state = Stopped
		return fmt.Errorf("stream: reset DMA ring: %w", err)
	}
	if err := s.ep.Flush(); err != nil {
		s.state = Stopped
		return fmt.Errorf("stream: flush bulk endpoint: %w", err)
	}

	s.stats.ResetSession()
	s.recoveryCount = 0
	s.consecutiveStallPolls = 0
	s.prevCompletions = 0

	if err := s.dma.SetInfiniteTransfer(); err != nil {
		s.state = Stopped
		return fmt.Errorf("stream: arm infinite transfer: %w", err)
	}
	if err := s.pib.LoadWaveform(); err != nil {
		s.dma.Reset()
		s.state = Stopped
		return fmt.Errorf("stream: load PIB waveform: %w", err)
	}
	if err := s.pib.Start(0); err != nil {
		s.pib.Disable(true)
		s.dma.Reset()
		s.state = Stopped
		return fmt.Errorf("stream: start PIB SM: %w", err)
	}
	if err := s.pib.SetSWTrigger(true); err != nil {
		s.pib.SetSWTrigger(false)
		s.pib.Disable(true)
		s.dma.Reset()
		s.state = Stopped
		return fmt.Errorf("stream: assert trigger: %w", err)
	}

	s.state = Streaming
	s.startWatchdogLocked()
	return nil
}

// Stop is idempotent: calling it from any state, including Stopped,
// completes without error and without side effects beyond no-op flushes.
func (s *Supervisor) Stop() {
	s.stopWatchdog()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Supervisor) stopLocked() {
	if err := s.pib.SetSWTrigger(false); err != nil {
		log.Printf("stream: stop: deassert trigger: %v", err)
	}
	if err := s.pib.Disable(true); err != nil {
		log.Printf("stream: stop: force-disable PIB: %v", err)
	}
	if err := s.dma.Reset(); err != nil {
		log.Printf("stream: stop: reset DMA ring: %v", err)
	}
	time.Sleep(time.Millisecond)
	if err := s.ep.Flush(); err != nil {
		log.Printf("stream: stop: flush bulk endpoint: %v", err)
	}
	s.stats.ResetSession()
	s.recoveryCount = 0
	s.state = Stopped
}

// SetADCClockSafely implicitly stops a Streaming session before
// reprogramming the ADC clock, a safety net for hosts that reprogram the
// clock without sending STOP first.
func (s *Supervisor) SetADCClockSafely(freq physic.Frequency) error {
	s.mu.Lock()
	needStop := s.state != Stopped
	s.mu.Unlock()

	if needStop {
		s.Stop()
	}
	return s.clock.SetADCClock(freq)
}

// OnBulkEndpointHaltClear handles CLEAR_FEATURE(ENDPOINT_HALT): clear the
// stall bit and reset the data toggle only. It must never reset the DMA
// ring or endpoint state — doing so desynchronizes the host/device toggle
// and silently kills bulk transfers.
func (s *Supervisor) OnBulkEndpointHaltClear() error {
	return s.ep.ClearHalt()
}

func (s *Supervisor) startWatchdogLocked() {
	s.watchdogStop = make(chan struct{})
	s.watchdogDone = make(chan struct{})
	go s.runLoop(s.watchdogStop, s.watchdogDone)
}

// stopWatchdog signals the application-task loop to exit and waits for it,
// without holding s.mu: the goroutine needs s.mu to finish whatever poll
// it's mid-tick on, so waiting for it while holding the lock would
// deadlock against the very poll it's trying to complete.
func (s *Supervisor) stopWatchdog() {
	s.mu.Lock()
	stopCh, doneCh := s.watchdogStop, s.watchdogDone
	s.watchdogStop, s.watchdogDone = nil, nil
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

// runLoop is the application task: every tick it drains pending events off
// the bus (at most one PIB-error event can ever be latched, but
// enumeration/vendor-trace/user-command events are drained as well, since
// this is the bus's sole consumer) before running the watchdog poll.
func (s *Supervisor) runLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(WatchdogPeriod)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.drainEvents()
			s.pollWatchdog()
		}
	}
}

// drainEvents dequeues every event currently queued on the bus without
// blocking. A KindPIBError event re-arms the bus's one-shot latch once
// processed, so a subsequent fault can be queued again.
func (s *Supervisor) drainEvents() {
	for {
		kind, _, ok := s.bus.Receive(0)
		if !ok {
			return
		}
		if kind == events.KindPIBError {
			s.bus.ClearPIBLatch()
		}
	}
}

func (s *Supervisor) pollWatchdog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Streaming && s.state != RecoveryAttempt && s.state != RecoveryCapped {
		return
	}

	cur := s.stats.DMACompletions()
	smState, err := s.pib.State()
	if err != nil {
		return
	}

	if cur == s.prevCompletions && cur > 0 && platform.BusyOrWaitSet[smState] {
		s.consecutiveStallPolls++
	} else {
		s.consecutiveStallPolls = 0
		s.prevCompletions = cur
	}

	if !platform.BusyOrWaitSet[smState] {
		s.consecutiveStallPolls = 0
	}

	if s.consecutiveStallPolls >= stallThreshold {
		s.runRecoveryLocked()
	}
}

func (s *Supervisor) runRecoveryLocked() {
	if s.recoveryCap > 0 && s.recoveryCount >= s.recoveryCap {
		s.state = RecoveryCapped
		return
	}

	s.pib.SetSWTrigger(false)
	s.pib.Disable(true)
	s.dma.Reset()
	s.ep.Flush()

	if !s.clock.PLLLocked() {
		s.state = RecoveryAttempt
		return
	}

	if err := s.dma.SetInfiniteTransfer(); err != nil {
		s.state = RecoveryAttempt
		return
	}
	if err := s.pib.Start(0); err != nil {
		s.state = RecoveryAttempt
		return
	}
	if err := s.pib.SetSWTrigger(true); err != nil {
		s.state = RecoveryAttempt
		return
	}

	s.recoveryCount++
	s.stats.IncStreamingFaults()
	s.consecutiveStallPolls = 0
	s.prevCompletions = 0
	s.stats.ResetSession()
	s.state = Streaming
}
