// Package platform defines the board-level adapters that the rest of this
// repository is built on: the DMA ring feeding the bulk endpoint, the
// programmable-interface-block state machine driving the ADC front end, the
// bulk endpoint itself, and a small cooperative task queue. Gpio and Queue
// have production implementations here (RegistryGpio, ChanQueue); Dma, Pib,
// BulkEndpoint and Gpio have in-memory fakes in platformtest, and Dma, Pib and
// BulkEndpoint have no other implementation.
package platform

import (
	"time"

	"github.com/ringof/sddc-fx3/conn/gpio"
)

// GpifState mirrors the state of the programmable-interface-block state
// machine. Values 5, 7, 8 and 9 are the "busy or waiting on a descriptor"
// states the watchdog treats as suspect; 0xFF means "no state machine
// loaded".
type GpifState uint8

// BusyOrWaitSet is the set of GpifState values the watchdog considers a
// streaming session to be legitimately busy in. A completion stall while in
// one of these states, sustained across the stream supervisor's stall
// threshold of consecutive watchdog polls, is a wedge.
var BusyOrWaitSet = map[GpifState]bool{
	5: true,
	7: true,
	8: true,
	9: true,
}

// Unloaded is the state reported before any waveform has been loaded into
// the state machine.
const Unloaded GpifState = 0xFF

// Dma is the many-producers-to-one-consumer ring feeding the bulk endpoint.
// A single instance is configured once at bring-up and then reset/restarted
// across STARTFX3/STOPFX3 cycles rather than recreated.
type Dma interface {
	// Configure builds the underlying multi-channel ring with the given
	// per-buffer size and producer socket count (ping/pong == 2).
	Configure(bufferSize int, producerSockets int) error
	// Reset tears down in-flight transfers without destroying the channel,
	// so a subsequent SetInfiniteTransfer can restart cleanly.
	Reset() error
	// SetInfiniteTransfer arms the channel for an unbounded transfer (count
	// 0 in the original firmware's vocabulary).
	SetInfiniteTransfer() error
	// Destroy tears the channel down completely.
	Destroy() error
	// OnProducerCommitted registers the callback invoked every time a
	// producer socket commits a buffer. It is called from whatever
	// goroutine the concrete adapter uses to service hardware completion
	// events; it must not block.
	OnProducerCommitted(cb func())
}

// Pib is the programmable-interface-block state machine that clocks the ADC
// samples into the DMA ring.
type Pib interface {
	// LoadWaveform loads (or reloads) the state machine program.
	LoadWaveform() error
	// Start starts the state machine at the given initial state.
	Start(initialState uint8) error
	// Disable stops the state machine. If force is true it stops
	// immediately rather than waiting for the current descriptor to drain.
	Disable(force bool) error
	// SetSWTrigger asserts or deasserts the firmware-controlled trigger
	// input that gates the state machine's first transition.
	SetSWTrigger(asserted bool) error
	// State reports the current state machine state.
	State() (GpifState, error)
	// RegisterErrorCallback installs the PIB error handler, invoked on every
	// fault. arg is the hardware-supplied diagnostic argument for the fault.
	RegisterErrorCallback(cb func(arg uint16))
}

// BulkEndpoint is the USB bulk-in endpoint samples are streamed out on.
type BulkEndpoint interface {
	Flush() error
	ClearHalt() error
}

// Gpio is the board's digital-pin control surface: named front-end lines
// (attenuator, VGA control, dither/rand, LEDs) looked up from the
// conn/gpio registry rather than addressed by raw SoC pin number.
type Gpio interface {
	// Configure sets the direction (via In/Out) and, for inputs, the pull
	// resistor of the named pin.
	Configure(name string, out bool, pull gpio.Pull) error
	// SetPin drives the named output pin to the given level.
	SetPin(name string, level gpio.Level) error
}

// Queue is a bounded FIFO of 32-bit tagged event words, modeled on the
// firmware's fixed-depth message queue: Send never blocks (a full queue
// drops the event rather than stalling whoever produced it, matching a
// best-effort diagnostic channel), Receive blocks up to the given timeout.
type Queue interface {
	Send(word uint32) (ok bool)
	Receive(timeout time.Duration) (word uint32, ok bool)
}
