// Package usbctl implements the EP0 control-transfer dispatcher: decoding
// vendor SETUP packets into the device's command table and a small set of
// standard requests the streaming supervisor needs to see directly.
package usbctl

import (
	"sync/atomic"
	"time"

	"github.com/ringof/sddc-fx3/clock"
	"github.com/ringof/sddc-fx3/conn/i2c"
	"github.com/ringof/sddc-fx3/conn/physic"
	"github.com/ringof/sddc-fx3/events"
)

// Recipient is the low 5 bits of bmRequestType.
type Recipient uint8

const (
	RecipientDevice    Recipient = 0
	RecipientInterface Recipient = 1
	RecipientEndpoint  Recipient = 2
)

// ReqType is bits 6:5 of bmRequestType.
type ReqType uint8

const (
	TypeStandard ReqType = 0
	TypeVendor   ReqType = 2
)

// Standard request codes this dispatcher cares about; the rest of the
// standard USB control surface (descriptors, addressing, configuration)
// belongs to the host controller stack, not this control plane.
const (
	stdSetFeature   = 3
	stdClearFeature = 1
)

// endpointHalt is the CLEAR_FEATURE feature selector for ENDPOINT_HALT;
// functionSuspend is the feature selector used with an interface recipient
// for FUNCTION_SUSPEND. Both happen to be 0 on this device.
const (
	endpointHalt    = 0
	functionSuspend = 0
)

// Vendor command codes, 0xAA-0xBA. Codes in this range not listed below
// (including the explicit gaps at 0xB0, 0xB7, 0xB9) stall.
const (
	cmdStart    = 0xAA
	cmdStop     = 0xAB
	cmdInfo     = 0xAC
	cmdGPIO     = 0xAD
	cmdI2CWrite = 0xAE
	cmdI2CRead  = 0xAF
	cmdReset    = 0xB1
	cmdSetADC   = 0xB2
	cmdStats    = 0xB3
	cmdSetArg   = 0xB6
	cmdDebugIO  = 0xBA
)

// SET_ARG argument IDs. Gaps between these MUST stall.
const (
	argAttenuator  = 10
	argVGA         = 11
	argWatchdogCap = 14
)

// maxEP0Len is the largest data-phase length this device accepts; a
// larger request is stalled before any data-phase byte is read.
const maxEP0Len = 64

// debugIOMaxChunk is the largest number of console bytes returned per
// DEBUG_IO IN, leaving one byte in the 64-byte scratch buffer for the
// trailing NUL terminator.
const debugIOMaxChunk = maxEP0Len - 1

// pllLockPollInterval/pllLockPollAttempts bound SET_ADC's post-program
// lock poll: up to 100 iterations of 1ms, matching the worst-case Si5351
// lock time while keeping the USB driver task's block bounded.
const (
	pllLockPollInterval = time.Millisecond
	pllLockPollAttempts = 100
)

// Supervisor is the subset of stream.Supervisor the dispatcher drives.
type Supervisor interface {
	Start() error
	Stop()
	SetADCClockSafely(freq physic.Frequency) error
	OnBulkEndpointHaltClear() error
	SetRecoveryCap(cap uint8)
	PIBState() (uint8, error)
}

// FrontEnd is the board-specific front-end control surface: the
// attenuator, variable-gain amplifier, and the raw GPIO word used for
// everything else (LEDs, dither, band switches).
type FrontEnd interface {
	SetGPIOWord(word uint32) error
	SetAttenuator(level uint8) error
	SetGain(level uint8) error
}

// Identity is the device's static identity, reported by INFO.
type Identity struct {
	HWConfig byte
	FWMajor  byte
	FWMinor  byte
}

// Request is one decoded EP0 SETUP transaction, with the OUT-phase
// payload (if any) already read by the caller up to min(Length, 64).
type Request struct {
	ReqType   ReqType
	Recipient Recipient
	Request   byte
	Value     uint16
	Index     uint16
	Length    uint16
	Data      []byte
}

// Response is the dispatcher's verdict: either the status phase stalls,
// or (for IN requests) Data is sent as the IN data phase.
type Response struct {
	Stall bool
	Data  []byte
}

func stall() Response { return Response{Stall: true} }
func ack() Response   { return Response{} }

// Dispatcher decodes and serves every EP0 SETUP transaction. It runs on
// the USB driver task, where blocking primitives (sleep, synchronous I²C)
// are permitted; it must never block on the event bus for more than a
// non-blocking send, to avoid priority inversion with streaming.
type Dispatcher struct {
	sup      Supervisor
	clk      *clock.Controller
	i2cBus   i2c.Bus
	front    FrontEnd
	console  *events.Console
	bus      *events.Bus
	stats    *events.Stats
	identity Identity

	sessionActive atomic.Bool
	debugMode     atomic.Bool
	vendorReqCnt  atomic.Uint32 // only the low 8 bits are meaningful
}

// New builds a Dispatcher. sessionActive should be toggled by the caller
// (the USB event callback) as CY_U3P_USB_EVENT_SETCONF/RESET/DISCONNECT
// fire, so FUNCTION_SUSPEND handling can tell whether a session exists.
func New(sup Supervisor, clk *clock.Controller, i2cBus i2c.Bus, front FrontEnd, console *events.Console, bus *events.Bus, stats *events.Stats, identity Identity) *Dispatcher {
	return &Dispatcher{sup: sup, clk: clk, i2cBus: i2cBus, front: front, console: console, bus: bus, stats: stats, identity: identity}
}

// SetSessionActive records whether a USB session is currently enumerated,
// consulted by CLEAR_FEATURE(FUNCTION_SUSPEND).
func (d *Dispatcher) SetSessionActive(active bool) {
	d.sessionActive.Store(active)
}

// Handle decodes and serves one SETUP transaction.
func (d *Dispatcher) Handle(req Request) Response {
	if req.Length > maxEP0Len {
		return stall()
	}

	if req.ReqType == TypeStandard {
		return d.handleStandard(req)
	}
	if req.ReqType != TypeVendor {
		return stall()
	}

	resp := d.handleVendor(req)
	d.bus.Send(events.KindVendorTrace, uint32(req.Request)<<16|uint32(req.Value))
	return resp
}

func (d *Dispatcher) handleStandard(req Request) Response {
	if req.Recipient == RecipientInterface &&
		(req.Request == stdSetFeature || req.Request == stdClearFeature) &&
		req.Value == functionSuspend {
		if d.sessionActive.Load() {
			return ack()
		}
		return stall()
	}
	if req.Recipient == RecipientEndpoint && req.Request == stdClearFeature && req.Value == endpointHalt {
		if err := d.sup.OnBulkEndpointHaltClear(); err != nil {
			return stall()
		}
		return ack()
	}
	return stall()
}

func (d *Dispatcher) handleVendor(req Request) Response {
	switch req.Request {
	case cmdStart:
		return d.handleStart()
	case cmdStop:
		return d.handleStop()
	case cmdInfo:
		return d.handleInfo(req)
	case cmdGPIO:
		return d.handleGPIO(req)
	case cmdI2CWrite:
		return d.handleI2CWrite(req)
	case cmdI2CRead:
		return d.handleI2CRead(req)
	case cmdReset:
		return ack()
	case cmdSetADC:
		return d.handleSetADC(req)
	case cmdStats:
		return d.handleStats()
	case cmdSetArg:
		return d.handleSetArg(req)
	case cmdDebugIO:
		return d.handleDebugIO(req)
	default:
		return stall()
	}
}

func (d *Dispatcher) incVendorReqCount() {
	for {
		old := d.vendorReqCnt.Load()
		next := (old + 1) & 0xFF
		if d.vendorReqCnt.CompareAndSwap(old, next) {
			return
		}
	}
}

// VendorReqCount returns the free-running 8-bit counter's current value.
func (d *Dispatcher) VendorReqCount() uint8 {
	return uint8(d.vendorReqCnt.Load())
}

func (d *Dispatcher) handleStart() Response {
	if err := d.sup.Start(); err != nil {
		return stall()
	}
	d.incVendorReqCount()
	return ack()
}

func (d *Dispatcher) handleStop() Response {
	d.sup.Stop()
	d.incVendorReqCount()
	return ack()
}

func (d *Dispatcher) handleInfo(req Request) Response {
	if req.Value == 1 {
		d.debugMode.Store(true)
	}
	out := []byte{d.identity.HWConfig, d.identity.FWMajor, d.identity.FWMinor, uint8(d.vendorReqCnt.Load())}
	d.incVendorReqCount()
	return Response{Data: out}
}

func (d *Dispatcher) handleGPIO(req Request) Response {
	if len(req.Data) < 4 {
		return stall()
	}
	word := uint32(req.Data[0]) | uint32(req.Data[1])<<8 | uint32(req.Data[2])<<16 | uint32(req.Data[3])<<24
	if err := d.front.SetGPIOWord(word); err != nil {
		return stall()
	}
	d.incVendorReqCount()
	return ack()
}

func (d *Dispatcher) handleI2CWrite(req Request) Response {
	if err := d.i2cBus.Tx(req.Value, append([]byte{byte(req.Index)}, req.Data...), nil); err != nil {
		d.stats.IncI2CFailures()
		return stall()
	}
	d.incVendorReqCount()
	return ack()
}

func (d *Dispatcher) handleI2CRead(req Request) Response {
	buf := make([]byte, req.Length)
	if err := d.i2cBus.Tx(req.Value, []byte{byte(req.Index)}, buf); err != nil {
		d.stats.IncI2CFailures()
		return stall()
	}
	d.incVendorReqCount()
	return Response{Data: buf}
}

func (d *Dispatcher) handleSetADC(req Request) Response {
	if len(req.Data) < 4 {
		return stall()
	}
	hz := uint32(req.Data[0]) | uint32(req.Data[1])<<8 | uint32(req.Data[2])<<16 | uint32(req.Data[3])<<24
	if err := d.sup.SetADCClockSafely(physic.Frequency(hz) * physic.Hertz); err != nil {
		return stall()
	}
	for i := 0; i < pllLockPollAttempts; i++ {
		if d.clk.PLLLocked() {
			break
		}
		time.Sleep(pllLockPollInterval)
	}
	d.incVendorReqCount()
	return ack()
}

func (d *Dispatcher) handleStats() Response {
	status, err := d.clk.StatusByte()
	if err != nil {
		status = 0xFF
	}
	pibState, err := d.sup.PIBState()
	if err != nil {
		pibState = 0xFF
	}
	out := d.stats.Encode(pibState, status)
	d.incVendorReqCount()
	return Response{Data: out[:]}
}

func (d *Dispatcher) handleSetArg(req Request) Response {
	switch req.Index {
	case argAttenuator:
		if err := d.front.SetAttenuator(uint8(req.Value)); err != nil {
			return stall()
		}
	case argVGA:
		if err := d.front.SetGain(uint8(req.Value)); err != nil {
			return stall()
		}
	case argWatchdogCap:
		d.sup.SetRecoveryCap(uint8(req.Value))
	default:
		return stall()
	}
	d.incVendorReqCount()
	return ack()
}

func (d *Dispatcher) handleDebugIO(req Request) Response {
	if req.Value > 0 {
		ch := byte(req.Value)
		d.console.AccumulateChar(ch)
	}
	pending := d.console.Pending()
	if pending == 0 {
		return stall()
	}
	chunk := d.console.Drain(debugIOMaxChunk)
	out := make([]byte, len(chunk)+1)
	copy(out, chunk)
	out[len(chunk)] = 0
	d.incVendorReqCount()
	return Response{Data: out}
}
