package usbctl

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ringof/sddc-fx3/clock"
	"github.com/ringof/sddc-fx3/conn/i2c/i2ctest"
	"github.com/ringof/sddc-fx3/conn/physic"
	"github.com/ringof/sddc-fx3/events"
	"github.com/ringof/sddc-fx3/platform"
)

type fakeSupervisor struct {
	startErr    error
	haltErr     error
	haltCalls   int
	started     bool
	stopped     bool
	recoveryCap uint8
	pibState    uint8
	pibStateErr error
}

func (f *fakeSupervisor) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}
func (f *fakeSupervisor) Stop()                                         { f.stopped = true }
func (f *fakeSupervisor) SetADCClockSafely(freq physic.Frequency) error { return nil }
func (f *fakeSupervisor) OnBulkEndpointHaltClear() error                { f.haltCalls++; return f.haltErr }
func (f *fakeSupervisor) SetRecoveryCap(cap uint8)                      { f.recoveryCap = cap }
func (f *fakeSupervisor) PIBState() (uint8, error)                      { return f.pibState, f.pibStateErr }

type fakeFrontEnd struct {
	gpioWord   uint32
	attenuator uint8
	gain       uint8
	failGPIO   bool
}

func (f *fakeFrontEnd) SetGPIOWord(word uint32) error {
	if f.failGPIO {
		return errors.New("gpio failure")
	}
	f.gpioWord = word
	return nil
}
func (f *fakeFrontEnd) SetAttenuator(level uint8) error { f.attenuator = level; return nil }
func (f *fakeFrontEnd) SetGain(level uint8) error       { f.gain = level; return nil }

func newTestDispatcher() (*Dispatcher, *fakeSupervisor, *fakeFrontEnd, *events.Console) {
	d, sup, front, console, _ := newTestDispatcherWithI2C(&i2ctest.Playback{})
	return d, sup, front, console
}

func newTestDispatcherWithI2C(i2cBus *i2ctest.Playback) (*Dispatcher, *fakeSupervisor, *fakeFrontEnd, *events.Console, *events.Stats) {
	sup := &fakeSupervisor{}
	front := &fakeFrontEnd{}
	bus := events.NewBus(platform.NewChanQueue(8))
	console := events.NewConsole(bus)
	stats := &events.Stats{}
	clk := clock.New(&i2ctest.Playback{})
	d := New(sup, clk, i2cBus, front, console, bus, stats, Identity{HWConfig: 1, FWMajor: 2, FWMinor: 3})
	return d, sup, front, console, stats
}

func TestOversizedDataPhaseStalls(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	resp := d.Handle(Request{ReqType: TypeVendor, Request: cmdInfo, Length: 65})
	if !resp.Stall {
		t.Fatal("a request with Length > 64 must stall")
	}
}

func TestUnknownVendorRequestStalls(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	resp := d.Handle(Request{ReqType: TypeVendor, Request: 0x42})
	if !resp.Stall {
		t.Fatal("an unknown vendor request must stall")
	}
}

func TestDefinedGapsStall(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	for _, gap := range []byte{0xB0, 0xB7, 0xB9} {
		resp := d.Handle(Request{ReqType: TypeVendor, Request: gap})
		if !resp.Stall {
			t.Fatalf("gap code %#x must stall", gap)
		}
	}
}

func TestStartDelegatesToSupervisor(t *testing.T) {
	d, sup, _, _ := newTestDispatcher()
	resp := d.Handle(Request{ReqType: TypeVendor, Request: cmdStart, Data: make([]byte, 4)})
	if resp.Stall {
		t.Fatal("a successful Start should not stall")
	}
	if !sup.started {
		t.Fatal("cmdStart should call Supervisor.Start")
	}
}

func TestStartFailurePreflightStalls(t *testing.T) {
	d, sup, _, _ := newTestDispatcher()
	sup.startErr = errors.New("preflight failed")
	resp := d.Handle(Request{ReqType: TypeVendor, Request: cmdStart, Data: make([]byte, 4)})
	if !resp.Stall {
		t.Fatal("a failed Start (preflight rejection) must stall")
	}
}

func TestStopIsAlwaysHandled(t *testing.T) {
	d, sup, _, _ := newTestDispatcher()
	resp := d.Handle(Request{ReqType: TypeVendor, Request: cmdStop, Data: make([]byte, 4)})
	if resp.Stall {
		t.Fatal("STOP must never stall")
	}
	if !sup.stopped {
		t.Fatal("cmdStop should call Supervisor.Stop")
	}
}

func TestInfoReportsIdentityAndVendorReqCount(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	resp := d.Handle(Request{ReqType: TypeVendor, Request: cmdInfo})
	if resp.Stall || len(resp.Data) != 4 {
		t.Fatalf("INFO response = %+v, want 4 bytes, not stalled", resp)
	}
	if resp.Data[0] != 1 || resp.Data[1] != 2 || resp.Data[2] != 3 {
		t.Fatalf("INFO identity bytes = %v, want {1,2,3,_}", resp.Data[:3])
	}
	if resp.Data[3] != 0 {
		t.Fatalf("INFO vendor_req_count byte = %d, want 0 on the first request", resp.Data[3])
	}
	resp = d.Handle(Request{ReqType: TypeVendor, Request: cmdInfo})
	if resp.Data[3] != 1 {
		t.Fatalf("INFO vendor_req_count byte = %d, want 1 after one handled request", resp.Data[3])
	}
}

func TestVendorReqCountWrapsAt256(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	for i := 0; i < 256; i++ {
		d.Handle(Request{ReqType: TypeVendor, Request: cmdInfo})
	}
	if d.VendorReqCount() != 0 {
		t.Fatalf("VendorReqCount() = %d, want 0 after 256 successful requests", d.VendorReqCount())
	}
}

func TestSetArgUnknownIndexStallsWithoutCounting(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	before := d.VendorReqCount()
	resp := d.Handle(Request{ReqType: TypeVendor, Request: cmdSetArg, Index: 15, Value: 1})
	if !resp.Stall {
		t.Fatal("an out-of-range SET_ARG index must stall")
	}
	if d.VendorReqCount() != before {
		t.Fatalf("VendorReqCount() changed on a stalled SET_ARG: before=%d after=%d", before, d.VendorReqCount())
	}
}

func TestSetArgAttenuatorAndWatchdogCap(t *testing.T) {
	d, sup, front, _ := newTestDispatcher()
	resp := d.Handle(Request{ReqType: TypeVendor, Request: cmdSetArg, Index: argAttenuator, Value: 20})
	if resp.Stall || front.attenuator != 20 {
		t.Fatalf("attenuator SET_ARG failed: stall=%v value=%d", resp.Stall, front.attenuator)
	}
	resp = d.Handle(Request{ReqType: TypeVendor, Request: cmdSetArg, Index: argWatchdogCap, Value: 5})
	if resp.Stall || sup.recoveryCap != 5 {
		t.Fatalf("watchdog-cap SET_ARG failed: stall=%v value=%d", resp.Stall, sup.recoveryCap)
	}
}

func TestClearFeatureEndpointHaltDelegates(t *testing.T) {
	d, sup, _, _ := newTestDispatcher()
	resp := d.Handle(Request{ReqType: TypeStandard, Recipient: RecipientEndpoint, Request: stdClearFeature, Value: endpointHalt})
	if resp.Stall {
		t.Fatal("CLEAR_FEATURE(ENDPOINT_HALT) should ACK when the supervisor's halt-clear succeeds")
	}
	if sup.haltCalls != 1 {
		t.Fatalf("OnBulkEndpointHaltClear called %d times, want 1", sup.haltCalls)
	}
}

func TestClearFeatureFunctionSuspendFollowsSessionState(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	d.SetSessionActive(false)
	resp := d.Handle(Request{ReqType: TypeStandard, Recipient: RecipientInterface, Request: stdClearFeature, Value: functionSuspend})
	if !resp.Stall {
		t.Fatal("FUNCTION_SUSPEND clear without an active session should stall")
	}

	d.SetSessionActive(true)
	resp = d.Handle(Request{ReqType: TypeStandard, Recipient: RecipientInterface, Request: stdClearFeature, Value: functionSuspend})
	if resp.Stall {
		t.Fatal("FUNCTION_SUSPEND clear with an active session should ACK")
	}
}

func TestDebugIOStallsWhenNothingPending(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	resp := d.Handle(Request{ReqType: TypeVendor, Request: cmdDebugIO})
	if !resp.Stall {
		t.Fatal("DEBUG_IO with nothing pending should stall the status phase")
	}
}

func TestDebugIODrainsConsoleRingWithNULTerminator(t *testing.T) {
	d, _, _, console := newTestDispatcher()
	console.WriteString("hello")
	resp := d.Handle(Request{ReqType: TypeVendor, Request: cmdDebugIO})
	if resp.Stall {
		t.Fatal("DEBUG_IO with pending output should not stall")
	}
	want := append([]byte("hello"), 0)
	if !bytes.Equal(resp.Data, want) {
		t.Fatalf("DEBUG_IO data = %q, want %q", resp.Data, want)
	}
}

func TestDebugIOAccumulatesTypedCharacter(t *testing.T) {
	d, _, _, console := newTestDispatcher()
	resp := d.Handle(Request{ReqType: TypeVendor, Request: cmdDebugIO, Value: uint16('A')})
	if !resp.Stall {
		t.Fatal("typing a character with nothing pending for output should still stall the status phase")
	}
	if line := console.TakeLine(); line != "A" {
		t.Fatalf("console line = %q, want %q", line, "A")
	}
}

func TestI2CWriteSuccess(t *testing.T) {
	playback := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: 0xC0, Write: []byte{0x10, 0x4F}},
	}}
	d, _, _, _, _ := newTestDispatcherWithI2C(playback)
	resp := d.Handle(Request{ReqType: TypeVendor, Request: cmdI2CWrite, Value: 0xC0, Index: 0x10, Data: []byte{0x4F}})
	if resp.Stall {
		t.Fatal("a successful I2C_WRITE should not stall")
	}
}

func TestI2CWriteFailureIncrementsI2CFailures(t *testing.T) {
	playback := &i2ctest.Playback{FailReads: true, FailAddr: 0x90}
	d, _, _, _, stats := newTestDispatcherWithI2C(playback)
	resp := d.Handle(Request{ReqType: TypeVendor, Request: cmdI2CWrite, Value: 0x90, Index: 0x00, Data: []byte{0x01}})
	if !resp.Stall {
		t.Fatal("a NACK'd I2C_WRITE should stall")
	}
	got := stats.Encode(0, 0)
	i2cFailures := uint32(got[11]) | uint32(got[12])<<8 | uint32(got[13])<<16 | uint32(got[14])<<24
	if i2cFailures != 1 {
		t.Fatalf("i2c_failures = %d, want 1 after a NACK'd I2C_WRITE", i2cFailures)
	}
}

func TestI2CReadFailureIncrementsI2CFailures(t *testing.T) {
	playback := &i2ctest.Playback{FailReads: true, FailAddr: 0x90}
	d, _, _, _, stats := newTestDispatcherWithI2C(playback)
	resp := d.Handle(Request{ReqType: TypeVendor, Request: cmdI2CRead, Value: 0x90, Index: 0x00, Length: 1})
	if !resp.Stall {
		t.Fatal("a NACK'd I2C_READ should stall")
	}
	got := stats.Encode(0, 0)
	i2cFailures := uint32(got[11]) | uint32(got[12])<<8 | uint32(got[13])<<16 | uint32(got[14])<<24
	if i2cFailures != 1 {
		t.Fatalf("i2c_failures = %d, want 1 after a NACK'd I2C_READ", i2cFailures)
	}
}

func TestI2CReadSuccess(t *testing.T) {
	playback := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: 0x60, Write: []byte{0x00}, Read: []byte{0xAB, 0xCD}},
	}}
	d, _, _, _, _ := newTestDispatcherWithI2C(playback)
	resp := d.Handle(Request{ReqType: TypeVendor, Request: cmdI2CRead, Value: 0x60, Index: 0x00, Length: 2})
	if resp.Stall {
		t.Fatal("a successful I2C_READ should not stall")
	}
	if !bytes.Equal(resp.Data, []byte{0xAB, 0xCD}) {
		t.Fatalf("I2C_READ data = %v, want [0xAB 0xCD]", resp.Data)
	}
}

func TestGPIOFailurePropagatesStall(t *testing.T) {
	d, _, front, _ := newTestDispatcher()
	front.failGPIO = true
	resp := d.Handle(Request{ReqType: TypeVendor, Request: cmdGPIO, Data: make([]byte, 4)})
	if !resp.Stall {
		t.Fatal("a GPIO front-end failure should stall")
	}
}
