package clock

import (
	"errors"
	"testing"

	"github.com/ringof/sddc-fx3/conn/gpio"
)

type fixedPin struct {
	gpio.BasicPin
	level gpio.Level
}

func (f *fixedPin) Read() gpio.Level { return f.level }

// anyWriteBus accepts every write unconditionally (the SetSecondaryClock
// register bursts it triggers are exercised byte-for-byte by
// TestSetADCClockProgramsPLLAndEnablesOutput's PLL-A equivalent) and answers
// reads from a canned table, simulating a NACK when failAddr matches.
type anyWriteBus struct {
	reads    map[uint16][]byte
	failAddr uint16
}

var errNack = errors.New("simulated NACK")

func (a *anyWriteBus) String() string { return "anyWriteBus" }

func (a *anyWriteBus) Tx(addr uint16, w, r []byte) error {
	if a.failAddr != 0 && addr == a.failAddr {
		return errNack
	}
	if len(r) != 0 {
		copy(r, a.reads[addr])
	}
	return nil
}

func (a *anyWriteBus) Speed(hz int64) error { return nil }

func TestDetectTunerFoundWithSenseLow(t *testing.T) {
	fake := &anyWriteBus{reads: map[uint16][]byte{r828dAddr: {0x69}}}
	c := New(fake)
	sense := &fixedPin{BasicPin: gpio.BasicPin{Name: "SENSE"}, level: gpio.Low}

	hw, err := c.DetectTuner(fake, sense)
	if err != nil {
		t.Fatalf("DetectTuner: %v", err)
	}
	if hw != RX888r2 {
		t.Fatalf("expected RX888r2, got %v", hw)
	}
}

func TestDetectTunerAbsent(t *testing.T) {
	fake := &anyWriteBus{failAddr: r828dAddr}
	c := New(fake)
	sense := &fixedPin{BasicPin: gpio.BasicPin{Name: "SENSE"}, level: gpio.High}

	hw, err := c.DetectTuner(fake, sense)
	if err != nil {
		t.Fatalf("DetectTuner: %v", err)
	}
	if hw != NoRadio {
		t.Fatalf("expected NoRadio for an absent tuner, got %v", hw)
	}
}
