package clock

import (
	"github.com/ringof/sddc-fx3/conn/gpio"
	"github.com/ringof/sddc-fx3/conn/i2c"
	"github.com/ringof/sddc-fx3/conn/physic"
)

// r828dAddr is the R828D tuner's I²C address; it is only ever probed, never
// driven as a register-mapped device, so it isn't wired through i2c.Dev.
const r828dAddr uint16 = 0x74

// probeFreq is the transient CLK2 frequency used to power the tuner long
// enough to probe its I²C presence and GPIO sense line. It's powered back
// down immediately after.
const probeFreq physic.Frequency = 16 * physic.MegaHertz

// HWConfig identifies which front-end is populated on the board, detected
// once at bring-up.
type HWConfig uint8

const (
	NoRadio HWConfig = 0
	RX888r2 HWConfig = 1
)

// DetectTuner probes for an R828D tuner by briefly enabling CLK2 (the
// tuner's reference clock), reading the tuner's I²C identity register, and
// sampling a GPIO sense line the tuner pulls low once clocked. CLK2 is
// powered back down before returning regardless of outcome, since it's
// otherwise unused.
//
// sense is read with a pull-up already configured by the caller, matching
// the probe's assumption that an absent tuner floats high.
func (c *Controller) DetectTuner(bus i2c.Bus, sense gpio.PinIO) (HWConfig, error) {
	if err := c.SetSecondaryClock(probeFreq); err != nil {
		return NoRadio, err
	}
	defer c.SetSecondaryClock(0)

	var identity [1]byte
	if err := bus.Tx(r828dAddr, nil, identity[:]); err != nil {
		return NoRadio, nil
	}
	if sense.Read() == gpio.Low {
		return RX888r2, nil
	}
	return NoRadio, nil
}
