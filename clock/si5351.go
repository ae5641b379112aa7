// Package clock drives the Si5351 clock generator that supplies the ADC
// sample clock (CLK0, PLL A) and an auxiliary clock used only to probe the
// front-end tuner at bring-up (CLK2, PLL B).
package clock

import (
	"fmt"

	"github.com/ringof/sddc-fx3/conn/gpio"
	"github.com/ringof/sddc-fx3/conn/i2c"
	"github.com/ringof/sddc-fx3/conn/physic"
)

// Addr is the Si5351's fixed 7-bit I²C address, shifted for an 8-bit
// address field.
const Addr uint16 = 0xC0

// Crystal is the board's reference crystal frequency.
const Crystal physic.Frequency = 27 * physic.MegaHertz

// Register addresses, named after the Si5351 datasheet sections they
// belong to.
const (
	regClk0Control  = 16
	regClk1Control  = 17
	regClk2Control  = 18
	regSynthPLLA    = 26
	regSynthPLLB    = 34
	regSynthMS0     = 42
	regSynthMS2     = 58
	regPLLReset     = 177
	regDeviceStatus = 0
	regCrystalLoad  = 183
)

// R-divider field values for the MultiSynth output stage, used when the
// requested frequency is below 1MHz and the integer divider alone can't
// reach it.
const (
	rDiv1 = 0x00
	rDiv2 = 0x10
)

const clkSrcPLLA = 0x00
const clkSrcPLLB = 0x20

// lossOfLockA is bit 5 of the device status register (LOL_A).
const lossOfLockA = 0x20

// maxInternalPLLHz is the Si5351's maximum internal PLL frequency.
const maxInternalPLLHz = 900000000

// fracDenom is the fixed denominator used for every fractional PLL ratio;
// both P2 and denom are 20-bit fields.
const fracDenom = 1048575

// Controller drives a Si5351 over I²C to produce the ADC sample clock and
// to run the one-shot tuner-detection probe.
type Controller struct {
	dev          i2c.Dev
	adcEnabled   bool
	tunerCLK2Pin gpio.PinIO
}

// New returns a Controller addressing the Si5351 over bus.
func New(bus i2c.Bus) *Controller {
	return &Controller{dev: i2c.Dev{Bus: bus, Addr: Addr}}
}

// Init configures the crystal load capacitance and powers all three clock
// outputs down, the state the chip must be in before either output is
// programmed.
func (c *Controller) Init() error {
	if err := c.dev.WriteReg(regCrystalLoad, 0x52); err != nil {
		return fmt.Errorf("clock: crystal load: %w", err)
	}
	for _, reg := range []byte{regClk0Control, regClk1Control, regClk2Control} {
		if err := c.dev.WriteReg(reg, 0x80); err != nil {
			return fmt.Errorf("clock: power down reg %d: %w", reg, err)
		}
	}
	return nil
}

// pllParams computes the (mult, num, denom) fractional PLL feedback divider
// for a target internal PLL frequency against the board's reference
// crystal.
func pllParams(pllFreq, xtal uint64) (mult uint8, num, denom uint32) {
	mult = uint8(pllFreq / xtal)
	l := pllFreq % xtal
	num = uint32(l * fracDenom / xtal)
	denom = fracDenom
	return
}

// setupPLL packs (mult, num, denom) into the eight-byte PLL configuration
// register block and writes it.
func (c *Controller) setupPLL(base byte, mult uint8, num, denom uint32) error {
	p1 := 128*uint32(mult) + (128*num)/denom - 512
	p2 := 128*num - denom*((128*num)/denom)
	p3 := denom
	data := [8]byte{
		byte(p3 >> 8), byte(p3),
		byte((p1>>16)&0x03), byte(p1 >> 8), byte(p1),
		byte((p3>>12)&0xF0) | byte((p2>>16)&0x0F), byte(p2 >> 8), byte(p2),
	}
	return c.dev.WriteReg(base, data[:]...)
}

// setupMultisynth packs an integer MultiSynth divider (P2=0, P3=1 forces an
// integer ratio) plus the R-divider field into the eight-byte MultiSynth
// configuration register block and writes it.
func (c *Controller) setupMultisynth(base byte, divider uint32, rDiv byte) error {
	p1 := 128*divider - 512
	data := [8]byte{
		0, 1,
		byte((p1>>16)&0x03) | rDiv, byte(p1 >> 8), byte(p1),
		0x10, 0, 0,
	}
	return c.dev.WriteReg(base, data[:]...)
}

// synthesize derives the PLL feedback ratio and output MultiSynth divider
// for a requested output frequency, doubling the target (and incrementing
// the R-divider) until it's at least 1MHz, since the MultiSynth integer
// divider alone can't directly reach outputs below that.
func synthesize(freq uint32) (pllFreq uint64, divider uint32, rDiv byte) {
	frequency := uint64(freq)
	rDiv = rDiv1
	for frequency < 1000000 {
		frequency *= 2
		rDiv += rDiv2
	}
	divider = uint32(maxInternalPLLHz / frequency)
	if divider%2 != 0 {
		divider--
	}
	pllFreq = uint64(divider) * frequency
	return
}

// SetADCClock programs CLK0/PLL A, the ADC sample clock. freq == 0 powers
// the output down.
func (c *Controller) SetADCClock(freq physic.Frequency) error {
	hz := uint32(freq / physic.Hertz)
	if hz == 0 {
		c.adcEnabled = false
		return c.dev.WriteReg(regClk0Control, 0x80)
	}
	pllFreq, divider, rDiv := synthesize(hz)
	mult, num, denom := pllParams(pllFreq, uint64(Crystal/physic.Hertz))
	if err := c.setupPLL(regSynthPLLA, mult, num, denom); err != nil {
		return fmt.Errorf("clock: setup PLL A: %w", err)
	}
	if err := c.setupMultisynth(regSynthMS0, divider, rDiv); err != nil {
		return fmt.Errorf("clock: setup MultiSynth 0: %w", err)
	}
	if err := c.dev.WriteReg(regPLLReset, 0x20); err != nil {
		return fmt.Errorf("clock: reset PLL A: %w", err)
	}
	if err := c.dev.WriteReg(regClk0Control, 0x4F|clkSrcPLLA); err != nil {
		return fmt.Errorf("clock: enable CLK0: %w", err)
	}
	c.adcEnabled = true
	return nil
}

// SetSecondaryClock programs CLK2/PLL B, used only for the one-shot tuner
// autodetection probe at bring-up. freq == 0 powers the output down.
func (c *Controller) SetSecondaryClock(freq physic.Frequency) error {
	hz := uint32(freq / physic.Hertz)
	if hz == 0 {
		return c.dev.WriteReg(regClk2Control, 0x80)
	}
	frequency := uint64(hz)
	rDiv := byte(rDiv1)
	for frequency <= 1000000 {
		frequency *= 2
		rDiv += rDiv2
	}
	divider := uint32(maxInternalPLLHz / frequency)
	if divider%2 != 0 {
		divider--
	}
	pllFreq := uint64(divider) * frequency
	mult, num, denom := pllParams(pllFreq, uint64(Crystal/physic.Hertz))
	if err := c.setupPLL(regSynthPLLB, mult, num, denom); err != nil {
		return fmt.Errorf("clock: setup PLL B: %w", err)
	}
	if err := c.setupMultisynth(regSynthMS2, divider, rDiv); err != nil {
		return fmt.Errorf("clock: setup MultiSynth 2: %w", err)
	}
	if err := c.dev.WriteReg(regPLLReset, 0x80); err != nil {
		return fmt.Errorf("clock: reset PLL B: %w", err)
	}
	return c.dev.WriteReg(regClk2Control, 0x4C|clkSrcPLLB)
}

// ADCClockEnabled reports whether the firmware last successfully enabled
// CLK0 with a non-zero frequency. Powering CLK0 down again clears it; it
// does not depend on PLL lock, since a disabled output never loses lock.
func (c *Controller) ADCClockEnabled() bool {
	return c.adcEnabled
}

// PLLLocked reports whether PLL A is locked, by reading bit 5 (LOL_A) of
// the device status register. Any I²C failure (absent chip, bus fault) is
// treated as unlocked: there's no valid clock to trust.
func (c *Controller) PLLLocked() bool {
	status, err := c.StatusByte()
	if err != nil {
		return false
	}
	return status&lossOfLockA == 0
}

// StatusByte reads the raw device status register, reported verbatim in
// the STATS vendor reply's clock-chip-status field.
func (c *Controller) StatusByte() (byte, error) {
	var status [1]byte
	if err := c.dev.ReadReg(regDeviceStatus, status[:]); err != nil {
		return 0, err
	}
	return status[0], nil
}
