// Package frontend implements the RX888r2-style analog front-end control
// surface over the C5 Gpio adapter: the raw front-end GPIO word (dither,
// randomizer, bias, PGA, VHF enable, LED) plus the two bit-banged shift
// registers gating the step attenuator and variable-gain amplifier.
package frontend

import "github.com/ringof/sddc-fx3/conn/gpio"

// Named pins, passed by name to the Gpio adapter on every access rather than
// addressed by raw SoC pin number.
const (
	PinShutdown  = "SHDWN"
	PinDither    = "DITH"
	PinRandomize = "RANDO"
	PinBiasHF    = "BIAS_HF"
	PinBiasVHF   = "BIAS_VHF"
	PinLED       = "LED_BLUE"
	PinPGA       = "PGA_EN"
	PinVHFEnable = "VHF_EN"

	pinAttLatch = "ATT_LE"
	pinAttData  = "ATT_DATA"
	pinAttClock = "ATT_CLK"
	pinVGALatch = "VGA_LE"
)

// Front-end GPIO word bit assignments, decoded from the 4-byte payload of
// the GPIO vendor command (0xAD).
const (
	bitShutdown = 1 << iota
	bitDither
	bitRandomize
	bitBiasHF
	bitBiasVHF
	bitLED
	bitPGA
	bitVHFEnable
)

// Gpio is the subset of platform.Gpio the board needs; kept narrow so
// tests can supply a minimal fake without importing the platform package.
type Gpio interface {
	SetPin(name string, level gpio.Level) error
}

// Board drives the front-end's GPIO word and the two bit-banged shift
// registers (PE4304 step attenuator, AD8370 VGA) gated by dedicated
// latch/clock/data lines, exactly the protocol rx888r2_SetAttenuator and
// rx888r2_SetGain implement in the original firmware.
type Board struct {
	gpio Gpio
}

// NewBoard returns a Board driving pins through gpio.
func NewBoard(g Gpio) *Board {
	return &Board{gpio: g}
}

func level(set bool) gpio.Level {
	if set {
		return gpio.High
	}
	return gpio.Low
}

// SetGPIOWord decodes the front-end bit flags and drives each named pin.
// Every pin is active-high except PinPGA, which rx888r2_GpioSet drives with
// inverted polarity ((mdata & PGA_EN) != PGA_EN): the PGA is enabled when
// its bit is clear, not set.
func (b *Board) SetGPIOWord(word uint32) error {
	pins := []struct {
		name    string
		bit     uint32
		inverts bool
	}{
		{PinShutdown, bitShutdown, false},
		{PinDither, bitDither, false},
		{PinRandomize, bitRandomize, false},
		{PinBiasHF, bitBiasHF, false},
		{PinBiasVHF, bitBiasVHF, false},
		{PinLED, bitLED, false},
		{PinPGA, bitPGA, true},
		{PinVHFEnable, bitVHFEnable, false},
	}
	for _, p := range pins {
		set := word&p.bit != 0
		if p.inverts {
			set = !set
		}
		if err := b.gpio.SetPin(p.name, level(set)); err != nil {
			return err
		}
	}
	return nil
}

// shiftOut bit-bangs value's low `bits` bits, MSB-first, onto the data/clock
// lines, then drives latch high and leaves it there. This is the exact sequence
// rx888r2.c's GpioShiftOut uses to load the PE4304 and AD8370 shift
// registers: no hardware SPI peripheral is available on these lines.
func (b *Board) shiftOut(latch string, value uint8, bits int) error {
	if err := b.gpio.SetPin(latch, gpio.Low); err != nil {
		return err
	}
	if err := b.gpio.SetPin(pinAttClock, gpio.Low); err != nil {
		return err
	}
	mask := uint8(1) << uint(bits-1)
	for i := 0; i < bits; i++ {
		if err := b.gpio.SetPin(pinAttData, level(value&mask != 0)); err != nil {
			return err
		}
		if err := b.gpio.SetPin(pinAttClock, gpio.High); err != nil {
			return err
		}
		value <<= 1
		if err := b.gpio.SetPin(pinAttClock, gpio.Low); err != nil {
			return err
		}
	}
	return b.gpio.SetPin(latch, gpio.High)
}

// SetAttenuator loads the PE4304 step attenuator's 6-bit shift register
// (0-63, 0.5dB/step) and returns it to the unlatched state.
func (b *Board) SetAttenuator(level uint8) error {
	if err := b.shiftOut(pinAttLatch, level&0x3F, 6); err != nil {
		return err
	}
	return b.gpio.SetPin(pinAttLatch, gpio.Low)
}

// SetGain loads the AD8370 VGA's 8-bit shift register (0-255, 0.5dB/step).
func (b *Board) SetGain(level uint8) error {
	if err := b.shiftOut(pinVGALatch, level, 8); err != nil {
		return err
	}
	return b.gpio.SetPin(pinAttData, gpio.Low)
}
