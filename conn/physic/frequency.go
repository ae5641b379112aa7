// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package physic defines physical units, trimmed to the one quantity this
// repository's clock generator deals in: frequency.
package physic

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// Frequency is a measurement of cycles per second, stored as an int64 micro
// Hertz.
//
// The highest representable value is 9.2THz.
type Frequency int64

// Frequency units, expressed in micro Hertz.
const (
	MicroHertz Frequency = 1
	MilliHertz Frequency = 1000 * MicroHertz
	Hertz      Frequency = 1000 * MilliHertz
	KiloHertz  Frequency = 1000 * Hertz
	MegaHertz  Frequency = 1000 * KiloHertz
	GigaHertz  Frequency = 1000 * MegaHertz
)

// String returns the frequency formatted as a string in Hertz.
func (f Frequency) String() string {
	v := int64(f)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	switch {
	case f == 0:
		return "0Hz"
	case v >= int64(GigaHertz):
		return sign + trimZeros(v, int64(GigaHertz)) + "GHz"
	case v >= int64(MegaHertz):
		return sign + trimZeros(v, int64(MegaHertz)) + "MHz"
	case v >= int64(KiloHertz):
		return sign + trimZeros(v, int64(KiloHertz)) + "kHz"
	case v >= int64(Hertz):
		return sign + trimZeros(v, int64(Hertz)) + "Hz"
	default:
		return sign + strconv.FormatInt(v, 10) + "µHz"
	}
}

func trimZeros(v, unit int64) string {
	whole := v / unit
	frac := v % unit
	if frac == 0 {
		return strconv.FormatInt(whole, 10)
	}
	s := strconv.FormatInt(unit+frac, 10)[1:]
	s = strings.TrimRight(s, "0")
	return strconv.FormatInt(whole, 10) + "." + s
}

// Set sets the Frequency to the value represented by s, which must be an
// integer or decimal value followed by "Hz", "kHz", "MHz" or "GHz" (no
// fractional Hertz below µHz is supported, there's no such thing as a
// fractional clock edge).
func (f *Frequency) Set(s string) error {
	mult := Hertz
	switch {
	case strings.HasSuffix(s, "GHz"):
		mult = GigaHertz
		s = s[:len(s)-3]
	case strings.HasSuffix(s, "MHz"):
		mult = MegaHertz
		s = s[:len(s)-3]
	case strings.HasSuffix(s, "kHz"):
		mult = KiloHertz
		s = s[:len(s)-3]
	case strings.HasSuffix(s, "Hz"):
		s = s[:len(s)-2]
	default:
		return errors.New("physic: frequency must end in Hz, kHz, MHz or GHz")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return errors.New("physic: invalid frequency: " + err.Error())
	}
	*f = Frequency(v * float64(mult))
	return nil
}

// Period returns the duration of one cycle at this frequency.
func (f Frequency) Period() time.Duration {
	if f == 0 {
		return 0
	}
	return time.Second * time.Duration(Hertz) / time.Duration(f)
}

// PeriodToFrequency returns the frequency corresponding to a period.
func PeriodToFrequency(t time.Duration) Frequency {
	if t == 0 {
		return 0
	}
	return Frequency(time.Second) * Hertz / Frequency(t)
}
