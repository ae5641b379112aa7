// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gpio defines digital pins, described by their logical
// functionality (ATTENUATOR, VGA_CTL, LED, ...) rather than their physical
// position on a header.
package gpio

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Level is the level of the pin: Low or High.
type Level bool

const (
	// Low represents 0v.
	Low Level = false
	// High represents Vin, generally 3.3v.
	High Level = true
)

func (l Level) String() string {
	if l == Low {
		return "Low"
	}
	return "High"
}

// Pull specifies the internal pull-up or pull-down for a pin set as input.
type Pull uint8

// Acceptable pull values.
const (
	Float        Pull = 0 // Let the input float.
	Down         Pull = 1 // Apply pull-down.
	Up           Pull = 2 // Apply pull-up.
	PullNoChange Pull = 3 // Do not change the previous pull resistor setting.
)

const pullName = "FloatDownUpPullNoChange"

var pullIndex = [...]uint8{0, 5, 9, 11, 23}

func (i Pull) String() string {
	if i >= Pull(len(pullIndex)-1) {
		return fmt.Sprintf("Pull(%d)", i)
	}
	return pullName[pullIndex[i]:pullIndex[i+1]]
}

// Pin is the functionality common to every named pin, input or output.
type Pin interface {
	fmt.Stringer
	// Number returns the pin number as assigned by the SoC, or -1 if not
	// applicable.
	Number() int
}

// PinIn is an input GPIO pin.
type PinIn interface {
	Pin
	// In sets up a pin as an input with the given pull resistor.
	In(pull Pull) error
	// Read returns the current pin level. Behavior is undefined if In()
	// wasn't called first.
	Read() Level
}

// PinOut is an output GPIO pin.
type PinOut interface {
	Pin
	// Out sets a pin as output if it wasn't already and sets its level.
	Out(l Level) error
}

// PinIO is a GPIO pin that supports both input and output, such as a
// front-end control line that is read back to verify it latched.
type PinIO interface {
	Pin
	In(pull Pull) error
	Read() Level
	Out(l Level) error
}

// INVALID implements PinIO and fails on all access. The registry lookups
// below do not return it: a miss there returns nil, so callers check for nil.
var INVALID PinIO = invalidPin{}

// BasicPin is a named pin with no backing hardware; it is useful as a
// placeholder for pins a board doesn't wire up.
type BasicPin struct {
	Name string
}

func (b *BasicPin) String() string { return b.Name }

// Number implements Pin.
func (b *BasicPin) Number() int { return -1 }

// In implements PinIn.
func (b *BasicPin) In(Pull) error {
	return fmt.Errorf("gpio: %s cannot be used as input", b.Name)
}

// Read implements PinIn.
func (b *BasicPin) Read() Level { return Low }

// Out implements PinOut.
func (b *BasicPin) Out(Level) error {
	return fmt.Errorf("gpio: %s cannot be used as output", b.Name)
}

//

// ByNumber returns a registered GPIO pin from its number, or nil.
func ByNumber(number int) PinIO {
	lock.Lock()
	defer lock.Unlock()
	return byNumber[number]
}

// ByName returns a registered GPIO pin from its name (e.g. "ATTENUATOR",
// "VGA_CTL", "LED_YELLOW"), or nil.
func ByName(name string) PinIO {
	lock.Lock()
	defer lock.Unlock()
	return byName[name]
}

// All returns all registered GPIO pins, ordered by number.
func All() []PinIO {
	lock.Lock()
	defer lock.Unlock()
	out := make(pinList, 0, len(byNumber))
	for _, p := range byNumber {
		out = append(out, p)
	}
	sort.Sort(out)
	return out
}

// Register registers a GPIO pin. Registering the same pin number or name
// twice is an error.
func Register(pin PinIO) error {
	lock.Lock()
	defer lock.Unlock()
	number := pin.Number()
	if _, ok := byNumber[number]; ok {
		return fmt.Errorf("gpio: registering the same pin %d twice", number)
	}
	name := pin.String()
	if _, ok := byName[name]; ok {
		return fmt.Errorf("gpio: registering the same pin %s twice", name)
	}
	byNumber[number] = pin
	byName[name] = pin
	return nil
}

// Unregister removes a previously registered pin.
func Unregister(name string, number int) error {
	lock.Lock()
	defer lock.Unlock()
	if _, ok := byName[name]; !ok {
		return errors.New("gpio: unknown name")
	}
	if _, ok := byNumber[number]; !ok {
		return errors.New("gpio: unknown number")
	}
	delete(byName, name)
	delete(byNumber, number)
	return nil
}

//

var errInvalidPin = errors.New("gpio: invalid pin")

type invalidPin struct{}

func (invalidPin) Number() int     { return -1 }
func (invalidPin) String() string  { return "INVALID" }
func (invalidPin) In(Pull) error   { return errInvalidPin }
func (invalidPin) Read() Level     { return Low }
func (invalidPin) Out(Level) error { return errInvalidPin }

var (
	lock     sync.Mutex
	byNumber = map[int]PinIO{}
	byName   = map[string]PinIO{}
)

type pinList []PinIO

func (p pinList) Len() int           { return len(p) }
func (p pinList) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p pinList) Less(i, j int) bool { return p[i].Number() < p[j].Number() }

var _ PinIn = INVALID
var _ PinOut = INVALID
var _ PinIO = INVALID
