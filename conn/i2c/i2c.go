// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package i2c defines an I²C bus and a thin adapter to address a single
// device on it without repeating the device address on every transfer.
package i2c

import (
	"fmt"
	"io"
)

// Bus defines the interface a concrete I²C driver must implement.
//
// This interface is consumed by a device driver for a device sitting on a
// bus, such as the clock generator driver in package clock.
type Bus interface {
	fmt.Stringer
	// Tx does a half-duplex transaction: write w, then read into r. Either may
	// be empty. Most I²C register protocols are "write the register address,
	// then read (or write) the value".
	Tx(addr uint16, w, r []byte) error
	// Speed changes the bus clock speed, if supported by the driver.
	Speed(hz int64) error
}

// BusCloser is an I²C bus that can be closed.
type BusCloser interface {
	io.Closer
	Bus
}

// Dev is a single device on an I²C bus.
//
// It saves its user from repeatedly specifying the device address.
type Dev struct {
	Bus  Bus
	Addr uint16
}

func (d *Dev) String() string {
	return fmt.Sprintf("%s(%#x)", d.Bus, d.Addr)
}

// Tx does a transaction, adding the device's address to the call.
func (d *Dev) Tx(w, r []byte) error {
	return d.Bus.Tx(d.Addr, w, r)
}

// WriteReg writes a register address followed by its value(s) in a single
// I²C transaction, the protocol used by register-mapped devices such as the
// Si5351 clock generator: the first byte on the wire is the register
// address, the rest is the payload.
func (d *Dev) WriteReg(reg byte, data ...byte) error {
	buf := make([]byte, 1+len(data))
	buf[0] = reg
	copy(buf[1:], data)
	return d.Tx(buf, nil)
}

// ReadReg writes a register address, then reads len(into) bytes of reply
// into it.
func (d *Dev) ReadReg(reg byte, into []byte) error {
	return d.Tx([]byte{reg}, into)
}
