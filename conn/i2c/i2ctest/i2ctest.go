// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package i2ctest is meant to be used to test drivers over a fake I²C bus.
package i2ctest

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/ringof/sddc-fx3/conn/i2c"
)

// IO registers one transaction that happened on a real or fake I²C bus.
type IO struct {
	Addr  uint16
	Write []byte
	Read  []byte
}

// Record implements i2c.Bus and records every transaction. Feed Ops to
// Playback afterwards to build a replay-based test.
type Record struct {
	sync.Mutex
	Bus i2c.Bus // Bus can be nil if only writes are being recorded.
	Ops []IO
}

func (r *Record) String() string {
	return "record"
}

// Tx implements i2c.Bus.
func (r *Record) Tx(addr uint16, w, read []byte) error {
	r.Lock()
	defer r.Unlock()
	if r.Bus == nil {
		if len(read) != 0 {
			return errors.New("i2ctest: read unsupported when no bus is connected")
		}
	} else if err := r.Bus.Tx(addr, w, read); err != nil {
		return err
	}
	io := IO{Addr: addr, Write: append([]byte(nil), w...)}
	if len(read) != 0 {
		io.Read = append([]byte(nil), read...)
	}
	r.Ops = append(r.Ops, io)
	return nil
}

// Speed implements i2c.Bus.
func (r *Record) Speed(hz int64) error {
	if r.Bus != nil {
		return r.Bus.Speed(hz)
	}
	return nil
}

// Playback implements i2c.Bus and plays back a recorded I/O flow, failing
// the test the moment a transaction doesn't match what was expected.
type Playback struct {
	sync.Mutex
	Ops []IO
	// FailReads, when set, makes every transaction (read or write) whose
	// address matches FailAddr fail, simulating a NACK'd device (e.g. the
	// I²C-failure-counter test scenario of an absent tuner/clock chip).
	FailAddr  uint16
	FailReads bool
}

func (p *Playback) String() string {
	return "playback"
}

// Close implements i2c.BusCloser; it fails the test if operations remain
// unconsumed, catching a test that under-specifies expected I/O.
func (p *Playback) Close() error {
	p.Lock()
	defer p.Unlock()
	if len(p.Ops) != 0 {
		return fmt.Errorf("i2ctest: expected playback to be empty:\n%#v", p.Ops)
	}
	return nil
}

// Tx implements i2c.Bus.
func (p *Playback) Tx(addr uint16, w, r []byte) error {
	p.Lock()
	defer p.Unlock()
	if p.FailReads && addr == p.FailAddr {
		return fmt.Errorf("i2ctest: simulated NACK from device %#x", addr)
	}
	if len(p.Ops) == 0 {
		return errors.New("i2ctest: unexpected Tx()")
	}
	if addr != p.Ops[0].Addr {
		return fmt.Errorf("i2ctest: unexpected addr %#x != %#x", addr, p.Ops[0].Addr)
	}
	if !bytes.Equal(p.Ops[0].Write, w) {
		return fmt.Errorf("i2ctest: unexpected write %#v != %#v", w, p.Ops[0].Write)
	}
	if len(p.Ops[0].Read) != len(r) {
		return fmt.Errorf("i2ctest: unexpected read buffer length %d != %d", len(r), len(p.Ops[0].Read))
	}
	copy(r, p.Ops[0].Read)
	p.Ops = p.Ops[1:]
	return nil
}

// Speed implements i2c.Bus.
func (p *Playback) Speed(hz int64) error {
	return nil
}

var _ i2c.Bus = &Record{}
var _ i2c.Bus = &Playback{}
