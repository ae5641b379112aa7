// sddcsim brings up the SDDC-FX3 control plane (clock controller, event
// bus, EP0 dispatcher, streaming supervisor) over either a real Linux I²C
// bus or an in-memory simulation of the DMA/PIB/bulk-endpoint hardware,
// and runs it until interrupted, printing STATS periodically the way a
// host-side diagnostic tool would poll the device.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ringof/sddc-fx3/clock"
	"github.com/ringof/sddc-fx3/conn/gpio"
	"github.com/ringof/sddc-fx3/conn/i2c"
	"github.com/ringof/sddc-fx3/conn/physic"
	"github.com/ringof/sddc-fx3/core"
	"github.com/ringof/sddc-fx3/events"
	"github.com/ringof/sddc-fx3/frontend"
	"github.com/ringof/sddc-fx3/platform"
	"github.com/ringof/sddc-fx3/platform/linuxi2c"
	"github.com/ringof/sddc-fx3/platform/platformtest"
	"github.com/ringof/sddc-fx3/stream"
	"github.com/ringof/sddc-fx3/usbctl"
)

// Config is the board/runtime configuration, with documented defaults the
// way host/bcm283x exposes its tunables as package-level vars.
type Config struct {
	I2CBusNumber int
	ADCClockHz   uint
	RecoveryCap  uint
	StatsPeriod  time.Duration
	HWFirmwareID usbctl.Identity
}

func defaultConfig() Config {
	return Config{
		I2CBusNumber: -1,
		ADCClockHz:   32000000,
		RecoveryCap:  0,
		StatsPeriod:  time.Second,
		HWFirmwareID: usbctl.Identity{
			FWMajor: 1,
			FWMinor: 0,
		},
	}
}

func mainImpl() error {
	cfg := defaultConfig()
	i2cBusNum := flag.Int("i2c-bus", cfg.I2CBusNumber, "Linux I²C bus number (e.g. 1 for /dev/i2c-1); -1 uses an in-memory simulation")
	adcHz := flag.Uint("adc-hz", cfg.ADCClockHz, "ADC sample clock, in Hz")
	recoveryCap := flag.Uint("watchdog-cap", cfg.RecoveryCap, "watchdog recovery cap (0 = unlimited)")
	verbose := flag.Bool("v", false, "verbose logging")
	statsPeriod := flag.Duration("stats-period", cfg.StatsPeriod, "STATS print cadence")
	flag.Parse()

	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}
	log.SetFlags(log.Lmicroseconds)

	cfg.I2CBusNumber = *i2cBusNum
	cfg.ADCClockHz = *adcHz
	cfg.RecoveryCap = *recoveryCap
	cfg.StatsPeriod = *statsPeriod

	var bus i2c.BusCloser
	if cfg.I2CBusNumber >= 0 {
		b, err := linuxi2c.Open(cfg.I2CBusNumber)
		if err != nil {
			return fmt.Errorf("sddcsim: open I²C bus: %w", err)
		}
		bus = b
		defer bus.Close()
	} else {
		bus = &simBus{}
	}

	clk := clock.New(bus)
	dma := &platformtest.Dma{}
	pib := platformtest.NewPib()
	ep := &platformtest.BulkEndpoint{}
	boardGpio := platformtest.NewGpio()
	stats := &events.Stats{}
	eventBus := events.NewBus(platform.NewChanQueue(32))
	console := events.NewConsole(eventBus)
	board := frontend.NewBoard(boardGpio)

	var tunerSense gpio.PinIO = &fixedPin{name: "TUNER_SENSE", level: gpio.High}
	if p := gpio.ByName("TUNER_SENSE"); p != nil {
		tunerSense = p
	}

	var sup *stream.Supervisor
	var dispatcher *usbctl.Dispatcher

	core.MustRegister(componentFunc{
		name: "platform",
		init: func(context.Context) error { return clk.Init() },
	})
	core.MustRegister(componentFunc{
		name: "clock",
		deps: []string{"platform"},
		init: func(context.Context) error {
			if err := clk.SetADCClock(physic.Frequency(cfg.ADCClockHz) * physic.Hertz); err != nil {
				return err
			}
			hwConfig, err := clk.DetectTuner(bus, tunerSense)
			if err != nil {
				return err
			}
			cfg.HWFirmwareID.HWConfig = byte(hwConfig)
			return nil
		},
	})
	core.MustRegister(componentFunc{
		name: "events",
		deps: []string{"platform"},
		init: func(context.Context) error { return nil },
	})
	core.MustRegister(componentFunc{
		name: "stream",
		deps: []string{"clock", "events"},
		init: func(context.Context) error {
			var err error
			sup, err = stream.New(dma, pib, ep, clk, stats, eventBus)
			if err != nil {
				return err
			}
			sup.SetRecoveryCap(uint8(cfg.RecoveryCap))
			return nil
		},
	})
	core.MustRegister(componentFunc{
		name: "usbctl",
		deps: []string{"stream"},
		init: func(context.Context) error {
			dispatcher = usbctl.New(sup, clk, bus, board, console, eventBus, stats, cfg.HWFirmwareID)
			dispatcher.SetSessionActive(true)
			return nil
		},
	})

	if _, err := core.Init(context.Background()); err != nil {
		return fmt.Errorf("sddcsim: bring-up: %w", err)
	}
	log.Printf("bring-up complete, hwconfig=%d", cfg.HWFirmwareID.HWConfig)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp := dispatcher.Handle(usbctl.Request{ReqType: usbctl.TypeVendor, Request: 0xAA, Data: make([]byte, 4)})
	if resp.Stall {
		return fmt.Errorf("sddcsim: START vendor request stalled at bring-up")
	}
	defer sup.Stop()

	ticker := time.NewTicker(cfg.StatsPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			out := dispatcher.Handle(usbctl.Request{ReqType: usbctl.TypeVendor, Request: 0xB3, Length: events.StatsWireLen})
			fmt.Printf("stats=% x state=%s\n", out.Data, sup.State())
		}
	}
}

// componentFunc adapts a plain init closure to core.Component.
type componentFunc struct {
	name string
	deps []string
	init func(ctx context.Context) error
}

func (c componentFunc) String() string                 { return c.name }
func (c componentFunc) Prerequisites() []string        { return c.deps }
func (c componentFunc) Init(ctx context.Context) error { return c.init(ctx) }

// fixedPin is a gpio.PinIO that never talks to real hardware, standing in
// for the R828D's sense line when no GPIO of that name is registered (the
// in-memory simulation path). It reports a fixed level regardless of In/Out
// calls, the same role BasicPin plays for wiring nothing up at all, except
// Read doesn't unconditionally report Low.
type fixedPin struct {
	name  string
	level gpio.Level
}

func (p *fixedPin) String() string       { return p.name }
func (p *fixedPin) Number() int          { return -1 }
func (p *fixedPin) In(gpio.Pull) error   { return nil }
func (p *fixedPin) Read() gpio.Level     { return p.level }
func (p *fixedPin) Out(gpio.Level) error { return fmt.Errorf("sddcsim: %s is read-only", p.name) }

// simBus is a minimal in-memory I²C bus standing in for the Si5351/R828D
// when no real bus is given, so the control-plane wiring can be exercised
// without hardware attached.
type simBus struct{}

func (simBus) String() string { return "sim" }
func (simBus) Tx(addr uint16, w, r []byte) error {
	if len(r) != 0 {
		r[0] = 0x00 // report PLL locked
	}
	return nil
}
func (simBus) Speed(hz int64) error { return nil }

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "sddcsim: %s.\n", err)
		os.Exit(1)
	}
}
