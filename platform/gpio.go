package platform

import (
	"fmt"

	"github.com/ringof/sddc-fx3/conn/gpio"
)

// RegistryGpio implements Gpio by looking pins up in the conn/gpio registry
// by name, the way a board's init() registers its physical pins once and
// every later access goes through the logical name.
type RegistryGpio struct{}

func (RegistryGpio) Configure(name string, out bool, pull gpio.Pull) error {
	pin := gpio.ByName(name)
	if pin == nil {
		return fmt.Errorf("platform: unknown GPIO pin %q", name)
	}
	if out {
		return pin.Out(gpio.Low)
	}
	return pin.In(pull)
}

func (RegistryGpio) SetPin(name string, level gpio.Level) error {
	pin := gpio.ByName(name)
	if pin == nil {
		return fmt.Errorf("platform: unknown GPIO pin %q", name)
	}
	return pin.Out(level)
}

var _ Gpio = RegistryGpio{}
