// Package linuxi2c implements conn/i2c.Bus over a Linux /dev/i2c-N character
// device, for running this control plane's logic against a real Si5351 on a
// Linux host (e.g. a dev board bring-up box) instead of the FX3's own I²C
// block.
package linuxi2c

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ringof/sddc-fx3/conn/i2c"
)

// Bus is an open I²C bus via its Linux sysfs/devfs interface, as described
// at https://www.kernel.org/doc/Documentation/i2c/dev-interface.
type Bus struct {
	f   *os.File
	num int
	mu  sync.Mutex
}

// Open opens /dev/i2c-<busNumber>.
func Open(busNumber int) (*Bus, error) {
	f, err := os.OpenFile(fmt.Sprintf("/dev/i2c-%d", busNumber), os.O_RDWR, os.ModeExclusive)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("linuxi2c: bus #%d is not present: %w", busNumber, err)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("linuxi2c: access to bus #%d is denied: %w", busNumber, err)
		}
		return nil, err
	}
	return &Bus{f: f, num: busNumber}, nil
}

func (b *Bus) String() string { return fmt.Sprintf("linuxi2c.Bus%d", b.num) }

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.f.Close()
}

// i2cMsg mirrors struct i2c_msg from <linux/i2c.h>.
type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

const flagRD = 0x0001

// i2cRdwrData mirrors struct i2c_rdwr_ioctl_data.
type i2cRdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

const ioctlRdwr = 0x0707

// Tx implements i2c.Bus.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	if len(w) == 0 && len(r) == 0 {
		return nil
	}
	var buf [2]i2cMsg
	msgs := buf[:0]
	if len(w) != 0 {
		msgs = buf[:1]
		buf[0] = i2cMsg{addr: addr, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))}
	}
	if len(r) != 0 {
		l := len(msgs)
		msgs = msgs[:l+1]
		buf[l] = i2cMsg{addr: addr, flags: flagRD, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))}
	}
	data := i2cRdwrData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(len(msgs))}

	b.mu.Lock()
	defer b.mu.Unlock()
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.f.Fd(), ioctlRdwr, uintptr(unsafe.Pointer(&data)))
	if errno != 0 {
		return fmt.Errorf("linuxi2c: ioctl: %w", errno)
	}
	return nil
}

// Speed implements i2c.Bus. The kernel doesn't expose a generic ioctl to
// change the bus clock; that's done via the driver-specific module
// parameters or devicetree, outside this process's control.
func (b *Bus) Speed(hz int64) error {
	return fmt.Errorf("linuxi2c: bus speed is fixed by the kernel driver, can't set %d Hz", hz)
}

var _ i2c.BusCloser = (*Bus)(nil)
