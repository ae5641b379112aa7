// Package events implements the bounded event queue, stats counters and
// console I/O rings shared across every execution context: the USB driver
// task, the application task, and the DMA/PIB interrupt-like callbacks.
package events

import (
	"sync"
	"time"

	"github.com/ringof/sddc-fx3/platform"
)

// Kind tags the 8 high bits of a queued 32-bit event word.
type Kind uint8

const (
	// KindEnumeration carries a numeric USB enumeration/link event id.
	KindEnumeration Kind = 0x00
	// KindVendorTrace carries a vendor-request trace token for diagnostics.
	KindVendorTrace Kind = 0x01
	// KindPIBError carries a 16-bit device-reported PIB error argument.
	KindPIBError Kind = 0x02
	// KindUserCommand signals a parsed console line is ready to run.
	KindUserCommand Kind = 0x03
)

// encode packs a kind and a 24-bit payload into a single tagged word.
func encode(kind Kind, payload uint32) uint32 {
	return uint32(kind)<<24 | (payload & 0x00FFFFFF)
}

// decode splits a tagged word back into its kind and payload.
func decode(word uint32) (Kind, uint32) {
	return Kind(word >> 24), word & 0x00FFFFFF
}

// Bus is the single bounded event queue every producer (the USB event
// callback, the PIB error callback, the console character accumulator)
// sends into, and the application task is the sole consumer of.
type Bus struct {
	q platform.Queue

	mu         sync.Mutex
	pibLatched bool
}

// NewBus wraps a platform.Queue as the tagged event bus.
func NewBus(q platform.Queue) *Bus {
	return &Bus{q: q}
}

// Send enqueues an event. It never blocks: a full queue drops the event,
// matching the non-blocking-send contract every producer must obey.
func (b *Bus) Send(kind Kind, payload uint32) bool {
	return b.q.Send(encode(kind, payload))
}

// Receive dequeues the next event, blocking up to timeout.
func (b *Bus) Receive(timeout time.Duration) (kind Kind, payload uint32, ok bool) {
	word, ok := b.q.Receive(timeout)
	if !ok {
		return 0, 0, false
	}
	kind, payload = decode(word)
	return kind, payload, true
}

// SendPIBError enqueues at most one PIB-error event per session via a
// one-shot latch: further faults only increment the caller's counter
// (handled by the caller) without enqueueing again until the application
// task dequeues and processes the pending one via ClearPIBLatch. This
// keeps an unthrottled fault storm from starving the application task and
// the watchdog it runs.
func (b *Bus) SendPIBError(arg uint16) (enqueued bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pibLatched {
		return false
	}
	if b.Send(KindPIBError, uint32(arg)) {
		b.pibLatched = true
		return true
	}
	return false
}

// ClearPIBLatch must be called by the application task once it has
// dequeued and processed a KindPIBError event, re-arming the one-shot
// latch for the next fault.
func (b *Bus) ClearPIBLatch() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pibLatched = false
}
