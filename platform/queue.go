package platform

import "time"

// ChanQueue is a Queue backed by a buffered channel, the Go equivalent of
// the firmware's fixed-depth CyU3PQueue: Send drops the word on a full
// queue instead of blocking the caller (the caller is typically an
// interrupt-like callback that must never stall), Receive blocks up to a
// deadline waiting for the next word.
type ChanQueue struct {
	c chan uint32
}

// NewChanQueue creates a queue with room for depth pending words.
func NewChanQueue(depth int) *ChanQueue {
	return &ChanQueue{c: make(chan uint32, depth)}
}

// Send implements Queue.
func (q *ChanQueue) Send(word uint32) bool {
	select {
	case q.c <- word:
		return true
	default:
		return false
	}
}

// Receive implements Queue.
func (q *ChanQueue) Receive(timeout time.Duration) (uint32, bool) {
	if timeout <= 0 {
		select {
		case w := <-q.c:
			return w, true
		default:
			return 0, false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case w := <-q.c:
		return w, true
	case <-t.C:
		return 0, false
	}
}

var _ Queue = (*ChanQueue)(nil)
