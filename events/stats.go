package events

import (
	"encoding/binary"
	"sync/atomic"
)

// StatsWireLen is the fixed length of the STATS vendor-request reply.
const StatsWireLen = 20

// Stats holds the free-running counters the STATS vendor request reports.
// Every field is accessed through atomic primitives rather than a mutex:
// the fields are independently written by different execution contexts
// (the DMA completion callback, the PIB error callback, the dispatcher),
// and the spec explicitly allows torn multi-field snapshots — there is no
// cross-field consistency to buy with a lock.
type Stats struct {
	dmaCompletions  uint32 // per-session; see ResetSession
	i2cFailures     uint32
	streamingFaults uint32 // EP underruns + watchdog recoveries
	pibErrorCount   uint32
	lastPIBArg      uint32 // only the low 16 bits are meaningful
}

func (s *Stats) IncDMACompletions()  { atomic.AddUint32(&s.dmaCompletions, 1) }
func (s *Stats) IncI2CFailures()     { atomic.AddUint32(&s.i2cFailures, 1) }
func (s *Stats) IncStreamingFaults() { atomic.AddUint32(&s.streamingFaults, 1) }

func (s *Stats) DMACompletions() uint32 { return atomic.LoadUint32(&s.dmaCompletions) }

func (s *Stats) RecordPIBError(arg uint16) {
	atomic.AddUint32(&s.pibErrorCount, 1)
	atomic.StoreUint32(&s.lastPIBArg, uint32(arg))
}

// ResetSession clears dma_completions, which must not carry a stale
// non-zero value into the next streaming session: a leftover count from a
// prior session would let the watchdog believe progress is being made
// before any has happened in the new one. The supervisor's own
// recovery-attempt counter is reset alongside this, in stream.Supervisor,
// for the same reason.
func (s *Stats) ResetSession() {
	atomic.StoreUint32(&s.dmaCompletions, 0)
}

// Encode renders the 20-byte little-endian STATS wire reply. clockStatus
// is the Si5351 status byte, fetched synchronously from the clock
// controller by the caller immediately before encoding, per the spec's
// requirement that it be read fresh on every STATS request rather than
// cached.
func (s *Stats) Encode(pibState uint8, clockStatus uint8) [StatsWireLen]byte {
	var out [StatsWireLen]byte
	binary.LittleEndian.PutUint32(out[0:4], atomic.LoadUint32(&s.dmaCompletions))
	out[4] = pibState
	binary.LittleEndian.PutUint32(out[5:9], atomic.LoadUint32(&s.pibErrorCount))
	binary.LittleEndian.PutUint16(out[9:11], uint16(atomic.LoadUint32(&s.lastPIBArg)))
	binary.LittleEndian.PutUint32(out[11:15], atomic.LoadUint32(&s.i2cFailures))
	binary.LittleEndian.PutUint32(out[15:19], atomic.LoadUint32(&s.streamingFaults))
	out[19] = clockStatus
	return out
}
