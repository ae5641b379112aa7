package events

import "testing"

func TestStatsEncodeLayout(t *testing.T) {
	var s Stats
	s.IncDMACompletions()
	s.IncDMACompletions()
	s.RecordPIBError(0x1234)
	s.IncI2CFailures()
	s.IncStreamingFaults()

	got := s.Encode(7, 0x55)

	if got[4] != 7 {
		t.Fatalf("PIB SM state at offset 4 = %d, want 7", got[4])
	}
	if got[19] != 0x55 {
		t.Fatalf("clock status at offset 19 = %#x, want 0x55", got[19])
	}
	if len(got) != StatsWireLen {
		t.Fatalf("len = %d, want %d", len(got), StatsWireLen)
	}

	dma := uint32(got[0]) | uint32(got[1])<<8 | uint32(got[2])<<16 | uint32(got[3])<<24
	if dma != 2 {
		t.Fatalf("dma_completions = %d, want 2", dma)
	}

	lastArg := uint16(got[9]) | uint16(got[10])<<8
	if lastArg != 0x1234 {
		t.Fatalf("last_pib_arg = %#x, want 0x1234", lastArg)
	}
}

func TestResetSessionClearsDMACompletionsOnly(t *testing.T) {
	var s Stats
	s.IncDMACompletions()
	s.IncI2CFailures()
	s.ResetSession()
	if s.DMACompletions() != 0 {
		t.Fatalf("DMACompletions() = %d, want 0 after ResetSession", s.DMACompletions())
	}
	got := s.Encode(0, 0)
	i2c := uint32(got[11]) | uint32(got[12])<<8 | uint32(got[13])<<16 | uint32(got[14])<<24
	if i2c != 1 {
		t.Fatalf("i2c_failures = %d, want 1 (must survive ResetSession)", i2c)
	}
}
