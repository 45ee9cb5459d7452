package iwldvm

import (
	"strings"
	"sync/atomic"
)

// StatusBit names one bit of the device status word.
type StatusBit uint32

const (
	StatusAssociated StatusBit = 1 << iota
	StatusScanning
	StatusRFKillHW
	StatusStatistics
	StatusChannelSwitchPending
	StatusMeasurementReady
	StatusExitPending
)

var statusBitNames = []struct {
	bit  StatusBit
	name string
}{
	{StatusAssociated, "associated"},
	{StatusScanning, "scanning"},
	{StatusRFKillHW, "rfkill-hw"},
	{StatusStatistics, "statistics"},
	{StatusChannelSwitchPending, "chswitch-pending"},
	{StatusMeasurementReady, "measurement-ready"},
	{StatusExitPending, "exit-pending"},
}

// Status is the shared device status word. Bits are written by the
// dispatch goroutine or by the collaborator owning the state (association,
// scanning); every accessor is atomic.
type Status struct {
	bits atomic.Uint32
}

// Set sets b.
func (s *Status) Set(b StatusBit) {
	s.bits.Or(uint32(b))
}

// Clear clears b.
func (s *Status) Clear(b StatusBit) {
	s.bits.And(^uint32(b))
}

// Assign sets or clears b.
func (s *Status) Assign(b StatusBit, on bool) {
	if on {
		s.Set(b)
	} else {
		s.Clear(b)
	}
}

// Test reports whether b is set.
func (s *Status) Test(b StatusBit) bool {
	return s.bits.Load()&uint32(b) != 0
}

func (s *Status) Associated() bool  { return s.Test(StatusAssociated) }
func (s *Status) Scanning() bool    { return s.Test(StatusScanning) }
func (s *Status) RFKillHW() bool    { return s.Test(StatusRFKillHW) }
func (s *Status) ExitPending() bool { return s.Test(StatusExitPending) }

func (s *Status) String() string {
	var parts []string
	for _, n := range statusBitNames {
		if s.Test(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "idle"
	}
	return strings.Join(parts, "|")
}
