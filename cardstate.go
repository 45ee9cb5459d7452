package iwldvm

import (
	"fmt"
	"sync"
)

// CardFlags is the disable bitmask of CARD_STATE_NOTIFICATION.
type CardFlags uint32

const (
	CardHWDisabled   CardFlags = 0x01
	CardSWDisabled   CardFlags = 0x02
	CardCTDisabled   CardFlags = 0x04
	CardRxonDisabled CardFlags = 0x10
)

func (f CardFlags) HW() bool   { return f&CardHWDisabled != 0 }
func (f CardFlags) SW() bool   { return f&CardSWDisabled != 0 }
func (f CardFlags) CT() bool   { return f&CardCTDisabled != 0 }
func (f CardFlags) Rxon() bool { return f&CardRxonDisabled != 0 }

func (f CardFlags) String() string {
	onOff := func(b bool, on, off string) string {
		if b {
			return on
		}
		return off
	}
	return fmt.Sprintf("HW:%s SW:%s CT:%s",
		onOff(f.HW(), "Kill", "On"), onOff(f.SW(), "Kill", "On"), onOff(f.CT(), "Reached", "Not reached"))
}

// Command-blocked marker registers.
const (
	csrBase               = 0x000
	hbusBase              = 0x400
	CSRUcodeDrvGP1        = csrBase + 0x054
	CSRUcodeDrvGP1Set     = csrBase + 0x058
	CSRUcodeDrvGP1Clr     = csrBase + 0x05c
	CSRGP1BitCmdBlocked   = 0x00000004
	HbusTargMbxC          = hbusBase + 0x030
	HbusMbxCBitCmdBlocked = 0x00000004
)

// CardState is the last card state reported by the firmware.
type CardState struct {
	Flags          CardFlags
	HardwareRFKill bool
	// CSRBlocked and MailboxBlocked mirror the command-blocked markers as
	// last written.
	CSRBlocked     bool
	MailboxBlocked bool
	Updates        uint32
}

// CardStateTracker turns card state notifications into rf-kill state and
// command blocking.
type CardStateTracker struct {
	mu       sync.Mutex
	state    CardState
	bus      RegisterBus
	status   *Status
	scanner  Scanner
	onRFKill func(bool)
}

// NewCardStateTracker returns a tracker writing markers through bus.
func NewCardStateTracker(bus RegisterBus, status *Status, scanner Scanner, onRFKill func(bool)) *CardStateTracker {
	if scanner == nil {
		scanner = nopScanner{}
	}
	return &CardStateTracker{bus: bus, status: status, scanner: scanner, onRFKill: onRFKill}
}

func (t *CardStateTracker) write(direct bool, addr, val uint32) {
	if t.bus == nil {
		return
	}
	var err error
	if direct {
		err = t.bus.WriteDirect32(addr, val)
	} else {
		err = t.bus.Write32(addr, val)
	}
	if err != nil {
		globalLogger.Error(fmt.Sprintf("register write 0x%03x failed: %v", addr, err))
	}
}

// OnCardState applies a card state notification.
func (t *CardStateTracker) OnCardState(flags CardFlags) {
	globalLogger.Debug("Card state received: " + flags.String())

	t.mu.Lock()
	if flags&(CardSWDisabled|CardHWDisabled|CardCTDisabled) != 0 {
		t.write(false, CSRUcodeDrvGP1Set, CSRGP1BitCmdBlocked)
		t.write(true, HbusTargMbxC, HbusMbxCBitCmdBlocked)
		t.state.CSRBlocked, t.state.MailboxBlocked = true, true

		// Only a full rxon-level disable keeps commands blocked.
		if !flags.Rxon() {
			t.write(false, CSRUcodeDrvGP1Clr, CSRGP1BitCmdBlocked)
			t.write(true, HbusTargMbxC, 0)
			t.state.CSRBlocked, t.state.MailboxBlocked = false, false
		}
	}

	wasKilled := t.state.HardwareRFKill
	t.state.Flags = flags
	t.state.HardwareRFKill = flags.HW()
	t.state.Updates++
	t.mu.Unlock()

	t.status.Assign(StatusRFKillHW, flags.HW())

	if !flags.Rxon() {
		t.scanner.CancelScan()
	}
	if wasKilled != flags.HW() && t.onRFKill != nil {
		t.onRFKill(flags.HW())
	}
}

// State returns the last applied card state.
// This method is concurrent safe.
func (t *CardStateTracker) State() CardState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
