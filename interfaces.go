package iwldvm

// Level represents the logical level of a pin (Low or High).
type Level bool

const (
	Low  Level = false
	High Level = true
)

// Pull represents the internal pull-up/down resistor state.
type Pull uint8

const (
	PullNoChange Pull = iota
	PullFloat
	PullDown
	PullUp
)

// Edge represents the signal edge to trigger an interrupt.
type Edge uint8

const (
	NoEdge Edge = iota
	RisingEdge
	FallingEdge
	BothEdges
)

// SPI represents a generic SPI connection.
type SPI interface {
	// Tx sends w and reads into r.
	// len(r) must be >= len(w).
	Tx(w, r []byte) error
}

// Pin represents the interrupt line of the card.
type Pin interface {
	// In sets the pin as input with the given pull mode.
	In(pull Pull) error
	// Read returns the current level of the pin.
	Read() Level
	// Watch configures an interrupt/callback on the specified edge.
	// The handler should be called when the edge is detected.
	Watch(edge Edge, handler func()) error
	// Unwatch removes the interrupt/callback.
	Unwatch() error
}

// RegisterBus gives access to the device registers.
type RegisterBus interface {
	// Write32 writes a CSR register.
	Write32(addr, val uint32) error
	// WriteDirect32 writes a peripheral register through the host bus target window.
	WriteDirect32(addr, val uint32) error
}

// RxSource delivers raw notifications from the receive queue.
type RxSource interface {
	// Receive returns the next raw notification buffer, including the
	// len_n_flags word, or nil when the queue is empty.
	Receive() ([]byte, error)
}

// CommandSender submits host commands to the firmware.
type CommandSender interface {
	SendCommand(id CommandID, payload []byte) error
}

// Scanner is the scan-management collaborator.
type Scanner interface {
	// ShortScan schedules an internal single-channel scan.
	ShortScan() error
	// CancelScan aborts any scan in flight.
	CancelScan()
}

// FrameSink receives accepted 802.11 frames.
// The frame slice is owned by the sink.
type FrameSink interface {
	Deliver(frame []byte, status RxStatus)
}

// TemperatureFunc is called when the firmware reports a new temperature
// or the HT40 mode flag toggles.
type TemperatureFunc func(temperature uint32, ht40 bool)

// Hooks are optional callbacks into the rest of the driver.
type Hooks struct {
	Temperature TemperatureFunc
	// Sensitivity re-initializes receiver sensitivity after missed beacons.
	Sensitivity func()
	// ChannelSwitched reports the outcome of a pending channel switch.
	ChannelSwitched func(ok bool, channel uint16)
	// RFKillChanged reports hardware rf-kill transitions.
	RFKillChanged func(killed bool)
}

// nopScanner is used when no scan collaborator is configured.
type nopScanner struct{}

func (nopScanner) ShortScan() error { return nil }
func (nopScanner) CancelScan()      {}
