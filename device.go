package iwldvm

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Handler processes one notification type on the dispatch goroutine.
// The packet is only valid for the duration of the call.
type Handler interface {
	Handle(pkt *Packet)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(pkt *Packet)

func (f HandlerFunc) Handle(pkt *Packet) { f(pkt) }

// HardwareConfig wires the device to its collaborators.
type HardwareConfig struct {
	DeviceConfig
	// Bus carries the command-blocked register writes. Optional.
	Bus RegisterBus
	// Source is the receive queue read by Run. Optional when Dispatch is
	// driven externally.
	Source RxSource
	// Commands submits host commands for IssueCommand. Optional.
	Commands CommandSender
	// IRQ is the interrupt line. Optional. If not provided, Run polls.
	IRQ Pin
	// Scanner schedules and cancels scans. Optional.
	Scanner Scanner
	// Frames receives accepted frames. Optional.
	Frames FrameSink
	Hooks  Hooks
}

// Device owns the per-card notification state. Dispatch must be called from
// a single goroutine per receive queue; every other method is concurrent safe.
type Device struct {
	config   HardwareConfig
	status   Status
	waiter   *Waiter
	phy      PhyCache
	stats    *StatsAggregator
	health   *HealthMonitor
	rfReset  *RFResetLimiter
	card     *CardStateTracker
	handlers map[CommandID]Handler
	irqChan  chan struct{}
	closer   io.Closer

	// Fields below are guarded by mu.
	mu               sync.Mutex
	handlerStats     map[CommandID]uint64
	unhandled        uint64
	dropped          uint64
	delivered        uint64
	beaconTime       uint32
	ibssManager      uint32
	noa              []byte
	switchChannel    uint16
	measureReport    []byte
	lastMissedBeacon MissedBeacons
}

// NewWithHardware creates a device bound to the provided collaborators.
func NewWithHardware(c HardwareConfig) (*Device, error) {
	if err := c.DeviceConfig.applyDefaults(); err != nil {
		return nil, err
	}
	if c.Scanner == nil {
		c.Scanner = nopScanner{}
	}

	d := &Device{
		config:       c,
		waiter:       NewWaiter(),
		handlerStats: make(map[CommandID]uint64),
	}
	d.rfReset = NewRFResetLimiter(c.RFResetInterval, &d.status, c.Scanner)
	d.health = NewHealthMonitor(c.Threshold(), d.rfReset)
	d.stats = NewStatsAggregator(&d.status, d.health, c.Hooks.Temperature)
	d.card = NewCardStateTracker(c.Bus, &d.status, c.Scanner, c.Hooks.RFKillChanged)
	d.setupHandlers()

	if c.IRQ != nil {
		if err := c.IRQ.In(PullUp); err != nil {
			return nil, fmt.Errorf("failed to configure IRQ pin: %w", err)
		}
		d.irqChan = make(chan struct{}, 1)
		err := c.IRQ.Watch(FallingEdge, func() {
			select {
			case d.irqChan <- struct{}{}:
			default:
				// Already pending
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to watch IRQ pin: %w", err)
		}
	}

	globalLogger.Info(fmt.Sprintf("notification path ready (plcp threshold %d, rf reset interval %s)",
		c.Threshold(), c.RFResetInterval))
	return d, nil
}

func (d *Device) String() string {
	return fmt.Sprintf("iwldvm(status=%s, plcpThreshold=%d, swCrypto=%v, pendingWaits=%d)",
		&d.status, d.config.Threshold(), d.config.SoftwareCrypto, d.waiter.Pending())
}

// Handle installs h for cmd, replacing any previous handler. A nil h
// removes the mapping. It must not race with Dispatch.
func (d *Device) Handle(cmd CommandID, h Handler) {
	if h == nil {
		delete(d.handlers, cmd)
		return
	}
	d.handlers[cmd] = h
}

// Dispatch processes one raw notification. It never blocks and never fails;
// malformed input is logged and dropped.
func (d *Device) Dispatch(raw []byte) {
	pkt, err := ParsePacket(raw)
	if err != nil {
		globalLogger.Warn(fmt.Sprintf("dropping notification: %v", err))
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		return
	}

	// Waiters see the packet before any handler can consume it.
	d.waiter.Notify(pkt)

	h, ok := d.handlers[pkt.Cmd]
	d.mu.Lock()
	if ok {
		d.handlerStats[pkt.Cmd]++
	} else {
		d.unhandled++
	}
	d.mu.Unlock()

	if !ok {
		if debugEnabled() {
			globalLogger.Debug(fmt.Sprintf("No handler needed for %s, 0x%02x", pkt.Cmd, uint8(pkt.Cmd)))
		}
		return
	}
	h.Handle(pkt)
}

// WaitSpec describes the reply IssueCommand waits for.
type WaitSpec struct {
	// Cmds lists the notification ids that may answer. Empty means the
	// reply carries the command's own id.
	Cmds  []CommandID
	Match MatchFunc
	// Timeout defaults to DeviceConfig.CommandTimeout.
	Timeout time.Duration
}

// IssueCommand sends a host command and blocks until a matching
// notification arrives or the wait times out.
// This method is concurrent safe.
func (d *Device) IssueCommand(ctx context.Context, id CommandID, payload []byte, spec WaitSpec) (*Packet, error) {
	if d.status.ExitPending() {
		return nil, fmt.Errorf("%w: %w", ErrPkg, ErrExitPending)
	}
	if d.config.Commands == nil {
		return nil, fmt.Errorf("%w: no command transport configured", ErrPkg)
	}
	cmds := spec.Cmds
	if len(cmds) == 0 {
		cmds = []CommandID{id}
	}
	timeout := spec.Timeout
	if timeout == 0 {
		timeout = d.config.CommandTimeout
	}

	entry := d.waiter.Add(cmds, spec.Match)
	if err := d.config.Commands.SendCommand(id, payload); err != nil {
		d.waiter.Remove(entry)
		return nil, fmt.Errorf("failed to send %s: %w", id, err)
	}
	pkt, err := d.waiter.Wait(ctx, entry, timeout)
	if err != nil {
		return nil, fmt.Errorf("waiting for reply to %s: %w", id, err)
	}
	return pkt, nil
}

// Waiter exposes the notification waiter for callers that send commands
// through their own path.
func (d *Device) Waiter() *Waiter { return d.waiter }

// Status returns the shared status word.
func (d *Device) Status() *Status { return &d.status }

// SetAssociated records the association state owned by the MAC layer.
func (d *Device) SetAssociated(on bool) { d.status.Assign(StatusAssociated, on) }

// SetScanning records the scan state owned by the scan collaborator.
func (d *Device) SetScanning(on bool) { d.status.Assign(StatusScanning, on) }

// Statistics returns a snapshot of the firmware statistics.
func (d *Device) Statistics() Statistics { return d.stats.Snapshot() }

// Noise returns the last noise estimate in dBm, or NoiseUnavailable.
func (d *Device) Noise() int { return d.stats.Noise() }

// CardState returns the last card state.
func (d *Device) CardState() CardState { return d.card.State() }

// RFResetStats returns the radio reset counters.
func (d *Device) RFResetStats() RFResetStats { return d.rfReset.Stats() }

// ForceRFReset requests a user-initiated radio reset, which bypasses the
// rate limit.
func (d *Device) ForceRFReset() error { return d.rfReset.Request(true) }

// DispatchStats are diagnostic counters of the dispatcher.
type DispatchStats struct {
	Handled   map[CommandID]uint64
	Unhandled uint64
	Dropped   uint64
	Delivered uint64
}

// DispatchStats returns a copy of the dispatch counters.
func (d *Device) DispatchStats() DispatchStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := DispatchStats{
		Handled:   make(map[CommandID]uint64, len(d.handlerStats)),
		Unhandled: d.unhandled,
		Dropped:   d.dropped,
		Delivered: d.delivered,
	}
	for k, v := range d.handlerStats {
		s.Handled[k] = v
	}
	return s
}

// Run reads the receive queue and dispatches every notification until the
// context is cancelled. It blocks on the IRQ line if configured, or falls
// back to polling. Run is the single dispatch goroutine for its queue.
func (d *Device) Run(ctx context.Context) error {
	if d.config.Source == nil {
		return fmt.Errorf("%w: no receive source configured", ErrPkg)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Drain everything that is already queued.
		drained := 0
		for {
			raw, err := d.config.Source.Receive()
			if err != nil {
				globalLogger.Error(fmt.Sprintf("receive failed: %v", err))
				break
			}
			if raw == nil {
				break
			}
			d.Dispatch(raw)
			drained++
		}

		if d.irqChan != nil {
			// The line is active low. An edge raised while draining is
			// coalesced, so keep going while it is still asserted.
			if drained > 0 && d.config.IRQ.Read() == Low {
				continue
			}
			select {
			case <-d.irqChan:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Close marks the device as going away, fails pending waits and releases
// the transport.
// This method is concurrent safe.
func (d *Device) Close() error {
	d.status.Set(StatusExitPending)
	d.waiter.Abort()
	d.phy.Invalidate()

	if d.config.IRQ != nil {
		d.config.IRQ.Unwatch()
	}
	if d.closer != nil {
		if err := d.closer.Close(); err != nil {
			globalLogger.Warn("Failed to close transport")
			return err
		}
	}
	globalLogger.Info("notification path closed")
	return nil
}
