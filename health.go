package iwldvm

import (
	"fmt"
	"sync"
	"time"
)

const (
	// PLCPThresholdDisabled turns the PLCP health check off.
	PLCPThresholdDisabled = 0
	DefaultPLCPThreshold  = 50
	MaxPLCPThreshold      = 255
	// DefaultRFResetInterval is the minimum spacing of internal resets.
	DefaultRFResetInterval = 3 * time.Second
)

type PLCPCounters struct {
	OFDM uint32
	HT   uint32
}

// HealthMonitor watches the PLCP error rate and asks for a radio reset when
// it exceeds the configured threshold.
type HealthMonitor struct {
	threshold int
	reset     *RFResetLimiter
}

// NewHealthMonitor returns a monitor with the given threshold in errors per
// 100 ms; PLCPThresholdDisabled turns the check off.
func NewHealthMonitor(threshold int, reset *RFResetLimiter) *HealthMonitor {
	return &HealthMonitor{threshold: threshold, reset: reset}
}

// PLCPHealthy reports whether the PLCP error rate between prev and cur over
// elapsed stays within the threshold.
func (h *HealthMonitor) PLCPHealthy(cur, prev PLCPCounters, elapsed time.Duration) bool {
	if h.threshold == PLCPThresholdDisabled {
		globalLogger.Debug("plcp_err check disabled")
		return true
	}

	delta := int64(cur.OFDM) - int64(prev.OFDM) + int64(cur.HT) - int64(prev.HT)
	// Negative when the firmware reset its counters.
	if delta <= 0 {
		return true
	}

	msecs := elapsed.Milliseconds()
	if msecs <= 0 {
		return true
	}
	if delta*100/msecs > int64(h.threshold) {
		globalLogger.Debug(fmt.Sprintf("plcp health threshold %d delta %d msecs %d", h.threshold, delta, msecs))
		return false
	}
	return true
}

// Evaluate checks PLCP health and requests an internal reset when it is bad.
func (h *HealthMonitor) Evaluate(cur, prev PLCPCounters, elapsed time.Duration) bool {
	if h.PLCPHealthy(cur, prev, elapsed) {
		return true
	}
	if h.reset != nil {
		if err := h.reset.Request(false); err != nil {
			globalLogger.Debug(fmt.Sprintf("rf reset not performed: %v", err))
		}
	}
	return false
}

// RFResetStats are the counters of the reset limiter.
type RFResetStats struct {
	Requested uint32
	Rejected  uint32
	Succeeded uint32
	LastReset time.Time
}

// RFResetLimiter forces a radio retune through a short internal scan and
// spaces internally triggered resets at least Interval apart.
type RFResetLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	stats    RFResetStats
	status   *Status
	scanner  Scanner
	now      func() time.Time
}

// NewRFResetLimiter returns a limiter; interval 0 selects DefaultRFResetInterval.
func NewRFResetLimiter(interval time.Duration, status *Status, scanner Scanner) *RFResetLimiter {
	if interval == 0 {
		interval = DefaultRFResetInterval
	}
	if scanner == nil {
		scanner = nopScanner{}
	}
	return &RFResetLimiter{
		interval: interval,
		status:   status,
		scanner:  scanner,
		now:      time.Now,
	}
}

// Request asks for a radio reset. external requests come from the user and
// bypass the rate limit.
// This method is concurrent safe.
func (r *RFResetLimiter) Request(external bool) error {
	if r.status.ExitPending() {
		return fmt.Errorf("%w: %w", ErrPkg, ErrExitPending)
	}
	if !r.status.Associated() {
		globalLogger.Debug("force reset rejected: not associated")
		return fmt.Errorf("%w: %w", ErrPkg, ErrNotAssociated)
	}

	r.mu.Lock()
	now := r.now()
	r.stats.Requested++
	if !external && !r.stats.LastReset.IsZero() && now.Before(r.stats.LastReset.Add(r.interval)) {
		r.stats.Rejected++
		r.mu.Unlock()
		globalLogger.Info("RF reset rejected")
		return fmt.Errorf("%w: %w", ErrPkg, ErrRateLimited)
	}
	r.stats.Succeeded++
	r.stats.LastReset = now
	r.mu.Unlock()

	// Retuning through a single-channel scan is the only way to reset the radio.
	globalLogger.Info("perform radio reset")
	if err := r.scanner.ShortScan(); err != nil {
		globalLogger.Warn(fmt.Sprintf("internal short scan failed: %v", err))
	}
	return nil
}

// Stats returns a copy of the reset counters.
// This method is concurrent safe.
func (r *RFResetLimiter) Stats() RFResetStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
