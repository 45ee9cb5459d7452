package iwldvm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPLCPHealthy(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		cur, prev PLCPCounters
		elapsed   time.Duration
		want      bool
	}{
		{"below threshold", 50, PLCPCounters{OFDM: 40}, PLCPCounters{}, 100 * time.Millisecond, true},
		{"at threshold", 50, PLCPCounters{OFDM: 30, HT: 20}, PLCPCounters{}, 100 * time.Millisecond, true},
		{"above threshold", 50, PLCPCounters{OFDM: 30, HT: 21}, PLCPCounters{}, 100 * time.Millisecond, false},
		{"rate scales with time", 50, PLCPCounters{OFDM: 100}, PLCPCounters{}, time.Second, true},
		{"disabled", PLCPThresholdDisabled, PLCPCounters{OFDM: 1 << 20}, PLCPCounters{}, 100 * time.Millisecond, true},
		{"counters went backwards", 1, PLCPCounters{OFDM: 5}, PLCPCounters{OFDM: 500}, 100 * time.Millisecond, true},
		{"no change", 1, PLCPCounters{OFDM: 5, HT: 5}, PLCPCounters{OFDM: 5, HT: 5}, 100 * time.Millisecond, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthMonitor(tt.threshold, nil)
			assert.Equal(t, tt.want, h.PLCPHealthy(tt.cur, tt.prev, tt.elapsed))
		})
	}
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newTestLimiter(status *Status) (*RFResetLimiter, *mockScanner, *fakeClock) {
	scanner := &mockScanner{}
	clock := &fakeClock{t: time.Unix(5000, 0)}
	r := NewRFResetLimiter(0, status, scanner)
	r.now = clock.now
	return r, scanner, clock
}

func TestRFResetRateLimit(t *testing.T) {
	status := &Status{}
	status.Set(StatusAssociated)
	r, scanner, clock := newTestLimiter(status)

	require.NoError(t, r.Request(false))
	clock.t = clock.t.Add(time.Second)
	assert.ErrorIs(t, r.Request(false), ErrRateLimited)
	clock.t = clock.t.Add(2 * time.Second)
	assert.NoError(t, r.Request(false))

	s := r.Stats()
	assert.Equal(t, uint32(3), s.Requested)
	assert.Equal(t, uint32(1), s.Rejected)
	assert.Equal(t, uint32(2), s.Succeeded)
	assert.Equal(t, clock.t, s.LastReset)
	short, _ := scanner.counts()
	assert.Equal(t, 2, short)
}

func TestRFResetExternalBypassesRateLimit(t *testing.T) {
	status := &Status{}
	status.Set(StatusAssociated)
	r, scanner, _ := newTestLimiter(status)

	require.NoError(t, r.Request(false))
	require.NoError(t, r.Request(true))
	short, _ := scanner.counts()
	assert.Equal(t, 2, short)
	assert.Equal(t, uint32(0), r.Stats().Rejected)
}

func TestRFResetNotAssociatedLeavesStateUntouched(t *testing.T) {
	status := &Status{}
	r, scanner, _ := newTestLimiter(status)

	err := r.Request(false)
	assert.ErrorIs(t, err, ErrNotAssociated)
	err = r.Request(true)
	assert.ErrorIs(t, err, ErrNotAssociated)

	assert.Equal(t, RFResetStats{}, r.Stats())
	short, _ := scanner.counts()
	assert.Equal(t, 0, short)
}

func TestRFResetExitPending(t *testing.T) {
	status := &Status{}
	status.Set(StatusAssociated)
	status.Set(StatusExitPending)
	r, _, _ := newTestLimiter(status)

	assert.ErrorIs(t, r.Request(true), ErrExitPending)
	assert.Equal(t, uint32(0), r.Stats().Requested)
}

func TestHealthEvaluateRequestsReset(t *testing.T) {
	status := &Status{}
	status.Set(StatusAssociated)
	r, scanner, _ := newTestLimiter(status)
	h := NewHealthMonitor(10, r)

	assert.False(t, h.Evaluate(PLCPCounters{OFDM: 500}, PLCPCounters{}, 100*time.Millisecond))
	assert.True(t, h.Evaluate(PLCPCounters{OFDM: 5}, PLCPCounters{}, 100*time.Millisecond))
	short, _ := scanner.counts()
	assert.Equal(t, 1, short)
}
