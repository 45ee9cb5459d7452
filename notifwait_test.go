package iwldvm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPacket(t *testing.T, cmd CommandID, seq uint16, payload []byte) *Packet {
	t.Helper()
	pkt, err := ParsePacket(EncodePacket(cmd, seq, payload))
	require.NoError(t, err)
	return pkt
}

func TestWaiterMatch(t *testing.T) {
	w := NewWaiter()
	e := w.Add([]CommandID{ReplyStatisticsCmd}, nil)

	pkt := mustPacket(t, ReplyStatisticsCmd, 7, []byte{1, 2, 3})
	w.Notify(pkt)
	// The waiter owns a copy.
	pkt.Payload[0] = 0xff

	got, err := w.Wait(context.Background(), e, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), got.Sequence)
	assert.Equal(t, []byte{1, 2, 3}, got.Payload)
	assert.Equal(t, 0, w.Pending())
}

func TestWaiterIgnoresOtherCommands(t *testing.T) {
	w := NewWaiter()
	e := w.Add([]CommandID{ReplyStatisticsCmd}, nil)

	w.Notify(mustPacket(t, CardStateNotification, 0, []byte{0, 0, 0, 0}))
	assert.Equal(t, 1, w.Pending())

	_, err := w.Wait(context.Background(), e, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, w.Pending())
}

func TestWaiterPredicate(t *testing.T) {
	w := NewWaiter()
	e := w.Add([]CommandID{ReplyError, ReplyStatisticsCmd}, func(pkt *Packet) bool {
		return pkt.Sequence == 2
	})

	w.Notify(mustPacket(t, ReplyStatisticsCmd, 1, nil))
	assert.Equal(t, 1, w.Pending())
	w.Notify(mustPacket(t, ReplyError, 2, nil))

	got, err := w.Wait(context.Background(), e, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ReplyError, got.Cmd)
}

func TestWaiterOnePacketWakesEveryMatchingEntry(t *testing.T) {
	w := NewWaiter()
	a := w.Add([]CommandID{CardStateNotification}, nil)
	b := w.Add([]CommandID{CardStateNotification}, nil)

	w.Notify(mustPacket(t, CardStateNotification, 0, []byte{1, 0, 0, 0}))

	for _, e := range []*WaitEntry{a, b} {
		_, err := w.Wait(context.Background(), e, time.Second)
		assert.NoError(t, err)
	}
}

func TestWaiterAbort(t *testing.T) {
	w := NewWaiter()
	e := w.Add([]CommandID{ReplyStatisticsCmd}, nil)

	var wg sync.WaitGroup
	var err error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err = w.Wait(context.Background(), e, time.Minute)
	}()
	w.Abort()
	wg.Wait()

	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, 0, w.Pending())
}

func TestWaiterContextCancel(t *testing.T) {
	w := NewWaiter()
	e := w.Add([]CommandID{ReplyStatisticsCmd}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Wait(ctx, e, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, w.Pending())
}

func TestWaiterMatchBeforeTimeoutPathWins(t *testing.T) {
	w := NewWaiter()
	e := w.Add([]CommandID{ReplyStatisticsCmd}, nil)
	w.Notify(mustPacket(t, ReplyStatisticsCmd, 0, nil))

	// A zero timeout fires at once, but the entry is already retired.
	got, err := w.Wait(context.Background(), e, 0)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestWaiterRemove(t *testing.T) {
	w := NewWaiter()
	e := w.Add([]CommandID{ReplyStatisticsCmd}, nil)
	w.Remove(e)
	assert.Equal(t, 0, w.Pending())
	// Removing twice is harmless.
	w.Remove(e)
}

func TestWaiterLimitsCommandIDs(t *testing.T) {
	w := NewWaiter()
	e := w.Add([]CommandID{1, 2, 3, 4, 5, 6}, nil)
	assert.Len(t, e.cmds, MaxWaitCommands)
}
