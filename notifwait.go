package iwldvm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MaxWaitCommands bounds the number of command ids one wait entry may match.
const MaxWaitCommands = 5

// MatchFunc decides whether a packet completes a wait. It runs on the
// dispatch goroutine with the waiter lock held and must not block.
type MatchFunc func(pkt *Packet) bool

// WaitEntry is one pending synchronous wait.
type WaitEntry struct {
	cmds    []CommandID
	match   MatchFunc
	result  *Packet
	done    chan struct{}
	aborted bool
	retired bool
}

// Waiter correlates commands with the notifications that answer them.
type Waiter struct {
	mu      sync.Mutex
	entries []*WaitEntry
}

// NewWaiter returns an empty waiter registry.
func NewWaiter() *Waiter {
	return &Waiter{}
}

// Add registers interest in the given command ids. It must be called before
// the command that triggers the reply is sent.
// This method is concurrent safe.
func (w *Waiter) Add(cmds []CommandID, match MatchFunc) *WaitEntry {
	if len(cmds) > MaxWaitCommands {
		cmds = cmds[:MaxWaitCommands]
	}
	e := &WaitEntry{
		cmds:  append([]CommandID(nil), cmds...),
		match: match,
		done:  make(chan struct{}),
	}
	w.mu.Lock()
	w.entries = append(w.entries, e)
	w.mu.Unlock()
	return e
}

// Notify offers a packet to every pending entry. It never blocks.
// This method is concurrent safe.
func (w *Waiter) Notify(pkt *Packet) {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.entries[:0]
	for _, e := range w.entries {
		if e.accepts(pkt) {
			e.result = pkt.Clone()
			e.retired = true
			close(e.done)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(w.entries); i++ {
		w.entries[i] = nil
	}
	w.entries = kept
}

func (e *WaitEntry) accepts(pkt *Packet) bool {
	for _, c := range e.cmds {
		if c != pkt.Cmd {
			continue
		}
		return e.match == nil || e.match(pkt)
	}
	return false
}

// Wait blocks until e is matched, the timeout expires, the context is
// cancelled or the waiter is aborted.
// This method is concurrent safe.
func (w *Waiter) Wait(ctx context.Context, e *WaitEntry, timeout time.Duration) (*Packet, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var cause error
	select {
	case <-e.done:
	case <-timer.C:
		cause = ErrTimeout
	case <-ctx.Done():
		cause = ctx.Err()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if e.retired {
		// Matched or aborted before the timeout path took the lock.
		if e.aborted {
			return nil, fmt.Errorf("%w: %w", ErrPkg, ErrAborted)
		}
		return e.result, nil
	}
	w.removeLocked(e)
	return nil, fmt.Errorf("%w: %w", ErrPkg, cause)
}

// Remove drops e without waiting, e.g. when sending the command failed.
// This method is concurrent safe.
func (w *Waiter) Remove(e *WaitEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !e.retired {
		w.removeLocked(e)
	}
}

// Abort fails every pending wait with ErrAborted.
// This method is concurrent safe.
func (w *Waiter) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.entries {
		e.aborted = true
		e.retired = true
		close(e.done)
	}
	w.entries = nil
}

// Pending returns the number of registered entries.
func (w *Waiter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

func (w *Waiter) removeLocked(e *WaitEntry) {
	for i, x := range w.entries {
		if x == e {
			w.entries = append(w.entries[:i], w.entries[i+1:]...)
			e.retired = true
			return
		}
	}
}
