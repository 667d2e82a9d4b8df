// ABOUTME: Correlation table mapping request echoes to waiting callers
// ABOUTME: Resolves responses, expires stale entries and fails everything on teardown

package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/2389/onebot-gateway/internal/protocol"
)

// PendingEntry is a request that has been handed to the writer and awaits a response.
type PendingEntry struct {
	Echo      string
	CreatedAt time.Time
	done      chan<- *protocol.Response
}

// Table tracks pending requests for one session. Whoever removes an entry is
// the only party allowed to complete it, so each caller is completed at most once.
type Table struct {
	pending map[string]*PendingEntry
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewTable creates an empty correlation table.
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		pending: make(map[string]*PendingEntry),
		logger:  logger,
	}
}

// Insert registers a pending request. It returns false if the echo is already pending.
func (t *Table) Insert(echo string, createdAt time.Time, done chan<- *protocol.Response) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[echo]; exists {
		return false
	}
	t.pending[echo] = &PendingEntry{Echo: echo, CreatedAt: createdAt, done: done}
	return true
}

// Resolve removes the entry matching the response's echo and completes it.
// If no matching request is found, the response is logged and discarded.
func (t *Table) Resolve(resp *protocol.Response) bool {
	echo := resp.EchoText()
	entry, ok := t.remove(echo)
	if !ok {
		t.logger.Warn("received response for unknown echo",
			"echo", echo,
			"status", resp.Status,
			"retcode", resp.Retcode,
		)
		return false
	}

	t.logger.Debug("request resolved", "echo", echo, "retcode", resp.Retcode)
	complete(entry.done, resp)
	return true
}

// Expire completes every entry older than maxAge with a timeout response.
// Keys are collected under the read lock; each entry is then removed and
// completed individually so no lock is held during delivery.
func (t *Table) Expire(now time.Time, maxAge time.Duration) int {
	t.mu.RLock()
	var expired []string
	for echo, entry := range t.pending {
		if now.Sub(entry.CreatedAt) > maxAge {
			expired = append(expired, echo)
		}
	}
	t.mu.RUnlock()

	n := 0
	for _, echo := range expired {
		entry, ok := t.remove(echo)
		if !ok {
			// resolved between the scan and the removal
			continue
		}
		t.logger.Warn("request expired and removed", "echo", echo, "age", now.Sub(entry.CreatedAt))
		complete(entry.done, protocol.TimeoutResponse(echo))
		n++
	}
	return n
}

// FailAll removes every entry and completes it with the response built by fail.
func (t *Table) FailAll(fail func(echo string) *protocol.Response) int {
	t.mu.Lock()
	entries := t.pending
	t.pending = make(map[string]*PendingEntry)
	t.mu.Unlock()

	for echo, entry := range entries {
		complete(entry.done, fail(echo))
	}
	return len(entries)
}

// Len returns the number of pending requests.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pending)
}

// Contains reports whether echo is pending.
func (t *Table) Contains(echo string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.pending[echo]
	return ok
}

func (t *Table) remove(echo string) (*PendingEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.pending[echo]
	if ok {
		delete(t.pending, echo)
	}
	return entry, ok
}

// complete delivers resp without blocking; completion channels have capacity 1
// and are written by exactly one remover.
func complete(done chan<- *protocol.Response, resp *protocol.Response) {
	select {
	case done <- resp:
	default:
	}
}
