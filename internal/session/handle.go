// ABOUTME: Command-submission handle shared by applications across reconnects
// ABOUTME: Queues correlated requests on the live session and waits for their completion

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/onebot-gateway/internal/protocol"
)

// ErrNotConnected is returned when Submit finds no session attached (before
// the first handshake, or between a teardown and the next successful connect).
var ErrNotConnected = errors.New("onebot: not connected")

// Outbound is a queued request together with its completion channel.
type Outbound struct {
	Request   protocol.Request
	CreatedAt time.Time
	done      chan *protocol.Response
}

func (o *Outbound) complete(resp *protocol.Response) {
	complete(o.done, resp)
}

// link is the part of a live session visible to submitters.
type link struct {
	queue chan *Outbound
	done  chan struct{}
}

func newLink(queueSize int) *link {
	return &link{
		queue: make(chan *Outbound, queueSize),
		done:  make(chan struct{}),
	}
}

// Handle submits commands to whichever session is currently live. It is
// created once and handed to every application; the supervisor attaches a
// new session to it on each reconnect.
type Handle struct {
	current   atomic.Pointer[link]
	lastFrame atomic.Int64
	logger    *slog.Logger
}

// NewHandle creates a detached handle.
func NewHandle(logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{logger: logger}
}

// Submit sends action with params and waits for its response. Timeouts and
// lost connections are reported as synthetic responses, not errors; errors
// are returned only when no session was attached or ctx ended first.
func (h *Handle) Submit(ctx context.Context, action string, params any) (*protocol.Response, error) {
	l := h.current.Load()
	if l == nil {
		return nil, ErrNotConnected
	}

	out := &Outbound{
		Request:   protocol.Request{Action: action, Params: params, Echo: uuid.New().String()},
		CreatedAt: time.Now(),
		done:      make(chan *protocol.Response, 1),
	}

	// Bounded queue: blocks producers while the writer is behind. A session
	// that dies while we wait completes us like any other lost request.
	select {
	case l.queue <- out:
	case <-l.done:
		return protocol.ConnectionLostResponse(out.Request.Echo), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h.logger.Debug("request queued", "action", action, "echo", out.Request.Echo)

	select {
	case resp := <-out.done:
		return resp, nil
	case <-l.done:
		// Teardown fails table entries before closing done, so anything
		// still missing never reached the table.
		select {
		case resp := <-out.done:
			return resp, nil
		default:
			return protocol.ConnectionLostResponse(out.Request.Echo), nil
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connected reports whether a session is attached.
func (h *Handle) Connected() bool {
	return h.current.Load() != nil
}

// LastFrameAt returns when the last inbound frame was read, or the zero time.
func (h *Handle) LastFrameAt() time.Time {
	ns := h.lastFrame.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (h *Handle) markFrame(t time.Time) {
	h.lastFrame.Store(t.UnixNano())
}

func (h *Handle) attach(l *link) {
	h.current.Store(l)
}

// detach clears the handle only if l is still the current session.
func (h *Handle) detach(l *link) {
	h.current.CompareAndSwap(l, nil)
}
