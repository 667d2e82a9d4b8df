// ABOUTME: Supervised WebSocket client for the GSCore backend
// ABOUTME: Sends translated messages as binary frames and hands inbound commands to a sequential worker

package gscore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/2389/onebot-gateway/internal/fifo"
	"github.com/2389/onebot-gateway/internal/session"
)

var (
	// ErrDaemonStopped is returned by Enqueue after Run has returned.
	ErrDaemonStopped = errors.New("gscore daemon stopped")
	// ErrNoSession is returned by Enqueue while the daemon is between connections.
	ErrNoSession = errors.New("gscore not connected")
)

const logPreview = 400

// Handler executes commands received from GSCore. Calls are sequential
// within one connection.
type Handler interface {
	HandleSend(ctx context.Context, send *MessageSend)
}

// Daemon keeps a connection to GSCore alive. Each connection gets a fresh
// outbound queue, so messages enqueued while disconnected are dropped.
type Daemon struct {
	endpoint string
	dial     session.Dialer
	retry    *session.Reconnector
	handler  Handler
	logger   *slog.Logger

	mu      sync.Mutex
	outbox  *fifo.Queue[*MessageReceive]
	running atomic.Bool
	stopped atomic.Bool
}

// DaemonOption configures a Daemon.
type DaemonOption func(*Daemon)

// WithDaemonDialer replaces the WebSocket dialer.
func WithDaemonDialer(d session.Dialer) DaemonOption {
	return func(dm *Daemon) { dm.dial = d }
}

// NewDaemon creates a daemon for endpoint. Commands received from GSCore are
// passed to handler.
func NewDaemon(endpoint string, reconnectDelay time.Duration, handler Handler, logger *slog.Logger, opts ...DaemonOption) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{
		endpoint: endpoint,
		dial:     session.DialWebSocket(endpoint, "", session.DefaultReadLimit),
		retry:    session.NewReconnector(reconnectDelay),
		handler:  handler,
		logger:   logger.With("component", "gscore"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run connects and reconnects until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("gscore daemon already running")
	}
	defer d.stopped.Store(true)

	for {
		d.logger.Info("connecting to gscore", "endpoint", d.endpoint)
		conn, err := d.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Warn("gscore connection error", "error", err)
		} else {
			d.logger.Info("gscore connection established")
			if err := d.serve(ctx, conn); err != nil {
				d.logger.Error("gscore event loop error", "error", err)
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := d.retry.Wait(ctx); err != nil {
			return err
		}
		d.logger.Info("gscore reconnecting", "retry", d.retry.Retries(), "delay", d.retry.Delay)
	}
}

// Enqueue queues msg on the live connection without blocking.
func (d *Daemon) Enqueue(msg *MessageReceive) error {
	if d.stopped.Load() {
		return ErrDaemonStopped
	}
	d.mu.Lock()
	out := d.outbox
	d.mu.Unlock()
	if out == nil {
		return ErrNoSession
	}
	out.Push(msg)
	return nil
}

// Connected reports whether a GSCore connection is live.
func (d *Daemon) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outbox != nil
}

func (d *Daemon) serve(ctx context.Context, conn session.Conn) error {
	outbox := fifo.New[*MessageReceive]()
	inbox := fifo.New[*MessageSend]()

	d.mu.Lock()
	d.outbox = outbox
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.outbox = nil
		d.mu.Unlock()
		if n := outbox.Len(); n > 0 {
			d.logger.Warn("dropping undelivered gscore messages", "count", n)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return d.read(ctx, conn, inbox)
	})
	g.Go(func() error {
		defer cancel()
		return d.write(ctx, conn, outbox)
	})
	g.Go(func() error {
		defer cancel()
		for {
			send, ok := inbox.Pop(ctx)
			if !ok {
				return nil
			}
			d.handler.HandleSend(ctx, send)
		}
	})

	err := g.Wait()
	_ = conn.CloseNow()
	return err
}

func (d *Daemon) read(ctx context.Context, conn session.Conn, inbox *fifo.Queue[*MessageSend]) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				d.logger.Info("gscore connection closed")
				return nil
			}
			if errors.Is(err, io.EOF) {
				d.logger.Info("gscore stream ended")
				return nil
			}
			return fmt.Errorf("reading gscore frame: %w", err)
		}

		preview := data
		if len(preview) > logPreview {
			preview = preview[:logPreview]
		}
		d.logger.Debug("received from gscore", "bytes", len(data), "preview", string(preview))

		var send MessageSend
		if err := json.Unmarshal(data, &send); err != nil {
			d.logger.Warn("failed to parse gscore message", "error", err)
			continue
		}
		inbox.Push(&send)
	}
}

func (d *Daemon) write(ctx context.Context, conn session.Conn, outbox *fifo.Queue[*MessageReceive]) error {
	for {
		msg, ok := outbox.Pop(ctx)
		if !ok {
			return nil
		}
		data, err := json.Marshal(msg)
		if err != nil {
			d.logger.Error("failed to serialize gscore message", "msg_id", msg.MsgID, "error", err)
			continue
		}
		// GSCore expects bytes, not text frames.
		if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sending to gscore: %w", err)
		}
		d.logger.Debug("sent to gscore", "msg_id", msg.MsgID, "bytes", len(data))
	}
}
