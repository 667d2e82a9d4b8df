// ABOUTME: Request/response multiplexer for one live connection
// ABOUTME: Runs reader, writer and expiry sweeper; the first to stop ends the session

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/2389/onebot-gateway/internal/protocol"
)

// Events receives decoded events and session lifecycle notifications.
type Events interface {
	// Dispatch must not block; it is called from the reader.
	Dispatch(ev *protocol.Event)
	// Load is called once, after the first successful handshake.
	Load()
}

type mux struct {
	conn   Conn
	table  *Table
	link   *link
	handle *Handle
	events Events
	logger *slog.Logger

	requestTimeout time.Duration
	sweepInterval  time.Duration
}

// run blocks until reader, writer and sweeper have all returned.
func (m *mux) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		err := m.read(ctx)
		m.logger.Info("listener task ended", "error", err)
		return err
	})
	g.Go(func() error {
		defer cancel()
		err := m.write(ctx)
		m.logger.Info("sender task ended", "error", err)
		return err
	})
	g.Go(func() error {
		defer cancel()
		m.sweep(ctx)
		m.logger.Info("sweeper task ended")
		return nil
	})

	err := g.Wait()
	_ = m.conn.CloseNow()
	return err
}

func (m *mux) read(ctx context.Context) error {
	for {
		_, data, err := m.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				m.logger.Warn("connection closed by backend")
				return nil
			}
			if errors.Is(err, io.EOF) {
				m.logger.Warn("connection stream ended")
				return nil
			}
			return fmt.Errorf("reading frame: %w", err)
		}

		m.handle.markFrame(time.Now())
		m.route(data)
	}
}

// route handles one inbound frame. Nothing here can end the session.
func (m *mux) route(data []byte) {
	m.logger.Debug("frame received", "bytes", len(data))

	frame, err := protocol.Classify(data)
	if err != nil {
		m.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	if frame.HasEcho {
		m.table.Resolve(frame.Response)
		return
	}

	ev, err := protocol.DecodeEvent(frame.Raw)
	if err != nil {
		m.logger.Warn("dropping undecodable event", "error", err)
		return
	}
	m.events.Dispatch(ev)
}

func (m *mux) write(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case out := <-m.link.queue:
			if err := m.send(ctx, out); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// send registers out in the table and then transmits it. A failed write
// leaves the entry in place; session teardown completes it.
func (m *mux) send(ctx context.Context, out *Outbound) error {
	echo := out.Request.Echo

	data, err := json.Marshal(out.Request)
	if err != nil {
		m.logger.Error("failed to serialize request", "action", out.Request.Action, "error", err)
		out.complete(protocol.LocalFailureResponse(echo, "serialize request: "+err.Error()))
		return nil
	}

	if !m.table.Insert(echo, out.CreatedAt, out.done) {
		m.logger.Error("duplicate echo, request rejected", "echo", echo)
		out.complete(protocol.LocalFailureResponse(echo, "duplicate echo"))
		return nil
	}
	m.logger.Debug("request sent", "action", out.Request.Action, "echo", echo)

	if err := m.conn.Write(ctx, websocket.MessageText, data); err != nil {
		m.logger.Error("failed to send request", "action", out.Request.Action, "echo", echo, "error", err)
		return fmt.Errorf("writing request: %w", err)
	}
	return nil
}

func (m *mux) sweep(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.table.Expire(now, m.requestTimeout); n > 0 {
				m.logger.Info("expired pending requests", "count", n, "pending", m.table.Len())
			}
		}
	}
}
