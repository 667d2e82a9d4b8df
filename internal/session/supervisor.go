// ABOUTME: Session supervisor that owns the primary backend connection
// ABOUTME: Dials, handshakes, runs one session at a time and reconnects on a fixed delay

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/2389/onebot-gateway/internal/protocol"
)

// Defaults applied by NewSupervisor when a Config field is zero.
const (
	DefaultQueueSize        = 100
	DefaultRequestTimeout   = 120 * time.Second
	DefaultSweepInterval    = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// ErrHandshakeRejected is returned when the backend answers the handshake
// with a non-success response.
var ErrHandshakeRejected = errors.New("handshake rejected")

// Config holds the supervisor's connection parameters.
type Config struct {
	Endpoint         string
	AccessToken      string
	QueueSize        int
	ReconnectDelay   time.Duration
	RequestTimeout   time.Duration
	SweepInterval    time.Duration
	HandshakeTimeout time.Duration
	ReadLimit        int64
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = DefaultReadLimit
	}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithDialer replaces the WebSocket dialer, mainly for tests.
func WithDialer(d Dialer) Option {
	return func(s *Supervisor) { s.dial = d }
}

// Supervisor keeps exactly one session alive against the primary backend.
type Supervisor struct {
	cfg     Config
	handle  *Handle
	events  Events
	dial    Dialer
	retry   *Reconnector
	logger  *slog.Logger
	table   atomic.Pointer[Table]
	selfID  atomic.Int64
	started atomic.Bool
	loaded  atomic.Bool
}

// Status is a point-in-time view of the supervisor for health reporting.
type Status struct {
	Connected   bool      `json:"connected"`
	SelfID      int64     `json:"self_id,omitempty"`
	Retries     int64     `json:"retries"`
	Pending     int       `json:"pending"`
	LastFrameAt time.Time `json:"last_frame_at,omitzero"`
}

// NewSupervisor creates a supervisor that attaches sessions to handle and
// delivers events to events.
func NewSupervisor(cfg Config, handle *Handle, events Events, logger *slog.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	s := &Supervisor{
		cfg:    cfg,
		handle: handle,
		events: events,
		retry:  NewReconnector(cfg.ReconnectDelay),
		logger: logger.With("component", "session"),
	}
	s.dial = DialWebSocket(cfg.Endpoint, cfg.AccessToken, cfg.ReadLimit)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle returns the command handle shared with applications.
func (s *Supervisor) Handle() *Handle {
	return s.handle
}

// Launch runs sessions back to back until ctx is cancelled. It only returns
// on cancellation; connection failures are logged and retried.
func (s *Supervisor) Launch(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("supervisor already launched")
	}

	for {
		conn, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("connection attempt failed", "endpoint", s.cfg.Endpoint, "error", err)
		} else {
			if err := s.serve(ctx, conn); err != nil {
				s.logger.Error("session ended with error", "error", err)
			} else {
				s.logger.Info("session ended")
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.retry.Wait(ctx); err != nil {
			return err
		}
		s.logger.Info("reconnecting", "retry", s.retry.Retries(), "delay", s.retry.Delay)
	}
}

// connect dials the backend and consumes the handshake frame.
func (s *Supervisor) connect(ctx context.Context) (Conn, error) {
	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := s.dial(hctx)
	if err != nil {
		return nil, err
	}

	_, data, err := conn.Read(hctx)
	if err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("reading handshake frame: %w", err)
	}

	if err := s.checkHandshake(data); err != nil {
		_ = conn.CloseNow()
		return nil, err
	}
	s.handle.markFrame(time.Now())
	return conn, nil
}

func (s *Supervisor) checkHandshake(data []byte) error {
	frame, err := protocol.Classify(data)
	if err != nil {
		return fmt.Errorf("decoding handshake frame: %w", err)
	}

	if frame.HasEcho {
		if !frame.Response.OK() {
			return fmt.Errorf("%w: %v", ErrHandshakeRejected, frame.Response.Err())
		}
		s.logger.Info("connected", "endpoint", s.cfg.Endpoint)
		return nil
	}

	var ident struct {
		SelfID int64 `json:"self_id"`
	}
	if err := json.Unmarshal(frame.Raw, &ident); err != nil {
		s.logger.Warn("handshake frame without identity", "error", err)
	}
	s.selfID.Store(ident.SelfID)
	s.logger.Info("connected", "endpoint", s.cfg.Endpoint, "self_id", ident.SelfID)
	return nil
}

// serve runs one session to completion and tears it down. Every pending
// request is completed before serve returns.
func (s *Supervisor) serve(ctx context.Context, conn Conn) error {
	table := NewTable(s.logger)
	l := newLink(s.cfg.QueueSize)

	s.table.Store(table)
	s.handle.attach(l)
	// Applications load once, after the first handshake.
	if s.loaded.CompareAndSwap(false, true) {
		s.events.Load()
	}

	m := &mux{
		conn:           conn,
		table:          table,
		link:           l,
		handle:         s.handle,
		events:         s.events,
		logger:         s.logger,
		requestTimeout: s.cfg.RequestTimeout,
		sweepInterval:  s.cfg.SweepInterval,
	}
	err := m.run(ctx)

	s.handle.detach(l)
	if n := table.FailAll(protocol.ConnectionLostResponse); n > 0 {
		s.logger.Warn("failed pending requests on teardown", "count", n)
	}
	close(l.done)
	s.table.CompareAndSwap(table, nil)

	return err
}

// Status reports the current connection state.
func (s *Supervisor) Status() Status {
	st := Status{
		Connected:   s.handle.Connected(),
		SelfID:      s.selfID.Load(),
		Retries:     s.retry.Retries(),
		LastFrameAt: s.handle.LastFrameAt(),
	}
	if t := s.table.Load(); t != nil {
		st.Pending = t.Len()
	}
	return st
}
