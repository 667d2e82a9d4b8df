// ABOUTME: Application bridging primary message events to GSCore and GSCore replies back
// ABOUTME: Owns the daemon lifecycle and restarts it if it stops

package gscore

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/onebot-gateway/internal/onebot"
	"github.com/2389/onebot-gateway/internal/protocol"
)

// Config configures the adapter.
type Config struct {
	Endpoint       string
	BotID          string
	EnabledGroups  []int64
	NodeSender     NodeSender
	ReconnectDelay time.Duration
}

// Adapter forwards messages to GSCore and executes the sends it returns.
type Adapter struct {
	cfg    Config
	client *onebot.Client
	logger *slog.Logger
	opts   []DaemonOption

	mu     sync.Mutex
	daemon *Daemon
	done   chan struct{}
	ctx    context.Context
}

// NewAdapter creates the adapter. The daemon starts on the first OnLoad.
func NewAdapter(cfg Config, client *onebot.Client, logger *slog.Logger, opts ...DaemonOption) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:    cfg,
		client: client,
		logger: logger.With("app", "gscore adapter"),
		opts:   opts,
	}
}

func (a *Adapter) Name() string { return "gscore adapter" }

// OnLoad starts the daemon if it is not already running. ctx bounds the
// daemon's lifetime.
func (a *Adapter) OnLoad(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.daemon == nil {
		a.ctx = ctx
		a.startLocked()
		a.logger.Info("app loaded")
	}
	return nil
}

// OnEvent forwards message events from enabled groups and all private chats.
func (a *Adapter) OnEvent(ctx context.Context, ev *protocol.Event) error {
	if ev.PostType != protocol.PostMessage || ev.Message == nil {
		return nil
	}
	msg := ev.Message
	if msg.IsGroup() && !slices.Contains(a.cfg.EnabledGroups, msg.GroupID) {
		return nil
	}

	a.mu.Lock()
	d := a.daemon
	a.mu.Unlock()
	if d == nil {
		return nil
	}

	err := d.Enqueue(NewMessageReceive(a.cfg.BotID, ev.SelfID, msg))
	switch {
	case errors.Is(err, ErrNoSession):
		a.logger.Debug("gscore not connected, message dropped", "message_id", msg.MessageID)
	case errors.Is(err, ErrDaemonStopped):
		a.logger.Info("gscore handler unavailable, restarting connection")
		a.restart(d)
	}
	return nil
}

// HandleSend executes one command from GSCore.
func (a *Adapter) HandleSend(ctx context.Context, send *MessageSend) {
	cmd, err := Translate(send, a.cfg.NodeSender)
	if err != nil {
		a.logger.Warn("invalid gscore message", "msg_id", send.MsgID, "error", err)
		return
	}
	if cmd == nil {
		return
	}
	if cmd.Log != "" {
		a.logger.Info("gscore log", "message", cmd.Log)
		return
	}

	var resp *protocol.Response
	if cmd.Forward {
		resp, err = a.client.SendForwardMessage(ctx, cmd.Target, cmd.Message)
	} else {
		resp, err = a.client.SendMessage(ctx, cmd.Target, cmd.Message)
	}
	if err != nil {
		a.logger.Error("failed to relay gscore message", "to", cmd.Target.String(), "error", err)
		return
	}
	if !resp.OK() {
		a.logger.Warn("gscore message rejected", "to", cmd.Target.String(), "error", resp.Err())
	}
}

// Connected reports whether the bridge currently has a live GSCore connection.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	d := a.daemon
	a.mu.Unlock()
	return d != nil && d.Connected()
}

// Wait blocks until the current daemon goroutine has returned. Used at shutdown.
func (a *Adapter) Wait() {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done != nil {
		<-done
	}
}

// restart replaces stopped with a fresh daemon unless someone already did.
func (a *Adapter) restart(stopped *Daemon) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.daemon != stopped || a.ctx == nil || a.ctx.Err() != nil {
		return
	}
	a.startLocked()
}

func (a *Adapter) startLocked() {
	d := NewDaemon(a.cfg.Endpoint, a.cfg.ReconnectDelay, a, a.logger, a.opts...)
	done := make(chan struct{})
	a.daemon = d
	a.done = done

	ctx := a.ctx
	go func() {
		defer close(done)
		if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("gscore daemon exited", "error", err)
		}
	}()
}
