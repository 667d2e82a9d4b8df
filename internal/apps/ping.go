// ABOUTME: Liveness application answering ping and !perf
// ABOUTME: !perf reports the time since the last frame from the backend

package apps

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/onebot-gateway/internal/protocol"
)

// Replier answers a message in its own conversation. *onebot.Client satisfies it.
type Replier interface {
	ReplyText(ctx context.Context, ev *protocol.MessageEvent, text string, quote bool) (*protocol.Response, error)
}

// FrameClock reports when the backend last sent a frame. *session.Handle satisfies it.
type FrameClock interface {
	LastFrameAt() time.Time
}

// Ping replies "pong" to "ping" from the owner in private chat or from anyone
// in the main group, and "tpr: <duration>" to "!perf" from anyone.
type Ping struct {
	replier   Replier
	frames    FrameClock
	ownerID   int64
	mainGroup int64
	now       func() time.Time
	logger    *slog.Logger
}

// NewPing creates the ping application.
func NewPing(replier Replier, frames FrameClock, ownerID, mainGroup int64, logger *slog.Logger) *Ping {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ping{
		replier:   replier,
		frames:    frames,
		ownerID:   ownerID,
		mainGroup: mainGroup,
		now:       time.Now,
		logger:    logger.With("app", "ping"),
	}
}

func (p *Ping) Name() string { return "ping" }

func (p *Ping) OnLoad(ctx context.Context) error {
	p.logger.Info("app loaded")
	return nil
}

func (p *Ping) OnEvent(ctx context.Context, ev *protocol.Event) error {
	msg := ev.Message
	if msg == nil || ev.PostType != protocol.PostMessage {
		return nil
	}

	switch msg.RawMessage {
	case "ping":
		if (msg.IsGroup() && msg.GroupID == p.mainGroup) || (!msg.IsGroup() && msg.Sender.UserID == p.ownerID) {
			return p.reply(ctx, msg, "pong")
		}
	case "!perf":
		return p.reply(ctx, msg, fmt.Sprintf("tpr: %s", p.sinceLastFrame()))
	}
	return nil
}

func (p *Ping) sinceLastFrame() time.Duration {
	last := p.frames.LastFrameAt()
	if last.IsZero() {
		return 0
	}
	return p.now().Sub(last)
}

func (p *Ping) reply(ctx context.Context, msg *protocol.MessageEvent, text string) error {
	resp, err := p.replier.ReplyText(ctx, msg, text, true)
	if err != nil {
		return fmt.Errorf("replying %q: %w", text, err)
	}
	if !resp.OK() {
		return fmt.Errorf("replying %q: %w", text, resp.Err())
	}
	return nil
}
