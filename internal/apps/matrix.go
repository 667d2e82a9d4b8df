// ABOUTME: Application mirroring selected group chats into a Matrix room
// ABOUTME: Sends plain-text lines through mautrix, paced by a token-bucket limiter

package apps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/time/rate"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/onebot-gateway/internal/protocol"
)

// MatrixConfig configures the mirror.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	RoomID      string
	Groups      []int64
	// Rate is the sustained send rate in messages per second.
	Rate  float64
	Burst int
}

// roomSender is the slice of *mautrix.Client the mirror uses.
type roomSender interface {
	SendText(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
}

// MatrixMirror posts every message from the configured groups into one room.
type MatrixMirror struct {
	sender  roomSender
	room    id.RoomID
	groups  []int64
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewMatrixMirror creates a mirror backed by a mautrix client.
func NewMatrixMirror(cfg MatrixConfig, logger *slog.Logger) (*MatrixMirror, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return newMatrixMirror(client, cfg, logger), nil
}

func newMatrixMirror(sender roomSender, cfg MatrixConfig, logger *slog.Logger) *MatrixMirror {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &MatrixMirror{
		sender:  sender,
		room:    id.RoomID(cfg.RoomID),
		groups:  cfg.Groups,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With("app", "matrix mirror", "room", cfg.RoomID),
	}
}

func (m *MatrixMirror) Name() string { return "matrix mirror" }

func (m *MatrixMirror) OnLoad(ctx context.Context) error {
	m.logger.Info("app loaded", "groups", m.groups)
	return nil
}

func (m *MatrixMirror) OnEvent(ctx context.Context, ev *protocol.Event) error {
	msg := ev.Message
	if msg == nil || ev.PostType != protocol.PostMessage || !msg.IsGroup() {
		return nil
	}
	if !slices.Contains(m.groups, msg.GroupID) {
		return nil
	}

	if err := m.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("waiting for matrix rate limit: %w", err)
	}

	text := fmt.Sprintf("[%d] %s: %s", msg.GroupID, msg.Sender.DisplayName(), msg.Message.String())
	if _, err := m.sender.SendText(ctx, m.room, text); err != nil {
		return fmt.Errorf("sending to matrix: %w", err)
	}
	m.logger.Debug("mirrored message", "group_id", msg.GroupID, "message_id", msg.MessageID)
	return nil
}
