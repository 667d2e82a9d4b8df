// ABOUTME: Application that logs incoming chat messages
// ABOUTME: Resolves group names through get_group_info and caches them for the process lifetime

package apps

import (
	"context"
	"log/slog"
	"slices"

	"github.com/2389/onebot-gateway/internal/onebot"
	"github.com/2389/onebot-gateway/internal/protocol"
)

const unknownGroup = "<unknown>"

// GroupLookup resolves group metadata. *onebot.Client satisfies it.
type GroupLookup interface {
	GroupInfo(ctx context.Context, groupID int64, noCache bool) (*onebot.GroupInfo, error)
}

// Logger logs private messages and group messages. When groups is non-empty
// only those groups are logged.
type Logger struct {
	lookup GroupLookup
	groups []int64
	names  map[int64]string
	logger *slog.Logger
}

// NewLogger creates the message logger.
func NewLogger(lookup GroupLookup, groups []int64, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		lookup: lookup,
		groups: groups,
		names:  make(map[int64]string),
		logger: logger.With("app", "builtin"),
	}
}

func (l *Logger) Name() string { return "builtin" }

func (l *Logger) OnLoad(ctx context.Context) error {
	l.logger.Info("app loaded")
	return nil
}

func (l *Logger) OnEvent(ctx context.Context, ev *protocol.Event) error {
	msg := ev.Message
	if msg == nil || ev.PostType != protocol.PostMessage {
		return nil
	}

	if !msg.IsGroup() {
		l.logger.Info("private message",
			"from", msg.Sender.DisplayName(),
			"user_id", msg.UserID,
			"message", msg.Message.String())
		return nil
	}

	if len(l.groups) > 0 && !slices.Contains(l.groups, msg.GroupID) {
		return nil
	}
	l.logger.Info("group message",
		"group", l.groupName(ctx, msg.GroupID),
		"group_id", msg.GroupID,
		"from", msg.Sender.DisplayName(),
		"user_id", msg.UserID,
		"message", msg.Message.String())
	return nil
}

// groupName returns the cached name, fetching it on first use. Lookup
// failures are not cached so a later message can retry.
func (l *Logger) groupName(ctx context.Context, groupID int64) string {
	if name, ok := l.names[groupID]; ok {
		return name
	}
	info, err := l.lookup.GroupInfo(ctx, groupID, false)
	if err != nil {
		l.logger.Warn("group name lookup failed", "group_id", groupID, "error", err)
		return unknownGroup
	}
	name := info.GroupName
	if name == "" {
		name = unknownGroup
	}
	l.names[groupID] = name
	return name
}
