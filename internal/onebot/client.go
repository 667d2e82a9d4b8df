// ABOUTME: Typed OneBot v11 action client built on the session command handle
// ABOUTME: Message sending, replies and forwarded node messages

package onebot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/onebot-gateway/internal/protocol"
)

// Submitter sends one action and waits for its response. *session.Handle
// satisfies it.
type Submitter interface {
	Submit(ctx context.Context, action string, params any) (*protocol.Response, error)
}

// Client exposes the OneBot action set. All methods return the backend's
// response as-is, including failed, timeout and connection-lost responses;
// the error is non-nil only when the request could not be submitted.
type Client struct {
	sub    Submitter
	logger *slog.Logger
}

// NewClient wraps sub.
func NewClient(sub Submitter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{sub: sub, logger: logger.With("component", "onebot")}
}

// Call submits an arbitrary action.
func (c *Client) Call(ctx context.Context, action string, params any) (*protocol.Response, error) {
	resp, err := c.sub.Submit(ctx, action, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	return resp, nil
}

// CallInto submits action and decodes a successful response's data into out.
// A non-success response is returned as a *protocol.ResponseError.
func (c *Client) CallInto(ctx context.Context, action string, params, out any) error {
	resp, err := c.Call(ctx, action, params)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("%s: %w", action, resp.Err())
	}
	if out == nil {
		return nil
	}
	if err := resp.DecodeData(out); err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	return nil
}

type privateMsg struct {
	UserID  int64            `json:"user_id"`
	Message protocol.Message `json:"message"`
}

type groupMsg struct {
	GroupID int64            `json:"group_id"`
	Message protocol.Message `json:"message"`
}

// Target selects the destination of a send_msg call. Exactly one of UserID
// or GroupID is normally set; MessageType may be left empty.
type Target struct {
	MessageType string `json:"message_type,omitempty"`
	UserID      int64  `json:"user_id,omitempty"`
	GroupID     int64  `json:"group_id,omitempty"`
}

// Private addresses a user.
func Private(userID int64) Target { return Target{MessageType: "private", UserID: userID} }

// Group addresses a group.
func Group(groupID int64) Target { return Target{MessageType: "group", GroupID: groupID} }

func (t Target) String() string {
	switch {
	case t.MessageType == "private" || (t.MessageType == "" && t.UserID != 0 && t.GroupID == 0):
		return fmt.Sprintf("User(%d)", t.UserID)
	case t.GroupID != 0:
		return fmt.Sprintf("Group(%d)", t.GroupID)
	default:
		return "unknown"
	}
}

type targetMsg struct {
	Target
	Message protocol.Message `json:"message"`
}

// SendPrivateMessage sends msg to a user.
func (c *Client) SendPrivateMessage(ctx context.Context, userID int64, msg protocol.Message) (*protocol.Response, error) {
	c.logger.Info("outgoing message", "to", Private(userID).String(), "message", msg.String())
	return c.Call(ctx, "send_private_msg", privateMsg{UserID: userID, Message: msg})
}

// SendGroupMessage sends msg to a group.
func (c *Client) SendGroupMessage(ctx context.Context, groupID int64, msg protocol.Message) (*protocol.Response, error) {
	c.logger.Info("outgoing message", "to", Group(groupID).String(), "message", msg.String())
	return c.Call(ctx, "send_group_msg", groupMsg{GroupID: groupID, Message: msg})
}

// SendMessage sends msg through the generic send_msg action.
func (c *Client) SendMessage(ctx context.Context, to Target, msg protocol.Message) (*protocol.Response, error) {
	c.logger.Info("outgoing message", "to", to.String(), "message", msg.String())
	return c.Call(ctx, "send_msg", targetMsg{Target: to, Message: msg})
}

// SendForwardMessage sends a merged-forward message. Every segment of nodes
// must be a node segment.
func (c *Client) SendForwardMessage(ctx context.Context, to Target, nodes protocol.Message) (*protocol.Response, error) {
	for _, seg := range nodes {
		if seg.Type != protocol.SegmentNode {
			return nil, fmt.Errorf("send_forward_msg: segment %q is not a node", seg.Type)
		}
	}
	c.logger.Info("outgoing forward message", "to", to.String(), "nodes", len(nodes))
	return c.Call(ctx, "send_msg", targetMsg{Target: to, Message: nodes})
}

// Reply answers ev in the conversation it came from. With quote set, a reply
// segment pointing at the original message is prepended.
func (c *Client) Reply(ctx context.Context, ev *protocol.MessageEvent, msg protocol.Message, quote bool) (*protocol.Response, error) {
	if quote {
		msg = append(protocol.Message{protocol.Reply(fmt.Sprint(ev.MessageID))}, msg...)
	}
	if ev.IsGroup() {
		return c.SendGroupMessage(ctx, ev.GroupID, msg)
	}
	return c.SendPrivateMessage(ctx, ev.UserID, msg)
}

// ReplyText is Reply with a single text segment.
func (c *Client) ReplyText(ctx context.Context, ev *protocol.MessageEvent, text string, quote bool) (*protocol.Response, error) {
	return c.Reply(ctx, ev, protocol.TextMessage(text), quote)
}
