// ABOUTME: GSCore wire schema and its translation to and from OneBot messages
// ABOUTME: MessageReceive goes to GSCore, MessageSend comes back as a command to execute

package gscore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/2389/onebot-gateway/internal/onebot"
	"github.com/2389/onebot-gateway/internal/protocol"
)

// Content part types.
const (
	ContentLog      = "log"
	ContentText     = "text"
	ContentMarkdown = "markdown"
	ContentImage    = "image"
	ContentAt       = "at"
	ContentReply    = "reply"
	ContentNode     = "node"
)

// Target types shared by user_type and target_type.
const (
	TargetGroup      = "group"
	TargetDirect     = "direct"
	TargetChannel    = "channel"
	TargetSubChannel = "sub_channel"
)

// Permission levels reported in user_pm.
const (
	PermOwner  = 2
	PermAdmin  = 3
	PermMember = 6
)

const avatarURL = "http://q.qlogo.cn/headimg_dl?dst_uin=%d&spec=640&img_type=jpg"

var (
	errMissingTarget = errors.New("message has no target")
	errNestedNode    = errors.New("node content cannot contain nodes")
)

// Content is one {type, data} part. Data is a string for every type except
// node, whose data is a list of non-node parts.
type Content struct {
	Type  string
	Text  string
	Nodes []Content
}

type wireContent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c Content) MarshalJSON() ([]byte, error) {
	var data any = c.Text
	if c.Type == ContentNode {
		nodes := c.Nodes
		if nodes == nil {
			nodes = []Content{}
		}
		data = nodes
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireContent{Type: c.Type, Data: raw})
}

func (c *Content) UnmarshalJSON(b []byte) error {
	var w wireContent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	c.Type = w.Type
	if w.Type == ContentNode {
		var nodes []Content
		if err := json.Unmarshal(w.Data, &nodes); err != nil {
			return fmt.Errorf("decoding node content: %w", err)
		}
		for _, n := range nodes {
			if n.Type == ContentNode {
				return errNestedNode
			}
		}
		c.Nodes = nodes
		return nil
	}
	if len(w.Data) == 0 || string(w.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(w.Data, &c.Text); err != nil {
		return fmt.Errorf("decoding %s content: %w", w.Type, err)
	}
	return nil
}

// Sender identifies the author of a forwarded message.
type Sender struct {
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

// MessageReceive is a user message forwarded to GSCore.
type MessageReceive struct {
	BotID     string    `json:"bot_id"`
	BotSelfID string    `json:"bot_self_id"`
	MsgID     string    `json:"msg_id"`
	UserType  string    `json:"user_type"`
	GroupID   *string   `json:"group_id"`
	UserID    string    `json:"user_id"`
	Sender    Sender    `json:"sender"`
	UserPM    int       `json:"user_pm"`
	Content   []Content `json:"content"`
}

// MessageSend is an instruction from GSCore to send a message.
type MessageSend struct {
	BotID      string    `json:"bot_id"`
	BotSelfID  string    `json:"bot_self_id"`
	MsgID      string    `json:"msg_id"`
	TargetType *string   `json:"target_type"`
	TargetID   *string   `json:"target_id"`
	Content    []Content `json:"content"`
}

// NewMessageReceive translates a message event for GSCore.
func NewMessageReceive(botID string, selfID int64, ev *protocol.MessageEvent) *MessageReceive {
	mr := &MessageReceive{
		BotID:     botID,
		BotSelfID: strconv.FormatInt(selfID, 10),
		MsgID:     strconv.FormatInt(ev.MessageID, 10),
		UserType:  TargetDirect,
		UserID:    strconv.FormatInt(ev.UserID, 10),
		Sender: Sender{
			Nickname: ev.Sender.Nickname,
			Avatar:   fmt.Sprintf(avatarURL, ev.UserID),
		},
		UserPM:  PermMember,
		Content: make([]Content, 0, len(ev.Message)),
	}

	if ev.IsGroup() {
		gid := strconv.FormatInt(ev.GroupID, 10)
		mr.UserType = TargetGroup
		mr.GroupID = &gid
		switch ev.Sender.Role {
		case protocol.RoleOwner:
			mr.UserPM = PermOwner
		case protocol.RoleAdmin:
			mr.UserPM = PermAdmin
		}
	}

	for _, seg := range ev.Message {
		mr.Content = append(mr.Content, contentFromSegment(seg))
	}
	return mr
}

func contentFromSegment(seg protocol.Segment) Content {
	switch seg.Type {
	case protocol.SegmentText:
		return Content{Type: ContentText, Text: seg.Get("text")}
	case protocol.SegmentImage:
		return Content{Type: ContentImage, Text: seg.Get("file")}
	case protocol.SegmentAt:
		return Content{Type: ContentAt, Text: seg.Get("qq")}
	case protocol.SegmentReply:
		return Content{Type: ContentReply, Text: seg.Get("id")}
	default:
		return Content{Type: ContentText, Text: "<unsupp: " + seg.String() + ">"}
	}
}

// NodeSender is the identity shown on forwarded node messages.
type NodeSender struct {
	UserID   string
	Nickname string
}

// Segment converts a non-node content part to a OneBot segment.
func (c Content) Segment() protocol.Segment {
	switch c.Type {
	case ContentText, ContentMarkdown:
		return protocol.Text(c.Text)
	case ContentImage:
		return protocol.Image(c.Text)
	case ContentAt:
		return protocol.At(c.Text)
	case ContentReply:
		return protocol.Reply(c.Text)
	default:
		return protocol.Text("<unsupp: " + c.Type + ">")
	}
}

// Command is the OneBot action a MessageSend resolves to. When Log is set
// the message only carries a log line and nothing is sent.
type Command struct {
	Log     string
	Target  onebot.Target
	Message protocol.Message
	Forward bool
}

// Translate resolves a MessageSend into a Command. A nil Command with a nil
// error means there is nothing to do.
func Translate(send *MessageSend, sender NodeSender) (*Command, error) {
	if len(send.Content) == 0 {
		return nil, nil
	}
	if first := send.Content[0]; first.Type == ContentLog {
		return &Command{Log: first.Text}, nil
	}

	if send.TargetType == nil || send.TargetID == nil {
		return nil, errMissingTarget
	}
	id, err := strconv.ParseInt(*send.TargetID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing target_id %q: %w", *send.TargetID, err)
	}

	target := onebot.Target{MessageType: "private", UserID: id, GroupID: id}
	if *send.TargetType == TargetGroup {
		target.MessageType = "group"
	}

	var forwards protocol.Message
	for _, part := range send.Content {
		if part.Type != ContentNode {
			continue
		}
		for _, inner := range part.Nodes {
			forwards = append(forwards,
				protocol.Node(sender.UserID, sender.Nickname, protocol.Message{inner.Segment()}))
		}
	}
	if len(forwards) > 0 {
		return &Command{Target: target, Message: forwards, Forward: true}, nil
	}

	msg := make(protocol.Message, 0, len(send.Content))
	for _, part := range send.Content {
		if part.Type == ContentLog {
			continue
		}
		msg = append(msg, part.Segment())
	}
	return &Command{Target: target, Message: msg}, nil
}
