// ABOUTME: OneBot v11 event model decoded from uncorrelated inbound frames
// ABOUTME: Discriminates message, notice, request and meta events by post_type

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PostType is the top-level event discriminator.
type PostType string

const (
	PostMessage     PostType = "message"
	PostMessageSent PostType = "message_sent"
	PostNotice      PostType = "notice"
	PostRequest     PostType = "request"
	PostMetaEvent   PostType = "meta_event"
)

// Message kinds.
const (
	MessagePrivate = "private"
	MessageGroup   = "group"
)

// Meta event kinds.
const (
	MetaLifecycle = "lifecycle"
	MetaHeartbeat = "heartbeat"
)

var (
	// ErrUnknownEventType is returned for frames whose post_type is missing or unsupported.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrMissingDiscriminator is returned when a variant's sub-type field is absent.
	ErrMissingDiscriminator = errors.New("missing event discriminator")
)

// Event is one decoded backend notification. Exactly one variant pointer is set.
// Events are shared read-only between applications; do not mutate them.
type Event struct {
	Time     int64    `json:"time"`
	SelfID   int64    `json:"self_id"`
	PostType PostType `json:"post_type"`

	Message *MessageEvent `json:"-"`
	Notice  *NoticeEvent  `json:"-"`
	Request *RequestEvent `json:"-"`
	Meta    *MetaEvent    `json:"-"`

	Raw json.RawMessage `json:"-"`
}

// Kind returns a short description such as "message/group" or "notice/group_ban".
func (e *Event) Kind() string {
	switch {
	case e.Message != nil:
		return string(e.PostType) + "/" + e.Message.MessageType
	case e.Notice != nil:
		return "notice/" + e.Notice.NoticeType
	case e.Request != nil:
		return "request/" + e.Request.RequestType
	case e.Meta != nil:
		return "meta_event/" + e.Meta.MetaEventType
	default:
		return string(e.PostType)
	}
}

// MessageEvent is a private or group chat message.
type MessageEvent struct {
	MessageType string     `json:"message_type"`
	SubType     string     `json:"sub_type"`
	MessageID   int64      `json:"message_id"`
	UserID      int64      `json:"user_id"`
	GroupID     int64      `json:"group_id,omitempty"`
	Message     Message    `json:"message"`
	RawMessage  string     `json:"raw_message"`
	Font        int32      `json:"font"`
	Sender      Sender     `json:"sender"`
	Anonymous   *Anonymous `json:"anonymous,omitempty"`
}

// IsGroup reports whether the message was sent in a group.
func (m *MessageEvent) IsGroup() bool {
	return m.MessageType == MessageGroup
}

// Sender describes the author of a message. Group-only fields are empty for private messages.
type Sender struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card,omitempty"`
	Sex      string `json:"sex,omitempty"`
	Age      int32  `json:"age,omitempty"`
	Area     string `json:"area,omitempty"`
	Level    string `json:"level,omitempty"`
	Role     string `json:"role,omitempty"`
	Title    string `json:"title,omitempty"`
}

// Group member roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// DisplayName prefers the group card over the nickname.
func (s Sender) DisplayName() string {
	if s.Card != "" {
		return s.Card
	}
	return s.Nickname
}

// Anonymous identifies an anonymous group sender.
type Anonymous struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Flag string `json:"flag"`
}

// NoticeEvent covers group/friend notices. Fields not used by a notice type are zero.
type NoticeEvent struct {
	NoticeType string `json:"notice_type"`
	SubType    string `json:"sub_type,omitempty"`
	GroupID    int64  `json:"group_id,omitempty"`
	UserID     int64  `json:"user_id,omitempty"`
	OperatorID int64  `json:"operator_id,omitempty"`
	TargetID   int64  `json:"target_id,omitempty"`
	MessageID  int64  `json:"message_id,omitempty"`
	Duration   int64  `json:"duration,omitempty"`
	HonorType  string `json:"honor_type,omitempty"`
	CardNew    string `json:"card_new,omitempty"`
	CardOld    string `json:"card_old,omitempty"`
	File       *File  `json:"file,omitempty"`
}

// File is an uploaded group file.
type File struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	BusID int64  `json:"busid"`
}

// RequestEvent is a friend or group join request awaiting approval.
type RequestEvent struct {
	RequestType string `json:"request_type"`
	SubType     string `json:"sub_type,omitempty"`
	UserID      int64  `json:"user_id"`
	GroupID     int64  `json:"group_id,omitempty"`
	Comment     string `json:"comment"`
	Flag        string `json:"flag"`
}

// MetaEvent is a lifecycle or heartbeat notification from the backend itself.
type MetaEvent struct {
	MetaEventType string          `json:"meta_event_type"`
	SubType       string          `json:"sub_type,omitempty"`
	Status        json.RawMessage `json:"status,omitempty"`
	Interval      int64           `json:"interval,omitempty"`
}

// DecodeEvent decodes an uncorrelated frame into an Event.
func DecodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decoding event header: %w", err)
	}
	ev.Raw = data

	switch ev.PostType {
	case PostMessage, PostMessageSent:
		var m MessageEvent
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding message event: %w", err)
		}
		if m.MessageType != MessagePrivate && m.MessageType != MessageGroup {
			return nil, fmt.Errorf("%w: message_type %q", ErrMissingDiscriminator, m.MessageType)
		}
		ev.Message = &m
	case PostNotice:
		var n NoticeEvent
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("decoding notice event: %w", err)
		}
		if n.NoticeType == "" {
			return nil, fmt.Errorf("%w: notice_type", ErrMissingDiscriminator)
		}
		ev.Notice = &n
	case PostRequest:
		var r RequestEvent
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decoding request event: %w", err)
		}
		if r.RequestType == "" {
			return nil, fmt.Errorf("%w: request_type", ErrMissingDiscriminator)
		}
		ev.Request = &r
	case PostMetaEvent:
		var m MetaEvent
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding meta event: %w", err)
		}
		if m.MetaEventType == "" {
			return nil, fmt.Errorf("%w: meta_event_type", ErrMissingDiscriminator)
		}
		ev.Meta = &m
	default:
		return nil, fmt.Errorf("%w: post_type %q", ErrUnknownEventType, ev.PostType)
	}

	return &ev, nil
}
