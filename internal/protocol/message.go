// ABOUTME: OneBot message segments and messages, with constructors and text rendering
// ABOUTME: Accepts both array-form messages and plain string messages on decode

package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SegmentType names a OneBot message segment kind.
type SegmentType string

const (
	SegmentText      SegmentType = "text"
	SegmentFace      SegmentType = "face"
	SegmentImage     SegmentType = "image"
	SegmentRecord    SegmentType = "record"
	SegmentVideo     SegmentType = "video"
	SegmentAt        SegmentType = "at"
	SegmentRPS       SegmentType = "rps"
	SegmentDice      SegmentType = "dice"
	SegmentShake     SegmentType = "shake"
	SegmentPoke      SegmentType = "poke"
	SegmentAnonymous SegmentType = "anonymous"
	SegmentShare     SegmentType = "share"
	SegmentContact   SegmentType = "contact"
	SegmentLocation  SegmentType = "location"
	SegmentMusic     SegmentType = "music"
	SegmentReply     SegmentType = "reply"
	SegmentForward   SegmentType = "forward"
	SegmentNode      SegmentType = "node"
	SegmentXML       SegmentType = "xml"
	SegmentJSON      SegmentType = "json"
)

// Segment is one typed part of a message. Data holds the segment's fields
// exactly as they appear on the wire.
type Segment struct {
	Type SegmentType    `json:"type"`
	Data map[string]any `json:"data"`
}

// MarshalJSON emits an empty data object for segments without fields (rps, dice, shake).
func (s Segment) MarshalJSON() ([]byte, error) {
	data := s.Data
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal(struct {
		Type SegmentType    `json:"type"`
		Data map[string]any `json:"data"`
	}{s.Type, data})
}

// Get returns a data field rendered as a string. Numbers are formatted without
// exponent so numeric ids survive round trips.
func (s Segment) Get(key string) string {
	v, ok := s.Data[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// Content decodes the nested message of a node segment.
func (s Segment) Content() (Message, error) {
	v, ok := s.Data["content"]
	if !ok || v == nil {
		return nil, nil
	}
	if m, ok := v.(Message); ok {
		return m, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// String renders the segment for logs.
func (s Segment) String() string {
	switch s.Type {
	case SegmentText:
		return s.Get("text")
	case SegmentFace:
		return "[face:" + s.Get("id") + "]"
	case SegmentImage, SegmentRecord, SegmentVideo:
		return "[" + string(s.Type) + ":" + s.Get("file") + "]"
	case SegmentAt:
		if qq := s.Get("qq"); qq != "all" {
			return "[@" + qq + "]"
		}
		return "[@all]"
	case SegmentRPS, SegmentDice, SegmentShake:
		return "[" + string(s.Type) + "]"
	case SegmentPoke:
		if name := s.Get("name"); name != "" {
			return "[" + name + "]"
		}
		return "[poke]"
	case SegmentAnonymous:
		return "[anonymous]"
	case SegmentShare:
		return fmt.Sprintf("[share:%s - %s]", s.Get("title"), s.Get("url"))
	case SegmentContact:
		return fmt.Sprintf("[contact:%s:%s]", s.Get("type"), s.Get("id"))
	case SegmentLocation:
		if title := s.Get("title"); title != "" {
			return fmt.Sprintf("[location:%s (%s, %s)]", title, s.Get("lat"), s.Get("lon"))
		}
		return fmt.Sprintf("[location:(%s, %s)]", s.Get("lat"), s.Get("lon"))
	case SegmentMusic:
		if title := s.Get("title"); title != "" {
			return "[music:" + title + "]"
		}
		return "[music:" + s.Get("type") + "]"
	case SegmentReply:
		return "[reply:" + s.Get("id") + "]"
	case SegmentForward:
		return "[forward:" + s.Get("id") + "]"
	case SegmentNode:
		uid, nick := s.Get("user_id"), s.Get("nickname")
		if uid != "" && nick != "" {
			return fmt.Sprintf("[node:%s(%s)]", nick, uid)
		}
		return "[node]"
	case SegmentXML:
		return "[xml]"
	case SegmentJSON:
		return "[json]"
	default:
		return "[" + string(s.Type) + "]"
	}
}

// Text builds a plain text segment.
func Text(text string) Segment {
	return Segment{Type: SegmentText, Data: map[string]any{"text": text}}
}

// Image builds an image segment from a file name, URL, path or base64:// payload.
func Image(file string) Segment {
	return Segment{Type: SegmentImage, Data: map[string]any{"file": file}}
}

// At builds a mention; qq may be "all".
func At(qq string) Segment {
	return Segment{Type: SegmentAt, Data: map[string]any{"qq": qq}}
}

// Reply builds a quote of an existing message.
func Reply(messageID string) Segment {
	return Segment{Type: SegmentReply, Data: map[string]any{"id": messageID}}
}

// Face builds a built-in emoticon segment.
func Face(id string) Segment {
	return Segment{Type: SegmentFace, Data: map[string]any{"id": id}}
}

// Node builds a custom forward node authored by userID/nickname.
func Node(userID, nickname string, content Message) Segment {
	return Segment{Type: SegmentNode, Data: map[string]any{
		"user_id":  userID,
		"nickname": nickname,
		"content":  content,
	}}
}

// Message is an ordered list of segments.
type Message []Segment

// UnmarshalJSON accepts the array form and the string form of a message.
// The string form is kept verbatim as a single text segment.
func (m *Message) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*m = nil
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = Message{Text(s)}
		return nil
	}
	var segs []Segment
	if err := json.Unmarshal(data, &segs); err != nil {
		return fmt.Errorf("decoding message segments: %w", err)
	}
	*m = segs
	return nil
}

// String renders every segment in order.
func (m Message) String() string {
	var b strings.Builder
	for _, s := range m {
		b.WriteString(s.String())
	}
	return b.String()
}

// PlainText joins the text segments only.
func (m Message) PlainText() string {
	var b strings.Builder
	for _, s := range m {
		if s.Type == SegmentText {
			b.WriteString(s.Get("text"))
		}
	}
	return b.String()
}

// HasType reports whether any segment has the given type.
func (m Message) HasType(t SegmentType) bool {
	for _, s := range m {
		if s.Type == t {
			return true
		}
	}
	return false
}

// TextMessage is shorthand for a message made of one text segment.
func TextMessage(text string) Message {
	return Message{Text(text)}
}
