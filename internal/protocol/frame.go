// ABOUTME: OneBot v11 request/response frames and inbound frame classification
// ABOUTME: Builds outbound action frames and the synthetic responses used for timeouts

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Response statuses and return codes produced locally by the gateway.
const (
	StatusOK      = "ok"
	StatusAsync   = "async"
	StatusFailed  = "failed"
	StatusTimeout = "timeout"

	RetcodeOK             = 0
	RetcodeTimeout        = -1
	RetcodeConnectionLost = -2
	RetcodeLocalFailure   = -3
)

// ErrNotJSONObject is returned by Classify for frames that are valid JSON but not an object.
var ErrNotJSONObject = errors.New("frame is not a JSON object")

// Request is an outbound action frame.
type Request struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo"`
}

// MarshalJSON always emits params as an object, even when none were given.
func (r Request) MarshalJSON() ([]byte, error) {
	type wire Request
	w := wire(r)
	if w.Params == nil {
		w.Params = struct{}{}
	}
	return json.Marshal(w)
}

// Response is the backend's reply to a Request, matched by Echo.
type Response struct {
	Status  string          `json:"status"`
	Retcode int             `json:"retcode"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message *string         `json:"message,omitempty"`
	Echo    *string         `json:"echo,omitempty"`
}

// OK reports whether the backend accepted the action.
func (r *Response) OK() bool {
	return r != nil && r.Retcode == RetcodeOK && (r.Status == StatusOK || r.Status == StatusAsync)
}

// Err returns nil for a successful response and a *ResponseError otherwise.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	if r == nil {
		return &ResponseError{Status: StatusFailed, Retcode: RetcodeLocalFailure, Message: "nil response"}
	}
	return &ResponseError{Status: r.Status, Retcode: r.Retcode, Message: r.MessageText()}
}

// MessageText returns the message field or "" when absent.
func (r *Response) MessageText() string {
	if r == nil || r.Message == nil {
		return ""
	}
	return *r.Message
}

// EchoText returns the echo field or "" when absent.
func (r *Response) EchoText() string {
	if r == nil || r.Echo == nil {
		return ""
	}
	return *r.Echo
}

// DecodeData unmarshals the data payload into v.
func (r *Response) DecodeData(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return errors.New("response has no data")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}

// ResponseError describes a response that did not succeed.
type ResponseError struct {
	Status  string
	Retcode int
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("onebot: status=%s retcode=%d", e.Status, e.Retcode)
	}
	return fmt.Sprintf("onebot: status=%s retcode=%d: %s", e.Status, e.Retcode, e.Message)
}

// TimeoutResponse is delivered to a caller whose request expired without a reply.
func TimeoutResponse(echo string) *Response {
	return syntheticResponse(StatusTimeout, RetcodeTimeout, "Request timeout", echo)
}

// ConnectionLostResponse is delivered to callers whose session ended before a reply arrived.
func ConnectionLostResponse(echo string) *Response {
	return syntheticResponse(StatusFailed, RetcodeConnectionLost, "Connection lost", echo)
}

// LocalFailureResponse is delivered when a request could not be sent at all.
func LocalFailureResponse(echo, msg string) *Response {
	return syntheticResponse(StatusFailed, RetcodeLocalFailure, msg, echo)
}

func syntheticResponse(status string, retcode int, msg, echo string) *Response {
	return &Response{
		Status:  status,
		Retcode: retcode,
		Message: &msg,
		Echo:    &echo,
	}
}

// Frame is a classified inbound frame. Exactly one of Response or Raw is meaningful:
// frames with an echo are responses, everything else is an event candidate.
type Frame struct {
	Echo     string
	HasEcho  bool
	Response *Response
	Raw      json.RawMessage
}

// Classify parses an inbound frame and decides whether it is a response.
// A frame is a response when it carries a string (or numeric) echo field.
func Classify(data []byte) (*Frame, error) {
	var head map[string]json.RawMessage
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	if head == nil {
		return nil, ErrNotJSONObject
	}

	raw, ok := head["echo"]
	if !ok || string(raw) == "null" {
		return &Frame{Raw: data}, nil
	}

	echo, err := echoString(raw)
	if err != nil {
		return nil, err
	}

	// echo is decoded separately because backends disagree on its JSON type
	var body struct {
		Status  string          `json:"status"`
		Retcode int             `json:"retcode"`
		Data    json.RawMessage `json:"data"`
		Message *string         `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	resp := &Response{
		Status:  body.Status,
		Retcode: body.Retcode,
		Data:    body.Data,
		Message: body.Message,
		Echo:    &echo,
	}
	return &Frame{Echo: echo, HasEcho: true, Response: resp}, nil
}

func echoString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("unsupported echo value %s", string(raw))
}
