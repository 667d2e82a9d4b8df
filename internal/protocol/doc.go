// Package protocol implements the OneBot v11 wire codec used by the gateway.
//
// # Frames
//
// Three JSON frame shapes travel over the primary connection:
//
//	request:  {"action": "send_group_msg", "params": {...}, "echo": "<uuid>"}
//	response: {"status": "ok", "retcode": 0, "data": {...}, "message": null, "echo": "<uuid>"}
//	event:    {"post_type": "message", "time": ..., "self_id": ..., ...}
//
// Classify splits inbound frames into responses (frames carrying an echo) and
// event candidates. DecodeEvent turns an event candidate into an *Event whose
// variant is selected by post_type and its sub-discriminator
// (message_type, notice_type, request_type, meta_event_type).
//
// # Messages
//
// Message content is an ordered list of {type, data} segments. Segment keeps
// the data object as decoded so that unknown fields and segment types pass
// through untouched; constructors such as Text, Image, At, Reply and Node build
// the common ones.
//
// # Synthetic responses
//
// TimeoutResponse, ConnectionLostResponse and LocalFailureResponse are built by
// the session layer and delivered to callers exactly like backend responses.
package protocol
