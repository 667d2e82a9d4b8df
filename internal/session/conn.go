// ABOUTME: Duplex connection abstraction and the WebSocket dialer for the primary backend
// ABOUTME: Appends the access token to the endpoint and raises the default read limit

package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
)

// DefaultReadLimit bounds a single inbound message (64 MiB).
const DefaultReadLimit int64 = 64 << 20

// Conn is one framed duplex connection. *websocket.Conn satisfies it.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	CloseNow() error
}

// Dialer opens a new connection. The context bounds the opening handshake.
type Dialer func(ctx context.Context) (Conn, error)

// EndpointURL appends access_token to endpoint when a token is configured.
func EndpointURL(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// DialWebSocket returns a Dialer for a OneBot WebSocket endpoint.
func DialWebSocket(endpoint, token string, readLimit int64) Dialer {
	return func(ctx context.Context) (Conn, error) {
		target, err := EndpointURL(endpoint, token)
		if err != nil {
			return nil, err
		}

		opts := &websocket.DialOptions{}
		if token != "" {
			opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
		}

		conn, _, err := websocket.Dial(ctx, target, opts)
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", endpoint, err)
		}
		if readLimit <= 0 {
			readLimit = DefaultReadLimit
		}
		conn.SetReadLimit(readLimit)
		return conn, nil
	}
}
