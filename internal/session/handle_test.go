// ABOUTME: Tests for the command handle and session teardown over an in-memory connection
// ABOUTME: Verifies queued submitters are completed and no goroutines outlive the supervisor

package session

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/onebot-gateway/internal/protocol"
)

// pipeConn is an in-memory Conn. The test plays the backend through in and out.
type pipeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (p *pipeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case data := <-p.in:
		return websocket.MessageText, data, nil
	case <-p.closed:
		return 0, nil, io.EOF
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (p *pipeConn) Write(ctx context.Context, _ websocket.MessageType, data []byte) error {
	select {
	case p.out <- data:
		return nil
	case <-p.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) CloseNow() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// pipeDialer hands out a fresh pipeConn per attempt, preloaded with the hello frame.
func pipeDialer(conns chan<- *pipeConn) Dialer {
	return func(ctx context.Context) (Conn, error) {
		p := newPipeConn()
		p.in <- []byte(helloFrame)
		select {
		case conns <- p:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return p, nil
	}
}

func TestHandle_TeardownCompletesEverySubmitter(t *testing.T) {
	defer goleak.VerifyNone(t)

	conns := make(chan *pipeConn, 4)
	cfg := testConfig("ws://pipe")
	cfg.ReconnectDelay = time.Hour
	cfg.QueueSize = 2

	h := NewHandle(nil)
	sup := NewSupervisor(cfg, h, &recorder{}, nil, WithDialer(pipeDialer(conns)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Launch(ctx) }()

	backend := <-conns
	waitConnected(t, h)

	const n = 6
	results := make(chan *protocol.Response, n)
	for range n {
		go func() {
			resp, err := h.Submit(context.Background(), "get_status", nil)
			if assert.NoError(t, err) {
				results <- resp
			}
		}()
	}

	// Wait until at least one request reached the wire, then kill the link.
	select {
	case <-backend.out:
	case <-time.After(2 * time.Second):
		t.Fatal("no request written")
	}
	_ = backend.CloseNow()

	for range n {
		select {
		case resp := <-results:
			assert.Equal(t, protocol.RetcodeConnectionLost, resp.Retcode)
		case <-time.After(3 * time.Second):
			t.Fatal("submitter was never completed")
		}
	}

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	assert.False(t, h.Connected())
}

func TestHandle_SubmitContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	conns := make(chan *pipeConn, 1)
	h := NewHandle(nil)
	sup := NewSupervisor(testConfig("ws://pipe"), h, &recorder{}, nil, WithDialer(pipeDialer(conns)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Launch(ctx) }()
	<-conns
	waitConnected(t, h)

	subCtx, subCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer subCancel()
	_, err := h.Submit(subCtx, "get_status", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestHandle_RequestWireFormat(t *testing.T) {
	conns := make(chan *pipeConn, 1)
	h := NewHandle(nil)
	sup := NewSupervisor(testConfig("ws://pipe"), h, &recorder{}, nil, WithDialer(pipeDialer(conns)))
	launch(t, sup)

	backend := <-conns
	waitConnected(t, h)

	done := make(chan *protocol.Response, 1)
	go func() {
		resp, _ := h.Submit(context.Background(), "send_private_msg", map[string]any{"user_id": 42, "message": "hi"})
		done <- resp
	}()

	var req struct {
		Action string         `json:"action"`
		Params map[string]any `json:"params"`
		Echo   string         `json:"echo"`
	}
	select {
	case data := <-backend.out:
		require.NoError(t, json.Unmarshal(data, &req))
	case <-time.After(2 * time.Second):
		t.Fatal("no request written")
	}
	assert.Equal(t, "send_private_msg", req.Action)
	assert.Equal(t, "hi", req.Params["message"])
	assert.NotEmpty(t, req.Echo)

	backend.in <- okResponse(req.Echo, `{"message_id":99}`)
	resp := <-done
	require.NotNil(t, resp)
	assert.True(t, resp.OK())
	assert.Equal(t, req.Echo, resp.EchoText())
}

func TestHandle_SubmitterBlockedOnFullQueueGetsConnectionLost(t *testing.T) {
	conns := make(chan *pipeConn, 1)
	dial := func(ctx context.Context) (Conn, error) {
		p := newPipeConn()
		// Unbuffered so the writer stalls on its first request.
		p.out = make(chan []byte)
		p.in <- []byte(helloFrame)
		conns <- p
		return p, nil
	}

	cfg := testConfig("ws://pipe")
	cfg.ReconnectDelay = time.Hour
	cfg.QueueSize = 1

	h := NewHandle(nil)
	sup := NewSupervisor(cfg, h, &recorder{}, nil, WithDialer(dial))
	launch(t, sup)

	backend := <-conns
	waitConnected(t, h)
	l := h.current.Load()
	require.NotNil(t, l)

	type result struct {
		resp *protocol.Response
		err  error
	}
	results := make(chan result, 3)
	for range 3 {
		go func() {
			resp, err := h.Submit(context.Background(), "get_status", nil)
			results <- result{resp, err}
		}()
	}

	// One request is stuck in Write and one fills the queue; the third waits to enqueue.
	require.Eventually(t, func() bool { return len(l.queue) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	_ = backend.CloseNow()

	for range 3 {
		select {
		case r := <-results:
			require.NoError(t, r.err)
			assert.Equal(t, protocol.StatusFailed, r.resp.Status)
			assert.Equal(t, protocol.RetcodeConnectionLost, r.resp.Retcode)
		case <-time.After(3 * time.Second):
			t.Fatal("submitter was never completed")
		}
	}
}
