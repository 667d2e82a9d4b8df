// ABOUTME: End-to-end tests for the supervisor against an in-process WebSocket backend
// ABOUTME: Covers correlation, timeouts, connection loss, reconnects and event routing

package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/onebot-gateway/internal/protocol"
)

const helloFrame = `{"time":1700000000,"self_id":10001,"post_type":"meta_event","meta_event_type":"lifecycle","sub_type":"connect"}`

type backendRequest struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
	Echo   string          `json:"echo"`
}

// fakeBackend is a OneBot-like WebSocket server. respond is called for each
// request on the connection's own goroutine.
type fakeBackend struct {
	server  *httptest.Server
	hello   string
	respond func(ctx context.Context, c *websocket.Conn, req backendRequest)
	after   func(ctx context.Context, c *websocket.Conn)
	conns   atomic.Int32
}

func newFakeBackend(t *testing.T, fb *fakeBackend) *fakeBackend {
	t.Helper()
	if fb.hello == "" {
		fb.hello = helloFrame
	}
	fb.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		fb.conns.Add(1)

		ctx := r.Context()
		if err := c.Write(ctx, websocket.MessageText, []byte(fb.hello)); err != nil {
			return
		}
		if fb.after != nil {
			fb.after(ctx, c)
		}
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var req backendRequest
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			if fb.respond != nil {
				fb.respond(ctx, c, req)
			}
		}
	}))
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBackend) url() string {
	return "ws" + strings.TrimPrefix(fb.server.URL, "http")
}

func okResponse(echo string, data string) []byte {
	return []byte(`{"status":"ok","retcode":0,"data":` + data + `,"echo":"` + echo + `"}`)
}

type recorder struct {
	mu     sync.Mutex
	events []*protocol.Event
	loads  atomic.Int32
}

func (r *recorder) Dispatch(ev *protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Load() { r.loads.Add(1) }

func (r *recorder) snapshot() []*protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*protocol.Event(nil), r.events...)
}

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:         endpoint,
		ReconnectDelay:   20 * time.Millisecond,
		RequestTimeout:   2 * time.Second,
		SweepInterval:    50 * time.Millisecond,
		HandshakeTimeout: time.Second,
	}
}

func launch(t *testing.T, sup *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Launch(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Error("Launch did not return after cancel")
		}
	})
}

func waitConnected(t *testing.T, h *Handle) {
	t.Helper()
	require.Eventually(t, h.Connected, 3*time.Second, 10*time.Millisecond)
}

func TestSubmit_NotConnected(t *testing.T) {
	h := NewHandle(nil)
	_, err := h.Submit(context.Background(), "get_status", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSupervisor_RoundTrip(t *testing.T) {
	fb := newFakeBackend(t, &fakeBackend{
		respond: func(ctx context.Context, c *websocket.Conn, req backendRequest) {
			if req.Action == "get_login_info" {
				_ = c.Write(ctx, websocket.MessageText, okResponse(req.Echo, `{"user_id":10001,"nickname":"bot"}`))
			}
		},
	})

	rec := &recorder{}
	h := NewHandle(nil)
	sup := NewSupervisor(testConfig(fb.url()), h, rec, nil)
	launch(t, sup)
	waitConnected(t, h)

	resp, err := h.Submit(context.Background(), "get_login_info", nil)
	require.NoError(t, err)
	require.True(t, resp.OK())

	var info struct {
		UserID   int64  `json:"user_id"`
		Nickname string `json:"nickname"`
	}
	require.NoError(t, resp.DecodeData(&info))
	assert.Equal(t, int64(10001), info.UserID)
	assert.Equal(t, "bot", info.Nickname)

	st := sup.Status()
	assert.True(t, st.Connected)
	assert.Equal(t, int64(10001), st.SelfID)
	assert.Equal(t, 0, st.Pending)
	assert.False(t, st.LastFrameAt.IsZero())
	assert.Equal(t, int32(1), rec.loads.Load())

	// The handshake frame is consumed, not dispatched.
	assert.Empty(t, rec.snapshot())
}

func TestSupervisor_ConcurrentSubmitsCorrelate(t *testing.T) {
	fb := newFakeBackend(t, &fakeBackend{
		respond: func(ctx context.Context, c *websocket.Conn, req backendRequest) {
			// Answer in a goroutine so replies can overtake each other.
			go func() {
				_ = c.Write(ctx, websocket.MessageText, okResponse(req.Echo, string(req.Params)))
			}()
		},
	})

	h := NewHandle(nil)
	sup := NewSupervisor(testConfig(fb.url()), h, &recorder{}, nil)
	launch(t, sup)
	waitConnected(t, h)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.Submit(context.Background(), "echo", map[string]int{"n": i})
			if !assert.NoError(t, err) {
				return
			}
			var got map[string]int
			assert.NoError(t, resp.DecodeData(&got))
			assert.Equal(t, i, got["n"])
		}()
	}
	wg.Wait()
}

func TestSupervisor_RequestTimeout(t *testing.T) {
	fb := newFakeBackend(t, &fakeBackend{})

	cfg := testConfig(fb.url())
	cfg.RequestTimeout = 100 * time.Millisecond
	cfg.SweepInterval = 20 * time.Millisecond

	h := NewHandle(nil)
	sup := NewSupervisor(cfg, h, &recorder{}, nil)
	launch(t, sup)
	waitConnected(t, h)

	start := time.Now()
	resp, err := h.Submit(context.Background(), "get_status", nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusTimeout, resp.Status)
	assert.Equal(t, protocol.RetcodeTimeout, resp.Retcode)
	assert.Equal(t, "Request timeout", resp.MessageText())
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	// The session survives a timeout.
	assert.True(t, h.Connected())
}

func TestSupervisor_ConnectionLostAndReconnect(t *testing.T) {
	fb := newFakeBackend(t, &fakeBackend{
		respond: func(ctx context.Context, c *websocket.Conn, req backendRequest) {
			if req.Action == "drop" {
				_ = c.CloseNow()
				return
			}
			_ = c.Write(ctx, websocket.MessageText, okResponse(req.Echo, `null`))
		},
	})

	rec := &recorder{}
	h := NewHandle(nil)
	sup := NewSupervisor(testConfig(fb.url()), h, rec, nil)
	launch(t, sup)
	waitConnected(t, h)

	resp, err := h.Submit(context.Background(), "drop", nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusFailed, resp.Status)
	assert.Equal(t, protocol.RetcodeConnectionLost, resp.Retcode)
	assert.Equal(t, "Connection lost", resp.MessageText())

	require.Eventually(t, func() bool { return fb.conns.Load() >= 2 && h.Connected() },
		3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, sup.Status().Retries, int64(1))
	// Reconnects reuse the applications loaded on the first handshake.
	assert.Equal(t, int32(1), rec.loads.Load())

	resp, err = h.Submit(context.Background(), "get_status", nil)
	require.NoError(t, err)
	assert.True(t, resp.OK())
}

func TestSupervisor_RoutesEventsAndSurvivesBadFrames(t *testing.T) {
	fb := newFakeBackend(t, &fakeBackend{
		after: func(ctx context.Context, c *websocket.Conn) {
			frames := []string{
				`not json at all`,
				`[1,2,3]`,
				`{"status":"ok","retcode":0,"data":null,"echo":"ghost"}`,
				`{"time":1,"self_id":10001,"post_type":"bogus"}`,
				`{"time":1,"self_id":10001,"post_type":"message","message_type":"group","sub_type":"normal",` +
					`"message_id":7,"group_id":555,"user_id":42,"message":[{"type":"text","data":{"text":"hello"}}],` +
					`"raw_message":"hello","font":0,"sender":{"user_id":42,"nickname":"alice"}}`,
			}
			for _, f := range frames {
				if err := c.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
					return
				}
			}
		},
	})

	rec := &recorder{}
	h := NewHandle(nil)
	sup := NewSupervisor(testConfig(fb.url()), h, rec, nil)
	launch(t, sup)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 3*time.Second, 10*time.Millisecond)
	ev := rec.snapshot()[0]
	require.NotNil(t, ev.Message)
	assert.Equal(t, int64(555), ev.Message.GroupID)
	assert.Equal(t, "hello", ev.Message.Message.PlainText())

	assert.True(t, h.Connected())
	assert.Equal(t, int32(1), fb.conns.Load())
}

func TestSupervisor_HandshakeRejectedRetries(t *testing.T) {
	fb := newFakeBackend(t, &fakeBackend{
		hello: `{"status":"failed","retcode":1403,"data":null,"message":"bad token","echo":"hs"}`,
	})

	h := NewHandle(nil)
	sup := NewSupervisor(testConfig(fb.url()), h, &recorder{}, nil)
	launch(t, sup)

	require.Eventually(t, func() bool { return fb.conns.Load() >= 3 }, 3*time.Second, 10*time.Millisecond)
	assert.False(t, h.Connected())
	assert.GreaterOrEqual(t, sup.Status().Retries, int64(2))
}

func TestSupervisor_HandshakeEchoSuccess(t *testing.T) {
	fb := newFakeBackend(t, &fakeBackend{
		hello: `{"status":"ok","retcode":0,"data":null,"echo":"hs"}`,
	})

	h := NewHandle(nil)
	sup := NewSupervisor(testConfig(fb.url()), h, &recorder{}, nil)
	launch(t, sup)
	waitConnected(t, h)
}

func TestSupervisor_DialFailureRetries(t *testing.T) {
	var attempts atomic.Int32
	dial := func(ctx context.Context) (Conn, error) {
		attempts.Add(1)
		return nil, errors.New("connection refused")
	}

	h := NewHandle(nil)
	sup := NewSupervisor(testConfig("ws://unused"), h, &recorder{}, nil, WithDialer(dial))
	launch(t, sup)

	require.Eventually(t, func() bool { return attempts.Load() >= 3 }, 3*time.Second, 5*time.Millisecond)
	assert.False(t, h.Connected())
}

func TestSupervisor_LaunchTwice(t *testing.T) {
	dial := func(ctx context.Context) (Conn, error) { return nil, errors.New("down") }
	sup := NewSupervisor(testConfig("ws://unused"), NewHandle(nil), &recorder{}, nil, WithDialer(dial))
	launch(t, sup)

	require.Eventually(t, func() bool { return sup.started.Load() }, time.Second, 5*time.Millisecond)
	assert.Error(t, sup.Launch(context.Background()))
}

func TestEndpointURL(t *testing.T) {
	got, err := EndpointURL("ws://127.0.0.1:3001/onebot?x=1", "secret")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:3001/onebot?access_token=secret&x=1", got)

	got, err = EndpointURL("ws://127.0.0.1:3001", "")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:3001", got)
}

func TestSupervisor_LoadsApplicationsOnce(t *testing.T) {
	conns := make(chan *pipeConn, 4)
	rec := &recorder{}
	h := NewHandle(nil)
	sup := NewSupervisor(testConfig("ws://pipe"), h, rec, nil, WithDialer(pipeDialer(conns)))
	launch(t, sup)

	for range 3 {
		backend := <-conns
		waitConnected(t, h)
		_ = backend.CloseNow()
	}
	<-conns
	waitConnected(t, h)

	assert.Equal(t, int32(1), rec.loads.Load())
	assert.GreaterOrEqual(t, sup.Status().Retries, int64(3))
}
