// ABOUTME: Tests for the built-in applications
// ABOUTME: Uses recording fakes for replies, group lookups and the Matrix room

package apps

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/onebot-gateway/internal/onebot"
	"github.com/2389/onebot-gateway/internal/protocol"
)

func messageEvent(kind string, groupID, userID int64, raw string) *protocol.Event {
	return &protocol.Event{
		SelfID:   10001,
		PostType: protocol.PostMessage,
		Message: &protocol.MessageEvent{
			MessageType: kind,
			MessageID:   99,
			GroupID:     groupID,
			UserID:      userID,
			RawMessage:  raw,
			Message:     protocol.TextMessage(raw),
			Sender:      protocol.Sender{UserID: userID, Nickname: "alice"},
		},
	}
}

type reply struct {
	to    *protocol.MessageEvent
	text  string
	quote bool
}

type fakeReplier struct {
	replies []reply
	resp    *protocol.Response
}

func (f *fakeReplier) ReplyText(_ context.Context, ev *protocol.MessageEvent, text string, quote bool) (*protocol.Response, error) {
	f.replies = append(f.replies, reply{to: ev, text: text, quote: quote})
	if f.resp != nil {
		return f.resp, nil
	}
	return &protocol.Response{Status: protocol.StatusOK}, nil
}

type fixedClock time.Time

func (c fixedClock) LastFrameAt() time.Time { return time.Time(c) }

func TestPing(t *testing.T) {
	const owner, mainGroup = 42, 555
	ctx := context.Background()

	tests := []struct {
		name string
		ev   *protocol.Event
		want string
	}{
		{"owner private ping", messageEvent(protocol.MessagePrivate, 0, owner, "ping"), "pong"},
		{"stranger private ping", messageEvent(protocol.MessagePrivate, 0, 7, "ping"), ""},
		{"main group ping", messageEvent(protocol.MessageGroup, mainGroup, 7, "ping"), "pong"},
		{"other group ping", messageEvent(protocol.MessageGroup, 999, owner, "ping"), ""},
		{"perf anywhere", messageEvent(protocol.MessageGroup, 999, 7, "!perf"), "tpr: 1.5s"},
		{"not a command", messageEvent(protocol.MessageGroup, mainGroup, 7, "ping please"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeReplier{}
			now := time.Unix(1700000000, 0)
			p := NewPing(r, fixedClock(now.Add(-1500*time.Millisecond)), owner, mainGroup, nil)
			p.now = func() time.Time { return now }

			require.NoError(t, p.OnEvent(ctx, tt.ev))
			if tt.want == "" {
				assert.Empty(t, r.replies)
				return
			}
			require.Len(t, r.replies, 1)
			assert.Equal(t, tt.want, r.replies[0].text)
			assert.True(t, r.replies[0].quote)
			assert.Same(t, tt.ev.Message, r.replies[0].to)
		})
	}
}

func TestPing_ReplyFailure(t *testing.T) {
	r := &fakeReplier{resp: protocol.TimeoutResponse("e")}
	p := NewPing(r, fixedClock(time.Time{}), 42, 555, nil)

	err := p.OnEvent(context.Background(), messageEvent(protocol.MessageGroup, 555, 1, "ping"))
	var rerr *protocol.ResponseError
	assert.ErrorAs(t, err, &rerr)
}

func TestPing_PerfBeforeFirstFrame(t *testing.T) {
	r := &fakeReplier{}
	p := NewPing(r, fixedClock(time.Time{}), 42, 555, nil)

	require.NoError(t, p.OnEvent(context.Background(), messageEvent(protocol.MessagePrivate, 0, 1, "!perf")))
	require.Len(t, r.replies, 1)
	assert.Equal(t, "tpr: 0s", r.replies[0].text)
}

type fakeLookup struct {
	calls int
	err   error
}

func (f *fakeLookup) GroupInfo(_ context.Context, groupID int64, _ bool) (*onebot.GroupInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &onebot.GroupInfo{GroupID: groupID, GroupName: "testers"}, nil
}

func TestLogger_CachesGroupNames(t *testing.T) {
	lookup := &fakeLookup{}
	l := NewLogger(lookup, nil, nil)
	ctx := context.Background()

	for range 3 {
		require.NoError(t, l.OnEvent(ctx, messageEvent(protocol.MessageGroup, 555, 1, "hi")))
	}
	assert.Equal(t, 1, lookup.calls)
	assert.Equal(t, "testers", l.names[555])

	require.NoError(t, l.OnEvent(ctx, messageEvent(protocol.MessagePrivate, 0, 1, "hi")))
	assert.Equal(t, 1, lookup.calls, "private messages need no lookup")
}

func TestLogger_LookupFailureNotCached(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("timeout")}
	l := NewLogger(lookup, nil, nil)
	ctx := context.Background()

	require.NoError(t, l.OnEvent(ctx, messageEvent(protocol.MessageGroup, 555, 1, "a")))
	require.NoError(t, l.OnEvent(ctx, messageEvent(protocol.MessageGroup, 555, 1, "b")))
	assert.Equal(t, 2, lookup.calls)
	assert.NotContains(t, l.names, int64(555))
}

func TestLogger_GroupFilter(t *testing.T) {
	lookup := &fakeLookup{}
	l := NewLogger(lookup, []int64{555}, nil)

	require.NoError(t, l.OnEvent(context.Background(), messageEvent(protocol.MessageGroup, 999, 1, "a")))
	assert.Equal(t, 0, lookup.calls)
}

type sentText struct {
	room id.RoomID
	text string
}

type fakeRoom struct {
	mu   sync.Mutex
	sent []sentText
	err  error
}

func (f *fakeRoom) SendText(_ context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sentText{room: roomID, text: text})
	return &mautrix.RespSendEvent{EventID: id.EventID("$evt")}, nil
}

func TestMatrixMirror(t *testing.T) {
	room := &fakeRoom{}
	m := newMatrixMirror(room, MatrixConfig{RoomID: "!room:example.org", Groups: []int64{555}}, nil)
	ctx := context.Background()

	require.NoError(t, m.OnEvent(ctx, messageEvent(protocol.MessageGroup, 555, 42, "hello")))
	require.NoError(t, m.OnEvent(ctx, messageEvent(protocol.MessageGroup, 999, 42, "skipped")))
	require.NoError(t, m.OnEvent(ctx, messageEvent(protocol.MessagePrivate, 0, 42, "skipped")))

	require.Len(t, room.sent, 1)
	assert.Equal(t, id.RoomID("!room:example.org"), room.sent[0].room)
	assert.Equal(t, "[555] alice: hello", room.sent[0].text)
}

func TestMatrixMirror_SendError(t *testing.T) {
	room := &fakeRoom{err: errors.New("M_FORBIDDEN")}
	m := newMatrixMirror(room, MatrixConfig{RoomID: "!r", Groups: []int64{555}}, nil)

	err := m.OnEvent(context.Background(), messageEvent(protocol.MessageGroup, 555, 42, "x"))
	assert.ErrorContains(t, err, "M_FORBIDDEN")
}

func TestMatrixMirror_RateLimited(t *testing.T) {
	room := &fakeRoom{}
	m := newMatrixMirror(room, MatrixConfig{RoomID: "!r", Groups: []int64{555}, Rate: 0.001, Burst: 1}, nil)

	require.NoError(t, m.OnEvent(context.Background(), messageEvent(protocol.MessageGroup, 555, 42, "first")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.OnEvent(ctx, messageEvent(protocol.MessageGroup, 555, 42, "second"))
	assert.Error(t, err)
	assert.Len(t, room.sent, 1)
}

func TestNewMatrixMirror(t *testing.T) {
	m, err := NewMatrixMirror(MatrixConfig{
		Homeserver:  "https://matrix.example.org",
		UserID:      "@bot:example.org",
		AccessToken: "token",
		RoomID:      "!room:example.org",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "matrix mirror", m.Name())
}
