// ABOUTME: Tests for the OneBot action client using a recording submitter
// ABOUTME: Checks action names, parameter shapes, replies and typed lookups

package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/onebot-gateway/internal/protocol"
)

type call struct {
	action string
	params map[string]any
}

// recordingSubmitter captures calls and answers from a canned response.
type recordingSubmitter struct {
	calls []call
	resp  *protocol.Response
	err   error
}

func (r *recordingSubmitter) Submit(_ context.Context, action string, params any) (*protocol.Response, error) {
	// Round-trip through JSON so assertions see exactly what goes on the wire.
	data, err := json.Marshal(protocol.Request{Action: action, Params: params})
	if err != nil {
		return nil, err
	}
	var wire struct {
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	r.calls = append(r.calls, call{action: action, params: wire.Params})
	if r.err != nil {
		return nil, r.err
	}
	if r.resp != nil {
		return r.resp, nil
	}
	return &protocol.Response{Status: protocol.StatusOK, Data: json.RawMessage(`null`)}, nil
}

func (r *recordingSubmitter) last(t *testing.T) call {
	t.Helper()
	require.NotEmpty(t, r.calls)
	return r.calls[len(r.calls)-1]
}

func TestClient_SendMessages(t *testing.T) {
	sub := &recordingSubmitter{}
	c := NewClient(sub, nil)
	ctx := context.Background()

	_, err := c.SendPrivateMessage(ctx, 42, protocol.TextMessage("hi"))
	require.NoError(t, err)
	got := sub.last(t)
	assert.Equal(t, "send_private_msg", got.action)
	assert.Equal(t, float64(42), got.params["user_id"])
	assert.Equal(t, []any{map[string]any{"type": "text", "data": map[string]any{"text": "hi"}}}, got.params["message"])

	_, err = c.SendGroupMessage(ctx, 555, protocol.TextMessage("yo"))
	require.NoError(t, err)
	got = sub.last(t)
	assert.Equal(t, "send_group_msg", got.action)
	assert.Equal(t, float64(555), got.params["group_id"])

	_, err = c.SendMessage(ctx, Group(555), protocol.TextMessage("x"))
	require.NoError(t, err)
	got = sub.last(t)
	assert.Equal(t, "send_msg", got.action)
	assert.Equal(t, "group", got.params["message_type"])
	assert.Equal(t, float64(555), got.params["group_id"])
	assert.NotContains(t, got.params, "user_id")
}

func TestClient_SendForwardMessage(t *testing.T) {
	sub := &recordingSubmitter{}
	c := NewClient(sub, nil)

	nodes := protocol.Message{
		protocol.Node("10001", "bot", protocol.TextMessage("one")),
		protocol.Node("10001", "bot", protocol.TextMessage("two")),
	}
	_, err := c.SendForwardMessage(context.Background(), Private(42), nodes)
	require.NoError(t, err)
	got := sub.last(t)
	assert.Equal(t, "send_msg", got.action)
	assert.Equal(t, "private", got.params["message_type"])
	assert.Len(t, got.params["message"], 2)

	_, err = c.SendForwardMessage(context.Background(), Private(42), protocol.TextMessage("plain"))
	assert.Error(t, err)
	assert.Len(t, sub.calls, 1)
}

func TestClient_Reply(t *testing.T) {
	sub := &recordingSubmitter{}
	c := NewClient(sub, nil)
	ctx := context.Background()

	group := &protocol.MessageEvent{MessageType: protocol.MessageGroup, MessageID: 7, GroupID: 555, UserID: 42}
	_, err := c.ReplyText(ctx, group, "pong", true)
	require.NoError(t, err)
	got := sub.last(t)
	assert.Equal(t, "send_group_msg", got.action)
	msg := got.params["message"].([]any)
	require.Len(t, msg, 2)
	assert.Equal(t, map[string]any{"type": "reply", "data": map[string]any{"id": "7"}}, msg[0])

	private := &protocol.MessageEvent{MessageType: protocol.MessagePrivate, MessageID: 8, UserID: 42}
	_, err = c.ReplyText(ctx, private, "pong", false)
	require.NoError(t, err)
	got = sub.last(t)
	assert.Equal(t, "send_private_msg", got.action)
	assert.Len(t, got.params["message"], 1)
}

func TestClient_NilParamsSendEmptyObject(t *testing.T) {
	sub := &recordingSubmitter{}
	c := NewClient(sub, nil)

	_, err := c.GetStatus(context.Background())
	require.NoError(t, err)
	got := sub.last(t)
	assert.Equal(t, "get_status", got.action)
	assert.NotNil(t, got.params)
	assert.Empty(t, got.params)
}

func TestClient_Moderation(t *testing.T) {
	sub := &recordingSubmitter{}
	c := NewClient(sub, nil)
	ctx := context.Background()

	_, _ = c.SetGroupBan(ctx, 555, 42, 600)
	assert.Equal(t, call{"set_group_ban", map[string]any{"group_id": float64(555), "user_id": float64(42), "duration": float64(600)}}, sub.last(t))

	_, _ = c.SetGroupAddRequest(ctx, "flag", "add", true, "")
	assert.Equal(t, call{"set_group_add_request", map[string]any{"flag": "flag", "sub_type": "add", "approve": true, "reason": ""}}, sub.last(t))

	_, _ = c.GetGroupHonorInfo(ctx, 555, "talkative")
	assert.Equal(t, "talkative", sub.last(t).params["type"])
}

func TestClient_TypedLookups(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		sub := &recordingSubmitter{resp: &protocol.Response{
			Status: protocol.StatusOK,
			Data:   json.RawMessage(`{"group_id":555,"group_name":"testers","member_count":12,"max_member_count":200}`),
		}}
		info, err := NewClient(sub, nil).GroupInfo(context.Background(), 555, false)
		require.NoError(t, err)
		assert.Equal(t, "testers", info.GroupName)
		assert.Equal(t, 12, info.MemberCount)
	})

	t.Run("failed response", func(t *testing.T) {
		sub := &recordingSubmitter{resp: protocol.TimeoutResponse("e")}
		_, err := NewClient(sub, nil).LoginInfo(context.Background())
		var rerr *protocol.ResponseError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, protocol.RetcodeTimeout, rerr.Retcode)
	})

	t.Run("submit error", func(t *testing.T) {
		sub := &recordingSubmitter{err: errors.New("not connected")}
		_, err := NewClient(sub, nil).GroupList(context.Background())
		assert.ErrorContains(t, err, "get_group_list")
	})
}

func TestTarget_String(t *testing.T) {
	assert.Equal(t, "User(42)", Private(42).String())
	assert.Equal(t, "Group(555)", Group(555).String())
	assert.Equal(t, "User(1)", Target{UserID: 1}.String())
	assert.Equal(t, "Group(2)", Target{GroupID: 2}.String())
}
