// ABOUTME: Remaining OneBot v11 actions: moderation, requests, lookups and system calls
// ABOUTME: Thin parameter structs over Client.Call plus typed lookups for common info

package onebot

import (
	"context"

	"github.com/2389/onebot-gateway/internal/protocol"
)

// DeleteMessage recalls a message.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) (*protocol.Response, error) {
	return c.Call(ctx, "delete_msg", map[string]any{"message_id": messageID})
}

// GetMessage fetches a message by id.
func (c *Client) GetMessage(ctx context.Context, messageID int64) (*protocol.Response, error) {
	return c.Call(ctx, "get_msg", map[string]any{"message_id": messageID})
}

// GetForwardMessage fetches the content of a merged-forward message.
func (c *Client) GetForwardMessage(ctx context.Context, id string) (*protocol.Response, error) {
	return c.Call(ctx, "get_forward_msg", map[string]any{"id": id})
}

// SendLike sends profile likes.
func (c *Client) SendLike(ctx context.Context, userID int64, times int) (*protocol.Response, error) {
	return c.Call(ctx, "send_like", map[string]any{"user_id": userID, "times": times})
}

// Group moderation

func (c *Client) SetGroupKick(ctx context.Context, groupID, userID int64, rejectAddRequest bool) (*protocol.Response, error) {
	return c.Call(ctx, "set_group_kick", map[string]any{
		"group_id": groupID, "user_id": userID, "reject_add_request": rejectAddRequest,
	})
}

// SetGroupBan mutes a member for duration seconds; zero lifts the mute.
func (c *Client) SetGroupBan(ctx context.Context, groupID, userID int64, duration int) (*protocol.Response, error) {
	return c.Call(ctx, "set_group_ban", map[string]any{
		"group_id": groupID, "user_id": userID, "duration": duration,
	})
}

// SetGroupAnonymousBan mutes an anonymous member identified by its flag.
func (c *Client) SetGroupAnonymousBan(ctx context.Context, groupID int64, anonymousFlag string, duration int) (*protocol.Response, error) {
	return c.Call(ctx, "set_group_anonymous_ban", map[string]any{
		"group_id": groupID, "anonymous_flag": anonymousFlag, "duration": duration,
	})
}

func (c *Client) SetGroupWholeBan(ctx context.Context, groupID int64, enable bool) (*protocol.Response, error) {
	return c.Call(ctx, "set_group_whole_ban", map[string]any{"group_id": groupID, "enable": enable})
}

func (c *Client) SetGroupAdmin(ctx context.Context, groupID, userID int64, enable bool) (*protocol.Response, error) {
	return c.Call(ctx, "set_group_admin", map[string]any{"group_id": groupID, "user_id": userID, "enable": enable})
}

func (c *Client) SetGroupAnonymous(ctx context.Context, groupID int64, enable bool) (*protocol.Response, error) {
	return c.Call(ctx, "set_group_anonymous", map[string]any{"group_id": groupID, "enable": enable})
}

func (c *Client) SetGroupCard(ctx context.Context, groupID, userID int64, card string) (*protocol.Response, error) {
	return c.Call(ctx, "set_group_card", map[string]any{"group_id": groupID, "user_id": userID, "card": card})
}

func (c *Client) SetGroupName(ctx context.Context, groupID int64, name string) (*protocol.Response, error) {
	return c.Call(ctx, "set_group_name", map[string]any{"group_id": groupID, "group_name": name})
}

// SetGroupLeave leaves a group, or dismisses it when the bot is owner and dismiss is set.
func (c *Client) SetGroupLeave(ctx context.Context, groupID int64, dismiss bool) (*protocol.Response, error) {
	return c.Call(ctx, "set_group_leave", map[string]any{"group_id": groupID, "is_dismiss": dismiss})
}

func (c *Client) SetGroupSpecialTitle(ctx context.Context, groupID, userID int64, title string, duration int) (*protocol.Response, error) {
	return c.Call(ctx, "set_group_special_title", map[string]any{
		"group_id": groupID, "user_id": userID, "special_title": title, "duration": duration,
	})
}

// Requests

func (c *Client) SetFriendAddRequest(ctx context.Context, flag string, approve bool, remark string) (*protocol.Response, error) {
	return c.Call(ctx, "set_friend_add_request", map[string]any{"flag": flag, "approve": approve, "remark": remark})
}

func (c *Client) SetGroupAddRequest(ctx context.Context, flag, subType string, approve bool, reason string) (*protocol.Response, error) {
	return c.Call(ctx, "set_group_add_request", map[string]any{
		"flag": flag, "sub_type": subType, "approve": approve, "reason": reason,
	})
}

// Lookups

// LoginInfo is the data of get_login_info.
type LoginInfo struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
}

// GroupInfo is the data of get_group_info and the elements of get_group_list.
type GroupInfo struct {
	GroupID        int64  `json:"group_id"`
	GroupName      string `json:"group_name"`
	MemberCount    int    `json:"member_count"`
	MaxMemberCount int    `json:"max_member_count"`
}

// MemberInfo is the data of get_group_member_info.
type MemberInfo struct {
	GroupID  int64  `json:"group_id"`
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
	Role     string `json:"role"`
	Title    string `json:"title"`
}

// LoginInfo returns the bot's own account.
func (c *Client) LoginInfo(ctx context.Context) (*LoginInfo, error) {
	var info LoginInfo
	if err := c.CallInto(ctx, "get_login_info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) GetStrangerInfo(ctx context.Context, userID int64, noCache bool) (*protocol.Response, error) {
	return c.Call(ctx, "get_stranger_info", map[string]any{"user_id": userID, "no_cache": noCache})
}

func (c *Client) GetFriendList(ctx context.Context) (*protocol.Response, error) {
	return c.Call(ctx, "get_friend_list", nil)
}

// GroupInfo returns a group's name and size.
func (c *Client) GroupInfo(ctx context.Context, groupID int64, noCache bool) (*GroupInfo, error) {
	var info GroupInfo
	if err := c.CallInto(ctx, "get_group_info", map[string]any{"group_id": groupID, "no_cache": noCache}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GroupList returns every group the bot is in.
func (c *Client) GroupList(ctx context.Context) ([]GroupInfo, error) {
	var groups []GroupInfo
	if err := c.CallInto(ctx, "get_group_list", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// MemberInfo returns a member's card and role.
func (c *Client) MemberInfo(ctx context.Context, groupID, userID int64, noCache bool) (*MemberInfo, error) {
	var info MemberInfo
	params := map[string]any{"group_id": groupID, "user_id": userID, "no_cache": noCache}
	if err := c.CallInto(ctx, "get_group_member_info", params, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) GetGroupMemberList(ctx context.Context, groupID int64) (*protocol.Response, error) {
	return c.Call(ctx, "get_group_member_list", map[string]any{"group_id": groupID})
}

func (c *Client) GetGroupHonorInfo(ctx context.Context, groupID int64, honorType string) (*protocol.Response, error) {
	return c.Call(ctx, "get_group_honor_info", map[string]any{"group_id": groupID, "type": honorType})
}

// Credentials

func (c *Client) GetCookies(ctx context.Context, domain string) (*protocol.Response, error) {
	return c.Call(ctx, "get_cookies", map[string]any{"domain": domain})
}

func (c *Client) GetCSRFToken(ctx context.Context) (*protocol.Response, error) {
	return c.Call(ctx, "get_csrf_token", nil)
}

func (c *Client) GetCredentials(ctx context.Context, domain string) (*protocol.Response, error) {
	return c.Call(ctx, "get_credentials", map[string]any{"domain": domain})
}

// Files

func (c *Client) GetRecord(ctx context.Context, file, outFormat string) (*protocol.Response, error) {
	return c.Call(ctx, "get_record", map[string]any{"file": file, "out_format": outFormat})
}

func (c *Client) GetImage(ctx context.Context, file string) (*protocol.Response, error) {
	return c.Call(ctx, "get_image", map[string]any{"file": file})
}

// Capabilities and status

func (c *Client) CanSendImage(ctx context.Context) (*protocol.Response, error) {
	return c.Call(ctx, "can_send_image", nil)
}

func (c *Client) CanSendRecord(ctx context.Context) (*protocol.Response, error) {
	return c.Call(ctx, "can_send_record", nil)
}

func (c *Client) GetStatus(ctx context.Context) (*protocol.Response, error) {
	return c.Call(ctx, "get_status", nil)
}

func (c *Client) GetVersionInfo(ctx context.Context) (*protocol.Response, error) {
	return c.Call(ctx, "get_version_info", nil)
}

// SetRestart asks the backend to restart after delay milliseconds.
func (c *Client) SetRestart(ctx context.Context, delay int) (*protocol.Response, error) {
	return c.Call(ctx, "set_restart", map[string]any{"delay": delay})
}

func (c *Client) CleanCache(ctx context.Context) (*protocol.Response, error) {
	return c.Call(ctx, "clean_cache", nil)
}
