// Package onebot is the application-facing OneBot v11 action client.
//
// A Client wraps anything that can submit an action (normally the session
// handle) and provides one method per action:
//
//	client := onebot.NewClient(handle, logger)
//	resp, err := client.SendGroupMessage(ctx, groupID, protocol.TextMessage("hi"))
//
// Methods returning *protocol.Response hand back every response the gateway
// produces, including synthetic timeout and connection-lost responses. The
// typed lookups (LoginInfo, GroupInfo, GroupList, MemberInfo) turn non-success
// responses into *protocol.ResponseError.
package onebot
