// Package gscore bridges chat messages to a GSCore backend.
//
// The Adapter is a dispatch application. Message events from private chats
// and enabled groups are translated to MessageReceive and queued on the
// Daemon, which writes them to GSCore as binary frames. MessageSend frames
// coming back are translated into send_msg actions (plain or merged-forward)
// and executed through the OneBot client, one at a time per connection.
//
// The daemon reconnects on the same fixed delay as the primary session and
// starts every connection with an empty queue.
package gscore
