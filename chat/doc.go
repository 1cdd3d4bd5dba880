// Package chat is the Twitch IRC transport. It is a producer for the
// dispatch loop's inbound queue: incoming IRC lines are parsed into typed
// events on the IRC client's read goroutine and enqueued; the loop never
// touches the connection. The same client doubles as the outbound sink
// (best-effort Say).
//
// It also hosts the live-status poller, which turns Helix stream lookups
// into StreamStatus events on live/offline transitions.
package chat
