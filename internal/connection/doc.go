// Package connection implements the streaming transport and its lifecycle.
//
// Client wraps a single WebSocket connection. Manager owns one Client at a
// time and drives the connection state machine:
//
//	Disconnected -> Connecting -> Connected
//	Connected -> Reconnecting  (unexpected closure)
//	Reconnecting -> Connecting (after base * 2^attempt)
//	Reconnecting -> Failed     (attempts exhausted)
//
// A subscription is Connected only once the server acknowledges it. Every
// inbound message is tagged with the subscription key it arrived on so the
// consumer can discard traffic for a key it has moved away from.
package connection
