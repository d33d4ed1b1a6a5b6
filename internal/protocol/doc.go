// Package protocol defines the wire shapes exchanged with the streaming
// channel and the historical endpoint.
//
// Inbound frames are JSON objects discriminated by "type":
//   - candle: a complete OHLCV bar keyed by its start time
//   - tick: a single trade print (price, optional volume, optional timestamp)
//   - subscribed / unsubscribed: subscription acknowledgements
//   - error: a server-reported fault
//   - heartbeat: keep-alive
//
// Numeric fields accept JSON numbers or numeric strings. A field that cannot
// be coerced decodes as absent instead of failing the whole frame; the
// consumer decides whether an absent value is acceptable.
//
// Outbound control frames are built with Subscribe and Unsubscribe.
package protocol
