// Package api provides the client for the historical candle endpoint.
//
// Endpoint:
//   - GET {base}/candles?symbol=&timeframe=&exchange=&limit=
//
// Response: {"success": bool, "candles": [{time|start|timestamp, open, high,
// low, close, volume|vol}]}. Numeric fields may be numbers or strings.
//
// Transport errors, timeouts and HTTP 5xx/429 are retried with a fixed delay.
// Other failures are returned immediately.
package api
