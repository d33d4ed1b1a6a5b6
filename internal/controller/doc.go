// Package controller implements the per-chart sync controller.
//
// A Controller owns one candle series and one stream. All state changes
// happen on a single goroutine; public methods enqueue a command and wait
// for it to be applied. Historical loads run in the background and carry
// the generation they were issued under. A result whose generation no
// longer matches is discarded, so a slow load for a previous instrument can
// never overwrite the series of the current one.
//
// Stream messages carry the subscription key they arrived on. Messages for
// any other key are discarded and counted.
package controller
