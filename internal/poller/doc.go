// Package poller implements the reconciliation poller.
//
// The poller:
//   - Refetches the historical window of every chart on a fixed interval
//   - Bounds the number of concurrent refetches with a semaphore
//   - Skips charts whose venue calendar says the market is closed
//
// A refetch reconciles the series with the authoritative history without
// touching the stream, so gaps left by dropped frames are repaired.
package poller
