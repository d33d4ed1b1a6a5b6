// Package series holds the capped, time-ordered candle series a chart shows
// and the two operations that mutate it from the live feed:
//
//   - ApplyCandle merges a complete bar keyed by open time
//   - ApplyTick folds a trade print into the last bar
//
// A Series is not safe for concurrent use. It is owned by one controller.
package series
