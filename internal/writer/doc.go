// Package writer implements the batched candle writer.
//
// The writer is the sink of every sync controller. Candles are queued in a
// growable buffer so controllers never block on storage, then written in
// batches when the batch fills or the flush interval elapses. Within a batch,
// rows for the same key and open time collapse to the last one seen.
package writer
