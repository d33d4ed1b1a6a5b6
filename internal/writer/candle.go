package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/marketsync/internal/buffer"
	"github.com/rickgao/marketsync/internal/database"
	"github.com/rickgao/marketsync/internal/model"
)

// WriterConfig holds batching parameters.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // Initial buffer capacity
	WriteTimeout  time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
		WriteTimeout:  10 * time.Second,
	}
}

// WriterMetrics tracks writer activity.
type WriterMetrics struct {
	Received  int64 // Candles accepted by Record
	Dropped   int64 // Candles refused after Stop
	Collapsed int64 // Rows merged into a later row in the same batch
	Inserts   int64 // Rows written
	Flushes   int64
	Errors    int64
}

type rowKey struct {
	venue, instrument string
	timeframe         model.Timeframe
	openTime          int64
}

// CandleWriter persists candles recorded by sync controllers.
type CandleWriter struct {
	cfg    WriterConfig
	store  database.CandleStore
	logger *slog.Logger

	input *buffer.Growable[database.Row]

	// Batching
	batch   []database.Row
	index   map[rowKey]int
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metricsMu sync.Mutex
	metrics   WriterMetrics
}

// NewCandleWriter creates a new CandleWriter.
func NewCandleWriter(cfg WriterConfig, store database.CandleStore, logger *slog.Logger) *CandleWriter {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &CandleWriter{
		cfg:    cfg,
		store:  store,
		logger: logger,
		input:  buffer.New[database.Row](cfg.BufferSize),
		batch:  make([]database.Row, 0, cfg.BatchSize),
		index:  make(map[rowKey]int, cfg.BatchSize),
	}
}

// Record queues candles for key. It never blocks.
func (w *CandleWriter) Record(key model.SubscriptionKey, candles []model.Candle) {
	var accepted, dropped int64
	for _, row := range database.RowsFor(key, candles) {
		if w.input.Push(row) {
			accepted++
		} else {
			dropped++
		}
	}

	w.metricsMu.Lock()
	w.metrics.Received += accepted
	w.metrics.Dropped += dropped
	w.metricsMu.Unlock()
}

// Start begins consuming queued candles.
func (w *CandleWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("candle writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop closes the input, drains what is queued and flushes.
func (w *CandleWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping candle writer")

	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("candle writer stop timed out")
		return ctx.Err()
	}

	// Final drain and flush
	for _, row := range w.input.Drain(0) {
		w.add(row)
	}
	w.flush(ctx)

	w.logger.Info("candle writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *CandleWriter) Stats() WriterMetrics {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	return w.metrics
}

// Pending returns the number of queued rows not yet batched.
func (w *CandleWriter) Pending() int {
	return w.input.Len()
}

func (w *CandleWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		row, err := w.input.Pop(w.ctx)
		if err != nil {
			return
		}
		if w.add(row) {
			w.flush(w.ctx)
		}
	}
}

func (w *CandleWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// add puts row in the batch, collapsing rows with the same key and open
// time. It reports whether the batch is full.
func (w *CandleWriter) add(row database.Row) bool {
	k := rowKey{
		venue:      row.Venue,
		instrument: row.Instrument,
		timeframe:  row.Timeframe,
		openTime:   row.Candle.OpenTime.UnixNano(),
	}

	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	if i, ok := w.index[k]; ok {
		w.batch[i] = row
		w.metricsMu.Lock()
		w.metrics.Collapsed++
		w.metricsMu.Unlock()
		return false
	}
	w.index[k] = len(w.batch)
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// flush writes the current batch to the store.
func (w *CandleWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]database.Row, 0, w.cfg.BatchSize)
	w.index = make(map[rowKey]int, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if w.store == nil {
		return
	}

	// The final flush runs after the writer context is cancelled.
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
	defer cancel()

	start := time.Now()
	written, err := w.store.UpsertCandles(ctx, batch)
	if err != nil {
		w.logger.Error("batch upsert failed", "error", err, "count", len(batch))
		w.metricsMu.Lock()
		w.metrics.Errors++
		w.metricsMu.Unlock()
		return
	}

	w.metricsMu.Lock()
	w.metrics.Inserts += int64(written)
	w.metrics.Flushes++
	w.metricsMu.Unlock()

	w.logger.Debug("flushed candles",
		"count", len(batch),
		"written", written,
		"duration", time.Since(start),
	)
}
