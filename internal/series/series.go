package series

import (
	"math"
	"sort"
	"time"

	"github.com/rickgao/marketsync/internal/model"
)

// MergeResult reports what ApplyCandle did.
type MergeResult int

const (
	Rejected MergeResult = iota
	Appended
	Replaced
	Inserted
	Late
)

func (r MergeResult) String() string {
	switch r {
	case Appended:
		return "appended"
	case Replaced:
		return "replaced"
	case Inserted:
		return "inserted"
	case Late:
		return "late"
	default:
		return "rejected"
	}
}

// TickResult reports what ApplyTick did.
type TickResult int

const (
	TickApplied TickResult = iota
	TickDropped
	TickRejected
)

func (r TickResult) String() string {
	switch r {
	case TickApplied:
		return "applied"
	case TickDropped:
		return "dropped"
	default:
		return "rejected"
	}
}

// Series is an ascending, duplicate-free run of candles capped at maxLen.
type Series struct {
	candles  []model.Candle
	maxLen   int
	interval time.Duration
}

// New creates an empty series. maxLen <= 0 means uncapped.
func New(maxLen int, interval time.Duration) *Series {
	return &Series{maxLen: maxLen, interval: interval}
}

// Interval returns the expected bar spacing.
func (s *Series) Interval() time.Duration { return s.interval }

// Len returns the number of candles.
func (s *Series) Len() int { return len(s.candles) }

// Last returns the newest candle.
func (s *Series) Last() (model.Candle, bool) {
	if len(s.candles) == 0 {
		return model.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Candles returns a copy of the series.
func (s *Series) Candles() []model.Candle {
	out := make([]model.Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// Clear drops every candle.
func (s *Series) Clear() {
	s.candles = nil
}

// Seed replaces the content with candles, which must already be normalized.
func (s *Series) Seed(candles []model.Candle) {
	s.candles = make([]model.Candle, len(candles))
	copy(s.candles, candles)
	s.evict()
}

// Reseed installs authoritative history. Candles strictly newer than the
// loaded tail survive; everything at or before it is replaced.
func (s *Series) Reseed(candles []model.Candle) {
	if len(candles) == 0 {
		return
	}
	tail := candles[len(candles)-1].OpenTime
	i := sort.Search(len(s.candles), func(i int) bool {
		return s.candles[i].OpenTime.After(tail)
	})
	live := s.candles[i:]

	merged := make([]model.Candle, 0, len(candles)+len(live))
	merged = append(merged, candles...)
	merged = append(merged, live...)
	s.candles = merged
	s.evict()
}

// ApplyCandle merges c by open time and enforces the length cap.
func (s *Series) ApplyCandle(c model.Candle) MergeResult {
	if !c.Valid() {
		return Rejected
	}

	n := len(s.candles)
	if n == 0 || c.OpenTime.After(s.candles[n-1].OpenTime) {
		s.candles = append(s.candles, c)
		s.evict()
		return Appended
	}

	i := sort.Search(n, func(i int) bool {
		return !s.candles[i].OpenTime.Before(c.OpenTime)
	})
	if i < n && s.candles[i].OpenTime.Equal(c.OpenTime) {
		s.candles[i] = c
		return Replaced
	}

	result := Inserted
	if s.interval > 0 && s.candles[n-1].OpenTime.Sub(c.OpenTime) > s.interval {
		result = Late
	}
	s.candles = append(s.candles, model.Candle{})
	copy(s.candles[i+1:], s.candles[i:])
	s.candles[i] = c
	s.evict()
	return result
}

// ApplyTick folds t into the last candle. The number of candles and the
// last open time never change.
func (s *Series) ApplyTick(t model.Tick) TickResult {
	if len(s.candles) == 0 {
		return TickDropped
	}
	if !model.ValidPrice(t.Price) {
		return TickRejected
	}

	last := &s.candles[len(s.candles)-1]
	last.Close = t.Price
	last.High = math.Max(last.High, t.Price)
	last.Low = math.Min(last.Low, t.Price)
	if t.Volume != nil {
		last.Volume = *t.Volume
	}
	return TickApplied
}

func (s *Series) evict() {
	if s.maxLen <= 0 || len(s.candles) <= s.maxLen {
		return
	}
	drop := len(s.candles) - s.maxLen
	s.candles = append(s.candles[:0:0], s.candles[drop:]...)
}
