package series

import (
	"sort"

	"github.com/rickgao/marketsync/internal/model"
)

// Normalize sorts candles ascending by open time, collapses duplicate open
// times keeping the last occurrence, and keeps the newest maxPoints entries.
// maxPoints <= 0 keeps everything. The input is not modified.
func Normalize(candles []model.Candle, maxPoints int) []model.Candle {
	sorted := make([]model.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OpenTime.Before(sorted[j].OpenTime)
	})

	out := sorted[:0]
	for _, c := range sorted {
		if n := len(out); n > 0 && out[n-1].OpenTime.Equal(c.OpenTime) {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}

	if maxPoints > 0 && len(out) > maxPoints {
		out = out[len(out)-maxPoints:]
	}
	return out
}
