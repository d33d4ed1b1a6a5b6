// Package instrument resolves the venue code annotating subscribe frames and
// answers whether a venue is currently trading.
//
// Venue codes are lowercase ISO 10383 MICs, matching the identifiers used by
// github.com/scmhub/calendar.
package instrument

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/scmhub/calendar"
)

// DefaultVenueCode is used when a symbol has no override and no known suffix.
const DefaultVenueCode = "xnys"

// suffixVenues maps ticker suffixes to MICs.
var suffixVenues = []struct {
	suffix string
	mic    string
}{
	{".NS", "xnse"},
	{".BO", "xbom"},
	{".L", "xlon"},
	{".PA", "xpar"},
	{".DE", "xfra"},
	{".AS", "xams"},
	{".BR", "xbru"},
	{".MI", "xmil"},
	{".MC", "xmad"},
	{".ST", "xsto"},
	{".CO", "xcse"},
	{".HE", "xhel"},
	{".VI", "xwbo"},
	{".SW", "xswx"},
	{".TO", "xtse"},
	{".V", "xtsx"},
	{".T", "xtks"},
	{".HK", "xhkg"},
	{".AX", "xasx"},
	{".KS", "xkrx"},
	{".TW", "xtai"},
	{".SS", "xshg"},
	{".SZ", "xshe"},
}

// Directory is a synchronous symbol → venue lookup. Safe for concurrent use.
type Directory struct {
	overrides   map[string]string
	defaultCode string
	logger      *slog.Logger

	mu        sync.Mutex
	calendars map[string]*calendar.Calendar // nil entry: no calendar for MIC
}

// NewDirectory creates a Directory. overrides map upper-cased symbols to
// venue codes; an empty defaultCode means DefaultVenueCode.
func NewDirectory(overrides map[string]string, defaultCode string, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultCode == "" {
		defaultCode = DefaultVenueCode
	}
	norm := make(map[string]string, len(overrides))
	for sym, code := range overrides {
		norm[strings.ToUpper(strings.TrimSpace(sym))] = strings.ToLower(strings.TrimSpace(code))
	}
	return &Directory{
		overrides:   norm,
		defaultCode: strings.ToLower(defaultCode),
		logger:      logger,
		calendars:   make(map[string]*calendar.Calendar),
	}
}

// ResolveVenueCode returns the venue code for symbol. It never fails;
// unknown symbols get the default code.
func (d *Directory) ResolveVenueCode(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if code, ok := d.overrides[sym]; ok {
		return code
	}
	for _, sv := range suffixVenues {
		if strings.HasSuffix(sym, sv.suffix) {
			return sv.mic
		}
	}
	return d.defaultCode
}

// MarketOpen reports whether symbol's venue is trading at t. Venues without
// a known calendar are treated as always open.
func (d *Directory) MarketOpen(symbol string, t time.Time) bool {
	cal := d.calendar(d.ResolveVenueCode(symbol))
	if cal == nil {
		return true
	}
	return cal.IsOpen(t.In(cal.Loc))
}

// TradingDay reports whether t falls on a business day for symbol's venue.
func (d *Directory) TradingDay(symbol string, t time.Time) bool {
	cal := d.calendar(d.ResolveVenueCode(symbol))
	if cal == nil {
		wd := t.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return cal.IsBusinessDay(t.In(cal.Loc))
}

func (d *Directory) calendar(mic string) *calendar.Calendar {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cal, ok := d.calendars[mic]; ok {
		return cal
	}
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		d.logger.Debug("no trading calendar for venue", "venue", mic)
	}
	d.calendars[mic] = cal
	return cal
}
