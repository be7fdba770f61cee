// Package clock resolves instants into calendar fields of a configured
// time zone. All due-date comparisons in the scheduler go through this so
// the host machine's local zone never leaks into "today" decisions.
package clock

import (
	"strings"
	"time"

	logx "dailycast/pkg/logx"
)

// DefaultZone is used when the configured zone identifier is unusable.
const DefaultZone = "Asia/Tokyo"

// Zoned is a point in time broken into wall-clock fields of the resolver's
// zone. DateStr is a stable calendar-day key ("2006-01-02") regardless of
// the host zone.
type Zoned struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int

	DateStr string // "2006-01-02"
	TimeStr string // "15:04:05"
}

// MinuteOfDay returns the zero-based minute within the zoned day.
func (z Zoned) MinuteOfDay() int { return z.Hour*60 + z.Minute }

// Resolver converts instants into Zoned fields for one fixed zone.
// Construction never fails; an invalid identifier falls back to DefaultZone
// (and as a last resort UTC) with a logged warning. Bad zone ids should be
// rejected at config-load time, not on every tick.
type Resolver struct {
	loc  *time.Location
	name string
}

func NewResolver(tz string, log logx.Logger) *Resolver {
	name := strings.TrimSpace(tz)
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warn("invalid timezone, falling back", logx.String("tz", name), logx.String("fallback", DefaultZone), logx.Err(err))
		name = DefaultZone
		loc, err = time.LoadLocation(name)
		if err != nil {
			// Host without tzdata for the default zone; UTC always exists.
			name = "UTC"
			loc = time.UTC
		}
	}
	return &Resolver{loc: loc, name: name}
}

// Zone returns the resolved IANA identifier.
func (r *Resolver) Zone() string { return r.name }

// Location exposes the underlying location for components that schedule in
// the same zone (e.g. cron specs).
func (r *Resolver) Location() *time.Location { return r.loc }

// Now resolves the current instant.
func (r *Resolver) Now() Zoned { return r.At(time.Now()) }

// At resolves an arbitrary instant.
func (r *Resolver) At(t time.Time) Zoned {
	lt := t.In(r.loc)
	return Zoned{
		Year:    lt.Year(),
		Month:   int(lt.Month()),
		Day:     lt.Day(),
		Hour:    lt.Hour(),
		Minute:  lt.Minute(),
		Second:  lt.Second(),
		DateStr: lt.Format("2006-01-02"),
		TimeStr: lt.Format("15:04:05"),
	}
}
