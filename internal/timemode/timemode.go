// Package timemode maps wall-clock time onto the DAY/NIGHT regime using a
// fixed configured zone.
package timemode

import (
	"fmt"
	"time"

	"github.com/evgenss79/MARTIN/internal/domain"
)

// Resolver resolves DAY/NIGHT for unix timestamps.
type Resolver struct {
	loc      *time.Location
	dayStart int
	dayEnd   int
}

// New creates a Resolver for the zone name (e.g. "Europe/Zurich") and the
// local day window [dayStart, dayEnd). When dayStart >= dayEnd the window
// wraps over midnight: DAY is hour >= dayStart OR hour < dayEnd.
func New(zone string, dayStart, dayEnd int) (*Resolver, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("timemode.New: load zone %q: %w", zone, err)
	}
	return &Resolver{loc: loc, dayStart: dayStart, dayEnd: dayEnd}, nil
}

// Mode returns the time mode for a unix timestamp.
func (r *Resolver) Mode(ts int64) domain.TimeMode {
	hour := time.Unix(ts, 0).In(r.loc).Hour()

	if r.dayStart < r.dayEnd {
		if hour >= r.dayStart && hour < r.dayEnd {
			return domain.TimeModeDay
		}
		return domain.TimeModeNight
	}
	// Ventana que cruza medianoche.
	if hour >= r.dayStart || hour < r.dayEnd {
		return domain.TimeModeDay
	}
	return domain.TimeModeNight
}

// LocalTime devuelve el timestamp en la zona configurada, para logs y tarjetas.
func (r *Resolver) LocalTime(ts int64) time.Time {
	return time.Unix(ts, 0).In(r.loc)
}
