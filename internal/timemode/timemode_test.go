package timemode_test

import (
	"testing"
	"time"

	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/timemode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tsAtHour construye un unix ts cuyo hour local en UTC es el dado.
func tsAtHour(hour int) int64 {
	return time.Date(2025, 6, 15, hour, 30, 0, 0, time.UTC).Unix()
}

func TestMode_NonWrapWindow(t *testing.T) {
	r, err := timemode.New("UTC", 8, 22)
	require.NoError(t, err)

	assert.Equal(t, domain.TimeModeDay, r.Mode(tsAtHour(8)), "límite inferior inclusive")
	assert.Equal(t, domain.TimeModeDay, r.Mode(tsAtHour(15)))
	assert.Equal(t, domain.TimeModeDay, r.Mode(tsAtHour(21)))
	assert.Equal(t, domain.TimeModeNight, r.Mode(tsAtHour(22)), "límite superior exclusive")
	assert.Equal(t, domain.TimeModeNight, r.Mode(tsAtHour(3)))
	assert.Equal(t, domain.TimeModeNight, r.Mode(tsAtHour(7)))
}

func TestMode_WrapOverMidnight(t *testing.T) {
	// day_start >= day_end: DAY es hour >= 22 O hour < 6.
	r, err := timemode.New("UTC", 22, 6)
	require.NoError(t, err)

	assert.Equal(t, domain.TimeModeDay, r.Mode(tsAtHour(22)))
	assert.Equal(t, domain.TimeModeDay, r.Mode(tsAtHour(23)))
	assert.Equal(t, domain.TimeModeDay, r.Mode(tsAtHour(0)))
	assert.Equal(t, domain.TimeModeDay, r.Mode(tsAtHour(5)))
	assert.Equal(t, domain.TimeModeNight, r.Mode(tsAtHour(6)))
	assert.Equal(t, domain.TimeModeNight, r.Mode(tsAtHour(12)))
	assert.Equal(t, domain.TimeModeNight, r.Mode(tsAtHour(21)))
}

func TestMode_ConfiguredZone(t *testing.T) {
	r, err := timemode.New("Europe/Zurich", 8, 22)
	require.NoError(t, err)

	// 06:30 UTC el 15 de junio = 08:30 CEST -> DAY.
	ts := time.Date(2025, 6, 15, 6, 30, 0, 0, time.UTC).Unix()
	assert.Equal(t, domain.TimeModeDay, r.Mode(ts))

	// 21:30 UTC = 23:30 CEST -> NIGHT.
	ts = time.Date(2025, 6, 15, 21, 30, 0, 0, time.UTC).Unix()
	assert.Equal(t, domain.TimeModeNight, r.Mode(ts))
}

func TestNew_UnknownZone(t *testing.T) {
	_, err := timemode.New("Mars/Olympus", 8, 22)
	assert.Error(t, err)
}
