package polymarket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMarket() gammaMarket {
	return gammaMarket{
		Slug:         "bitcoin-up-or-down-june-15-3pm-et",
		Question:     "Bitcoin Up or Down - June 15, 3PM ET",
		ConditionID:  "0xcond",
		StartDate:    "2025-06-15T19:00:00Z",
		EndDate:      "2025-06-15T20:00:00Z",
		ClobTokenIds: `["111","222"]`,
		Outcomes:     `["Up","Down"]`,
	}
}

func TestMapWindow(t *testing.T) {
	w, err := mapWindow(sampleMarket(), "BTC")
	require.NoError(t, err)

	assert.Equal(t, "BTC", w.Asset)
	assert.Equal(t, "bitcoin-up-or-down-june-15-3pm-et", w.Slug)
	assert.Equal(t, "111", w.UpTokenID)
	assert.Equal(t, "222", w.DownTokenID)
	assert.Equal(t, int64(3600), w.EndTS-w.StartTS, "ventana horaria")
}

func TestMapWindow_OutcomesReversed(t *testing.T) {
	m := sampleMarket()
	m.Outcomes = `["Down","Up"]`

	w, err := mapWindow(m, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "222", w.UpTokenID)
	assert.Equal(t, "111", w.DownTokenID)
}

func TestMapWindow_EventFallbackTimestamps(t *testing.T) {
	m := sampleMarket()
	m.StartDate = ""
	m.EndDate = ""
	m.eventStartDate = "2025-06-15T19:00:00Z"
	m.eventEndDate = "2025-06-15T20:00:00Z"

	w, err := mapWindow(m, "BTC")
	require.NoError(t, err)
	assert.Equal(t, int64(3600), w.EndTS-w.StartTS)
}

func TestMapWindow_Invalid(t *testing.T) {
	m := sampleMarket()
	m.ClobTokenIds = `["solo-uno"]`
	_, err := mapWindow(m, "BTC")
	assert.Error(t, err)

	m = sampleMarket()
	m.EndDate = m.StartDate // end <= start
	_, err = mapWindow(m, "BTC")
	assert.Error(t, err)

	m = sampleMarket()
	m.Slug = ""
	_, err = mapWindow(m, "BTC")
	assert.Error(t, err)
}

func TestResolveOutcome(t *testing.T) {
	m := sampleMarket()
	m.Closed = true
	m.OutcomePrices = `["1","0"]`

	outcome, err := resolveOutcome(m)
	require.NoError(t, err)
	assert.Equal(t, "UP", outcome)

	m.OutcomePrices = `["0","1"]`
	outcome, err = resolveOutcome(m)
	require.NoError(t, err)
	assert.Equal(t, "DOWN", outcome)
}

func TestResolveOutcome_OpenMarket(t *testing.T) {
	m := sampleMarket()
	m.Closed = false

	outcome, err := resolveOutcome(m)
	require.NoError(t, err)
	assert.Empty(t, outcome, "mercado abierto no tiene outcome")
}

func TestIsUpOrDown(t *testing.T) {
	assert.True(t, isUpOrDown("Bitcoin Up or Down - 3PM"))
	assert.True(t, isUpOrDown("ETH up/down hourly"))
	assert.True(t, isUpOrDown("btc UpDown"))
	assert.False(t, isUpOrDown("Will BTC close above 100k?"))
}

func TestMatchesAsset(t *testing.T) {
	assert.True(t, matchesAsset("BTC up or down", "BTC"))
	assert.True(t, matchesAsset("Bitcoin Up or Down", "BTC"))
	assert.False(t, matchesAsset("Ethereum Up or Down", "BTC"))
}
