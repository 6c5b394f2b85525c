package polymarket

// mapping.go — de payloads Gamma a entidades de dominio.

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/evgenss79/MARTIN/internal/domain"
)

// mapWindow convierte un mercado Gamma en MarketWindow. Deriva los
// timestamps del mercado con fallback a los del evento contenedor.
func mapWindow(m gammaMarket, asset string) (domain.MarketWindow, error) {
	if m.Slug == "" {
		return domain.MarketWindow{}, fmt.Errorf("market without slug")
	}

	startTS, err := parseGammaTime(m.StartDate, m.eventStartDate)
	if err != nil {
		return domain.MarketWindow{}, fmt.Errorf("market %q: start: %w", m.Slug, err)
	}
	endTS, err := parseGammaTime(m.EndDate, m.eventEndDate)
	if err != nil {
		return domain.MarketWindow{}, fmt.Errorf("market %q: end: %w", m.Slug, err)
	}
	if endTS <= startTS {
		return domain.MarketWindow{}, fmt.Errorf("market %q: end_ts %d <= start_ts %d", m.Slug, endTS, startTS)
	}

	upToken, downToken, err := parseTokenIDs(m)
	if err != nil {
		return domain.MarketWindow{}, fmt.Errorf("market %q: %w", m.Slug, err)
	}

	return domain.MarketWindow{
		Asset:       asset,
		Slug:        m.Slug,
		ConditionID: m.ConditionID,
		UpTokenID:   upToken,
		DownTokenID: downToken,
		StartTS:     startTS,
		EndTS:       endTS,
	}, nil
}

// parseTokenIDs decodifica clobTokenIds/outcomes (strings JSON anidados) y
// asigna el token de cada lado según el outcome declarado. Sin outcomes se
// asume el orden [Up, Down] de los mercados horarios.
func parseTokenIDs(m gammaMarket) (up, down string, err error) {
	var tokens []string
	if err := json.Unmarshal([]byte(m.ClobTokenIds), &tokens); err != nil {
		return "", "", fmt.Errorf("parse clobTokenIds: %w", err)
	}
	if len(tokens) != 2 {
		return "", "", fmt.Errorf("expected 2 tokens, got %d", len(tokens))
	}

	var outcomes []string
	if m.Outcomes != "" {
		_ = json.Unmarshal([]byte(m.Outcomes), &outcomes)
	}
	if len(outcomes) == 2 && strings.EqualFold(outcomes[0], "down") {
		return tokens[1], tokens[0], nil
	}
	return tokens[0], tokens[1], nil
}

// resolveOutcome deduce UP/DOWN de outcomePrices en un mercado cerrado:
// el lado con precio 1 ganó.
func resolveOutcome(m gammaMarket) (string, error) {
	if !m.Closed || m.OutcomePrices == "" {
		return "", nil
	}

	var prices []string
	if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err != nil {
		return "", fmt.Errorf("parse outcomePrices: %w", err)
	}
	var outcomes []string
	if m.Outcomes != "" {
		_ = json.Unmarshal([]byte(m.Outcomes), &outcomes)
	}
	if len(prices) != 2 {
		return "", nil
	}
	if len(outcomes) != 2 {
		outcomes = []string{"Up", "Down"}
	}

	for i, p := range prices {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			continue
		}
		if v > 0.5 {
			return strings.ToUpper(outcomes[i]), nil
		}
	}
	return "", nil
}

// parseGammaTime acepta RFC3339 con fallback al valor del evento.
func parseGammaTime(primary, fallback string) (int64, error) {
	for _, raw := range []string{primary, fallback} {
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			continue
		}
		return t.Unix(), nil
	}
	return 0, fmt.Errorf("no parsable timestamp")
}
