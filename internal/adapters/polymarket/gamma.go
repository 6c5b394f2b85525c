package polymarket

// gamma.go — discovery de ventanas horarias "up or down" vía Gamma.
//
// El modelo de discovery es event-driven: Gamma devuelve eventos con mercados
// anidados y el filtrado se aplica a nivel MERCADO, no evento. Un mercado
// califica si su título, su pregunta o el título de su evento contiene
// "up or down", "up/down" o "updown" y menciona el asset (símbolo o nombre
// completo).

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/ports"
)

var upOrDownPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)up\s+or\s+down`),
	regexp.MustCompile(`(?i)up/down`),
	regexp.MustCompile(`(?i)updown`),
}

var assetNames = map[string]string{
	"BTC": "Bitcoin",
	"ETH": "Ethereum",
}

const (
	// Horizonte hacia adelante: ventanas que abren dentro de las próximas 2h.
	forwardHorizonSeconds = 7200
	searchPageLimit       = 100
)

var _ ports.MarketProvider = (*Client)(nil)

// DiscoverHourlyWindows devuelve las ventanas horarias up/down abiertas (o a
// punto de abrir) para los assets dados.
func (c *Client) DiscoverHourlyWindows(ctx context.Context, assets []string, nowTS int64) ([]domain.MarketWindow, error) {
	var windows []domain.MarketWindow
	seen := map[string]bool{}

	for _, asset := range assets {
		assetUpper := strings.ToUpper(asset)
		markets, err := c.searchUpOrDown(ctx, assetUpper)
		if err != nil {
			return nil, fmt.Errorf("polymarket.DiscoverHourlyWindows: %s: %w", asset, err)
		}

		for _, m := range markets {
			combined := m.Title + " " + m.Question + " " + m.eventTitle
			if !matchesAsset(combined, assetUpper) || !isUpOrDown(combined) {
				continue
			}

			w, err := mapWindow(m, assetUpper)
			if err != nil {
				slog.Debug("skipping unparsable market", "slug", m.Slug, "err", err)
				continue
			}
			if seen[w.Slug] {
				continue
			}

			// Ventanas ya cerradas o demasiado lejanas no interesan.
			if w.EndTS <= nowTS || w.StartTS > nowTS+forwardHorizonSeconds {
				continue
			}

			seen[w.Slug] = true
			windows = append(windows, w)
		}
	}

	slog.Debug("gamma discovery", "assets", assets, "windows", len(windows))
	return windows, nil
}

// searchUpOrDown consulta /public-search y aplana eventos -> mercados.
func (c *Client) searchUpOrDown(ctx context.Context, asset string) ([]gammaMarket, error) {
	params := url.Values{}
	params.Set("q", asset+" up or down")
	params.Set("recurrence", "hourly")
	params.Set("keep_closed_markets", "1")
	params.Set("limit_per_type", fmt.Sprint(searchPageLimit))
	params.Set("sort", "endDate")
	params.Set("ascending", "false")

	var resp gammaSearchResponse
	if err := c.get(ctx, c.gammaLimiter, buildURL(c.gammaBase, "/public-search", params), &resp); err != nil {
		return nil, err
	}

	markets := resp.Markets
	for _, ev := range resp.Events {
		for _, m := range ev.Markets {
			m.eventTitle = ev.Title
			m.eventStartDate = ev.StartDate
			m.eventEndDate = ev.EndDate
			markets = append(markets, m)
		}
	}
	return markets, nil
}

// ResolvedOutcome devuelve "UP", "DOWN" o "" si el mercado aún no resolvió.
func (c *Client) ResolvedOutcome(ctx context.Context, slug string) (string, error) {
	params := url.Values{}
	params.Set("slug", slug)

	var resp []gammaMarket
	if err := c.get(ctx, c.gammaLimiter, buildURL(c.gammaBase, "/markets", params), &resp); err != nil {
		return "", fmt.Errorf("polymarket.ResolvedOutcome: %q: %w", slug, err)
	}
	if len(resp) == 0 {
		return "", nil
	}
	return resolveOutcome(resp[0])
}

func isUpOrDown(text string) bool {
	for _, p := range upOrDownPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func matchesAsset(text, asset string) bool {
	upper := strings.ToUpper(text)
	if strings.Contains(upper, asset) {
		return true
	}
	if name, ok := assetNames[asset]; ok {
		return strings.Contains(upper, strings.ToUpper(name))
	}
	return false
}
