package ports

import (
	"context"

	"github.com/evgenss79/MARTIN/internal/domain"
)

// MarketProvider descubre las ventanas horarias "up or down" abiertas para
// los assets configurados.
type MarketProvider interface {
	// DiscoverHourlyWindows devuelve las ventanas actualmente abiertas (o a
	// punto de abrir, dentro del horizonte configurado en el adapter).
	DiscoverHourlyWindows(ctx context.Context, assets []string, nowTS int64) ([]domain.MarketWindow, error)

	// ResolvedOutcome devuelve "UP", "DOWN" o "" si el mercado aún no resolvió.
	ResolvedOutcome(ctx context.Context, slug string) (string, error)
}
