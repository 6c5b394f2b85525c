package ports

import (
	"context"

	"github.com/evgenss79/MARTIN/internal/domain"
)

// Notifier presenta trades al usuario: tarjetas de aprobación en modo día y
// avisos de estado. Las decisiones del usuario entran por la superficie de
// operaciones, no por este port.
type Notifier interface {
	// EmitApproval muestra la tarjeta de aprobación de un trade READY.
	EmitApproval(ctx context.Context, trade domain.Trade, signal domain.Signal, window domain.MarketWindow) error

	// NotifySignal anuncia un señal aceptada (SEARCHING_SIGNAL -> SIGNALLED).
	NotifySignal(ctx context.Context, trade domain.Trade, signal domain.Signal, window domain.MarketWindow) error

	// NotifySettled anuncia el resultado de un trade liquidado.
	NotifySettled(ctx context.Context, trade domain.Trade, window domain.MarketWindow) error

	// NotifyCancelled anuncia una cancelación con su motivo.
	NotifyCancelled(ctx context.Context, trade domain.Trade, reason domain.CancelReason) error
}
