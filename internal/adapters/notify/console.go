package notify

// console.go — Notifier de consola: tarjetas de aprobación y avisos de estado
// en stdout. Las decisiones del usuario entran por la superficie de ops.

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/ports"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Notifier.
type Console struct {
	out io.Writer
	loc *time.Location
}

var _ ports.Notifier = (*Console)(nil)

// NewConsole crea un notificador que escribe a stdout en la zona dada.
func NewConsole(loc *time.Location) *Console {
	if loc == nil {
		loc = time.UTC
	}
	return &Console{out: os.Stdout, loc: loc}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, loc *time.Location) *Console {
	c := NewConsole(loc)
	c.out = w
	return c
}

// EmitApproval imprime la tarjeta de aprobación de un trade READY.
func (c *Console) EmitApproval(_ context.Context, trade domain.Trade, signal domain.Signal, window domain.MarketWindow) error {
	fmt.Fprintf(c.out, "\n[%s] APPROVAL NEEDED — trade #%d %s %s\n",
		c.clock(), trade.ID, window.Asset, signal.Direction)

	table := tablewriter.NewWriter(c.out)
	table.Header("Field", "Value")
	table.Append("Market", window.Slug)
	table.Append("Direction", string(signal.Direction))
	table.Append("Quality", fmt.Sprintf("%.2f", signal.Quality))
	table.Append("Confirm", c.localTime(signal.ConfirmTS))
	table.Append("Window ends", c.localTime(window.EndTS))
	table.Append("Stake", fmt.Sprintf("%.2f USDC", trade.StakeAmount))
	table.Append("Policy", string(trade.PolicyMode))
	table.Render()

	fmt.Fprintf(c.out, "reply: POST /decision {\"trade_id\": %d, \"decision\": \"OK\"|\"SKIP\"}\n", trade.ID)
	return nil
}

// NotifySignal anuncia una señal aceptada.
func (c *Console) NotifySignal(_ context.Context, trade domain.Trade, signal domain.Signal, window domain.MarketWindow) error {
	fmt.Fprintf(c.out, "[%s] signal accepted — trade #%d %s %s q=%.2f confirm=%s\n",
		c.clock(), trade.ID, window.Asset, signal.Direction, signal.Quality,
		c.localTime(signal.ConfirmTS))
	return nil
}

// NotifySettled anuncia el resultado de un trade liquidado.
func (c *Console) NotifySettled(_ context.Context, trade domain.Trade, window domain.MarketWindow) error {
	verdict := "LOSS"
	if trade.IsWin != nil && *trade.IsWin {
		verdict = "WIN"
	}
	fmt.Fprintf(c.out, "[%s] settled — trade #%d %s %s outcome=%s pnl=%+.2f\n",
		c.clock(), trade.ID, window.Asset, verdict, window.Outcome, trade.PnL)
	return nil
}

// NotifyCancelled anuncia una cancelación con su motivo.
func (c *Console) NotifyCancelled(_ context.Context, trade domain.Trade, reason domain.CancelReason) error {
	fmt.Fprintf(c.out, "[%s] cancelled — trade #%d reason=%s\n", c.clock(), trade.ID, reason)
	return nil
}

func (c *Console) clock() string {
	return time.Now().In(c.loc).Format("15:04:05")
}

func (c *Console) localTime(ts int64) string {
	return time.Unix(ts, 0).In(c.loc).Format("15:04:05")
}
