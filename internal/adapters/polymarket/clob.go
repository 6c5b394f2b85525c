package polymarket

// clob.go — historial de precios y órdenes sobre el CLOB.

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/ports"
)

var (
	_ ports.BookProvider = (*Client)(nil)
	_ ports.OrderPlacer  = (*Client)(nil)
)

// PriceTicks devuelve los ticks (ts, price) del token en [fromTS, toTS],
// ordenados por timestamp ascendente.
func (c *Client) PriceTicks(ctx context.Context, tokenID string, fromTS, toTS int64) ([]domain.Tick, error) {
	params := url.Values{}
	params.Set("market", tokenID)
	params.Set("startTs", strconv.FormatInt(fromTS, 10))
	params.Set("endTs", strconv.FormatInt(toTS, 10))

	var resp pricesHistoryResponse
	if err := c.get(ctx, c.clobLimiter, buildURL(c.clobBase, "/prices-history", params), &resp); err != nil {
		return nil, fmt.Errorf("polymarket.PriceTicks: token %s: %w", truncateID(tokenID), err)
	}

	ticks := make([]domain.Tick, 0, len(resp.History))
	for _, p := range resp.History {
		if p.T < fromTS || p.T > toTS {
			continue
		}
		ticks = append(ticks, domain.Tick{TS: p.T, Price: p.P})
	}
	sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].TS < ticks[j].TS })
	return ticks, nil
}

// PlaceLimitOrder envía una orden límite BUY y devuelve el order id del book.
func (c *Client) PlaceLimitOrder(ctx context.Context, tokenID string, price, size float64) (string, error) {
	body := map[string]any{
		"tokenID":   tokenID,
		"side":      "BUY",
		"price":     price,
		"size":      size,
		"orderType": "GTC",
	}

	var resp orderResponse
	if err := c.post(ctx, c.clobLimiter, c.clobBase+"/order", body, &resp); err != nil {
		return "", fmt.Errorf("polymarket.PlaceLimitOrder: token %s: %w", truncateID(tokenID), err)
	}
	if !resp.Success || resp.OrderID == "" {
		return "", fmt.Errorf("polymarket.PlaceLimitOrder: rejected: %s", resp.Error)
	}
	return resp.OrderID, nil
}

// OrderStatus reporta el estado de fill de una orden.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (domain.FillStatus, float64, error) {
	var resp orderStatusResponse
	if err := c.get(ctx, c.clobLimiter, c.clobBase+"/data/order/"+url.PathEscape(orderID), &resp); err != nil {
		return domain.FillPending, 0, fmt.Errorf("polymarket.OrderStatus: %s: %w", orderID, err)
	}

	price, _ := strconv.ParseFloat(resp.Price, 64)
	matched, _ := strconv.ParseFloat(resp.SizeMatched, 64)
	original, _ := strconv.ParseFloat(resp.OriginalSize, 64)

	switch resp.Status {
	case "MATCHED":
		return domain.FillFilled, price, nil
	case "LIVE":
		if matched > 0 && matched < original {
			return domain.FillPartial, price, nil
		}
		return domain.FillPending, 0, nil
	case "CANCELED", "CANCELLED":
		if matched > 0 {
			return domain.FillPartial, price, nil
		}
		return domain.FillCancelled, 0, nil
	default:
		return domain.FillRejected, 0, nil
	}
}

// truncateID acorta token ids largos para logs.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:16] + "..."
}
