package domain

import "time"

// CapCheck is the entry-price validation record for a trade: the live price
// of the chosen token must stay at or below the cap for a sustained number of
// consecutive ticks inside [ConfirmTS, EndTS].
type CapCheck struct {
	ID               int64
	TradeID          int64
	TokenID          string
	ConfirmTS        int64
	EndTS            int64
	Status           CapStatus
	ConsecutiveTicks int
	FirstPassTS      int64   // 0 unless Status == PASS
	PriceAtPass      float64 // 0 unless Status == PASS
	CreatedAt        time.Time
}
