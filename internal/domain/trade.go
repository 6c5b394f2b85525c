package domain

import "time"

// Trade is the lifecycle record for (at most) one trade per window.
type Trade struct {
	ID           int64
	WindowID     int64
	SignalID     int64 // 0 until SIGNALLED
	Status       TradeStatus
	TimeMode     TimeMode
	PolicyMode   PolicyMode
	Decision     Decision
	CancelReason CancelReason
	TokenID      string
	OrderID      string
	FillStatus   FillStatus
	FillPrice    float64
	StakeAmount  float64
	PnL          float64
	IsWin        *bool // nil until SETTLED
	// Streak values frozen at trade creation, for post-hoc analysis.
	TradeLevelStreak int
	NightStreak      int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsTerminal reports whether the trade accepts no further transitions.
func (t Trade) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// IsTaken reports whether the entry was approved (by the user or the night policy).
func (t Trade) IsTaken() bool {
	return t.Decision == DecisionOK || t.Decision == DecisionAutoOK
}

// IsFilled reports whether the order filled. PARTIAL counts as filled for
// streak purposes; the stake adjustment is out of scope.
func (t Trade) IsFilled() bool {
	return t.FillStatus == FillFilled || t.FillStatus == FillPartial
}

// CountsForStreak reports whether the trade moves streaks: taken AND filled.
func (t Trade) CountsForStreak() bool {
	return t.IsTaken() && t.IsFilled()
}
