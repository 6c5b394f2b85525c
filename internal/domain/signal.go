package domain

import "time"

// Signal is a qualifying TA detection attached to a window. At most one per
// window; immutable once persisted.
type Signal struct {
	ID          int64
	WindowID    int64
	Direction   Direction
	SignalTS    int64
	ConfirmTS   int64 // SignalTS + confirm_delay_seconds
	Quality     float64
	Breakdown   QualityBreakdown
	AnchorBarTS int64
	CreatedAt   time.Time
}

// QualityBreakdown carries the components behind a quality score. The
// orchestrator never inspects it; it is persisted as an opaque JSON blob for
// the approval card and post-hoc analysis.
type QualityBreakdown struct {
	AnchorPrice   float64 `json:"anchor_price"`
	SignalPrice   float64 `json:"signal_price"`
	RetFromAnchor float64 `json:"ret_from_anchor"`
	EdgeComponent float64 `json:"edge_component"`
	ADXValue      float64 `json:"adx_value"`
	QADX          float64 `json:"q_adx"`
	EMA50Slope    float64 `json:"ema50_slope"`
	QSlope        float64 `json:"q_slope"`
	TrendMult     float64 `json:"trend_mult"`
	TrendConfirms bool    `json:"trend_confirms"`
	FinalQuality  float64 `json:"final_quality"`
}
