package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/evgenss79/MARTIN/internal/adapters/storage"
	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/execution"
	"github.com/evgenss79/MARTIN/internal/orchestrator"
	"github.com/evgenss79/MARTIN/internal/ports"
	"github.com/evgenss79/MARTIN/internal/stats"
	"github.com/evgenss79/MARTIN/internal/timemode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Ventana de día: 1000000 son las 13:46 UTC.
const (
	dayStart = int64(1000000)
	dayEnd   = int64(1003600)
	// Ventana de noche: 23:00 UTC.
	nightStart = int64(1119600)
	nightEnd   = int64(1123200)
)

// --- mocks ---

type mockMarkets struct {
	windows  []domain.MarketWindow
	outcomes map[string]string
}

func (m *mockMarkets) DiscoverHourlyWindows(_ context.Context, _ []string, _ int64) ([]domain.MarketWindow, error) {
	return m.windows, nil
}

func (m *mockMarkets) ResolvedOutcome(_ context.Context, slug string) (string, error) {
	return m.outcomes[slug], nil
}

type mockBooks struct {
	ticks []domain.Tick
}

func (m *mockBooks) PriceTicks(_ context.Context, _ string, fromTS, toTS int64) ([]domain.Tick, error) {
	var out []domain.Tick
	for _, tk := range m.ticks {
		if tk.TS >= fromTS && tk.TS <= toTS {
			out = append(out, tk)
		}
	}
	return out, nil
}

// mockOracle devuelve resultados en secuencia, uno por llamada; el último se
// repite.
type mockOracle struct {
	results []*ports.TAResult
	calls   int
}

func (m *mockOracle) Evaluate(_, _ []domain.Candle, _ domain.MarketWindow, _ int64) *ports.TAResult {
	if len(m.results) == 0 {
		return nil
	}
	i := m.calls
	if i >= len(m.results) {
		i = len(m.results) - 1
	}
	m.calls++
	return m.results[i]
}

type mockSnapshots struct{ ok bool }

func (m *mockSnapshots) Fresh(_ context.Context, _ string, _ int64) ([]domain.Candle, []domain.Candle, bool) {
	if !m.ok {
		return nil, nil, false
	}
	return []domain.Candle{{TS: 1, Close: 1}}, []domain.Candle{{TS: 1, Close: 1}}, true
}

type mockNotifier struct {
	approvals int
	signals   int
	settled   int
	cancelled []domain.CancelReason
}

func (m *mockNotifier) EmitApproval(_ context.Context, _ domain.Trade, _ domain.Signal, _ domain.MarketWindow) error {
	m.approvals++
	return nil
}
func (m *mockNotifier) NotifySignal(_ context.Context, _ domain.Trade, _ domain.Signal, _ domain.MarketWindow) error {
	m.signals++
	return nil
}
func (m *mockNotifier) NotifySettled(_ context.Context, _ domain.Trade, _ domain.MarketWindow) error {
	m.settled++
	return nil
}
func (m *mockNotifier) NotifyCancelled(_ context.Context, _ domain.Trade, reason domain.CancelReason) error {
	m.cancelled = append(m.cancelled, reason)
	return nil
}

// --- harness ---

type harness struct {
	orch     *orchestrator.Orchestrator
	ledger   *storage.Store
	markets  *mockMarkets
	books    *mockBooks
	oracle   *mockOracle
	notifier *mockNotifier
	clock    int64
}

func dayWindow() domain.MarketWindow {
	return domain.MarketWindow{
		Asset:       "BTC",
		Slug:        "btc-up-or-down-1pm",
		ConditionID: "0xc1",
		UpTokenID:   "tok-up",
		DownTokenID: "tok-down",
		StartTS:     dayStart,
		EndTS:       dayEnd,
	}
}

func newHarness(t *testing.T, windows []domain.MarketWindow, oracle *mockOracle, nightEnabled bool) *harness {
	t.Helper()

	ledger, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	statsSvc := stats.New(stats.Config{
		SwitchStreakAt:         3,
		StartStrictAfterNWins:  3,
		StrictQualityIncrement: 5,
		NightMaxWinStreak:      5,
		NightSessionMode:       domain.NightSessionSoft,
		BaseDayMinQuality:      35,
		BaseNightMinQuality:    35,
		StrictFallbackMult:     1.25,
		RollingDays:            14,
		MaxSamples:             500,
		MinSamples:             50,
	}, ledger)

	resolver, err := timemode.New("UTC", 8, 22)
	require.NoError(t, err)

	h := &harness{
		ledger:   ledger,
		markets:  &mockMarkets{windows: windows, outcomes: map[string]string{}},
		books:    &mockBooks{},
		oracle:   oracle,
		notifier: &mockNotifier{},
	}

	h.orch = orchestrator.New(
		orchestrator.Config{
			Assets:                []string{"BTC"},
			PriceCap:              0.55,
			ConfirmDelaySeconds:   120,
			CapMinTicks:           3,
			StakeAmount:           10,
			MaxResponseSeconds:    600,
			NightAutotradeEnabled: nightEnabled,
			NightMaxWinStreak:     5,
			TickInterval:          time.Minute,
			SettlementTimeout:     2 * time.Hour,
		},
		ledger,
		h.markets,
		h.books,
		oracle,
		&mockSnapshots{ok: true},
		h.notifier,
		execution.NewPaper(0.55),
		statsSvc,
		resolver,
	)
	h.orch.SetNowFunc(func() int64 { return h.clock })
	return h
}

func (h *harness) tickAt(ts int64) {
	h.clock = ts
	h.orch.Tick(context.Background())
}

func (h *harness) trade(t *testing.T, id int64) domain.Trade {
	t.Helper()
	trade, err := h.ledger.TradeByID(context.Background(), id)
	require.NoError(t, err)
	return trade
}

// --- escenarios ---

func TestDayFlowHappyPath(t *testing.T) {
	// Flujo de día completo: señal UP q=50, cap pass, OK del usuario, win.
	oracle := &mockOracle{results: []*ports.TAResult{{
		Direction: domain.DirectionUp,
		SignalTS:  1000300,
		Quality:   50,
	}}}
	h := newHarness(t, []domain.MarketWindow{dayWindow()}, oracle, false)
	ctx := context.Background()

	// Tick 1: discovery crea el trade, la señal se acepta.
	h.tickAt(1000360)
	trade := h.trade(t, 1)
	assert.Equal(t, domain.StatusSignalled, trade.Status)
	assert.NotZero(t, trade.SignalID)
	assert.Equal(t, 1, h.notifier.signals)

	sig, err := h.ledger.SignalByID(ctx, trade.SignalID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000420), sig.ConfirmTS, "confirm_ts = signal_ts + 120")

	// Tick 2 en confirm_ts: colapso SIGNALLED -> WAITING_CONFIRM -> WAITING_CAP.
	h.tickAt(1000420)
	trade = h.trade(t, 1)
	assert.Equal(t, domain.StatusWaitingCap, trade.Status)
	assert.Equal(t, "tok-up", trade.TokenID)

	check, ok, err := h.ledger.CapCheckByTradeID(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.CapPending, check.Status)

	// Tick 3: tres ticks <= cap tras confirm_ts -> PASS -> READY.
	h.books.ticks = []domain.Tick{
		{TS: 1000421, Price: 0.50},
		{TS: 1000431, Price: 0.54},
		{TS: 1000441, Price: 0.52},
	}
	h.tickAt(1000450)
	trade = h.trade(t, 1)
	assert.Equal(t, domain.StatusReady, trade.Status)

	check, _, err = h.ledger.CapCheckByTradeID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.CapPass, check.Status)
	assert.Equal(t, int64(1000441), check.FirstPassTS)

	// Tick 4: se emite la tarjeta de aprobación.
	h.tickAt(1000510)
	assert.Equal(t, 1, h.notifier.approvals)
	assert.Equal(t, domain.StatusReady, h.trade(t, 1).Status)

	// El usuario confirma; el tick siguiente ejecuta en paper.
	require.NoError(t, h.orch.Confirm(ctx, 1, true))
	h.tickAt(1000570)
	trade = h.trade(t, 1)
	assert.Equal(t, domain.StatusOrderPlaced, trade.Status)
	assert.Equal(t, domain.DecisionOK, trade.Decision)
	assert.Equal(t, domain.FillFilled, trade.FillStatus)
	assert.InDelta(t, 0.55, trade.FillPrice, 1e-9)

	// La ventana resuelve UP: settle con win y racha +1.
	h.markets.outcomes["btc-up-or-down-1pm"] = "UP"
	h.tickAt(1003700)
	trade = h.trade(t, 1)
	assert.Equal(t, domain.StatusSettled, trade.Status)
	require.NotNil(t, trade.IsWin)
	assert.True(t, *trade.IsWin)
	assert.InDelta(t, 10*(1/0.55-1), trade.PnL, 1e-9)
	assert.Equal(t, 1, h.notifier.settled)

	st, err := h.ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TradeLevelStreak)
	assert.Equal(t, 1, st.TotalWins)
}

func TestLateConfirmCancels(t *testing.T) {
	// Señal en 1003500, confirm 1003620 >= end 1003600 -> CANCELLED(LATE).
	oracle := &mockOracle{results: []*ports.TAResult{{
		Direction: domain.DirectionUp,
		SignalTS:  1003500,
		Quality:   50,
	}}}
	h := newHarness(t, []domain.MarketWindow{dayWindow()}, oracle, false)

	h.tickAt(1003560)
	assert.Equal(t, domain.StatusSignalled, h.trade(t, 1).Status)

	h.tickAt(1003590)
	trade := h.trade(t, 1)
	assert.Equal(t, domain.StatusCancelled, trade.Status)
	assert.Equal(t, domain.ReasonLate, trade.CancelReason)

	st, err := h.ledger.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.TradeLevelStreak, "las rachas no cambian")
	assert.Zero(t, st.TotalTrades)
}

func TestSearchingHoldsUntilQualifyingSignal(t *testing.T) {
	// q=20 -> sigue; nil -> sigue; q=40 -> SIGNALLED con la tercera señal.
	oracle := &mockOracle{results: []*ports.TAResult{
		{Direction: domain.DirectionUp, SignalTS: 1000300, Quality: 20},
		nil,
		{Direction: domain.DirectionUp, SignalTS: 1000500, Quality: 40},
	}}
	h := newHarness(t, []domain.MarketWindow{dayWindow()}, oracle, false)
	ctx := context.Background()

	h.tickAt(1000360)
	assert.Equal(t, domain.StatusSearchingSignal, h.trade(t, 1).Status, "q=20 < 35")

	h.tickAt(1000420)
	assert.Equal(t, domain.StatusSearchingSignal, h.trade(t, 1).Status, "sin señal")

	h.tickAt(1000560)
	trade := h.trade(t, 1)
	assert.Equal(t, domain.StatusSignalled, trade.Status)

	sig, err := h.ledger.SignalByID(ctx, trade.SignalID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000500), sig.SignalTS, "persiste la señal del tick 3, no la del tick 1")
	assert.InDelta(t, 40.0, sig.Quality, 1e-9)
}

func TestSearchingExpiresWithoutSignal(t *testing.T) {
	h := newHarness(t, []domain.MarketWindow{dayWindow()}, &mockOracle{}, false)

	h.tickAt(1000360)
	assert.Equal(t, domain.StatusSearchingSignal, h.trade(t, 1).Status)

	h.tickAt(1003600)
	trade := h.trade(t, 1)
	assert.Equal(t, domain.StatusCancelled, trade.Status)
	assert.Equal(t, domain.ReasonNoSignal, trade.CancelReason)
	assert.Equal(t, domain.DecisionAutoSkip, trade.Decision)
}

func TestCapFailFromPreConfirmDips(t *testing.T) {
	// Dips por debajo del cap solo antes de confirm_ts; después todo caro.
	oracle := &mockOracle{results: []*ports.TAResult{{
		Direction: domain.DirectionUp,
		SignalTS:  1000300,
		Quality:   50,
	}}}
	h := newHarness(t, []domain.MarketWindow{dayWindow()}, oracle, false)

	h.books.ticks = []domain.Tick{
		{TS: 1000400, Price: 0.40}, // pre-confirm, nunca cuentan
		{TS: 1000410, Price: 0.42},
		{TS: 1000425, Price: 0.60},
		{TS: 1000500, Price: 0.58},
	}

	h.tickAt(1000360) // SIGNALLED
	h.tickAt(1000420) // WAITING_CAP
	h.tickAt(1003600) // evaluación con la ventana cerrada -> FAIL

	trade := h.trade(t, 1)
	assert.Equal(t, domain.StatusCancelled, trade.Status)
	assert.Equal(t, domain.ReasonCapFail, trade.CancelReason)
}

func TestUserTimeoutAutoSkips(t *testing.T) {
	// La tarjeta se emite en t0; sin respuesta, el ciclo en
	// t0+MAX_RESPONSE_SECONDS cancela con EXPIRED/AUTO_SKIP.
	oracle := &mockOracle{results: []*ports.TAResult{{
		Direction: domain.DirectionUp,
		SignalTS:  1000300,
		Quality:   50,
	}}}
	h := newHarness(t, []domain.MarketWindow{dayWindow()}, oracle, false)

	h.books.ticks = []domain.Tick{
		{TS: 1000421, Price: 0.50},
		{TS: 1000431, Price: 0.54},
		{TS: 1000441, Price: 0.52},
	}

	h.tickAt(1000360) // SIGNALLED
	h.tickAt(1000420) // WAITING_CAP
	h.tickAt(1000450) // READY
	h.tickAt(1000500) // emite aprobación (t0 = 1000500)
	require.Equal(t, 1, h.notifier.approvals)

	h.tickAt(1000800) // aún dentro del plazo
	assert.Equal(t, domain.StatusReady, h.trade(t, 1).Status)

	h.tickAt(1001100) // t0 + 600 -> timeout
	trade := h.trade(t, 1)
	assert.Equal(t, domain.StatusCancelled, trade.Status)
	assert.Equal(t, domain.ReasonExpired, trade.CancelReason)
	assert.Equal(t, domain.DecisionAutoSkip, trade.Decision)

	st, err := h.ledger.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.TotalTrades, "AUTO_SKIP no cuenta como pérdida")
}

func TestNightAutoOK(t *testing.T) {
	window := dayWindow()
	window.Slug = "btc-up-or-down-11pm"
	window.StartTS = nightStart
	window.EndTS = nightEnd

	oracle := &mockOracle{results: []*ports.TAResult{{
		Direction: domain.DirectionUp,
		SignalTS:  nightStart + 300,
		Quality:   50,
	}}}
	h := newHarness(t, []domain.MarketWindow{window}, oracle, true)

	h.books.ticks = []domain.Tick{
		{TS: nightStart + 421, Price: 0.50},
		{TS: nightStart + 431, Price: 0.54},
		{TS: nightStart + 441, Price: 0.52},
	}

	h.tickAt(nightStart + 360) // SIGNALLED
	h.tickAt(nightStart + 420) // WAITING_CAP
	h.tickAt(nightStart + 450) // READY
	h.tickAt(nightStart + 510) // auto-OK + ejecución

	trade := h.trade(t, 1)
	assert.Equal(t, domain.StatusOrderPlaced, trade.Status)
	assert.Equal(t, domain.DecisionAutoOK, trade.Decision)
	assert.Zero(t, h.notifier.approvals, "de noche no se pide aprobación")
}

func TestNightDisabledCreatesNoTrades(t *testing.T) {
	window := dayWindow()
	window.StartTS = nightStart
	window.EndTS = nightEnd

	h := newHarness(t, []domain.MarketWindow{window}, &mockOracle{}, false)

	h.tickAt(nightStart + 60)
	trades, err := h.ledger.NonTerminalTrades(context.Background())
	require.NoError(t, err)
	assert.Empty(t, trades, "sin night autotrade no se crean trades de noche")
}

func TestPausedCycleIsInert(t *testing.T) {
	h := newHarness(t, []domain.MarketWindow{dayWindow()}, &mockOracle{}, false)
	ctx := context.Background()

	require.NoError(t, h.orch.Pause(ctx))
	h.tickAt(1000360)

	trades, err := h.ledger.NonTerminalTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, trades, "pausado: ni discovery ni transiciones")

	require.NoError(t, h.orch.Resume(ctx))
	h.tickAt(1000420)
	trades, err = h.ledger.NonTerminalTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestCycleReplayIsIdempotent(t *testing.T) {
	// Repetir un ciclo con inputs externos idénticos no produce
	// transiciones nuevas ni filas nuevas.
	oracle := &mockOracle{results: []*ports.TAResult{{
		Direction: domain.DirectionUp,
		SignalTS:  1000300,
		Quality:   50,
	}}}
	h := newHarness(t, []domain.MarketWindow{dayWindow()}, oracle, false)
	ctx := context.Background()

	h.tickAt(1000360)
	first := h.trade(t, 1)
	require.Equal(t, domain.StatusSignalled, first.Status)

	// Mismo reloj, mismos inputs.
	h.tickAt(1000360)
	replay := h.trade(t, 1)
	assert.Equal(t, first.Status, replay.Status)
	assert.Equal(t, first.SignalID, replay.SignalID)

	trades, err := h.ledger.NonTerminalTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, trades, 1, "el replay no crea trades nuevos")
}

func TestConfirmRejectsNonReadyTrade(t *testing.T) {
	oracle := &mockOracle{results: []*ports.TAResult{{
		Direction: domain.DirectionUp,
		SignalTS:  1000300,
		Quality:   50,
	}}}
	h := newHarness(t, []domain.MarketWindow{dayWindow()}, oracle, false)

	h.tickAt(1000360) // SIGNALLED
	err := h.orch.Confirm(context.Background(), 1, true)
	assert.Error(t, err, "solo los trades READY aceptan decisión")
}

func TestUserSkipCancelsImmediately(t *testing.T) {
	oracle := &mockOracle{results: []*ports.TAResult{{
		Direction: domain.DirectionUp,
		SignalTS:  1000300,
		Quality:   50,
	}}}
	h := newHarness(t, []domain.MarketWindow{dayWindow()}, oracle, false)

	h.books.ticks = []domain.Tick{
		{TS: 1000421, Price: 0.50},
		{TS: 1000431, Price: 0.54},
		{TS: 1000441, Price: 0.52},
	}
	h.tickAt(1000360)
	h.tickAt(1000420)
	h.tickAt(1000450) // READY

	require.NoError(t, h.orch.Confirm(context.Background(), 1, false))
	trade := h.trade(t, 1)
	assert.Equal(t, domain.StatusCancelled, trade.Status)
	assert.Equal(t, domain.ReasonSkip, trade.CancelReason)
	assert.Equal(t, domain.DecisionSkip, trade.Decision)
}

func TestLossResetsStreaks(t *testing.T) {
	oracle := &mockOracle{results: []*ports.TAResult{{
		Direction: domain.DirectionUp,
		SignalTS:  1000300,
		Quality:   50,
	}}}
	h := newHarness(t, []domain.MarketWindow{dayWindow()}, oracle, false)
	ctx := context.Background()

	// Racha previa artificial.
	_, err := h.ledger.UpdateStats(ctx, func(st *domain.Stats) {
		st.TradeLevelStreak = 2
		st.TotalTrades = 2
		st.TotalWins = 2
	})
	require.NoError(t, err)

	h.books.ticks = []domain.Tick{
		{TS: 1000421, Price: 0.50},
		{TS: 1000431, Price: 0.54},
		{TS: 1000441, Price: 0.52},
	}
	h.tickAt(1000360)
	h.tickAt(1000420)
	h.tickAt(1000450)
	h.tickAt(1000510)
	require.NoError(t, h.orch.Confirm(ctx, 1, true))
	h.tickAt(1000570) // ORDER_PLACED

	h.markets.outcomes["btc-up-or-down-1pm"] = "DOWN" // señal UP pierde
	h.tickAt(1003700)

	trade := h.trade(t, 1)
	require.NotNil(t, trade.IsWin)
	assert.False(t, *trade.IsWin)
	assert.InDelta(t, -10.0, trade.PnL, 1e-9)

	st, err := h.ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.TradeLevelStreak, "la pérdida resetea la racha")
	assert.Equal(t, domain.PolicyBase, st.PolicyMode)
	assert.Equal(t, 1, st.TotalLosses)
}
