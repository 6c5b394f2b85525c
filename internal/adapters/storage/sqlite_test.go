package storage_test

import (
	"context"
	"testing"

	"github.com/evgenss79/MARTIN/internal/adapters/storage"
	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func makeWindow(slug string) domain.MarketWindow {
	return domain.MarketWindow{
		Asset:       "BTC",
		Slug:        slug,
		ConditionID: "0xcond",
		UpTokenID:   "tok-up",
		DownTokenID: "tok-down",
		StartTS:     1000000,
		EndTS:       1003600,
	}
}

func seedTrade() domain.Trade {
	return domain.Trade{
		TimeMode:   domain.TimeModeDay,
		PolicyMode: domain.PolicyBase,
	}
}

// advance lleva un trade NEW hasta el status pedido por el camino legal.
func advance(t *testing.T, s *storage.Store, tradeID int64, to domain.TradeStatus) domain.Trade {
	t.Helper()
	ctx := context.Background()
	path := []domain.TradeStatus{
		domain.StatusSearchingSignal, domain.StatusSignalled,
		domain.StatusWaitingConfirm, domain.StatusWaitingCap,
		domain.StatusReady, domain.StatusOrderPlaced,
	}
	var trade domain.Trade
	var err error
	for _, status := range path {
		trade, err = s.Transition(ctx, tradeID, status, "test", nil)
		require.NoError(t, err)
		if status == to {
			break
		}
	}
	return trade
}

func TestUpsertWindow_Dedupe(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	w1, err := s.UpsertWindow(ctx, makeWindow("btc-hourly-1"))
	require.NoError(t, err)
	require.NotZero(t, w1.ID)

	w2, err := s.UpsertWindow(ctx, makeWindow("btc-hourly-1"))
	require.NoError(t, err)
	assert.Equal(t, w1.ID, w2.ID, "mismo slug devuelve la misma fila")

	fetched, err := s.WindowByID(ctx, w1.ID)
	require.NoError(t, err)
	assert.Equal(t, "btc-hourly-1", fetched.Slug)
	assert.Empty(t, fetched.Outcome)
}

func TestSetWindowOutcome_WriteOnce(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	w, err := s.UpsertWindow(ctx, makeWindow("btc-hourly-2"))
	require.NoError(t, err)

	require.NoError(t, s.SetWindowOutcome(ctx, w.ID, "UP"))
	require.NoError(t, s.SetWindowOutcome(ctx, w.ID, "DOWN"), "segunda escritura es no-op")

	fetched, err := s.WindowByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "UP", fetched.Outcome, "outcome es write-once")
}

func TestClaimWindow_NonTerminalUniqueness(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	w, err := s.UpsertWindow(ctx, makeWindow("btc-hourly-3"))
	require.NoError(t, err)

	t1, created, err := s.ClaimWindow(ctx, w.ID, seedTrade())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.StatusNew, t1.Status)

	t2, created, err := s.ClaimWindow(ctx, w.ID, seedTrade())
	require.NoError(t, err)
	assert.False(t, created, "segunda claim no crea trade")
	assert.Equal(t, t1.ID, t2.ID)
}

func TestClaimWindow_AfterTerminalCreatesAgain(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	w, err := s.UpsertWindow(ctx, makeWindow("btc-hourly-4"))
	require.NoError(t, err)

	t1, _, err := s.ClaimWindow(ctx, w.ID, seedTrade())
	require.NoError(t, err)

	_, err = s.Transition(ctx, t1.ID, domain.StatusCancelled, "expired", func(tr *domain.Trade) {
		tr.CancelReason = domain.ReasonExpired
	})
	require.NoError(t, err)

	t2, created, err := s.ClaimWindow(ctx, w.ID, seedTrade())
	require.NoError(t, err)
	assert.True(t, created, "con el anterior terminal se puede crear otro")
	assert.NotEqual(t, t1.ID, t2.ID)
}

func TestTransition_LegalPathAndFields(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	w, err := s.UpsertWindow(ctx, makeWindow("btc-hourly-5"))
	require.NoError(t, err)
	trade, _, err := s.ClaimWindow(ctx, w.ID, seedTrade())
	require.NoError(t, err)

	trade, err = s.Transition(ctx, trade.ID, domain.StatusSearchingSignal, "start", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSearchingSignal, trade.Status)

	sig, err := s.CreateSignal(ctx, domain.Signal{
		WindowID:  w.ID,
		Direction: domain.DirectionUp,
		SignalTS:  1000300,
		ConfirmTS: 1000420,
		Quality:   50,
	})
	require.NoError(t, err)

	trade, err = s.Transition(ctx, trade.ID, domain.StatusSignalled, "signal", func(tr *domain.Trade) {
		tr.SignalID = sig.ID
	})
	require.NoError(t, err)
	assert.Equal(t, sig.ID, trade.SignalID, "signal_id se fija en la misma transacción")
}

func TestTransition_IllegalIsRejectedWithoutMutation(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	w, err := s.UpsertWindow(ctx, makeWindow("btc-hourly-6"))
	require.NoError(t, err)
	trade, _, err := s.ClaimWindow(ctx, w.ID, seedTrade())
	require.NoError(t, err)

	_, err = s.Transition(ctx, trade.ID, domain.StatusReady, "jump", func(tr *domain.Trade) {
		tr.TokenID = "should-not-persist"
	})
	assert.ErrorIs(t, err, statemachine.ErrInvalidTransition)

	fetched, err := s.TradeByID(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, fetched.Status, "la fila no muta ante arista ilegal")
	assert.Empty(t, fetched.TokenID)
}

func TestTransition_TerminalIsFrozen(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	w, err := s.UpsertWindow(ctx, makeWindow("btc-hourly-7"))
	require.NoError(t, err)
	trade, _, err := s.ClaimWindow(ctx, w.ID, seedTrade())
	require.NoError(t, err)

	_, err = s.Transition(ctx, trade.ID, domain.StatusCancelled, "paused", nil)
	require.NoError(t, err)

	_, err = s.Transition(ctx, trade.ID, domain.StatusSearchingSignal, "revive", nil)
	assert.ErrorIs(t, err, statemachine.ErrInvalidTransition)
}

func TestCreateSignal_OnePerWindow(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	w, err := s.UpsertWindow(ctx, makeWindow("btc-hourly-8"))
	require.NoError(t, err)

	sig := domain.Signal{WindowID: w.ID, Direction: domain.DirectionUp, SignalTS: 1, ConfirmTS: 2, Quality: 40}
	_, err = s.CreateSignal(ctx, sig)
	require.NoError(t, err)

	_, err = s.CreateSignal(ctx, sig)
	assert.Error(t, err, "UNIQUE(window_id) rechaza la segunda señal")
}

func TestSettleTrade_AtomicWithStats(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	w, err := s.UpsertWindow(ctx, makeWindow("btc-hourly-9"))
	require.NoError(t, err)
	trade, _, err := s.ClaimWindow(ctx, w.ID, seedTrade())
	require.NoError(t, err)
	advance(t, s, trade.ID, domain.StatusOrderPlaced)

	settled, err := s.SettleTrade(ctx, trade.ID,
		func(tr *domain.Trade) {
			win := true
			tr.IsWin = &win
			tr.PnL = 8.18
			tr.Decision = domain.DecisionOK
			tr.FillStatus = domain.FillFilled
		},
		func(st *domain.Stats) {
			st.TotalTrades++
			st.TotalWins++
			st.TradeLevelStreak++
		},
	)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSettled, settled.Status)
	require.NotNil(t, settled.IsWin)
	assert.True(t, *settled.IsWin)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TradeLevelStreak)
	assert.Equal(t, 1, st.TotalTrades)
}

func TestSettleTrade_RejectsFromNonOrderPlaced(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	w, err := s.UpsertWindow(ctx, makeWindow("btc-hourly-10"))
	require.NoError(t, err)
	trade, _, err := s.ClaimWindow(ctx, w.ID, seedTrade())
	require.NoError(t, err)

	_, err = s.SettleTrade(ctx, trade.ID, nil, nil)
	assert.ErrorIs(t, err, statemachine.ErrInvalidTransition)
}

func TestIsWinNullUntilSettled(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	w, err := s.UpsertWindow(ctx, makeWindow("btc-hourly-11"))
	require.NoError(t, err)
	trade, _, err := s.ClaimWindow(ctx, w.ID, seedTrade())
	require.NoError(t, err)

	fetched, err := s.TradeByID(ctx, trade.ID)
	require.NoError(t, err)
	assert.Nil(t, fetched.IsWin, "is_win es null fuera de SETTLED")
}

func TestEnsureCapCheck_Idempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	w, err := s.UpsertWindow(ctx, makeWindow("btc-hourly-12"))
	require.NoError(t, err)
	trade, _, err := s.ClaimWindow(ctx, w.ID, seedTrade())
	require.NoError(t, err)

	c1, err := s.EnsureCapCheck(ctx, domain.CapCheck{
		TradeID:   trade.ID,
		TokenID:   "tok-up",
		ConfirmTS: 1000420,
		EndTS:     1003600,
		Status:    domain.CapPending,
	})
	require.NoError(t, err)

	c2, err := s.EnsureCapCheck(ctx, domain.CapCheck{TradeID: trade.ID, TokenID: "other"})
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID, "segunda llamada devuelve el registro existente")
	assert.Equal(t, "tok-up", c2.TokenID)
}

func TestUpdateCapCheck_PassRequiresFirstPassTS(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	w, err := s.UpsertWindow(ctx, makeWindow("btc-hourly-13"))
	require.NoError(t, err)
	trade, _, err := s.ClaimWindow(ctx, w.ID, seedTrade())
	require.NoError(t, err)

	c, err := s.EnsureCapCheck(ctx, domain.CapCheck{
		TradeID: trade.ID, TokenID: "tok-up", ConfirmTS: 1, EndTS: 2, Status: domain.CapPending,
	})
	require.NoError(t, err)

	c.Status = domain.CapPass
	err = s.UpdateCapCheck(ctx, c)
	assert.Error(t, err, "PASS sin first_pass_ts viola el invariante")

	c.FirstPassTS = 1000441
	c.PriceAtPass = 0.52
	c.ConsecutiveTicks = 3
	require.NoError(t, s.UpdateCapCheck(ctx, c))

	fetched, ok, err := s.CapCheckByTradeID(ctx, trade.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.CapPass, fetched.Status)
	assert.Equal(t, int64(1000441), fetched.FirstPassTS)
}

func TestSettings_SetAndOverride(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetSetting(ctx, "trading.price_cap", "0.60"))
	require.NoError(t, s.SetSetting(ctx, "trading.price_cap", "0.58"))

	settings, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0.58", settings["trading.price_cap"])
}

func TestSignalQualities_FiltersTakenAndFilled(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	newSettled := func(slug string, decision domain.Decision, fill domain.FillStatus, quality float64) {
		w, err := s.UpsertWindow(ctx, makeWindow(slug))
		require.NoError(t, err)
		sig, err := s.CreateSignal(ctx, domain.Signal{
			WindowID: w.ID, Direction: domain.DirectionUp, SignalTS: 1, ConfirmTS: 2, Quality: quality,
		})
		require.NoError(t, err)
		trade, _, err := s.ClaimWindow(ctx, w.ID, seedTrade())
		require.NoError(t, err)
		advance(t, s, trade.ID, domain.StatusOrderPlaced)
		_, err = s.SettleTrade(ctx, trade.ID, func(tr *domain.Trade) {
			win := true
			tr.IsWin = &win
			tr.SignalID = sig.ID
			tr.Decision = decision
			tr.FillStatus = fill
		}, nil)
		require.NoError(t, err)
	}

	newSettled("q-1", domain.DecisionOK, domain.FillFilled, 42)
	newSettled("q-2", domain.DecisionAutoOK, domain.FillPartial, 55)
	newSettled("q-3", domain.DecisionAutoSkip, domain.FillFilled, 90) // no cuenta

	qualities, err := s.SignalQualities(ctx, domain.TimeModeDay, 0, 100)
	require.NoError(t, err)
	assert.ElementsMatch(t, []float64{42, 55}, qualities)
}
