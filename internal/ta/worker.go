package ta

import (
	"context"
	"log/slog"
	"time"

	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/metrics"
	"github.com/evgenss79/MARTIN/internal/ports"
)

// WorkerConfig controla el loop de snapshots.
type WorkerConfig struct {
	Assets        []string
	WarmupSeconds int64
	Interval      time.Duration
	// MaxStaleFactor multiplica Interval para decidir cuándo un snapshot deja
	// de servir a los consumidores (guardia de frescura).
	MaxStaleFactor int
}

// Worker mantiene la cache de snapshots fresca, de forma independiente del
// descubrimiento de ventanas. Un asset que falla no bloquea a los demás: su
// snapshot anterior se conserva hasta el próximo fetch exitoso.
type Worker struct {
	cfg     WorkerConfig
	candles ports.CandleProvider
	cache   *Cache
	now     func() time.Time
}

// NewWorker crea el worker de snapshots.
func NewWorker(cfg WorkerConfig, candles ports.CandleProvider) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxStaleFactor <= 0 {
		cfg.MaxStaleFactor = 4
	}
	return &Worker{
		cfg:     cfg,
		candles: candles,
		cache:   NewCache(),
		now:     time.Now,
	}
}

// Cache expone la cache de snapshots a los consumidores.
func (w *Worker) Cache() *Cache {
	return w.cache
}

// Run ejecuta el loop de refresh hasta que el contexto se cancele.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("snapshot worker starting",
		"assets", w.cfg.Assets,
		"interval", w.cfg.Interval,
		"warmup_seconds", w.cfg.WarmupSeconds,
	)

	w.refreshAll(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("snapshot worker stopped")
			return nil
		case <-ticker.C:
			w.refreshAll(ctx)
		}
	}
}

// refreshAll actualiza todos los assets; los fallos son por-asset.
func (w *Worker) refreshAll(ctx context.Context) {
	for _, asset := range w.cfg.Assets {
		if ctx.Err() != nil {
			return
		}
		if err := w.refresh(ctx, asset); err != nil {
			slog.Warn("snapshot refresh failed, keeping previous",
				"asset", asset,
				"err", err,
			)
		}
	}
}

func (w *Worker) refresh(ctx context.Context, asset string) error {
	nowTS := w.now().Unix()
	fromTS := nowTS - w.cfg.WarmupSeconds

	candles1m, err := w.candles.Candles(ctx, asset, "1m", fromTS, nowTS)
	if err != nil {
		return err
	}
	candles5m, err := w.candles.Candles(ctx, asset, "5m", fromTS, nowTS)
	if err != nil {
		return err
	}

	snap := w.cache.Put(asset, candles1m, candles5m, w.now())
	metrics.SnapshotAge.WithLabelValues(asset).Set(0)

	slog.Debug("snapshot updated",
		"asset", asset,
		"candles_1m", len(snap.Candles1m),
		"candles_5m", len(snap.Candles5m),
	)
	return nil
}

// Fresh devuelve las series 1m/5m del asset si el snapshot sirve, refrescando
// on-demand cuando está más viejo que Interval*MaxStaleFactor. Si el refresh
// falla devuelve el snapshot viejo antes que nada.
func (w *Worker) Fresh(ctx context.Context, asset string, _ int64) ([]domain.Candle, []domain.Candle, bool) {
	maxAge := w.cfg.Interval * time.Duration(w.cfg.MaxStaleFactor)

	snap, ok := w.cache.Get(asset)
	if ok {
		metrics.SnapshotAge.WithLabelValues(asset).Set(snap.Age(w.now()).Seconds())
	}
	if ok && snap.Age(w.now()) <= maxAge {
		return snap.Candles1m, snap.Candles5m, true
	}

	if err := w.refresh(ctx, asset); err != nil {
		slog.Warn("on-demand snapshot refresh failed",
			"asset", asset,
			"err", err,
		)
		if ok {
			return snap.Candles1m, snap.Candles5m, true
		}
		return nil, nil, false
	}

	snap, ok = w.cache.Get(asset)
	if !ok {
		return nil, nil, false
	}
	return snap.Candles1m, snap.Candles5m, true
}
