// Package ops expone la superficie operacional por HTTP: status, report,
// pause/resume, restricciones day/night, settings, decisiones de usuario y
// /metrics en formato Prometheus.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/evgenss79/MARTIN/internal/orchestrator"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server es el listener de operaciones.
type Server struct {
	orch *orchestrator.Orchestrator
	srv  *http.Server
}

// NewServer arma el server sobre el orchestrator.
func NewServer(listen string, orch *orchestrator.Orchestrator) *Server {
	s := &Server{orch: orch}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /report", s.handleReport)
	mux.HandleFunc("POST /pause", s.action(func(ctx context.Context) error { return orch.Pause(ctx) }))
	mux.HandleFunc("POST /resume", s.action(func(ctx context.Context) error { return orch.Resume(ctx) }))
	mux.HandleFunc("POST /day-only", s.toggle(orch.SetDayOnly))
	mux.HandleFunc("POST /night-only", s.toggle(orch.SetNightOnly))
	mux.HandleFunc("POST /settings", s.handleSettings)
	mux.HandleFunc("POST /decision", s.handleDecision)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:         listen,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Run sirve hasta que el contexto se cancele; el shutdown es cooperativo.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("ops server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.orch.Snapshot(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}

	byStatus := map[string]int{}
	for _, t := range status.Active {
		byStatus[string(t.Status)]++
	}

	writeJSON(w, map[string]any{
		"cycle_id":           status.CycleID,
		"is_paused":          status.Stats.IsPaused,
		"policy_mode":        status.Stats.PolicyMode,
		"trade_level_streak": status.Stats.TradeLevelStreak,
		"night_streak":       status.Stats.NightStreak,
		"total_trades":       status.Stats.TotalTrades,
		"total_wins":         status.Stats.TotalWins,
		"total_losses":       status.Stats.TotalLosses,
		"win_rate":           status.Stats.WinRate(),
		"day_only":           status.Stats.DayOnly,
		"night_only":         status.Stats.NightOnly,
		"active_trades":      byStatus,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	status, err := s.orch.Snapshot(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "streak=%d night=%d policy=%s trades=%d W/L=%d/%d\n\n",
		status.Stats.TradeLevelStreak,
		status.Stats.NightStreak,
		status.Stats.PolicyMode,
		status.Stats.TotalTrades,
		status.Stats.TotalWins,
		status.Stats.TotalLosses,
	)

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Window", "Status", "Decision", "Fill", "Stake")
	for _, t := range status.Active {
		table.Append(
			fmt.Sprintf("%d", t.ID),
			fmt.Sprintf("%d", t.WindowID),
			string(t.Status),
			string(t.Decision),
			string(t.FillStatus),
			fmt.Sprintf("%.2f", t.StakeAmount),
		)
	}
	table.Render()
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		httpError(w, http.StatusBadRequest, fmt.Errorf("expected {key, value}"))
		return
	}
	if err := s.orch.UpdateSetting(r.Context(), req.Key, req.Value); err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]string{"result": "ok"})
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TradeID  int64  `json:"trade_id"`
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TradeID == 0 {
		httpError(w, http.StatusBadRequest, fmt.Errorf("expected {trade_id, decision}"))
		return
	}

	var ok bool
	switch strings.ToUpper(req.Decision) {
	case "OK":
		ok = true
	case "SKIP":
		ok = false
	default:
		httpError(w, http.StatusBadRequest, fmt.Errorf("decision must be OK or SKIP"))
		return
	}

	if err := s.orch.Confirm(r.Context(), req.TradeID, ok); err != nil {
		httpError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, map[string]string{"result": "ok"})
}

func (s *Server) action(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, map[string]string{"result": "ok"})
	}
}

func (s *Server) toggle(fn func(context.Context, bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, fmt.Errorf("expected {enabled}"))
			return
		}
		if err := fn(r.Context(), req.Enabled); err != nil {
			httpError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, map[string]string{"result": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
