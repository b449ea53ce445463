package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/region-engine/internal/config"
	"github.com/sells-group/region-engine/internal/model"
	"github.com/sells-group/region-engine/internal/pipeline"
	"github.com/sells-group/region-engine/internal/scorer"
	"github.com/sells-group/region-engine/internal/tenantregion"
	"github.com/sells-group/region-engine/internal/timing"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve region context over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		promReg := prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		eng, err := initEngine(ctx, cfg, promReg)
		if err != nil {
			return err
		}
		defer eng.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(eng, promReg, cfg.Server),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter mounts the HTTP API on eng. gatherer backs /metrics and may be
// nil to omit the endpoint.
func newRouter(eng *engine, gatherer prometheus.Gatherer, sc config.ServerConfig) http.Handler {
	h := &apiHandler{eng: eng}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: sc.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(h.observe)

	r.Get("/health", h.health)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		if sc.RatePerSecond > 0 {
			r.Use(rateLimit(rate.NewLimiter(rate.Limit(sc.RatePerSecond), max(sc.RateBurst, 1))))
		}
		r.Post("/context", h.buildContext)
		r.Get("/regions", h.listRegions)
		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Get("/regions", h.tenantRegions)
			r.Put("/regions/{regionID}", h.bind)
			r.Delete("/regions/{regionID}", h.unbind)
			r.Post("/default-region", h.setDefault)
		})
	})

	return r
}

// rateLimit rejects requests beyond the limiter's budget with 429.
func rateLimit(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type apiHandler struct {
	eng *engine
}

func (h *apiHandler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.eng.Metrics.ObserveHTTP(route, strconv.Itoa(status), start)
	})
}

func (h *apiHandler) health(w http.ResponseWriter, r *http.Request) {
	stats := h.eng.Registry.Stats()
	status, code := "ok", http.StatusOK
	switch {
	case !stats.Loaded:
		status, code = "unavailable", http.StatusServiceUnavailable
	case stats.Stale:
		status = "degraded"
	}
	writeJSON(w, code, map[string]any{
		"status":   status,
		"registry": stats,
		"breakers": h.eng.Registry.BreakerStatus(),
	})
}

type contextRequest struct {
	pipeline.Request
	Scores    *scorer.Scores `json:"scores,omitempty"`
	FollowUps int            `json:"follow_ups,omitempty"`
}

type contextResponse struct {
	Context   pipeline.Audit         `json:"context"`
	Timing    pipeline.ContactTiming `json:"timing"`
	Scores    *scorer.ModifiedScores `json:"scores,omitempty"`
	FollowUps []timing.Contact       `json:"follow_ups,omitempty"`
}

func (h *apiHandler) buildContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if !decode(w, r, &req) {
		return
	}
	if req.FollowUps < 0 || req.FollowUps > 20 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "follow_ups must be between 0 and 20"})
		return
	}

	rc, err := h.eng.Builder.BuildRegionPipelineContext(r.Context(), req.Request)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := contextResponse{
		Context: rc.Audit(),
		Timing:  rc.GetOptimalContactTiming(),
	}
	if req.Scores != nil {
		s := rc.ApplyScoreModifiers(*req.Scores)
		resp.Scores = &s
	}
	if req.FollowUps > 0 {
		resp.FollowUps = rc.FollowUpSchedule(req.FollowUps)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *apiHandler) listRegions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"regions": h.eng.Registry.GetAllRegions(r.Context()),
	})
}

func (h *apiHandler) tenantRegions(w http.ResponseWriter, r *http.Request) {
	bindings, err := h.eng.Tenants.GetTenantRegions(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bindings": bindings})
}

type bindRequest struct {
	IsDefault                  bool                    `json:"is_default"`
	CoverageTerritories        []string                `json:"coverage_territories"`
	CustomScoringModifiers     *model.ModifierOverride `json:"custom_scoring_modifiers"`
	CustomSalesCycleMultiplier *float64                `json:"custom_sales_cycle_multiplier"`
	CustomPreferredChannels    []model.Channel         `json:"custom_preferred_channels"`
}

func (h *apiHandler) bind(w http.ResponseWriter, r *http.Request) {
	var req bindRequest
	if !decode(w, r, &req) {
		return
	}
	eff, err := h.eng.Tenants.BindTenantToRegion(r.Context(),
		chi.URLParam(r, "tenantID"), chi.URLParam(r, "regionID"),
		tenantregion.BindOptions{
			IsDefault:                  req.IsDefault,
			CoverageTerritories:        req.CoverageTerritories,
			CustomScoringModifiers:     req.CustomScoringModifiers,
			CustomSalesCycleMultiplier: req.CustomSalesCycleMultiplier,
			CustomPreferredChannels:    req.CustomPreferredChannels,
		})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eff)
}

func (h *apiHandler) unbind(w http.ResponseWriter, r *http.Request) {
	err := h.eng.Tenants.UnbindTenantFromRegion(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "regionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) setDefault(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RegionID string `json:"region_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.RegionID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "region_id is required"})
		return
	}
	eff, err := h.eng.Tenants.SetDefaultRegion(r.Context(), chi.URLParam(r, "tenantID"), req.RegionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eff)
}

type errorBody struct {
	Error string `json:"error"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case eris.Is(err, tenantregion.ErrTenantRequired):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "tenant id required"})
	case tenantregion.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		zap.L().Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
