package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blueberrycongee/convostore"
	"github.com/blueberrycongee/convostore/internal/config"
	"github.com/blueberrycongee/convostore/internal/healthcheck"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type statusSource interface {
	Status() config.Status
}

// newProber registers the storage check and, when semantic recall has an
// embedding provider, a one-word embedding probe.
func newProber(store *convostore.Store, cfg healthcheck.Config, logger *slog.Logger) *healthcheck.Prober {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Optional = append(cfg.Optional, "embedding")
	p := healthcheck.NewProber(cfg, logger)
	p.Register("storage", store.Ping)
	if emb := store.Memory().Embedder(); emb != nil {
		p.Register("embedding", func(ctx context.Context) error {
			_, err := emb.EmbedBatch(ctx, []string{"healthcheck"})
			return err
		})
		logger.Info("embedding provider probe registered", "model", emb.Model())
	}
	return p
}

// buildMux registers the health, config status and metrics routes. A nil
// prober makes readiness ping the store on every request.
func buildMux(cfg *config.Config, store pinger, status statusSource, prober *healthcheck.Prober) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /health/ready", func(w http.ResponseWriter, r *http.Request) {
		if prober != nil {
			code := http.StatusOK
			state := "ok"
			if !prober.Healthy() {
				code, state = http.StatusServiceUnavailable, "unavailable"
			}
			writeJSON(w, code, map[string]any{"status": state, "dependencies": prober.Results()})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if status != nil {
		mux.HandleFunc("GET /config/status", func(w http.ResponseWriter, _ *http.Request) {
			s := status.Status()
			writeJSON(w, http.StatusOK, map[string]any{
				"path":         s.Path,
				"checksum":     s.Checksum,
				"loaded_at":    s.LoadedAt,
				"reload_count": s.ReloadCount,
			})
		})
	}
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.Handler())
	}
	return mux
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
