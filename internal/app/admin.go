package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"time"

	"quote_keeper/internal/engine"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusSource is what /status renders.
type StatusSource interface {
	Snapshot() engine.Snapshot
}

// NewAdminServer serves /metrics, /status and /debug/pprof on addr.
// It returns nil when addr is empty.
func NewAdminServer(addr string, gatherer prometheus.Gatherer, status StatusSource) *http.Server {
	if addr == "" {
		return nil
	}
	return &http.Server{
		Addr:              addr,
		Handler:           newAdminMux(gatherer, status),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func newAdminMux(gatherer prometheus.Gatherer, status StatusSource) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", statusHandler(status))

	// Localhost binding is the only protection here.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func statusHandler(status StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status.Snapshot()); err != nil {
			slog.Warn("Failed to write status", slog.Any("error", err))
		}
	}
}
