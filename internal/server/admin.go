package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/injection-collector/internal/controller"
	"github.com/invisible-tech/injection-collector/internal/detection"
	"github.com/invisible-tech/injection-collector/internal/version"
)

// AdminServer exposes health, metrics, the current summary and the rule
// table on a port separate from the collector.
type AdminServer struct {
	controller *controller.Controller
	log        *logrus.Logger
	httpServer *http.Server
}

// NewAdmin creates the admin server listening on addr.
func NewAdmin(addr string, ctrl *controller.Controller, log *logrus.Logger) *AdminServer {
	mux := http.NewServeMux()
	a := &AdminServer{controller: ctrl, log: log}
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/api/v1/summary", a.handleSummary)
	mux.HandleFunc("/api/v1/rules", a.handleRules)
	mux.Handle("/metrics", promhttp.Handler())

	a.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return a
}

// ListenAndServe starts the admin server. It blocks until the server is closed.
func (a *AdminServer) ListenAndServe() error {
	a.log.WithField("addr", a.httpServer.Addr).Info("Admin API listening")
	return a.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (a *AdminServer) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

func (a *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version.Version,
	})
}

func (a *AdminServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a.controller.Summary())
}

type rulesResponse struct {
	Rules            []detection.Rule     `json:"rules"`
	VariantNamespace *detection.Namespace `json:"variant_namespace,omitempty"`
	UnknownNamespace *detection.Namespace `json:"unknown_namespace,omitempty"`
	KnownTechniques  int                  `json:"known_techniques"`
}

func (a *AdminServer) handleRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	t := a.controller.Table()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rulesResponse{
		Rules:            t.Rules(),
		VariantNamespace: t.VariantNamespace(),
		UnknownNamespace: t.UnknownNamespace(),
		KnownTechniques:  t.KnownTechniques(),
	})
}
