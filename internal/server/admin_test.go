package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/invisible-tech/injection-collector/internal/types"
)

func TestAdmin_Health(t *testing.T) {
	srv, ctrl := newTestServer(t)
	admin := NewAdmin(":0", ctrl, srv.log)

	rec := httptest.NewRecorder()
	admin.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("GET /health: status %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "healthy" || body["version"] == "" {
		t.Errorf("health body = %v", body)
	}
}

func TestAdmin_Summary(t *testing.T) {
	srv, ctrl := newTestServer(t)
	admin := NewAdmin(":0", ctrl, srv.log)
	srv.handleRequest(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/debug/activate", nil))

	rec := httptest.NewRecorder()
	admin.handleSummary(rec, httptest.NewRequest(http.MethodGet, "/api/v1/summary", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var s types.Summary
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if s.TotalRequests != 1 || s.TechniqueHits["J6"] != 1 || s.ByCategory[types.CategoryJailbreak] != 1 {
		t.Errorf("summary = %+v", s)
	}
}

func TestAdmin_Summary_MethodNotAllowed(t *testing.T) {
	srv, ctrl := newTestServer(t)
	admin := NewAdmin(":0", ctrl, srv.log)

	rec := httptest.NewRecorder()
	admin.handleSummary(rec, httptest.NewRequest(http.MethodPost, "/api/v1/summary", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /api/v1/summary: status %d", rec.Code)
	}
}

func TestAdmin_Rules(t *testing.T) {
	srv, ctrl := newTestServer(t)
	admin := NewAdmin(":0", ctrl, srv.log)

	rec := httptest.NewRecorder()
	admin.handleRules(rec, httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil))

	var body struct {
		Rules []struct {
			Prefix    string `json:"prefix"`
			Technique string `json:"technique"`
			Severity  string `json:"severity"`
		} `json:"rules"`
		VariantNamespace *struct {
			Prefix string `json:"prefix"`
		} `json:"variant_namespace"`
		KnownTechniques int `json:"known_techniques"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode rules: %v", err)
	}
	if len(body.Rules) != 17 || body.KnownTechniques != 13 {
		t.Errorf("rules=%d known=%d", len(body.Rules), body.KnownTechniques)
	}
	if body.Rules[0].Technique != "L1" || body.Rules[0].Severity != "CRITICAL" {
		t.Errorf("first rule = %+v", body.Rules[0])
	}
	if body.VariantNamespace == nil || body.VariantNamespace.Prefix != "/api/multilang/" {
		t.Errorf("variant namespace = %+v", body.VariantNamespace)
	}
}

func TestAdmin_Metrics(t *testing.T) {
	srv, ctrl := newTestServer(t)
	admin := NewAdmin(":0", ctrl, srv.log)
	srv.handleRequest(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/beacon", nil))

	rec := httptest.NewRecorder()
	admin.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics: status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "collector_requests_recorded_total") {
		t.Error("metrics output missing collector_requests_recorded_total")
	}
}
