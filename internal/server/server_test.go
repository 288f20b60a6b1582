package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/injection-collector/internal/config"
	"github.com/invisible-tech/injection-collector/internal/controller"
	"github.com/invisible-tech/injection-collector/internal/detection"
	"github.com/invisible-tech/injection-collector/internal/types"
)

func newTestServer(t *testing.T) (*Server, *controller.Controller) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	dir := t.TempDir()
	cfg := config.CollectorConfig{
		Port:         0,
		LogFile:      filepath.Join(dir, "log.json"),
		SummaryFile:  filepath.Join(dir, "summary.json"),
		MaxBodyBytes: 5000,
		MaxReadBytes: 1 << 20,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	ctrl := controller.New(cfg, detection.DefaultTable(), log)
	return New(cfg, ctrl, log), ctrl
}

func assertCORS(t *testing.T, h http.Header) {
	t.Helper()
	for _, k := range []string{"Access-Control-Allow-Origin", "Access-Control-Allow-Methods", "Access-Control-Allow-Headers"} {
		if h.Get(k) != "*" {
			t.Errorf("%s = %q, want *", k, h.Get(k))
		}
	}
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) types.Acknowledgement {
	t.Helper()
	var ack types.Acknowledgement
	if err := json.NewDecoder(rec.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return ack
}

func TestServer_Post_ToolInjection(t *testing.T) {
	srv, ctrl := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v2/verify-recommendation", strings.NewReader(`{"data":"x"}`))
	rec := httptest.NewRecorder()
	srv.handleRequest(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	assertCORS(t, rec.Header())
	want := `{"status":"logged","technique":"L1","category":"tool_injection","request_number":1}`
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Errorf("body = %s\nwant %s", got, want)
	}

	events := ctrl.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d", len(events))
	}
	ev := events[0]
	if ev.Classification.Severity != types.SeverityCritical || ev.Body != `{"data":"x"}` || ev.Method != "POST" {
		t.Errorf("event = %+v", ev)
	}
	if ev.ClientIP != "192.0.2.1" {
		t.Errorf("client ip = %q", ev.ClientIP)
	}
	if ctrl.Summary().TechniqueHits["L1"] != 1 {
		t.Errorf("technique hits = %v", ctrl.Summary().TechniqueHits)
	}
}

func TestServer_Get_MultilangVariant(t *testing.T) {
	srv, ctrl := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.handleRequest(rec, httptest.NewRequest(http.MethodGet, "/api/multilang/fr", nil))

	ack := decodeAck(t, rec)
	if ack.Technique != "J7" || ack.Category != types.CategoryJailbreak {
		t.Errorf("ack = %+v", ack)
	}
	c := ctrl.Events()[0].Classification
	if c.Name != "Multi-Language Safety Bypass (FR)" || c.Page != 3 {
		t.Errorf("classification = %+v", c)
	}
}

func TestServer_Get_UnknownPath(t *testing.T) {
	srv, ctrl := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.handleRequest(rec, httptest.NewRequest(http.MethodGet, "/totally/unrelated/path", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status %d", rec.Code)
	}
	ack := decodeAck(t, rec)
	if ack.Category != types.CategoryUnknown || ack.Technique != detection.TechniqueUnknown {
		t.Errorf("ack = %+v", ack)
	}
	if sev := ctrl.Events()[0].Classification.Severity; sev != types.SeverityInfo {
		t.Errorf("severity = %v", sev)
	}
}

func TestServer_Preflight(t *testing.T) {
	srv, ctrl := newTestServer(t)
	srv.handleRequest(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/beacon", nil))
	before := ctrl.Summary()

	rec := httptest.NewRecorder()
	srv.handleRequest(rec, httptest.NewRequest(http.MethodOptions, "/api/v2/verify-recommendation", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("preflight body = %q", rec.Body.String())
	}
	assertCORS(t, rec.Header())
	if n := len(ctrl.Events()); n != 1 {
		t.Errorf("preflight created an event: %d events", n)
	}
	if after := ctrl.Summary(); after.TotalRequests != before.TotalRequests {
		t.Errorf("summary changed: %d -> %d", before.TotalRequests, after.TotalRequests)
	}
}

func TestServer_Put_And_OtherMethods(t *testing.T) {
	srv, ctrl := newTestServer(t)
	for _, m := range []string{http.MethodPut, http.MethodDelete, http.MethodPatch} {
		rec := httptest.NewRecorder()
		srv.handleRequest(rec, httptest.NewRequest(m, "/beacon", strings.NewReader("x")))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status %d", m, rec.Code)
		}
	}
	if n := len(ctrl.Events()); n != 3 {
		t.Errorf("events = %d, want 3", n)
	}
}

func TestServer_InvalidUTF8Body(t *testing.T) {
	srv, ctrl := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.handleRequest(rec, httptest.NewRequest(http.MethodPost, "/beacon", bytes.NewReader([]byte("ok\xff\xfeend"))))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if body := ctrl.Events()[0].Body; body != "ok\uFFFD\uFFFDend" {
		t.Errorf("body = %q", body)
	}
}

func TestServer_QueryAndHeaders(t *testing.T) {
	srv, ctrl := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/telemetry?k=a&k=b&x=1", nil)
	req.Header.Set("User-Agent", "agent/1.0")
	req.Header.Add("X-Trace", "one")
	req.Header.Add("X-Trace", "two")
	srv.handleRequest(httptest.NewRecorder(), req)

	ev := ctrl.Events()[0]
	if ev.Path != "/api/v2/telemetry?k=a&k=b&x=1" {
		t.Errorf("path = %q", ev.Path)
	}
	if got := ev.QueryParams["k"]; len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("query k = %v", got)
	}
	if ev.Headers["User-Agent"] != "agent/1.0" || ev.Headers["X-Trace"] != "one, two" {
		t.Errorf("headers = %v", ev.Headers)
	}
	if ev.Headers["Host"] != "example.com" {
		t.Errorf("host header = %q", ev.Headers["Host"])
	}
	if ev.Classification.Technique != "L6" {
		t.Errorf("technique = %q", ev.Classification.Technique)
	}
}

func TestServer_MalformedQueryStillRecorded(t *testing.T) {
	srv, ctrl := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.handleRequest(rec, httptest.NewRequest(http.MethodGet, "/beacon?good=1&bad=%zz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if got := ctrl.Events()[0].QueryParams["good"]; len(got) != 1 || got[0] != "1" {
		t.Errorf("query good = %v", got)
	}
}

func TestServer_BodyTruncation(t *testing.T) {
	srv, ctrl := newTestServer(t)

	srv.handleRequest(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/beacon", strings.NewReader(strings.Repeat("b", 10000))))
	srv.handleRequest(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/beacon", strings.NewReader("0123456789")))

	events := ctrl.Events()
	if len(events[0].Body) != 5000 {
		t.Errorf("long body stored as %d bytes", len(events[0].Body))
	}
	if events[1].Body != "0123456789" {
		t.Errorf("short body = %q", events[1].Body)
	}
}

func TestServer_ConcurrentRequestNumbers(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	const n = 30
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int]int)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Post(fmt.Sprintf("%s/beacon/%d", ts.URL, i), "text/plain", strings.NewReader("hit"))
			if err != nil {
				t.Errorf("post: %v", err)
				return
			}
			defer resp.Body.Close()
			var ack types.Acknowledgement
			if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
				t.Errorf("decode: %v", err)
				return
			}
			mu.Lock()
			seen[ack.RequestNumber]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	for i := 1; i <= n; i++ {
		if seen[i] != 1 {
			t.Errorf("request number %d seen %d times", i, seen[i])
		}
	}
}
