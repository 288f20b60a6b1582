// Package server provides the catch-all collector listener and the admin API.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/unicode"

	"github.com/invisible-tech/injection-collector/internal/config"
	"github.com/invisible-tech/injection-collector/internal/controller"
	"github.com/invisible-tech/injection-collector/internal/store"
	"github.com/invisible-tech/injection-collector/internal/types"
)

// Server is the collector listener. It accepts any path and never rejects a
// request based on its content.
type Server struct {
	cfg        config.CollectorConfig
	controller *controller.Controller
	log        *logrus.Logger
	httpServer *http.Server
}

// New creates the collector listener for the given controller.
func New(cfg config.CollectorConfig, ctrl *controller.Controller, log *logrus.Logger) *Server {
	s := &Server{cfg: cfg, controller: ctrl, log: log}
	s.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      http.HandlerFunc(s.handleRequest),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the catch-all handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server. It blocks until the server is closed.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("Collector listening")
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.log.WithField("addr", ln.Addr().String()).Info("Collector listening")
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "*")
	h.Set("Access-Control-Allow-Headers", "*")
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		setCORS(w.Header())
		w.WriteHeader(http.StatusOK)
		return
	}

	ev, _ := s.controller.Record(r.Context(), s.capture(w, r))

	setCORS(w.Header())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(types.Acknowledgement{
		Status:        "logged",
		Technique:     ev.Classification.Technique,
		Category:      ev.Classification.Category,
		RequestNumber: ev.RequestNumber,
	})
}

// capture extracts the parts of r that make up an event.
func (s *Server) capture(w http.ResponseWriter, r *http.Request) store.Request {
	var raw []byte
	if r.Body != nil {
		body := io.Reader(r.Body)
		if s.cfg.MaxReadBytes > 0 {
			body = http.MaxBytesReader(w, r.Body, s.cfg.MaxReadBytes)
		}
		var err error
		// keep whatever arrived before a limit or timeout error
		raw, err = io.ReadAll(body)
		if err != nil {
			s.log.WithError(err).WithField("path", r.URL.Path).Debug("Body read incomplete")
		}
	}

	query, err := parseQuery(r.URL.RawQuery)
	if err != nil {
		s.log.WithError(err).WithField("path", r.URL.Path).Debug("Malformed query string")
	}

	path := r.RequestURI
	if path == "" {
		path = r.URL.RequestURI()
	}

	return store.Request{
		Method:      r.Method,
		Path:        path,
		QueryParams: query,
		Headers:     flattenHeaders(r),
		Body:        decodeBody(raw),
		ClientIP:    clientIP(r.RemoteAddr),
	}
}

// decodeBody decodes UTF-8, replacing invalid sequences with U+FFFD.
func decodeBody(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	out, err := unicode.UTF8.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "\uFFFD")
	}
	return string(out)
}

// parseQuery keeps repeated keys in order. Pairs that fail to unescape are
// dropped and the first such error is returned alongside the rest.
func parseQuery(raw string) (map[string][]string, error) {
	values, err := url.ParseQuery(raw)
	if values == nil {
		values = url.Values{}
	}
	return values, err
}

func flattenHeaders(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Header)+1)
	if r.Host != "" {
		out["Host"] = r.Host
	}
	for k, v := range r.Header {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
