// Package controller runs the per-request pipeline: classify, append to the
// event log, recompute the summary and persist both.
package controller

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/injection-collector/internal/aggregator"
	"github.com/invisible-tech/injection-collector/internal/config"
	"github.com/invisible-tech/injection-collector/internal/detection"
	"github.com/invisible-tech/injection-collector/internal/store"
	"github.com/invisible-tech/injection-collector/internal/types"
	"github.com/invisible-tech/injection-collector/pkg/forwarder"
)

// Prometheus metrics (registered once).
var (
	requestsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_requests_recorded_total",
			Help: "Total inbound requests recorded as events",
		},
		[]string{"technique", "category", "severity"},
	)
	persistFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_persist_failures_total",
			Help: "Total failed writes of the event log or summary",
		},
		[]string{"file"},
	)
	forwardFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_forward_failures_total",
			Help: "Total events that could not be forwarded",
		},
	)
	eventsStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "collector_events_stored",
			Help: "Number of events in the in-memory history",
		},
	)
)

func init() {
	prometheus.MustRegister(requestsRecorded)
	prometheus.MustRegister(persistFailures)
	prometheus.MustRegister(forwardFailures)
	prometheus.MustRegister(eventsStored)
}

// Controller owns the rule table, event store and aggregator.
type Controller struct {
	cfg   config.CollectorConfig
	log   *logrus.Logger
	table *detection.Table
	store *store.Store
	agg   *aggregator.Aggregator

	// mu serializes append + recompute + persist
	mu sync.Mutex

	forwarder   *forwarder.Client
	queue       *forwarder.Queue
	stopForward context.CancelFunc
}

// New creates a Controller. The rule table is used read-only.
func New(cfg config.CollectorConfig, table *detection.Table, log *logrus.Logger) *Controller {
	c := &Controller{
		cfg:   cfg,
		log:   log,
		table: table,
		store: store.New(cfg.LogFile, cfg.MaxBodyBytes),
		agg:   aggregator.New(cfg.SummaryFile, table.KnownTechniques()),
	}
	if cfg.ForwardEnabled {
		c.forwarder = forwarder.NewClient(forwarder.Config{
			APIEndpoint: cfg.ForwardEndpoint,
			APIKey:      cfg.ForwardAPIKey,
			Timeout:     cfg.ForwardTimeout,
		}, log)
		c.queue = forwarder.NewQueue(c.forwarder, forwarder.QueueConfig{
			OnFailure: func(n int, err error) { forwardFailures.Add(float64(n)) },
		}, log)
	}
	return c
}

// Start writes the empty log and summary and, when forwarding is enabled,
// starts the forward queue and checks the endpoint.
func (c *Controller) Start(ctx context.Context) {
	c.Reflush()
	if c.queue == nil {
		return
	}
	qctx, cancel := context.WithCancel(ctx)
	c.stopForward = cancel
	go c.queue.Run(qctx)
	go func() {
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := c.forwarder.HealthCheck(hctx); err != nil {
			c.log.WithError(err).Warn("Forward endpoint health check failed, will retry on first event")
		} else {
			c.log.Info("Forward endpoint connection verified")
		}
	}()
}

// Record classifies req, appends it to the log and refreshes the summary.
// Persistence failures are logged and counted; the returned event and
// summary reflect the in-memory state regardless.
func (c *Controller) Record(ctx context.Context, req store.Request) (types.Event, types.Summary) {
	class := c.table.Lookup(req.Path)

	c.mu.Lock()
	ev, err := c.store.Append(req, class)
	if err != nil {
		c.persistFailed("event_log", c.store.Path(), err)
	}
	summary, err := c.agg.Update(c.store.Events())
	if err != nil {
		c.persistFailed("summary", c.agg.Path(), err)
	}
	c.mu.Unlock()

	requestsRecorded.WithLabelValues(class.Technique, string(class.Category), class.Severity.String()).Inc()
	eventsStored.Set(float64(summary.TotalRequests))
	c.logEvent(ev, summary)

	if class.Severity == types.SeverityCritical {
		c.forward(ev)
	}
	return ev, summary
}

// Reflush rewrites both output files from memory.
func (c *Controller) Reflush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Flush(); err != nil {
		c.persistFailed("event_log", c.store.Path(), err)
	}
	if err := c.agg.Persist(c.agg.Latest()); err != nil {
		c.persistFailed("summary", c.agg.Path(), err)
	}
}

// Summary returns the latest summary.
func (c *Controller) Summary() types.Summary {
	return c.agg.Latest()
}

// Events returns a snapshot of the event history.
func (c *Controller) Events() []types.Event {
	return c.store.Events()
}

// Table returns the rule table.
func (c *Controller) Table() *detection.Table {
	return c.table
}

// Wait stops the forward queue and blocks until its buffered events have
// been sent or ctx is done.
func (c *Controller) Wait(ctx context.Context) {
	if c.stopForward == nil {
		return
	}
	c.stopForward()
	select {
	case <-c.queue.Done():
		sent, dropped := c.queue.Stats()
		c.log.WithFields(logrus.Fields{"sent": sent, "dropped": dropped}).Info("Event forwarder stopped")
	case <-ctx.Done():
		c.log.Warn("Shutdown timeout, some forwards may not have completed")
	}
}

// Report logs the final aggregate report from the in-memory history.
func (c *Controller) Report() {
	s := aggregator.Recompute(c.store.Events(), c.table.KnownTechniques())

	c.log.WithFields(logrus.Fields{
		"total_requests":    s.TotalRequests,
		"unique_techniques": s.UniqueTechniquesTriggered,
		"known_techniques":  s.KnownTechniques,
		"critical_hits":     s.CriticalHits,
		"tool_injection":    s.ByCategory[types.CategoryToolInjection],
		"jailbreak":         s.ByCategory[types.CategoryJailbreak],
		"generic":           s.ByCategory[types.CategoryGeneric],
		"unknown":           s.ByCategory[types.CategoryUnknown],
		"event_log_file":    c.store.Path(),
		"summary_file":      c.agg.Path(),
	}).Info("Final report")

	codes := make([]string, 0, len(s.TechniqueHits))
	for code := range s.TechniqueHits {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		name, ok := c.table.TechniqueName(code)
		if !ok {
			name = "Unknown"
		}
		c.log.WithFields(logrus.Fields{
			"technique":      code,
			"technique_name": name,
			"hits":           s.TechniqueHits[code],
		}).Info("Technique breakdown")
	}
	if n := s.ByCategory[types.CategoryJailbreak]; n > 0 {
		c.log.WithField("jailbreak", n).Warn("Jailbreak attempts were recorded")
	}
}

func (c *Controller) persistFailed(file, path string, err error) {
	persistFailures.WithLabelValues(file).Inc()
	c.log.WithError(err).WithFields(logrus.Fields{"file": file, "path": path}).Error("Failed to persist")
}

func (c *Controller) logEvent(ev types.Event, s types.Summary) {
	class := ev.Classification
	entry := c.log.WithFields(logrus.Fields{
		"request_number": ev.RequestNumber,
		"method":         ev.Method,
		"path":           ev.Path,
		"client_ip":      ev.ClientIP,
		"page":           class.Page.Key(),
		"technique":      class.Technique,
		"technique_name": class.Name,
		"severity":       class.Severity.String(),
		"category":       class.Category,
		"total":          s.TotalRequests,
		"critical_hits":  s.CriticalHits,
		"techniques":     s.UniqueTechniquesTriggered,
		"jailbreaks":     s.ByCategory[types.CategoryJailbreak],
	})
	switch {
	case class.Category == types.CategoryJailbreak:
		entry.Warn("JAILBREAK ATTEMPT DETECTED")
	case class.Severity >= types.SeverityMedium:
		entry.Warn("EXFILTRATION ATTEMPT DETECTED")
	default:
		entry.Info("Request recorded")
	}
}

func (c *Controller) forward(ev types.Event) {
	if c.queue == nil {
		return
	}
	if !c.queue.Enqueue(forwarder.FromEvent(ev)) {
		forwardFailures.Inc()
		c.log.WithField("request_number", ev.RequestNumber).Warn("Forward buffer full, event dropped")
	}
}
