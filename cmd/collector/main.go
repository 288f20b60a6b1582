package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/injection-collector/internal/config"
	"github.com/invisible-tech/injection-collector/internal/controller"
	"github.com/invisible-tech/injection-collector/internal/detection"
	"github.com/invisible-tech/injection-collector/internal/server"
	"github.com/invisible-tech/injection-collector/internal/version"
	"github.com/invisible-tech/injection-collector/pkg/outputwatch"
)

func main() {
	cfg := config.DefaultCollectorConfig()

	log := logrus.New()
	setupLogger(log, cfg)

	if err := cfg.ApplyArgs(os.Args[1:]); err != nil {
		log.WithError(err).Fatal("Usage: collector [port]")
	}

	table := detection.DefaultTable()
	if cfg.RulesFile != "" {
		t, err := detection.LoadTable(cfg.RulesFile)
		if err != nil {
			log.WithError(err).WithField("rules_file", cfg.RulesFile).Fatal("Failed to load rule table")
		}
		table = t
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := controller.New(cfg, table, log)
	ctrl.Start(ctx)

	log.WithFields(logrus.Fields{
		"version":          version.Version,
		"port":             cfg.Port,
		"event_log_file":   cfg.LogFile,
		"summary_file":     cfg.SummaryFile,
		"rules":            len(table.Rules()),
		"known_techniques": table.KnownTechniques(),
		"forwarding":       cfg.ForwardEnabled,
	}).Info("Injection collector starting")
	for _, r := range table.Rules() {
		log.WithFields(logrus.Fields{
			"prefix":    r.Prefix,
			"page":      r.Page.Key(),
			"technique": r.Technique,
			"severity":  r.Severity.String(),
			"category":  r.Category,
		}).Debug("Rule loaded")
	}

	if cfg.WatchOutputs {
		w, err := outputwatch.New(outputwatch.Config{
			Paths:  []string{cfg.LogFile, cfg.SummaryFile},
			OnLost: func(string) { ctrl.Reflush() },
		}, log)
		if err != nil {
			log.WithError(err).Warn("Output watcher disabled")
		} else {
			go w.Start(ctx)
		}
	}

	var admin *server.AdminServer
	if cfg.AdminAddr != "" {
		admin = server.NewAdmin(cfg.AdminAddr, ctrl, log)
		go func() {
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("Admin server failed")
			}
		}()
	}

	srv := server.New(cfg, ctrl, log)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Collector server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down collector")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	if admin != nil {
		_ = admin.Shutdown(shutdownCtx)
	}
	ctrl.Wait(shutdownCtx)
	ctrl.Report()
}

func setupLogger(log *logrus.Logger, cfg config.CollectorConfig) {
	if strings.EqualFold(cfg.LogFormat, "text") {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
}
