// Entry point for the wagate HTTP service — chi router, token gate, whatsmeow provider.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	qrterminal "github.com/mdp/qrterminal/v3"
	_ "modernc.org/sqlite"

	"github.com/sintral/wagate/config"
	"github.com/sintral/wagate/facade"
	"github.com/sintral/wagate/gateway"
	"github.com/sintral/wagate/observability"
	"github.com/sintral/wagate/provider"
	"github.com/sintral/wagate/shield"
)

const auditRetentionDays = 30

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Logging.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Audit log (optional, SQLite).
	var auditor gateway.Auditor
	if cfg.AuditDB != "" {
		auditDB, err := openAuditDB(cfg.AuditDB)
		if err != nil {
			slog.Error("audit db", "error", err)
			os.Exit(1)
		}
		defer auditDB.Close()
		events := observability.NewEventLogger(auditDB)
		if err := events.Init(); err != nil {
			slog.Error("audit init", "error", err)
			os.Exit(1)
		}
		auditor = events
		go auditCleanupLoop(ctx, auditDB)
	}

	// WhatsApp provider.
	prov, err := provider.NewWhatsApp(provider.WhatsAppConfig{
		StorePath:  cfg.StorePath,
		DeviceName: cfg.DeviceName,
		Debug:      cfg.LogLevel == "debug",
	}, logger)
	if err != nil {
		slog.Error("whatsapp provider", "error", err)
		os.Exit(1)
	}
	defer prov.Close()

	// Gateway core.
	session := gateway.NewSession()
	buffer := gateway.NewBuffer(cfg.BufferCapacity)
	dispatcher := gateway.NewDispatcher(session,
		gateway.WithDispatchLogger(logger),
		gateway.WithDispatchTimeout(cfg.WebhookTimeout()),
		gateway.WithDispatchAudit(auditor))
	relay := gateway.NewRelay(prov, session, buffer, dispatcher,
		gateway.WithRelayLogger(logger),
		gateway.WithRelayAudit(auditor),
		gateway.WithArtifactEncoder(terminalQREncoder(logger)))
	go relay.Run(ctx)
	defer relay.Close()

	// Router.
	api := facade.New(session, buffer, relay, prov,
		facade.NewTokenSet(cfg.Tokens),
		facade.WithAudit(auditor),
		facade.WithMediaLimit(cfg.MaxMediaBytes()))

	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack() {
		r.Use(mw)
	}
	r.Mount("/", api.Router())

	// HTTP server.
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Kick off the first provider connection.
	if err := prov.Initialize(ctx); err != nil {
		slog.Error("provider connect", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// loadConfig reads the YAML config when present, otherwise falls back to
// defaults with tokens taken from ACCESS_TOKENS (comma-separated).
func loadConfig() (*config.Config, error) {
	path := env("CONFIG", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return config.LoadConfig(path)
	}

	cfg := config.DefaultConfig()
	if v := os.Getenv("ACCESS_TOKENS"); v != "" {
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				cfg.Tokens = append(cfg.Tokens, tok)
			}
		}
	}
	if v := os.Getenv("LISTEN"); v != "" {
		cfg.Listen = v
	}
	return cfg, cfg.Validate()
}

// terminalQREncoder renders the pairing code both as the data URL served over
// HTTP and as an ASCII QR on stdout so the operator can pair without a
// dashboard.
func terminalQREncoder(logger *slog.Logger) func(code string) (string, error) {
	return func(code string) (string, error) {
		logger.Info("scan the QR code to pair")
		qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stdout)
		return gateway.QRDataURL(code)
	}
}

func openAuditDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func auditCleanupLoop(ctx context.Context, db *sql.DB) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := observability.Cleanup(ctx, db, auditRetentionDays); err != nil {
				slog.Warn("audit cleanup", "error", err)
			}
		}
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
