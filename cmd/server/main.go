// Package main is the entry point for the Antigravity messages proxy: it
// loads configuration, opens the account store, and serves the Anthropic
// Messages API backed by the Antigravity upstream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/antigravity-proxy/messages-proxy/internal/account"
	"github.com/antigravity-proxy/messages-proxy/internal/api"
	"github.com/antigravity-proxy/messages-proxy/internal/config"
	"github.com/antigravity-proxy/messages-proxy/internal/logging"
	"github.com/antigravity-proxy/messages-proxy/internal/scheduler"
	_ "github.com/antigravity-proxy/messages-proxy/internal/thinking/provider/antigravity"
	_ "github.com/antigravity-proxy/messages-proxy/internal/thinking/provider/claude"
	"github.com/antigravity-proxy/messages-proxy/internal/upstream"
	"github.com/antigravity-proxy/messages-proxy/internal/util"
	"github.com/antigravity-proxy/messages-proxy/internal/auth/antigravity"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// init sets up the base logger before any package-level logging happens.
func init() {
	logging.SetupBaseLogger()
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "configuration file path")
	flag.Parse()

	if wd, err := os.Getwd(); err == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		if !os.IsNotExist(errors.Unwrap(err)) {
			log.Errorf("failed to load config %s: %v", configPath, err)
			os.Exit(1)
		}
		log.Warnf("config file %s not found, using defaults", configPath)
		cfg = config.Default()
	}

	if resolved, errResolve := util.ResolveAuthDir(cfg.AuthDir); errResolve == nil {
		cfg.AuthDir = resolved
	}
	if err := logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		os.Exit(1)
	}
	util.SetLogLevel(cfg)

	accountsPath := cfg.AccountsFile
	if cfg.AuthDir != "" && !filepath.IsAbs(accountsPath) {
		accountsPath = filepath.Join(cfg.AuthDir, accountsPath)
	}

	auth := antigravity.NewAntigravityAuth(cfg, nil)
	store := account.NewStore(accountsPath, auth)
	if err := store.Load(); err != nil {
		log.Errorf("failed to load account store %s: %v", accountsPath, err)
		os.Exit(1)
	}
	if len(store.Accounts()) == 0 {
		log.Warnf("no accounts configured in %s; the proxy will reject every request until accounts are added", accountsPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.StartBackgroundRefresh(ctx, 30*time.Second)

	go func() {
		if errWatch := store.Watch(ctx); errWatch != nil && !errors.Is(errWatch, context.Canceled) {
			log.Warnf("account store: snapshot watcher stopped: %v", errWatch)
		}
	}()

	sched := scheduler.New(store, cfg)
	upClient := upstream.NewClient(cfg, store)
	reqLogger := logging.NewFileRequestLogger(cfg.RequestLog, "logs", filepath.Dir(configPath), cfg.ErrorLogsMaxFiles)
	server := api.New(cfg, store, sched, upClient, reqLogger)

	addr := cfg.Listen
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{Addr: addr, Handler: server.Router()}

	go func() {
		log.Infof("antigravity messages proxy listening on %s", addr)
		if errServe := httpServer.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Errorf("server error: %v", errServe)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println()
	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("graceful shutdown failed: %v", err)
	}
	cancel()
}
