package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/johnny1995johnny1995/dlt2log/internal/common"
	"github.com/johnny1995johnny1995/dlt2log/internal/config"
	"github.com/johnny1995johnny1995/dlt2log/internal/server"
)

// serverOptions maps the shared configuration onto the HTTP server.
func serverOptions(cfg config.Config, verbose bool) server.Options {
	history := cfg.Report.History
	if history == "" {
		history = filepath.Join(cfg.Server.StorageDir, "history.jsonl")
	}
	return server.Options{
		StorageDir:            cfg.Server.StorageDir,
		MaxUploadBytes:        cfg.MaxUploadBytes(),
		Concurrency:           cfg.Server.Concurrency,
		RewindOnMagicMismatch: cfg.StorageHeader.RewindOnMismatch,
		UseModTime:            cfg.ModTimeBase(),
		Verbose:               verbose,
		HistoryPath:           history,
	}
}

func setupLogging(cfg *config.Config) error {
	if cfg.Logs.Directory == "" {
		cfg.Logs.Directory = filepath.Join(cfg.Server.StorageDir, "logs")
	}
	cfg.Logs.ApplyDefaults("dlt2logd.log")
	return common.SetupLogging(os.Stdout, cfg.Logs)
}

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	addr := flag.String("addr", "", "listen address (overrides config port)")
	readTimeout := flag.Duration("read-timeout", 60*time.Second, "HTTP read timeout")
	writeTimeout := flag.Duration("write-timeout", 5*time.Minute, "HTTP write timeout")
	verbose := flag.Bool("verbose", false, "log every converted frame")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := os.MkdirAll(cfg.Server.StorageDir, 0o755); err != nil {
		log.Fatalf("storage dir: %v", err)
	}
	if err := setupLogging(&cfg); err != nil {
		log.Fatalf("setup logging: %v", err)
	}
	defer common.CloseLogging()

	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	if *addr != "" {
		listenAddr = *addr
	}
	srv, err := server.NewServer(serverOptions(cfg, *verbose))
	if err != nil {
		common.Fatalf("server init: %v", err)
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      server.NewRouter(srv),
		ReadTimeout:  *readTimeout,
		WriteTimeout: *writeTimeout,
	}

	common.Logf("dlt2logd listening on %s", listenAddr)
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			common.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		common.Logf("shutdown: %v", err)
	}
	common.Logf("dlt2logd stopped")
}
