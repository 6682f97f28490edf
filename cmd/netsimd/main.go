package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cutiedeng/netsim/internal/emulator"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	ServerAddr     string
	ControllerAddr string
	MetricsAddr    string
	Verbose        bool
	ShowVersion    bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()

	if cfg.ShowVersion {
		fmt.Printf("netsimd version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	log := newLogger(cfg.Verbose)

	serverAddr, err := netip.ParseAddrPort(cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("invalid --server-addr %q: %w", cfg.ServerAddr, err)
	}
	controllerAddr, err := netip.ParseAddr(cfg.ControllerAddr)
	if err != nil {
		return fmt.Errorf("invalid --controller-addr %q: %w", cfg.ControllerAddr, err)
	}

	em, err := emulator.New(&emulator.Config{
		Logger:         log.With("component", "emulator"),
		ServerAddr:     serverAddr,
		ControllerAddr: controllerAddr,
		Clock:          clockwork.NewRealClock(),
	})
	if err != nil {
		return fmt.Errorf("failed to create emulator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		log.Info("metrics server starting", "address", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- em.Run(ctx)
	}()

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			cancel()
			return fmt.Errorf("emulator error: %w", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown error", "error", err)
	}

	log.Info("netsimd shutdown complete")
	return nil
}

func parseFlags() *config {
	cfg := &config{}

	flag.StringVar(&cfg.ServerAddr, "server-addr", "127.67.117.116:52736", "Server UDP socket address clients and the controller send to")
	flag.StringVar(&cfg.ControllerAddr, "controller-addr", "127.32.68.101", "IPv4 address the controller must send from to be trusted")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", ":9464", "Prometheus metrics HTTP listen address")
	flag.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose logging")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version and exit")

	flag.Parse()
	return cfg
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
}
