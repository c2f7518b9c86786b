package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wlkit/wlkit/internal/config"
	"github.com/wlkit/wlkit/internal/logging"
	"github.com/wlkit/wlkit/internal/observability"
	"github.com/wlkit/wlkit/proto"
	"github.com/wlkit/wlkit/server"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	socket := flag.String("socket", "", "socket name under XDG_RUNTIME_DIR (overrides config)")
	flag.Parse()

	if err := run(*configPath, *socket); err != nil {
		fmt.Fprintf(os.Stderr, "wlhostd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, socket string) error {
	cfg := config.DefaultServerConfig()
	if configPath != "" {
		loaded, err := config.LoadServerConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if socket != "" {
		cfg.Socket = socket
	}
	if cfg.LogLevel != "" && os.Getenv(logging.EnvLogLevel) == "" {
		os.Setenv(logging.EnvLogLevel, cfg.LogLevel)
	}
	log := observability.InitLogger("wlhostd")

	srv, err := server.Listen(cfg.Socket, server.Options{
		RequestsPerSecond: cfg.Limits.RequestsPerSecond,
		Burst:             cfg.Limits.Burst,
	})
	if err != nil {
		return err
	}

	for _, g := range cfg.Globals {
		iface, _ := proto.Lookup(g.Interface)
		if _, err := srv.RegisterGlobal(iface, g.Version, func(res *server.Resource) error {
			return nil
		}); err != nil {
			srv.Close()
			return err
		}
	}

	if cfg.MetricsAddr != "" {
		observability.RegisterMetrics()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			handler := observability.RequestLogger(log, mux)
			if err := http.ListenAndServe(cfg.MetricsAddr, handler); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Info().Str("signal", s.String()).Msg("shutting down")
		srv.Close()
	}()

	if err := srv.Serve(); err != nil && !errors.Is(err, server.ErrClosed) {
		return err
	}
	return nil
}
