package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"nodeio_tester/internal/metrics"
	"nodeio_tester/internal/service/peer"
	"nodeio_tester/internal/shared/logger"
	"nodeio_tester/internal/shared/types"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:8080", "Address to serve /ws on")
	mode := flag.String("mode", string(peer.ModeAccept), "Connect handling: accept, reject or silent")
	level := flag.String("log", "debug", "Log level")
	flag.Parse()

	fmt.Println("--- NodeIO mock peer ---")
	if err := logger.Init(types.LogConf{Level: *level}); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	switch peer.Mode(*mode) {
	case peer.ModeAccept:
	case peer.ModeReject, peer.ModeSilent:
		logger.Warn().Str("mode", *mode).Msg("Connect requests will not be accepted; nodes will exit after the handshake")
	default:
		logger.Fatal().Str("mode", *mode).Msg("Unknown mode")
	}

	reg := prometheus.NewRegistry()
	hub := peer.NewHub(peer.Mode(*mode), metrics.NewPeer(reg))
	mux := http.NewServeMux()
	mux.Handle("/ws", hub.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: *listen, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("listen", *listen).Str("mode", *mode).Msg("Mock peer listening")
		fmt.Printf(">>> Use a command like: nodetester ws://%s/ws 2 3\n", *listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Println()
		logger.Info().Msg("Signal received, shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Mock peer stopped with error")
		os.Exit(1)
	}
	fmt.Println("--- Mock peer shutdown complete. ---")
}
