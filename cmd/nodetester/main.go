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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"nodeio_tester/internal/console"
	"nodeio_tester/internal/manager"
	"nodeio_tester/internal/metrics"
	"nodeio_tester/internal/shared/config"
	"nodeio_tester/internal/shared/globalstate"
	"nodeio_tester/internal/shared/logger"
	"nodeio_tester/internal/shared/types"
	"nodeio_tester/internal/simnode"
	"nodeio_tester/internal/transport"
)

func main() {
	configPath := flag.String("config", "configs/nodetester.ini", "Path to config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config file] ws://<host>/ws [interval_sec] [num_nodes]\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "Example: nodetester ws://192.168.68.108/ws 2 3")
		flag.PrintDefaults()
	}
	flag.Parse()

	fmt.Println("NodeIO Protocol Tester")

	// 1. 加载 .ini 配置，再用命令行参数覆盖
	cfg := types.DefaultConfig()
	if err := config.LoadIni(cfg, *configPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", *configPath, err)
		os.Exit(1)
	}
	if err := applyArgs(cfg, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	// 2. 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	uri, err := config.ResolveURI(cfg.URI)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid server uri")
	}

	// 3. 加载样例消息模板
	tmpl, err := config.LoadTemplate(cfg.Template)
	if err != nil {
		logger.Fatal().Err(err).Msgf("Failed to load template '%s'", cfg.Template)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	// 4. 创建 Manager 并启动初始节点
	mgr := manager.New(sigCtx, manager.Options{
		Session: simnode.Config{
			URI:              uri,
			Interval:         cfg.Interval,
			Template:         tmpl,
			Transport:        transport.NewWebSocket(transport.WebSocketOptions{}),
			HandshakeTimeout: cfg.Handshake,
			DrainTimeout:     cfg.Drain,
			SettleDelay:      cfg.Settle,
			LogSwitch:        globalstate.Logging,
		},
		GracePeriod: cfg.Grace,
		Metrics:     met,
	})
	logger.Info().Str("uri", uri).Int("nodes", cfg.Nodes).Dur("interval", cfg.Interval).Msg("Starting nodes")
	for i := 0; i < cfg.Nodes; i++ {
		_ = mgr.Add(i)
	}

	// 5. 运行交互式命令和可选的 /metrics 端点
	ctx, cancel := context.WithCancel(sigCtx)
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Listen, Handler: mux}
		g.Go(func() error {
			logger.Info().Str("listen", cfg.Listen).Msg("Metrics endpoint enabled")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return srv.Shutdown(context.Background())
		})
	}

	g.Go(func() error {
		defer cancel()
		err := console.New(mgr, os.Stdin, os.Stdout, globalstate.Logging).Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Tester stopped with error")
	}
	mgr.Shutdown()
	mgr.Wait()
	fmt.Println("--- NodeIO tester shutdown complete. ---")
}
