package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pressure-feeder/internal/config"
	"pressure-feeder/internal/feed"
	"pressure-feeder/internal/hub"
	"pressure-feeder/internal/instrumentation"
	"pressure-feeder/internal/pipeline"
	"pressure-feeder/internal/server"
	"pressure-feeder/internal/state"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load() // best-effort: .env is optional

	//   go run ./cmd/pressure-feeder --config ./config.yaml
	path := "config.yaml"
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" && i+1 < len(args) {
			path = args[i+1]
			i++
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", path, err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogLevel)
	logger.Info("pressure-feeder starting",
		slog.Int("port", cfg.Port),
		slog.String("source", cfg.Source),
		slog.String("symbols", strings.Join(cfg.SymbolNames(), ",")),
		slog.Bool("disable_depth_stream", cfg.DisableDepthStream),
	)

	metrics := instrumentation.NewMetrics()
	st := state.NewState(cfg.AlertCooldown())
	h := hub.New(
		hub.WithQueueSize(cfg.BroadcastCapacity),
		hub.WithHeartbeat(cfg.Heartbeat()),
		hub.WithLogger(logger),
		hub.WithMetrics(metrics),
	)

	src, err := newFeed(cfg, logger)
	if err != nil {
		logger.Error("feed init", slog.String("err", err.Error()))
		os.Exit(1)
	}

	router := pipeline.New(cfg.SymbolTable(), h,
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
		pipeline.WithState(st),
		pipeline.WithDepthDisabled(cfg.DisableDepthStream),
	)

	srv := server.NewHTTPServer(cfg, st, h, metrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feedDone := make(chan struct{})
	go func() {
		src.Run(ctx, router.OnFeedStatus)
		close(feedDone)
	}()

	pipeDone := make(chan struct{})
	go func() {
		router.Run(ctx, src)
		close(pipeDone)
	}()

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		logger.Info("HTTP server listening", slog.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("err", err.Error()))
			cancel()
		}
		close(done)
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	cancel()
	shCtx, shCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shCancel()

	h.Close()
	_ = httpSrv.Shutdown(shCtx)
	<-feedDone
	<-pipeDone
	src.Close()
	<-done
	logger.Info("bye")
}

func newFeed(cfg config.Config, logger *slog.Logger) (feed.Feed, error) {
	switch cfg.Source {
	case "redis":
		f, err := feed.NewRedisFeed(feed.RedisConfig{
			URL:           cfg.Redis.URL,
			Password:      cfg.Redis.Password,
			StreamKey:     cfg.Redis.StreamKey,
			ConsumerGroup: cfg.Redis.ConsumerGroup,
			ConsumerName:  cfg.Redis.ConsumerName,
		}, logger)
		if err != nil {
			return nil, err
		}
		return f, nil
	case "binance":
		return feed.NewBinanceFeed(feed.BinanceConfig{
			URL:          cfg.BinanceStreamURL,
			Symbols:      cfg.SymbolNames(),
			DepthLevels:  cfg.DepthLevels,
			DepthSpeedMs: cfg.DepthSpeedMs,
			DisableDepth: cfg.DisableDepthStream,
		}, logger), nil
	}
	return nil, fmt.Errorf("unknown feed source %q", cfg.Source)
}
