package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/depthsync/depthsync/internal/adapter"
	"github.com/depthsync/depthsync/internal/adapter/binance"
	"github.com/depthsync/depthsync/internal/adapter/okx"
	"github.com/depthsync/depthsync/internal/book"
	"github.com/depthsync/depthsync/internal/config"
	"github.com/depthsync/depthsync/internal/engine"
	"github.com/depthsync/depthsync/internal/feed"
	"github.com/depthsync/depthsync/internal/metrics"
	"github.com/depthsync/depthsync/internal/publish"
	"github.com/depthsync/depthsync/internal/runner"
)

// redisHSet adapts *redis.Client to the writer's narrow client interface.
type redisHSet struct{ c *redis.Client }

func (r redisHSet) HSet(ctx context.Context, key string, values ...any) error {
	return r.c.HSet(ctx, key, values...).Err()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}

	log := newLogger(cfg)
	log.Info().Str("env", cfg.Env).Msg("depthsync starting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	met := metrics.New()
	hub := publish.NewHub(log, met)
	tickers := publish.NewTickerFanout(hub)
	group := runner.NewGroup(log)

	// Outbound sinks drain the hub's unified stream.
	if cfg.Kafka.Enabled {
		kw := publish.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, hub.SubscribeAll(), log)
		group.Go(ctx, "kafka-writer", kw.Run)
	}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		rw := publish.NewRedisWriter(redisHSet{c: client}, hub.SubscribeAll())
		group.Go(ctx, "redis-writer", rw.Run)
	}

	watchdog := adapter.NewFeedWatchdog(adapter.DefaultWatchdogConfig(), hub.SubscribeAll(), log, met)
	group.Go(ctx, "watchdog", watchdog.Run)

	if cfg.Binance.Enabled {
		if err := startBinance(ctx, cfg.Binance, hub, tickers, watchdog, group, log, met); err != nil {
			log.Error().Err(err).Msg("binance startup failed")
			os.Exit(1)
		}
	}
	if cfg.OKX.Enabled {
		if err := startOKX(ctx, cfg.OKX, hub, tickers, watchdog, group, log, met); err != nil {
			log.Error().Err(err).Msg("okx startup failed")
			os.Exit(1)
		}
	}

	group.Go(ctx, "metrics-server", func(ctx context.Context) error {
		return serveMetrics(ctx, cfg.MetricsAddr, met)
	})

	<-ctx.Done()
	log.Info().Msg("depthsync shutting down")
	group.Wait()
}

// startBinance wires the combined-stream adapter, the REST snapshot poller,
// and one dispatcher draining the exchange's queue.
func startBinance(ctx context.Context, cfg config.ExchangeConfig, hub *publish.Hub, tickers *publish.TickerFanout, watchdog *adapter.FeedWatchdog, group *runner.Group, log zerolog.Logger, met *metrics.Set) error {
	queue := feed.NewQueue()
	eng := engine.New(feed.ExchangeBinance, book.NewStore(), hub,
		engine.NewSnapshotScheduler(cfg.SnapshotCounter), log, met)
	disp := feed.NewDispatcher(feed.ExchangeBinance, queue, eng, tickers, log, met)

	ws := adapter.NewWSClient(adapter.DefaultWSConfig(feed.ExchangeBinance, binance.StreamURL(cfg.WSURL, cfg.Symbols)), log, met)
	ad := binance.New(ws, queue, cfg.Symbols, log)
	if err := ws.Connect(ctx); err != nil {
		return err
	}
	watchdog.WatchConnection(feed.ExchangeBinance, ws)

	poller := binance.NewDepthPoller(binance.DepthPollerConfig{
		BaseURL:   cfg.RestURL,
		Symbols:   cfg.Symbols,
		PollSleep: cfg.PollSleep(),
		RetryWait: cfg.RetryWait(),
	}, nil, queue, log)

	group.Go(ctx, "binance-dispatcher", disp.Run)
	group.Go(ctx, "binance-adapter", ad.Run)
	group.Go(ctx, "binance-poller", poller.Run)
	return nil
}

// startOKX wires the OKX public-channel adapter; the deep books channel
// provides snapshot anchors, so there is no REST poller.
func startOKX(ctx context.Context, cfg config.ExchangeConfig, hub *publish.Hub, tickers *publish.TickerFanout, watchdog *adapter.FeedWatchdog, group *runner.Group, log zerolog.Logger, met *metrics.Set) error {
	queue := feed.NewQueue()
	eng := engine.New(feed.ExchangeOKX, book.NewStore(), hub,
		engine.NewSnapshotScheduler(cfg.SnapshotCounter), log, met)
	disp := feed.NewDispatcher(feed.ExchangeOKX, queue, eng, tickers, log, met)

	ws := adapter.NewWSClient(adapter.DefaultWSConfig(feed.ExchangeOKX, cfg.WSURL), log, met)
	ad := okx.New(ws, queue, cfg.Symbols, log)
	if err := ws.Connect(ctx); err != nil {
		return err
	}
	ad.Subscribe()
	watchdog.WatchConnection(feed.ExchangeOKX, ws)

	group.Go(ctx, "okx-dispatcher", disp.Run)
	group.Go(ctx, "okx-adapter", ad.Run)
	return nil
}

// serveMetrics exposes the Prometheus registry until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, met *metrics.Set) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", met.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newLogger builds the root logger from config. Unknown levels fall back to
// info.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out = os.Stderr
	logger := zerolog.New(out)
	if cfg.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Str("service", "depthsync").Logger()
}
