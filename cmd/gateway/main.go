package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/dzmarkets/pricewire/cmd/gateway/internal/analysis"
	"github.com/dzmarkets/pricewire/cmd/gateway/internal/gateway"
	"github.com/dzmarkets/pricewire/cmd/gateway/internal/hub"
	"github.com/dzmarkets/pricewire/cmd/gateway/internal/ingest"
	"github.com/dzmarkets/pricewire/cmd/gateway/internal/repository"
	"github.com/dzmarkets/pricewire/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := repository.Connect(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("Postgres connection failed", zap.Error(err))
	}
	store := repository.NewPostgresStore(pool)
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	limiter := repository.NewRedisRateLimiter(rdb, cfg.Gateway.RateLimitPerMin, time.Minute)
	cache := repository.NewSnapshotCache(rdb, time.Hour)

	opts := []hub.Option{
		hub.WithSnapshotCache(cache),
		hub.WithWelcomeText(cfg.Gateway.WelcomeText),
	}
	if cfg.Analysis.BaseURL != "" {
		completer := analysis.NewHTTPCompleter(cfg.Analysis)
		opts = append(opts, hub.WithPredictor(analysis.NewPredictor(store, completer, logger)))
	}

	// Dependency Injection: Hub depends on the Repository Interface
	wsHub := hub.NewHub(store, logger, opts...)

	// Bulk producers submit through Kafka; same validate/persist/broadcast
	// path as websocket submits.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
	})
	bridge := ingest.NewBridge(logger, reader, wsHub, cfg.Kafka.Workers)
	go func() {
		if err := bridge.Run(ctx); err != nil {
			logger.Error("Ingest bridge stopped", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		allowed, err := limiter.Allow(r.Context(), ip)
		if err != nil {
			logger.Warn("Rate limiter unavailable", zap.Error(err))
		}
		if !allowed {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}

		client := gateway.NewClient(conn, wsHub, logger)
		client.Start()
	})

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	cancel()
	reader.Close()
	srv.Shutdown(context.Background())
	logger.Info("Shutdown Complete")
}
