package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/taxi-booking/internal/cache"
	"github.com/example/taxi-booking/internal/config"
	"github.com/example/taxi-booking/internal/events"
	"github.com/example/taxi-booking/internal/logging"
	"github.com/example/taxi-booking/internal/models"
	"github.com/example/taxi-booking/internal/retry"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total ride event messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	cacheUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_cache_updates_total",
		Help: "Total rides written back to the ride cache",
	})
	cacheErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_cache_errors_total",
		Help: "Total ride cache errors after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, cacheUpdates, cacheErrors)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	// allow overriding the metrics address for local runs
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve prometheus metrics on")
	flag.Parse()

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	rc := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.CacheTTL)

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 1, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	policy := retry.Policy{Attempts: cfg.Retries, Base: cfg.RetryBase, Max: 5 * time.Second}

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		ev, err := events.Decode(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}
		if err := applyWithRetry(ctx, rc, ev, policy); err != nil {
			cacheErrors.Inc()
			logger.Error("ride cache update failed", "ride_id", ev.Ride.ID, "type", string(ev.Type), "error", err)
			continue
		}
		cacheUpdates.Inc()
	}
}

// RideCacheUpdater is the part of the ride cache the consumer writes to.
type RideCacheUpdater interface {
	Replace(ctx context.Context, r models.Ride) error
}

// applyWithRetry writes the event's ride into every cached list that holds
// it. Replaying an event is harmless because the row is written whole.
func applyWithRetry(ctx context.Context, c RideCacheUpdater, ev events.RideEvent, p retry.Policy) error {
	return retry.Do(ctx, p, func(ctx context.Context) error {
		return c.Replace(ctx, ev.Ride)
	})
}
