package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/taxi-booking/internal/auth"
	"github.com/example/taxi-booking/internal/blob"
	"github.com/example/taxi-booking/internal/booking"
	"github.com/example/taxi-booking/internal/cache"
	"github.com/example/taxi-booking/internal/config"
	"github.com/example/taxi-booking/internal/events"
	"github.com/example/taxi-booking/internal/geocode"
	httpapi "github.com/example/taxi-booking/internal/http"
	"github.com/example/taxi-booking/internal/logging"
	"github.com/example/taxi-booking/internal/payments"
	"github.com/example/taxi-booking/internal/retry"
	"github.com/example/taxi-booking/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type store interface {
	storage.RideStore
	storage.ProfileStore
	storage.Recommender
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}()

	var st store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		closers = append(closers, ps.Close)
		if cfg.RunMigrations {
			applied, err := storage.Migrate(ctx, ps.DB(), cfg.MigrationsDir)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied", "files", applied)
		}
		st = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		st = storage.NewMemoryStore()
	}

	var (
		rideCache cache.RideCache
		revoker   auth.Revoker
	)
	if cfg.RedisAddr != "" {
		rc := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.CacheTTL)
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("redis not reachable at startup", "addr", cfg.RedisAddr, "error", err)
		}
		closers = append(closers, rc.Close)
		rideCache, revoker = rc, rc
	} else {
		rideCache, revoker = cache.NewMemory(cfg.CacheTTL), auth.NewMemoryRevoker()
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		closers = append(closers, kp.Close)
		publisher = kp
	}

	var gateway payments.Gateway = payments.Dummy{}
	if cfg.StripeAPIKey != "" {
		gateway = payments.NewStripeGateway(cfg.StripeAPIKey, cfg.StripePaymentMethod)
	}

	var (
		blobs   blob.Store
		memBlob *blob.Memory
	)
	if cfg.S3Bucket != "" {
		s3, err := blob.NewS3Store(ctx, cfg.S3Region, cfg.S3Bucket, cfg.BlobPublicBase)
		if err != nil {
			return fmt.Errorf("s3: %w", err)
		}
		blobs = s3
	} else {
		memBlob = blob.NewMemory(cfg.BlobPublicBase)
		blobs = memBlob
	}

	var provider geocode.Provider
	switch cfg.GeocodeProvider {
	case "google":
		g, err := geocode.NewGoogleProvider(cfg.GoogleMapsAPIKey)
		if err != nil {
			return fmt.Errorf("google maps: %w", err)
		}
		provider = g
	default:
		provider = geocode.NewNominatimClient(cfg.NominatimURL, "taxi-booking/1.0")
	}

	engine := booking.NewEngine(booking.Deps{
		Rides:       st,
		Profiles:    st,
		Recommender: st,
		Cache:       rideCache,
		Events:      publisher,
		Payments:    gateway,
		Blobs:       blobs,
		Logger:      logger,
	}, booking.Options{
		PriceMin:       cfg.PriceMin,
		PriceMax:       cfg.PriceMax,
		Currency:       cfg.Currency,
		ReadRetry:      retry.Policy{Attempts: cfg.StoreRetries, Base: cfg.StoreRetryBase, Max: 2 * time.Second},
		AvatarMaxBytes: cfg.AvatarMaxBytes,
	})

	handler := httpapi.NewServer(httpapi.Deps{
		Engine:         engine,
		Verifier:       auth.NewVerifier(cfg.JWTSecret, cfg.JWTAudience, cfg.JWTIssuer, revoker),
		Geocoder:       geocode.NewCached(provider, cfg.GeocodeCacheTTL),
		Blobs:          memBlob,
		AvatarMaxBytes: cfg.AvatarMaxBytes,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("taxi-booking listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
