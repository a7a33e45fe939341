package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are loaded from environment variables with defaults that let the
// binary run locally on in-memory collaborators.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	PGDSN          string
	RunMigrations  bool
	MigrationsDir  string
	StoreRetries   int
	StoreRetryBase time.Duration

	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret   string
	JWTAudience string
	JWTIssuer   string

	StripeAPIKey        string
	StripePaymentMethod string
	Currency            string

	PriceMin int
	PriceMax int

	S3Bucket       string
	S3Region       string
	BlobPublicBase string
	AvatarMaxBytes int64

	GeocodeProvider  string
	NominatimURL     string
	GoogleMapsAPIKey string
	GeocodeCacheTTL  time.Duration

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:            ":8080",
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        10 * time.Second,
		IdleTimeout:         120 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		MigrationsDir:       "migrations",
		StoreRetries:        3,
		StoreRetryBase:      100 * time.Millisecond,
		CacheTTL:            10 * time.Minute,
		KafkaTopic:          "ride-events",
		JWTAudience:         "authenticated",
		StripePaymentMethod: "pm_card_visa",
		Currency:            "usd",
		PriceMin:            10,
		PriceMax:            59,
		BlobPublicBase:      "http://localhost:8080/blobs",
		AvatarMaxBytes:      5 << 20,
		GeocodeProvider:     "nominatim",
		NominatimURL:        "https://nominatim.openstreetmap.org",
		GeocodeCacheTTL:     time.Hour,
		LogLevel:            "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")
	setStringFromEnv(&cfg.MigrationsDir, "MIGRATIONS_DIR")
	setIntFromEnv(&cfg.StoreRetries, "STORE_RETRIES", &errs)
	setDurationFromEnv(&cfg.StoreRetryBase, "STORE_RETRY_BASE", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.CacheTTL, "CACHE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	setStringFromEnv(&cfg.JWTAudience, "JWT_AUDIENCE")
	setStringFromEnv(&cfg.JWTIssuer, "JWT_ISSUER")

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	setStringFromEnv(&cfg.StripePaymentMethod, "STRIPE_PAYMENT_METHOD")
	setStringFromEnv(&cfg.Currency, "CURRENCY")

	setIntFromEnv(&cfg.PriceMin, "PRICE_MIN", &errs)
	setIntFromEnv(&cfg.PriceMax, "PRICE_MAX", &errs)

	setStringFromEnv(&cfg.S3Bucket, "S3_BUCKET")
	setStringFromEnv(&cfg.S3Region, "S3_REGION")
	setStringFromEnv(&cfg.BlobPublicBase, "BLOB_PUBLIC_BASE")
	setInt64FromEnv(&cfg.AvatarMaxBytes, "AVATAR_MAX_BYTES", &errs)

	if v := os.Getenv("GEOCODE_PROVIDER"); v != "" {
		cfg.GeocodeProvider = strings.ToLower(strings.TrimSpace(v))
	}
	setStringFromEnv(&cfg.NominatimURL, "NOMINATIM_URL")
	cfg.GoogleMapsAPIKey = os.Getenv("GOOGLE_MAPS_API_KEY")
	setDurationFromEnv(&cfg.GeocodeCacheTTL, "GEOCODE_CACHE_TTL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required"))
	}
	if cfg.PriceMin <= 0 || cfg.PriceMax < cfg.PriceMin {
		errs = append(errs, fmt.Errorf("PRICE_MIN/PRICE_MAX must satisfy 0 < min <= max, got %d/%d", cfg.PriceMin, cfg.PriceMax))
	}
	if cfg.StoreRetries <= 0 {
		errs = append(errs, fmt.Errorf("STORE_RETRIES must be > 0"))
	}
	if cfg.AvatarMaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("AVATAR_MAX_BYTES must be > 0"))
	}
	if cfg.S3Bucket != "" && cfg.S3Region == "" {
		errs = append(errs, fmt.Errorf("S3_REGION is required when S3_BUCKET is set"))
	}
	switch cfg.GeocodeProvider {
	case "nominatim":
	case "google":
		if cfg.GoogleMapsAPIKey == "" {
			errs = append(errs, fmt.Errorf("GOOGLE_MAPS_API_KEY is required for GEOCODE_PROVIDER=google"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown GEOCODE_PROVIDER %q", cfg.GeocodeProvider))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig configures the cache-repair consumer.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration
	Retries       int
	RetryBase     time.Duration
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "ride-events",
		KafkaGroup:   "taxi-booking-cache",
		RedisAddr:    "localhost:6379",
		CacheTTL:     10 * time.Minute,
		Retries:      3,
		RetryBase:    200 * time.Millisecond,
		LogLevel:     "info",
	}
	var errs []error
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.CacheTTL, "CACHE_TTL", &errs)
	setIntFromEnv(&cfg.Retries, "CONSUMER_RETRIES", &errs)
	setDurationFromEnv(&cfg.RetryBase, "CONSUMER_RETRY_BASE", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must name at least one broker"))
	}
	if cfg.Retries <= 0 {
		errs = append(errs, fmt.Errorf("CONSUMER_RETRIES must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
