package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/koteev-m/clubs-bot-sub002/internal/ratelimit"
)

type Config struct {
	Server     ServerConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Booking    BookingConfig
	RateLimits RateLimitsConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
}

type BookingConfig struct {
	HoldTTL             time.Duration
	ArrivalWindowBefore time.Duration
	ArrivalWindowAfter  time.Duration
	LatePlusOneOffset   time.Duration
	BookingRetention    time.Duration
	IdempotencyTTL      time.Duration
	IdempotencyMax      int
}

type RateLimitsConfig struct {
	Hold    ratelimit.Limit
	Confirm ratelimit.Limit
	PlusOne ratelimit.Limit
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverHost := os.Getenv("SERVER_HOST")
	if serverHost == "" {
		serverHost = "localhost"
	}

	serverPortStr := os.Getenv("SERVER_PORT")
	if serverPortStr == "" {
		serverPortStr = "8080"
	}

	serverPort, err := strconv.Atoi(serverPortStr)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid SERVER_PORT: %w", op, err)
	}

	serverCfg := ServerConfig{
		Host: serverHost,
		Port: serverPort,
	}

	postgresHost := os.Getenv("POSTGRES_HOST")
	if postgresHost == "" {
		postgresHost = "localhost"
	}

	postgresPortStr := os.Getenv("POSTGRES_PORT")
	if postgresPortStr == "" {
		postgresPortStr = "5432"
	}

	postgresPort, err := strconv.Atoi(postgresPortStr)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid POSTGRES_PORT: %w", op, err)
	}

	postgresUser := os.Getenv("POSTGRES_USER")
	if postgresUser == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_USER", op)
	}

	postgresPassword := os.Getenv("POSTGRES_PASSWORD")
	if postgresPassword == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_PASSWORD", op)
	}

	postgresDB := os.Getenv("POSTGRES_DB")
	if postgresDB == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_DB", op)
	}

	postgresSSLMode := os.Getenv("POSTGRES_SSLMODE")
	if postgresSSLMode == "" {
		postgresSSLMode = "disable"
	}

	postgresCfg := PostgresConfig{
		User:     postgresUser,
		Password: postgresPassword,
		Name:     postgresDB,
		Host:     postgresHost,
		Port:     postgresPort,
		SSLMode:  postgresSSLMode,
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	redisCfg := RedisConfig{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	}

	bookingCfg, err := bookingFromEnv(op)
	if err != nil {
		return nil, err
	}

	rateCfg, err := rateLimitsFromEnv(op)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     serverCfg,
		Postgres:   postgresCfg,
		Redis:      redisCfg,
		Booking:    bookingCfg,
		RateLimits: rateCfg,
	}, nil
}

func bookingFromEnv(op string) (BookingConfig, error) {
	holdTTL, err := durationEnv("BOOKING_HOLD_TTL", 10*time.Minute)
	if err != nil {
		return BookingConfig{}, fmt.Errorf("%s: %w", op, err)
	}

	arrivalBefore, err := durationEnv("BOOKING_ARRIVAL_WINDOW_BEFORE", 15*time.Minute)
	if err != nil {
		return BookingConfig{}, fmt.Errorf("%s: %w", op, err)
	}

	arrivalAfter, err := durationEnv("BOOKING_ARRIVAL_WINDOW_AFTER", 45*time.Minute)
	if err != nil {
		return BookingConfig{}, fmt.Errorf("%s: %w", op, err)
	}

	lateOffset, err := durationEnv("BOOKING_LATE_PLUS_ONE_OFFSET", 30*time.Minute)
	if err != nil {
		return BookingConfig{}, fmt.Errorf("%s: %w", op, err)
	}

	retention, err := durationEnv("BOOKING_RETENTION", 48*time.Hour)
	if err != nil {
		return BookingConfig{}, fmt.Errorf("%s: %w", op, err)
	}

	idemTTL, err := durationEnv("BOOKING_IDEMPOTENCY_TTL", 15*time.Minute)
	if err != nil {
		return BookingConfig{}, fmt.Errorf("%s: %w", op, err)
	}

	idemMaxStr := os.Getenv("BOOKING_IDEMPOTENCY_MAX_ENTRIES")
	if idemMaxStr == "" {
		idemMaxStr = "10000"
	}

	idemMax, err := strconv.Atoi(idemMaxStr)
	if err != nil {
		return BookingConfig{}, fmt.Errorf("%s: invalid BOOKING_IDEMPOTENCY_MAX_ENTRIES: %w", op, err)
	}

	return BookingConfig{
		HoldTTL:             holdTTL,
		ArrivalWindowBefore: arrivalBefore,
		ArrivalWindowAfter:  arrivalAfter,
		LatePlusOneOffset:   lateOffset,
		BookingRetention:    retention,
		IdempotencyTTL:      idemTTL,
		IdempotencyMax:      idemMax,
	}, nil
}

func rateLimitsFromEnv(op string) (RateLimitsConfig, error) {
	hold, err := limitEnv("BOOKING_RATE_LIMIT_HOLD", ratelimit.Limit{Capacity: 5, RefillPerSec: 0.5})
	if err != nil {
		return RateLimitsConfig{}, fmt.Errorf("%s: %w", op, err)
	}

	confirm, err := limitEnv("BOOKING_RATE_LIMIT_CONFIRM", ratelimit.Limit{Capacity: 5, RefillPerSec: 0.5})
	if err != nil {
		return RateLimitsConfig{}, fmt.Errorf("%s: %w", op, err)
	}

	plusOne, err := limitEnv("BOOKING_RATE_LIMIT_PLUS", ratelimit.Limit{Capacity: 5, RefillPerSec: 5.0 / 30.0})
	if err != nil {
		return RateLimitsConfig{}, fmt.Errorf("%s: %w", op, err)
	}

	return RateLimitsConfig{
		Hold:    hold,
		Confirm: confirm,
		PlusOne: plusOne,
	}, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return d, nil
}

func limitEnv(prefix string, def ratelimit.Limit) (ratelimit.Limit, error) {
	limit := def

	if raw := os.Getenv(prefix + "_CAPACITY"); raw != "" {
		capacity, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return ratelimit.Limit{}, fmt.Errorf("invalid %s_CAPACITY: %w", prefix, err)
		}

		limit.Capacity = capacity
	}

	if raw := os.Getenv(prefix + "_REFILL"); raw != "" {
		refill, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return ratelimit.Limit{}, fmt.Errorf("invalid %s_REFILL: %w", prefix, err)
		}

		limit.RefillPerSec = refill
	}

	return limit, nil
}
