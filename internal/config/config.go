package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Allocation AllocationConfig
	Snapshot   SnapshotConfig
	Feed       FeedConfig
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

type AllocationConfig struct {
	HoldTTL       time.Duration
	SweepInterval time.Duration
}

type SnapshotConfig struct {
	SharedTTL       time.Duration
	LocalTTL        time.Duration
	LocalMaxEntries int64
	Timeout         time.Duration
}

type FeedConfig struct {
	PollInterval time.Duration
	BufferSize   int
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverPort, err := envInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	serverCfg := ServerConfig{
		Host: envStr("SERVER_HOST", "localhost"),
		Port: serverPort,
	}

	postgresPort, err := envInt("POSTGRES_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
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

	postgresCfg := PostgresConfig{
		User:     postgresUser,
		Password: postgresPassword,
		Name:     postgresDB,
		Host:     envStr("POSTGRES_HOST", "localhost"),
		Port:     postgresPort,
		SSLMode:  envStr("POSTGRES_SSLMODE", "disable"),
	}

	redisDB, err := envInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	redisCfg := RedisConfig{
		Addr:     envStr("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
	}

	allocationCfg := AllocationConfig{}
	if allocationCfg.HoldTTL, err = envDuration("HOLD_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if allocationCfg.SweepInterval, err = envDuration("HOLD_SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	snapshotCfg := SnapshotConfig{}
	if snapshotCfg.SharedTTL, err = envDuration("SNAPSHOT_SHARED_TTL", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if snapshotCfg.LocalTTL, err = envDuration("SNAPSHOT_LOCAL_TTL", 60*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if snapshotCfg.Timeout, err = envDuration("SNAPSHOT_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	localMaxEntries, err := envInt("SNAPSHOT_LOCAL_MAX_ENTRIES", 1000)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	snapshotCfg.LocalMaxEntries = int64(localMaxEntries)

	feedCfg := FeedConfig{}
	if feedCfg.PollInterval, err = envDuration("FEED_POLL_INTERVAL", time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	feedCfg.BufferSize, err = envInt("FEED_BUFFER_SIZE", 16)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Config{
		Server:     serverCfg,
		Postgres:   postgresCfg,
		Redis:      redisCfg,
		Allocation: allocationCfg,
		Snapshot:   snapshotCfg,
		Feed:       feedCfg,
	}, nil
}

func envStr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}
