// Package config loads the QUEUE_*/WORKER_* environment variables
// documented in spec.md §6, applying defaults and failing fast on an
// invalid numeric value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Gateway holds settings for the `gateway` CLI subcommand.
type Gateway struct {
	DBPath      string
	LeaseTTL    time.Duration
	MaxAttempts int
	APIPort     int
}

// Worker holds settings for the `worker` CLI subcommand.
type Worker struct {
	APIBaseURL   string
	PollInterval time.Duration
	LeaseTTL     time.Duration
	PhaseTimeout time.Duration
}

// LoadDotEnv loads a .env file from the working directory if present.
// Missing files are not an error — environment variables already set in
// the process take precedence over anything in the file.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// LoadGateway reads Gateway settings from the environment.
func LoadGateway() (Gateway, error) {
	leaseTTL, err := positiveDurationMS("QUEUE_LEASE_TTL_MS", 120_000)
	if err != nil {
		return Gateway{}, err
	}
	maxAttempts, err := positiveInt("QUEUE_MAX_ATTEMPTS", 3)
	if err != nil {
		return Gateway{}, err
	}
	port, err := positiveInt("QUEUE_API_PORT", 7070)
	if err != nil {
		return Gateway{}, err
	}
	return Gateway{
		DBPath:      stringDefault("QUEUE_DB_PATH", "./data/queue.sqlite"),
		LeaseTTL:    leaseTTL,
		MaxAttempts: maxAttempts,
		APIPort:     port,
	}, nil
}

// LoadWorker reads Worker settings from the environment.
func LoadWorker() (Worker, error) {
	poll, err := positiveDurationMS("WORKER_POLL_MS", 2_000)
	if err != nil {
		return Worker{}, err
	}
	leaseTTL, err := positiveDurationMS("WORKER_LEASE_TTL_MS", 120_000)
	if err != nil {
		return Worker{}, err
	}
	phaseTimeout, err := positiveDurationMS("WORKER_PHASE_TIMEOUT_MS", 600_000)
	if err != nil {
		return Worker{}, err
	}
	return Worker{
		APIBaseURL:   stringDefault("WORKER_API_BASE_URL", "http://localhost:7070"),
		PollInterval: poll,
		LeaseTTL:     leaseTTL,
		PhaseTimeout: phaseTimeout,
	}, nil
}

func stringDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func positiveInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, raw, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: must be a positive integer, got %d", key, n)
	}
	return n, nil
}

func positiveDurationMS(key string, fallbackMS int) (time.Duration, error) {
	n, err := positiveInt(key, fallbackMS)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}

// SnapshotProcessEnv returns a copy of the current process environment,
// adapted from the teacher's internal/config.SnapshotProcessEnv.
func SnapshotProcessEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}
