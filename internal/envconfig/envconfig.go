// Package envconfig holds the process level settings shared by the deposit
// binaries: logging, the worker queue and the prefix the pipeline
// configuration is read under.
package envconfig

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/tendant/simple-deposit/pkg/deposit/config"
)

type Runtime struct {
	EnvPrefix         string        `env:"DEPOSIT_ENV_PREFIX" env-default:"DEPOSIT_"`
	LogLevel          string        `env:"LOG_LEVEL" env-default:"info"`
	LogFormat         string        `env:"LOG_FORMAT" env-default:"text"`
	AsyncDeposits     bool          `env:"ASYNC_DEPOSITS" env-default:"false"`
	Queue             string        `env:"DEPOSIT_QUEUE" env-default:"deposits"`
	MaxRetry          int           `env:"DEPOSIT_MAX_RETRY" env-default:"5"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" env-default:"4"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"10s"`

	// Optional API protection for cmd/server. Either or both may be set.
	JWTSecret    string `env:"JWT_SECRET"`
	APIKeySHA256 string `env:"API_KEY_SHA256"`
}

// Read loads a .env file from the working directory if one exists and then
// reads the runtime settings from the environment. Variables already set in
// the environment win over the .env file.
func Read() (*Runtime, error) {
	_ = godotenv.Load()

	var rt Runtime
	if err := cleanenv.ReadEnv(&rt); err != nil {
		return nil, fmt.Errorf("read runtime environment: %w", err)
	}
	return &rt, nil
}

// Logger builds the process logger writing to w.
func (rt *Runtime) Logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(rt.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", rt.LogLevel, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(rt.LogFormat) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q", rt.LogFormat)
	}
}

// LoadConfig reads the pipeline configuration from the environment under
// EnvPrefix. Extra options are applied last.
func (rt *Runtime) LoadConfig(logger *slog.Logger, opts ...config.Option) (*config.Config, error) {
	all := append([]config.Option{config.WithEnv(rt.EnvPrefix), config.WithLogger(logger)}, opts...)
	return config.Load(all...)
}

// RedisOpt returns the asynq connection settings of cfg.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// MustRead is Read for main packages.
func MustRead() *Runtime {
	rt, err := Read()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return rt
}
