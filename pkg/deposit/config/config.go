package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tendant/simple-deposit/pkg/deposit"
	"github.com/tendant/simple-deposit/pkg/deposit/assembler"
	"github.com/tendant/simple-deposit/pkg/deposit/builder"
	entitymemory "github.com/tendant/simple-deposit/pkg/deposit/entities/memory"
	entitypg "github.com/tendant/simple-deposit/pkg/deposit/entities/postgres"
	"github.com/tendant/simple-deposit/pkg/deposit/service"
	"github.com/tendant/simple-deposit/pkg/deposit/storage/httpstore"
)

// Option applies configuration to a Config instance.
type Option func(*Config) error

// Load constructs a Config by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		Port:               "8080",
		Environment:        "development",
		EntitySourceURL:    "memory",
		Mounts:             defaultMounts(),
		OutboxURL:          "memory://",
		PackageFormat:      string(assembler.FormatTarGz),
		ChecksumAlgorithms: "md5,sha256",
		ManifestFormat:     "json",
		EmbargoTimezone:    builder.DefaultEmbargoZone,
		RedisAddr:          "localhost:6379",
	}
}

func defaultMounts() []Mount {
	return []Mount{
		{Prefix: "file:///", StoreURL: "file:///"},
		{Prefix: "http://", StoreURL: "http://"},
		{Prefix: "https://", StoreURL: "https://"},
	}
}

// Config represents the configuration of the deposit pipeline and the
// processes serving it
type Config struct {
	Port        string
	Environment string // development, production, testing

	// EntitySourceURL selects where entity graphs are read from:
	// "memory", "file:///path/entities.json" or a postgres DSN.
	EntitySourceURL string
	// EntitySource overrides EntitySourceURL when set programmatically.
	EntitySource deposit.EntitySource

	// Mounts map file location prefixes to content stores.
	Mounts []Mount

	// OutboxURL is the store finished packages are uploaded to.
	OutboxURL string
	Outbox    deposit.ContentStore

	PackageFormat      string // tar.gz, zip
	ChecksumAlgorithms string // comma separated: md5, sha256, sha512
	ManifestFormat     string // json, nihms
	EmbargoTimezone    string
	SpoolDir           string

	// RedisAddr is used by the queue client and worker.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Logger *slog.Logger
	Events service.EventSink
}

// Mount binds a location prefix either to a store URL or to a store value.
type Mount struct {
	Prefix   string
	StoreURL string
	Store    deposit.ContentStore
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.EntitySource == nil && c.EntitySourceURL == "" {
		return errors.New("entity source is required")
	}
	if _, err := assembler.ParseFormat(c.PackageFormat); err != nil {
		return err
	}
	if _, err := assembler.ParseAlgorithms(c.ChecksumAlgorithms); err != nil {
		return err
	}
	if _, err := assembler.ParseManifest(c.ManifestFormat); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.EmbargoTimezone); err != nil {
		return fmt.Errorf("invalid embargo timezone %q: %w", c.EmbargoTimezone, err)
	}

	seen := make(map[string]bool, len(c.Mounts))
	for _, m := range c.Mounts {
		if m.Prefix == "" {
			return errors.New("mount prefix cannot be empty")
		}
		if m.Store == nil && m.StoreURL == "" {
			return fmt.Errorf("mount %s has no store", m.Prefix)
		}
		if seen[m.Prefix] {
			return fmt.Errorf("mount %s is configured twice", m.Prefix)
		}
		seen[m.Prefix] = true
	}
	return nil
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// BuildService creates a Service instance from the configuration
func (c *Config) BuildService() (service.Service, error) {
	source, err := c.BuildEntitySource(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to build entity source: %w", err)
	}

	b, err := c.BuildBuilder()
	if err != nil {
		return nil, err
	}

	asm, err := c.BuildAssembler()
	if err != nil {
		return nil, fmt.Errorf("failed to build assembler: %w", err)
	}

	options := []service.Option{
		service.WithEntitySource(source),
		service.WithBuilder(b),
		service.WithAssembler(asm),
		service.WithLogger(c.logger()),
		service.WithEventSink(c.Events),
	}

	outbox := c.Outbox
	if outbox == nil && c.OutboxURL != "" {
		outbox, err = OpenStore(c.OutboxURL)
		if err != nil {
			return nil, fmt.Errorf("failed to build outbox: %w", err)
		}
	}
	if outbox != nil {
		options = append(options, service.WithOutbox(outbox))
	}

	return service.New(options...)
}

// BuildEntitySource creates the entity source named by EntitySourceURL
func (c *Config) BuildEntitySource(ctx context.Context) (deposit.EntitySource, error) {
	if c.EntitySource != nil {
		return c.EntitySource, nil
	}

	raw := c.EntitySourceURL
	switch {
	case raw == "memory" || raw == "memory://":
		return entitymemory.New()
	case strings.HasPrefix(raw, "file://"):
		path := strings.TrimPrefix(raw, "file://")
		if path == "" {
			return nil, errors.New("entity fixture path cannot be empty")
		}
		return entitymemory.LoadFile(path)
	case strings.HasPrefix(raw, "postgres://") || strings.HasPrefix(raw, "postgresql://"):
		pool, err := entitypg.Connect(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		return entitypg.New(pool), nil
	default:
		return nil, fmt.Errorf("unsupported entity source %q (use 'memory', 'file://...' or 'postgres://...')", raw)
	}
}

// BuildBuilder creates the submission model builder
func (c *Config) BuildBuilder() (*builder.Builder, error) {
	loc, err := time.LoadLocation(c.EmbargoTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid embargo timezone %q: %w", c.EmbargoTimezone, err)
	}
	return builder.New(builder.WithLogger(c.logger()), builder.WithEmbargoLocation(loc))
}

// BuildResolver opens every mount
func (c *Config) BuildResolver() (*assembler.Resolver, error) {
	r := assembler.NewResolver()
	for _, m := range c.Mounts {
		store := m.Store
		if store == nil {
			var err error
			if store, err = OpenStore(m.StoreURL); err != nil {
				return nil, fmt.Errorf("mount %s: %w", m.Prefix, err)
			}
		}
		var opts []assembler.MountOption
		if _, ok := store.(*httpstore.Backend); ok {
			opts = append(opts, assembler.Verbatim())
		}
		r.Mount(m.Prefix, store, opts...)
	}
	return r, nil
}

// BuildAssembler creates the package assembler
func (c *Config) BuildAssembler() (*assembler.Assembler, error) {
	resolver, err := c.BuildResolver()
	if err != nil {
		return nil, err
	}
	format, err := assembler.ParseFormat(c.PackageFormat)
	if err != nil {
		return nil, err
	}
	algs, err := assembler.ParseAlgorithms(c.ChecksumAlgorithms)
	if err != nil {
		return nil, err
	}
	manifest, err := assembler.ParseManifest(c.ManifestFormat)
	if err != nil {
		return nil, err
	}

	return assembler.New(resolver,
		assembler.WithFormat(format),
		assembler.WithAlgorithms(algs...),
		assembler.WithManifest(manifest),
		assembler.WithSpoolDir(c.SpoolDir),
		assembler.WithLogger(c.logger()),
	)
}
