package config

import (
	"fmt"
	"log/slog"

	"github.com/tendant/simple-deposit/pkg/deposit"
	"github.com/tendant/simple-deposit/pkg/deposit/service"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *Config) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEntitySourceURL selects the entity source by URL
func WithEntitySourceURL(raw string) Option {
	return func(c *Config) error {
		if raw == "" {
			return fmt.Errorf("entity source URL cannot be empty")
		}
		c.EntitySourceURL = raw
		return nil
	}
}

// WithEntitySource uses source directly
func WithEntitySource(source deposit.EntitySource) Option {
	return func(c *Config) error {
		c.EntitySource = source
		return nil
	}
}

// WithMount binds a location prefix to a store URL, replacing an existing
// mount of the same prefix
func WithMount(prefix, storeURL string) Option {
	return func(c *Config) error {
		if prefix == "" || storeURL == "" {
			return fmt.Errorf("mount prefix and store URL are required")
		}
		c.Mounts = upsertMount(c.Mounts, Mount{Prefix: prefix, StoreURL: storeURL})
		return nil
	}
}

// WithMountStore binds a location prefix to a store value
func WithMountStore(prefix string, store deposit.ContentStore) Option {
	return func(c *Config) error {
		if prefix == "" || store == nil {
			return fmt.Errorf("mount prefix and store are required")
		}
		c.Mounts = upsertMount(c.Mounts, Mount{Prefix: prefix, Store: store})
		return nil
	}
}

// WithoutDefaultMounts drops the file and http mounts configured by default
func WithoutDefaultMounts() Option {
	return func(c *Config) error {
		c.Mounts = nil
		return nil
	}
}

func WithOutboxURL(raw string) Option {
	return func(c *Config) error {
		c.OutboxURL = raw
		return nil
	}
}

func WithOutbox(store deposit.ContentStore) Option {
	return func(c *Config) error {
		c.Outbox = store
		return nil
	}
}

// WithPackageFormat sets the archive format ("tar.gz" or "zip")
func WithPackageFormat(format string) Option {
	return func(c *Config) error {
		c.PackageFormat = format
		return nil
	}
}

// WithChecksumAlgorithms sets the comma separated checksum algorithms
func WithChecksumAlgorithms(algs string) Option {
	return func(c *Config) error {
		c.ChecksumAlgorithms = algs
		return nil
	}
}

func WithManifestFormat(format string) Option {
	return func(c *Config) error {
		c.ManifestFormat = format
		return nil
	}
}

func WithEmbargoTimezone(zone string) Option {
	return func(c *Config) error {
		c.EmbargoTimezone = zone
		return nil
	}
}

func WithSpoolDir(dir string) Option {
	return func(c *Config) error {
		c.SpoolDir = dir
		return nil
	}
}

// WithRedis configures the queue connection
func WithRedis(addr, password string, db int) Option {
	return func(c *Config) error {
		if addr == "" {
			return fmt.Errorf("redis address cannot be empty")
		}
		c.RedisAddr = addr
		c.RedisPassword = password
		c.RedisDB = db
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

func WithEventSink(sink service.EventSink) Option {
	return func(c *Config) error {
		c.Events = sink
		return nil
	}
}
