package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// WithEnv applies environment variable overrides using the provided prefix.
//
//	PORT                 server port (default "8080")
//	ENVIRONMENT          runtime environment (default "development")
//	ENTITY_SOURCE_URL    "memory", "file:///entities.json" or "postgres://..."
//	STORAGE_MOUNTS       comma separated "<location prefix>=<store URL>" pairs,
//	                     e.g. "s3://pass/=s3://pass,file:///=file:///"
//	OUTBOX_URL           store URL packages are deposited to
//	PACKAGE_FORMAT       "tar.gz" or "zip"
//	CHECKSUM_ALGORITHMS  e.g. "md5,sha256"
//	MANIFEST_FORMAT      "json" or "nihms"
//	EMBARGO_TIMEZONE     IANA zone embargo dates are read in
//	SPOOL_DIR            directory for staging entries of unknown size
//	REDIS_ADDR, REDIS_PASSWORD, REDIS_DB
func WithEnv(prefix string) Option {
	return func(c *Config) error {
		strs := map[string]*string{
			"PORT":                &c.Port,
			"ENVIRONMENT":         &c.Environment,
			"ENTITY_SOURCE_URL":   &c.EntitySourceURL,
			"OUTBOX_URL":          &c.OutboxURL,
			"PACKAGE_FORMAT":      &c.PackageFormat,
			"CHECKSUM_ALGORITHMS": &c.ChecksumAlgorithms,
			"MANIFEST_FORMAT":     &c.ManifestFormat,
			"EMBARGO_TIMEZONE":    &c.EmbargoTimezone,
			"SPOOL_DIR":           &c.SpoolDir,
			"REDIS_ADDR":          &c.RedisAddr,
			"REDIS_PASSWORD":      &c.RedisPassword,
		}
		for key, dst := range strs {
			if v, ok := lookupEnv(prefix, key); ok && v != "" {
				*dst = v
			}
		}

		if v, ok, err := parseIntEnv(prefix, "REDIS_DB"); err != nil {
			return err
		} else if ok {
			c.RedisDB = v
		}

		if v, ok := lookupEnv(prefix, "STORAGE_MOUNTS"); ok && v != "" {
			mounts, err := ParseMounts(v)
			if err != nil {
				return fmt.Errorf("invalid %sSTORAGE_MOUNTS: %w", prefix, err)
			}
			for _, m := range mounts {
				c.Mounts = upsertMount(c.Mounts, m)
			}
		}
		return nil
	}
}

// ParseMounts parses comma separated "<location prefix>=<store URL>" pairs.
// The prefix ends at the first '=' so store URLs may carry query strings.
func ParseMounts(raw string) ([]Mount, error) {
	var mounts []Mount
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		prefix, storeURL, ok := strings.Cut(part, "=")
		if !ok || prefix == "" || storeURL == "" {
			return nil, fmt.Errorf("mount %q must be <prefix>=<store URL>", part)
		}
		mounts = append(mounts, Mount{Prefix: prefix, StoreURL: storeURL})
	}
	return mounts, nil
}

func lookupEnv(prefix, key string) (string, bool) {
	return os.LookupEnv(prefix + key)
}

func parseIntEnv(prefix, key string) (int, bool, error) {
	raw, ok := lookupEnv(prefix, key)
	if !ok || raw == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid integer for %s%s: %w", prefix, key, err)
	}
	return parsed, true, nil
}

func upsertMount(mounts []Mount, m Mount) []Mount {
	for i := range mounts {
		if mounts[i].Prefix == m.Prefix {
			mounts[i] = m
			return mounts
		}
	}
	return append(mounts, m)
}
