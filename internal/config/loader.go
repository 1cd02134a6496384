package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "VECSNAP_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// nestedSections lists sections whose fields are themselves sections, so
// that VECSNAP_MIRROR_QDRANT_HOST maps to mirror.qdrant.host.
var nestedSections = map[string][]string{
	"mirror": {"chromem", "qdrant"},
}

// Load loads configuration from an optional YAML file, then overrides it
// with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (VECSNAP_SERVER_PORT, VECSNAP_RETENTION_BUDGET_BYTES, ...)
//  2. YAML config file at configPath, when non-empty and present
//  3. Default()
//
// The config file may hold secrets, so files writable by group or others
// are rejected, as are files larger than 1MB.
//
// # Environment Variable Mapping
//
// The prefix is stripped and the first underscore separates the section
// from the field:
//
//	VECSNAP_SERVER_PORT             -> server.port
//	VECSNAP_RETENTION_BUDGET_BYTES  -> retention.budget_bytes
//	VECSNAP_MIRROR_QDRANT_HOST      -> mirror.qdrant.host
//
// List fields accept comma separated values (VECSNAP_SOURCES_REPOS=a/b,c/d).
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if content != nil {
			// Use rawbytes provider to avoid re-opening the file
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps VECSNAP_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	for _, sub := range nestedSections[section] {
		if rest, ok := strings.CutPrefix(field, sub+"_"); ok {
			return section + "." + sub + "." + rest
		}
	}
	return section + "." + field
}

// readConfigFile returns the file content, or nil when it does not exist.
func readConfigFile(path string) ([]byte, error) {
	// Open file once and validate using file descriptor to avoid TOCTOU race
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large (max %d bytes)", maxConfigFileSize)
	}
	return content, nil
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", info.Name())
	}

	// Skip on Windows (different permission model)
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o022 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (must not be group or world writable)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
