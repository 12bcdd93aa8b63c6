// Package config loads service configuration from the environment, with an
// optional .env file and hot reload of the mutable settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is the service configuration. Fields marked reloadable take effect
// without a restart when the watched env file changes.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string
	// DataDir holds persisted snapshots and the audit database.
	DataDir string
	// BackendURL is the monitoring backend the engine pulls feeds from.
	BackendURL string
	// BackendToken authenticates against the backend, optional.
	BackendToken string
	// RefreshInterval is the background refresh cadence. Reloadable.
	RefreshInterval time.Duration
	// LogLevel is the zerolog level. Reloadable.
	LogLevel string
	// LogFormat is json, console, or auto.
	LogFormat string
	// EnvFile is the optional .env file, watched for changes.
	EnvFile string
	// ScopeResourceIDs and ScopeResourceTypes preselect the operator scope.
	ScopeResourceIDs   []string
	ScopeResourceTypes []string
}

// Defaults mirror a single-node deployment next to the backend.
func defaults() Config {
	return Config{
		ListenAddr:      ":7656",
		DataDir:         "/var/lib/pulse-findings",
		BackendURL:      "http://localhost:7655",
		RefreshInterval: 30 * time.Second,
		LogLevel:        "info",
		LogFormat:       "auto",
	}
}

// Load reads configuration from the environment. If envFile is non-empty
// (or PULSE_FINDINGS_ENV_FILE is set), it is read first without overriding
// already-exported variables.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = os.Getenv("PULSE_FINDINGS_ENV_FILE")
	}
	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read env file %s: %w", envFile, err)
			}
			log.Debug().Str("path", envFile).Msg("Env file not found, using environment only")
		} else {
			for k, v := range vars {
				if _, exported := os.LookupEnv(k); !exported {
					os.Setenv(k, v)
				}
			}
		}
	}

	cfg := defaults()
	cfg.EnvFile = envFile
	if v := os.Getenv("FINDINGS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FINDINGS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("FINDINGS_BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv("FINDINGS_BACKEND_TOKEN"); v != "" {
		cfg.BackendToken = v
	}
	if v := os.Getenv("FINDINGS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FINDINGS_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("FINDINGS_REFRESH_INTERVAL"); v != "" {
		d, err := parseInterval(v)
		if err != nil {
			return nil, err
		}
		cfg.RefreshInterval = d
	}
	if v := os.Getenv("FINDINGS_SCOPE_RESOURCE_IDS"); v != "" {
		cfg.ScopeResourceIDs = splitList(v)
	}
	if v := os.Getenv("FINDINGS_SCOPE_RESOURCE_TYPES"); v != "" {
		cfg.ScopeResourceTypes = splitList(v)
	}
	return &cfg, nil
}

// parseInterval accepts a Go duration or a bare number of seconds.
func parseInterval(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 5 {
			return 0, fmt.Errorf("refresh interval %ds too short", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid refresh interval %q: %w", v, err)
	}
	if d < 5*time.Second {
		return 0, fmt.Errorf("refresh interval %s too short", d)
	}
	return d, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
