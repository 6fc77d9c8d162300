package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort            = 2053
	DefaultInstallDir      = "/opt/v2rayzone-dash"
	DefaultInterpreter     = "bash"
	DefaultGenerateTimeout = 30 * time.Second
	DefaultRefreshInterval = 60 * time.Second
	DefaultStaleAfter      = 10 * time.Second
	DefaultStaticMaxAge    = 300 * time.Second
	DefaultNATSSubject     = "bwdash.snapshot.regenerated"
	DefaultArchivePrefix   = "snapshots"

	// ConfigPathEnv names the environment variable consulted when no config
	// path is passed explicitly.
	ConfigPathEnv = "BWDASH_CONFIG"
)

// Load builds the configuration from defaults, an optional YAML file and
// BWDASH_* environment variables, in increasing order of precedence.
func Load(path string) (Config, error) {
	cfg := Config{}

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var err error

	if cfg.HTTP.Port, err = getEnvInt("BWDASH_PORT", cfg.HTTP.Port); err != nil {
		return err
	}
	cfg.Paths.InstallDir = getEnv("BWDASH_INSTALL_DIR", cfg.Paths.InstallDir)
	cfg.Paths.StatsFile = getEnv("BWDASH_STATS_FILE", cfg.Paths.StatsFile)
	cfg.Paths.GenerateScript = getEnv("BWDASH_GENERATE_SCRIPT", cfg.Paths.GenerateScript)

	cfg.Generator.Interpreter = getEnv("BWDASH_INTERPRETER", cfg.Generator.Interpreter)
	if cfg.Generator.Timeout, err = getEnvDuration("BWDASH_GENERATE_TIMEOUT", cfg.Generator.Timeout); err != nil {
		return err
	}

	if cfg.Refresh.Interval, err = getEnvDuration("BWDASH_REFRESH_INTERVAL", cfg.Refresh.Interval); err != nil {
		return err
	}
	if cfg.Refresh.StaleAfter, err = getEnvDuration("BWDASH_STALE_AFTER", cfg.Refresh.StaleAfter); err != nil {
		return err
	}
	if v := os.Getenv("BWDASH_REFRESH_ON_STARTUP"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid BWDASH_REFRESH_ON_STARTUP: %q", v)
		}
		cfg.Refresh.OnStartup = &b
	}

	if cfg.Static.MaxAge, err = getEnvDuration("BWDASH_STATIC_MAX_AGE", cfg.Static.MaxAge); err != nil {
		return err
	}

	cfg.Metrics.Addr = getEnv("BWDASH_METRICS_ADDR", cfg.Metrics.Addr)
	cfg.Telemetry.OTLPEndpoint = getEnv("BWDASH_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Log.Level = getEnv("BWDASH_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("BWDASH_LOG_FORMAT", cfg.Log.Format)
	cfg.NATS.URL = getEnv("BWDASH_NATS_URL", cfg.NATS.URL)
	cfg.NATS.Subject = getEnv("BWDASH_NATS_SUBJECT", cfg.NATS.Subject)
	cfg.Archive.Bucket = getEnv("BWDASH_ARCHIVE_BUCKET", cfg.Archive.Bucket)
	cfg.Archive.Prefix = getEnv("BWDASH_ARCHIVE_PREFIX", cfg.Archive.Prefix)

	return nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultPort
	}
	if c.Paths.InstallDir == "" {
		c.Paths.InstallDir = DefaultInstallDir
	}
	if c.Paths.StatsFile == "" {
		c.Paths.StatsFile = filepath.Join(c.Paths.InstallDir, "api", "stats.json")
	}
	if c.Paths.GenerateScript == "" {
		c.Paths.GenerateScript = filepath.Join(c.Paths.InstallDir, "api", "generate_json.sh")
	}
	switch strings.TrimSpace(c.Generator.Interpreter) {
	case "":
		c.Generator.Interpreter = DefaultInterpreter
	case "none":
		c.Generator.Interpreter = ""
	}
	if c.Generator.Timeout == 0 {
		c.Generator.Timeout = DefaultGenerateTimeout
	}
	if c.Refresh.Interval == 0 {
		c.Refresh.Interval = DefaultRefreshInterval
	}
	if c.Refresh.StaleAfter == 0 {
		c.Refresh.StaleAfter = DefaultStaleAfter
	}
	if c.Refresh.OnStartup == nil {
		on := true
		c.Refresh.OnStartup = &on
	}
	if c.Static.MaxAge == 0 {
		c.Static.MaxAge = DefaultStaticMaxAge
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = DefaultNATSSubject
	}
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = DefaultArchivePrefix
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d is outside the valid range 1-65535", c.HTTP.Port)
	}
	if c.Paths.InstallDir == "" {
		return errors.New("paths.install_dir is required")
	}
	if c.Generator.Timeout < 0 {
		return fmt.Errorf("generator.timeout must be positive, got %s", c.Generator.Timeout)
	}
	if c.Refresh.Interval < 0 {
		return fmt.Errorf("refresh.interval must be positive, got %s", c.Refresh.Interval)
	}
	if c.Refresh.StaleAfter < 0 {
		return fmt.Errorf("refresh.stale_after must be positive, got %s", c.Refresh.StaleAfter)
	}
	if c.Static.MaxAge < 0 {
		return fmt.Errorf("static.max_age must be positive, got %s", c.Static.MaxAge)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// RefreshOnStartup reports whether a regeneration should run before serving.
func (c Config) RefreshOnStartup() bool {
	return c.Refresh.OnStartup == nil || *c.Refresh.OnStartup
}

// CheckInstallDir fails when the installation directory is missing.
func (c Config) CheckInstallDir() error {
	info, err := os.Stat(c.Paths.InstallDir)
	if err != nil {
		return fmt.Errorf("installation directory not found: %s", c.Paths.InstallDir)
	}
	if !info.IsDir() {
		return fmt.Errorf("installation path %s is not a directory", c.Paths.InstallDir)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return i, nil
}

// getEnvDuration accepts Go durations ("45s") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}
