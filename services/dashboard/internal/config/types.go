package config

import "time"

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Paths     PathsConfig     `yaml:"paths"`
	Generator GeneratorConfig `yaml:"generator"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Static    StaticConfig    `yaml:"static"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	NATS      NATSConfig      `yaml:"nats"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}

type PathsConfig struct {
	InstallDir     string `yaml:"install_dir"`
	StatsFile      string `yaml:"stats_file"`
	GenerateScript string `yaml:"generate_script"`
}

type GeneratorConfig struct {
	// Interpreter runs the script; "none" executes the script directly.
	Interpreter string        `yaml:"interpreter"`
	Timeout     time.Duration `yaml:"timeout"`
}

type RefreshConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	OnStartup  *bool         `yaml:"on_startup"`
}

type StaticConfig struct {
	MaxAge time.Duration `yaml:"max_age"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}
