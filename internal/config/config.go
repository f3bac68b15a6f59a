// Package config loads the worker configuration from defaults, an optional
// YAML file, MODELWORKER_* environment variables and bound command flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "MODELWORKER"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Model     ModelConfig     `mapstructure:"model"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Handler   HandlerConfig   `mapstructure:"handler"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	PredictTimeout  time.Duration `mapstructure:"predict_timeout"`
}

type ModelConfig struct {
	Name     string `mapstructure:"name"`
	Dir      string `mapstructure:"dir"`
	Manifest string `mapstructure:"manifest"`
	Version  string `mapstructure:"version"`
	Device   int    `mapstructure:"device"`
}

type BatchConfig struct {
	Size      int           `mapstructure:"size"`
	Window    time.Duration `mapstructure:"window"`
	QueueSize int           `mapstructure:"queue_size"`
}

type HandlerConfig struct {
	Kind    string `mapstructure:"kind"`
	Command string `mapstructure:"command"`
}

type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.predict_timeout", time.Duration(0))
	v.SetDefault("model.name", "")
	v.SetDefault("model.dir", "")
	v.SetDefault("model.manifest", "")
	v.SetDefault("model.version", "")
	v.SetDefault("model.device", -1)
	v.SetDefault("batch.size", 8)
	v.SetDefault("batch.window", 8*time.Millisecond)
	v.SetDefault("batch.queue_size", 256)
	v.SetDefault("handler.kind", "echo")
	v.SetDefault("handler.command", "")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.level", "info")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.service_name", "modelworker")
	v.SetDefault("telemetry.sample_rate", 0.1)
}

// New returns a viper instance with defaults and environment binding set up.
// MODELWORKER_BATCH_SIZE overrides batch.size and so on.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and decodes the result.
func Load(v *viper.Viper, path string) (Config, error) {
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Batch.Size <= 0 {
		errs = append(errs, fmt.Errorf("batch.size must be > 0, got %d", c.Batch.Size))
	}
	if c.Batch.Window <= 0 {
		errs = append(errs, fmt.Errorf("batch.window must be > 0, got %s", c.Batch.Window))
	}
	if c.Model.Device < -1 {
		errs = append(errs, fmt.Errorf("model.device must be >= -1, got %d", c.Model.Device))
	}
	switch strings.ToLower(strings.TrimSpace(c.Handler.Kind)) {
	case "echo":
	case "bridge":
		if strings.TrimSpace(c.Handler.Command) == "" {
			errs = append(errs, errors.New("handler.command is required for the bridge handler"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported handler.kind %q", c.Handler.Kind))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be in [0,1], got %g", c.Telemetry.SampleRate))
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.OTLPEndpoint) == "" {
		errs = append(errs, errors.New("telemetry.otlp_endpoint is required when telemetry is enabled"))
	}
	return errors.Join(errs...)
}
