package quill

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/pthm/quill/lib/envelope"
	"github.com/pthm/quill/lib/route"
)

// Config holds server settings. It is loaded from an optional YAML file and
// then overridden by QUILL_* environment variables.
type Config struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Title        string        `yaml:"title"`
	ClientScript string        `yaml:"client_script"`
	AssetsURL    string        `yaml:"assets_url"`
	AssetsMount  string        `yaml:"assets_mount"`
	Codec        string        `yaml:"codec"`
	LogLevel     string        `yaml:"log_level"`
	Metrics      bool          `yaml:"metrics"`
	ReadLimit    int64         `yaml:"read_limit"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	RouteCache   int           `yaml:"route_cache"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         1337,
		Title:        "quill",
		ClientScript: "/quill.js",
		AssetsMount:  "/assets",
		Codec:        "json",
		LogLevel:     "info",
		ReadLimit:    512 * 1024,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		RouteCache:   route.DefaultCacheSize,
	}
}

// LoadConfig reads path over the defaults, then applies the environment.
// An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("quill: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("quill: parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from QUILL_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"QUILL_HOST":          &c.Host,
		"QUILL_TITLE":         &c.Title,
		"QUILL_CLIENT_SCRIPT": &c.ClientScript,
		"QUILL_ASSETS_URL":    &c.AssetsURL,
		"QUILL_ASSETS_MOUNT":  &c.AssetsMount,
		"QUILL_CODEC":         &c.Codec,
		"QUILL_LOG_LEVEL":     &c.LogLevel,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	var err error
	if v, ok := lookup("QUILL_PORT"); ok {
		if port, perr := strconv.Atoi(v); perr != nil {
			err = multierr.Append(err, fmt.Errorf("QUILL_PORT: %w", perr))
		} else {
			c.Port = port
		}
	}
	if v, ok := lookup("QUILL_METRICS"); ok {
		if on, perr := strconv.ParseBool(v); perr != nil {
			err = multierr.Append(err, fmt.Errorf("QUILL_METRICS: %w", perr))
		} else {
			c.Metrics = on
		}
	}
	if v, ok := lookup("QUILL_WRITE_TIMEOUT"); ok {
		if d, perr := time.ParseDuration(v); perr != nil {
			err = multierr.Append(err, fmt.Errorf("QUILL_WRITE_TIMEOUT: %w", perr))
		} else {
			c.WriteTimeout = d
		}
	}
	if err != nil {
		return fmt.Errorf("quill: environment: %w", err)
	}
	return nil
}

// Validate reports settings the server cannot run with.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("quill: port %d out of range", c.Port)
	}
	if _, ok := envelope.CodecByName(c.Codec); !ok {
		return fmt.Errorf("quill: unknown codec %q", c.Codec)
	}
	return nil
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
