package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/querymesh/datasource"
	"github.com/hupe1980/querymesh/text2sql"
)

// EnvConfigPath names the variable pointing at the config file.
const EnvConfigPath = "QUERYMESH_CONFIG"

// DefaultPath is read when neither an explicit path nor EnvConfigPath is set.
const DefaultPath = "querymesh.yaml"

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
	LogFormatSlog = "slog"
)

// Config is the complete querymesh configuration as read from YAML and the
// environment.
type Config struct {
	Log                 LogConfig                   `yaml:"log"`
	Store               StoreConfig                 `yaml:"store"`
	Connections         []datasource.ConnectionInfo `yaml:"connections"`
	DefaultConnectionID int64                       `yaml:"default_connection_id"`
	Models              []ModelConfig               `yaml:"models"`
	DefaultModel        string                      `yaml:"default_model"`
	Run                 RunConfig                   `yaml:"run"`
	Pipeline            text2sql.Config             `yaml:"pipeline"`
	Server              ServerConfig                `yaml:"server"`
	NATS                NATSConfig                  `yaml:"nats"`
}

// LogConfig selects the log level and handler format. Format is json, text
// or slog; slog hands every entry to the process-wide slog.Default logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig locates the SQLite connection store. An empty path disables
// it; connections then come from the config file only.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ModelConfig declares one named model in the pool. Provider is openai,
// anthropic or mock.
type ModelConfig struct {
	Name        string  `yaml:"name"`
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
}

// RunConfig bounds a single query run and tunes its stream collector.
type RunConfig struct {
	IdleTimeout            time.Duration `yaml:"idle_timeout"`
	DrainTimeout           time.Duration `yaml:"drain_timeout"`
	FinalGrace             time.Duration `yaml:"final_grace"`
	MaxModelCalls          int           `yaml:"max_model_calls"`
	TerminalOnHandlerError bool          `yaml:"terminal_on_handler_error"`
	MaxBuffered            int           `yaml:"max_buffered"`
	FlushInterval          time.Duration `yaml:"flush_interval"`
	Coalesce               bool          `yaml:"coalesce"`
}

// ServerConfig holds the listen address of the websocket server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// NATSConfig enables forwarding of stream events to NATS. With Embedded set
// an in-process server is started on Port and URL is ignored.
type NATSConfig struct {
	URL           string `yaml:"url"`
	Embedded      bool   `yaml:"embedded"`
	Port          int    `yaml:"port"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Enabled reports whether events should be forwarded to NATS.
func (c NATSConfig) Enabled() bool { return c.Embedded || c.URL != "" }

// Providers understood by the model section.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

func defaults() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Run: RunConfig{
			IdleTimeout:            2 * time.Minute,
			DrainTimeout:           5 * time.Second,
			FinalGrace:             2 * time.Second,
			MaxModelCalls:          10,
			TerminalOnHandlerError: true,
			MaxBuffered:            256,
			FlushInterval:          50 * time.Millisecond,
			Coalesce:               true,
		},
		Pipeline: text2sql.DefaultConfig,
		Server:   ServerConfig{Addr: ":8080"},
		NATS:     NATSConfig{Port: 4222, SubjectPrefix: "querymesh.stream"},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := defaults()
	return &cfg
}

// Load reads the config file at path (or EnvConfigPath, or DefaultPath),
// expands ${VAR} references, applies QUERYMESH_* overrides and validates
// the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := parseInto(&cfg, data); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes YAML on top of the defaults. Environment overrides are not
// applied.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := parseInto(&cfg, data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInto(cfg *Config, data []byte) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("QUERYMESH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("QUERYMESH_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("QUERYMESH_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("QUERYMESH_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("QUERYMESH_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("QUERYMESH_DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}
	if v := os.Getenv("QUERYMESH_DEFAULT_CONNECTION"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DefaultConnectionID = id
		}
	}
	if v := os.Getenv("QUERYMESH_MAX_ROWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MaxRows = n
		}
	}

	keys := map[string]string{
		ProviderOpenAI:    os.Getenv("OPENAI_API_KEY"),
		ProviderAnthropic: os.Getenv("ANTHROPIC_API_KEY"),
	}
	for i := range cfg.Models {
		m := &cfg.Models[i]
		if m.APIKey == "" {
			m.APIKey = keys[strings.ToLower(m.Provider)]
		}
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	var errs []error

	names := make(map[string]struct{}, len(c.Models))
	for _, m := range c.Models {
		if m.Name == "" {
			errs = append(errs, errors.New("model without name"))
			continue
		}
		if _, dup := names[m.Name]; dup {
			errs = append(errs, fmt.Errorf("model %q defined twice", m.Name))
		}
		names[m.Name] = struct{}{}
		switch strings.ToLower(m.Provider) {
		case ProviderOpenAI, ProviderAnthropic, ProviderMock:
		default:
			errs = append(errs, fmt.Errorf("model %q: unknown provider %q", m.Name, m.Provider))
		}
	}
	if c.DefaultModel != "" {
		if _, ok := names[c.DefaultModel]; !ok {
			errs = append(errs, fmt.Errorf("default model %q is not defined", c.DefaultModel))
		}
	}

	ids := make(map[int64]struct{}, len(c.Connections))
	for _, conn := range c.Connections {
		if conn.ID <= 0 {
			errs = append(errs, fmt.Errorf("connection %q: id must be positive", conn.Name))
			continue
		}
		if _, dup := ids[conn.ID]; dup {
			errs = append(errs, fmt.Errorf("connection id %d defined twice", conn.ID))
		}
		ids[conn.ID] = struct{}{}
	}

	switch c.Log.Format {
	case "", LogFormatJSON, LogFormatText, LogFormatSlog:
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json, text or slog", c.Log.Format))
	}

	if c.Run.IdleTimeout <= 0 {
		errs = append(errs, errors.New("run.idle_timeout must be positive"))
	}
	if c.Run.DrainTimeout <= 0 {
		errs = append(errs, errors.New("run.drain_timeout must be positive"))
	}
	if c.Run.FinalGrace < 0 {
		errs = append(errs, errors.New("run.final_grace must not be negative"))
	}
	if c.Pipeline.MaxRows <= 0 {
		errs = append(errs, errors.New("pipeline.max_rows must be positive"))
	}
	return errors.Join(errs...)
}
