package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Static errors for configuration validation.
var (
	ErrDriverInvalid          = errors.New("engine driver must be one of: duckdb, postgres, pgx")
	ErrPageSizesEmpty         = errors.New("query page sizes must not be empty")
	ErrPageSizeInvalid        = errors.New("query page sizes must be positive")
	ErrDefaultPageSizeInvalid = errors.New("query default page size must be one of the configured page sizes")
	ErrFetchChunkSizeInvalid  = errors.New("query fetch chunk size must be at least 1")
	ErrExportChunkSizeInvalid = errors.New("query export chunk size must be at least 1")
	ErrMaxBinaryBytesInvalid  = errors.New("query max binary bytes must be at least 1")
	ErrMaxStringCharsInvalid  = errors.New("query max string chars must be at least 1")
	ErrResultTTLInvalid       = errors.New("server result ttl must be positive")
	ErrLogLevelInvalid        = errors.New("log level must be one of: debug, info, warn, error")
	ErrLogFormatInvalid       = errors.New("log format must be one of: json, console")
)

// Config is the complete duckbench configuration.
type Config struct {
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`
	Query  QueryConfig  `yaml:"query" mapstructure:"query"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
	S3     S3Config     `yaml:"s3" mapstructure:"s3"`
}

// EngineConfig selects the SQL engine behind every session.
type EngineConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
	// SerializeStatements runs at most one statement at a time across all sessions.
	SerializeStatements bool `yaml:"serialize_statements" mapstructure:"serialize_statements"`
}

// QueryConfig holds pagination, fetch and clamping settings.
type QueryConfig struct {
	DefaultPageSize int   `yaml:"default_page_size" mapstructure:"default_page_size"`
	PageSizes       []int `yaml:"page_sizes" mapstructure:"page_sizes"`
	FetchChunkSize  int   `yaml:"fetch_chunk_size" mapstructure:"fetch_chunk_size"`
	ExportChunkSize int   `yaml:"export_chunk_size" mapstructure:"export_chunk_size"`
	MaxBinaryBytes  int   `yaml:"max_binary_bytes" mapstructure:"max_binary_bytes"`
	MaxStringChars  int   `yaml:"max_string_chars" mapstructure:"max_string_chars"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr"`
	ResultTTL    time.Duration `yaml:"result_ttl" mapstructure:"result_ttl"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	// HistoryDSN is the DuckDB database recording submitted queries. Empty disables history.
	HistoryDSN string `yaml:"history_dsn" mapstructure:"history_dsn"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// S3Config holds credentials for s3:// export destinations.
type S3Config struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	Region    string `yaml:"region" mapstructure:"region"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
}

// Default returns a configuration populated with the package defaults.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Driver:              DriverDuckDB,
			DSN:                 DefaultDSN,
			SerializeStatements: true,
		},
		Query: QueryConfig{
			DefaultPageSize: DefaultPageSize,
			PageSizes:       DefaultPageSizes(),
			FetchChunkSize:  DefaultFetchChunkSize,
			ExportChunkSize: DefaultExportChunkSize,
			MaxBinaryBytes:  DefaultMaxBinaryBytes,
			MaxStringChars:  DefaultMaxStringChars,
		},
		Server: ServerConfig{
			Addr:         DefaultServerAddr,
			ResultTTL:    DefaultResultTTL,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
	}
}

// setDefaults registers every default with viper so env overrides work for unset keys.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("engine.driver", d.Engine.Driver)
	v.SetDefault("engine.dsn", d.Engine.DSN)
	v.SetDefault("engine.serialize_statements", d.Engine.SerializeStatements)
	v.SetDefault("query.default_page_size", d.Query.DefaultPageSize)
	v.SetDefault("query.page_sizes", d.Query.PageSizes)
	v.SetDefault("query.fetch_chunk_size", d.Query.FetchChunkSize)
	v.SetDefault("query.export_chunk_size", d.Query.ExportChunkSize)
	v.SetDefault("query.max_binary_bytes", d.Query.MaxBinaryBytes)
	v.SetDefault("query.max_string_chars", d.Query.MaxStringChars)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.result_ttl", d.Server.ResultTTL)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.history_dsn", d.Server.HistoryDSN)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("s3.endpoint", d.S3.Endpoint)
	v.SetDefault("s3.region", d.S3.Region)
	v.SetDefault("s3.access_key", d.S3.AccessKey)
	v.SetDefault("s3.secret_key", d.S3.SecretKey)
}

// NewViper returns a viper instance with defaults and environment binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration file at path (optional) and environment overrides.
func Load(path string) (*Config, error) {
	v := NewViper()
	return LoadWith(v, path)
}

// LoadWith is Load on a caller-provided viper instance (flags already bound).
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML to path.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Engine.Driver {
	case DriverDuckDB, DriverPostgres, DriverPgx:
	default:
		return ErrDriverInvalid
	}

	if len(c.Query.PageSizes) == 0 {
		return ErrPageSizesEmpty
	}
	for _, size := range c.Query.PageSizes {
		if size <= 0 {
			return ErrPageSizeInvalid
		}
	}
	if !slices.Contains(c.Query.PageSizes, c.Query.DefaultPageSize) {
		return ErrDefaultPageSizeInvalid
	}
	if c.Query.FetchChunkSize < 1 {
		return ErrFetchChunkSizeInvalid
	}
	if c.Query.ExportChunkSize < 1 {
		return ErrExportChunkSizeInvalid
	}
	if c.Query.MaxBinaryBytes < 1 {
		return ErrMaxBinaryBytesInvalid
	}
	if c.Query.MaxStringChars < 1 {
		return ErrMaxStringCharsInvalid
	}

	if c.Server.ResultTTL <= 0 {
		return ErrResultTTLInvalid
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return ErrLogLevelInvalid
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return ErrLogFormatInvalid
	}

	return nil
}
