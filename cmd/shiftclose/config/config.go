// Package config builds typed component configurations from viper settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"fuel-shift-reconciliation/internal/lock"
	"fuel-shift-reconciliation/internal/matcher"
	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/parsers"
	"fuel-shift-reconciliation/internal/reconciler"
	"fuel-shift-reconciliation/internal/reporter"
	"fuel-shift-reconciliation/internal/store/gormstore"
	"fuel-shift-reconciliation/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. SHIFTCLOSE_DATABASE_DSN.
const EnvPrefix = "SHIFTCLOSE"

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// SetDefaults registers every key with its default. Keys must be known to
// viper for AutomaticEnv to resolve them during Unmarshal.
func SetDefaults(v *viper.Viper) {
	db := gormstore.DefaultConfig()
	v.SetDefault("database.driver", db.Driver)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", db.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", db.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", db.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", db.ConnMaxIdleTime)
	v.SetDefault("database.log_level", db.LogLevel)
	v.SetDefault("database.slow_threshold", db.SlowThreshold)
	v.SetDefault("database.tracing", false)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 30*time.Second)

	matching := matcher.DefaultMatchingConfig()
	v.SetDefault("matching.quantity_tolerance", matching.QuantityTolerance.String())
	v.SetDefault("matching.amount_tolerance", matching.AmountTolerance.String())
	v.SetDefault("matching.note_matching", matching.EnableNoteMatching)

	v.SetDefault("payments.tolerance", models.Tolerance.String())
	v.SetDefault("payments.consolidated_locations", []int{})
	v.SetDefault("payments.buckets", map[string]string{})

	log := logger.DefaultConfig()
	v.SetDefault("log.level", string(log.Level))
	v.SetDefault("log.format", string(log.Format))
	v.SetDefault("log.output", string(log.Output))
	v.SetDefault("log.file", "")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("csv.delimiter", ",")
	v.SetDefault("csv.default_unit", "")
	v.SetDefault("csv.skip_invalid_rows", false)
}

// BindEnv makes SHIFTCLOSE_SECTION_KEY override section.key
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Settings mirrors the sections of the config file that map onto component
// configurations.
type Settings struct {
	Database gormstore.Config `mapstructure:"database"`
	Redis    lock.Config      `mapstructure:"redis"`
	Server   ServerConfig     `mapstructure:"server"`
}

// Load unmarshals every section. Values resolve key by key, so environment
// variables and flags override single nested keys.
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	return &s, nil
}

// CreateStoreConfig reads the database section
func CreateStoreConfig(v *viper.Viper) (gormstore.Config, error) {
	s, err := Load(v)
	if err != nil {
		return gormstore.Config{}, err
	}
	cfg := s.Database
	cfg.Driver = strings.ToLower(cfg.Driver)
	return cfg, nil
}

// CreateLockConfig reads the redis section
func CreateLockConfig(v *viper.Viper) (lock.Config, error) {
	s, err := Load(v)
	if err != nil {
		return lock.Config{}, err
	}
	if s.Redis.LockTTL < 0 {
		return s.Redis, fmt.Errorf("redis.lock_ttl cannot be negative")
	}
	return s.Redis, nil
}

// CreateServerConfig reads the server section
func CreateServerConfig(v *viper.Viper) (ServerConfig, error) {
	s, err := Load(v)
	if err != nil {
		return ServerConfig{}, err
	}
	if s.Server.Address == "" {
		return s.Server, fmt.Errorf("server.address is required")
	}
	return s.Server, nil
}

// CreateLoggerConfig reads the log section. verbose forces debug level.
func CreateLoggerConfig(v *viper.Viper, verbose bool) (*logger.Config, error) {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.Level(strings.ToLower(v.GetString("log.level")))
	cfg.Format = logger.Format(strings.ToLower(v.GetString("log.format")))
	cfg.Output = logger.Output(strings.ToLower(v.GetString("log.output")))
	cfg.File = v.GetString("log.file")
	if verbose {
		cfg.Level = logger.DebugLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid log settings: %w", err)
	}
	return cfg, nil
}

// CreateReconcilerConfig reads the matching and payments sections
func CreateReconcilerConfig(v *viper.Viper) (*reconciler.Config, error) {
	cfg := reconciler.DefaultConfig()

	var err error
	if cfg.Matching.QuantityTolerance, err = decimalSetting(v, "matching.quantity_tolerance"); err != nil {
		return nil, err
	}
	if cfg.Matching.AmountTolerance, err = decimalSetting(v, "matching.amount_tolerance"); err != nil {
		return nil, err
	}
	cfg.Matching.EnableNoteMatching = v.GetBool("matching.note_matching")

	if cfg.Tolerance, err = decimalSetting(v, "payments.tolerance"); err != nil {
		return nil, err
	}

	for _, id := range v.GetIntSlice("payments.consolidated_locations") {
		if id <= 0 {
			return nil, fmt.Errorf("payments.consolidated_locations: invalid location id %d", id)
		}
		cfg.ConsolidatedLocations = append(cfg.ConsolidatedLocations, uint(id))
	}

	buckets := v.GetStringMapString("payments.buckets")
	if len(buckets) > 0 {
		cfg.BucketOverrides = make(map[string]models.PaymentBucket, len(buckets))
		for code, name := range buckets {
			bucket, ok := models.ParseBucket(strings.ToLower(name))
			if !ok {
				return nil, fmt.Errorf("payments.buckets.%s: unknown bucket %q", code, name)
			}
			cfg.BucketOverrides[models.NormalizeMethodCode(code)] = bucket
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decimalSetting(v *viper.Viper, key string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s cannot be negative", key)
	}
	return d, nil
}

// CreateHoseCSVConfig reads the csv section
func CreateHoseCSVConfig(v *viper.Viper) (*parsers.HoseCSVConfig, error) {
	cfg := parsers.DefaultHoseCSVConfig()

	delimiter := []rune(v.GetString("csv.delimiter"))
	if len(delimiter) != 1 {
		return nil, fmt.Errorf("csv.delimiter must be a single character")
	}
	cfg.Parse.Delimiter = delimiter[0]
	cfg.DefaultUnit = v.GetString("csv.default_unit")
	cfg.SkipInvalidRows = v.GetBool("csv.skip_invalid_rows")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CreateReportConfig creates a report configuration for the output format
func CreateReportConfig(format string) (*reporter.ReportConfig, error) {
	cfg := reporter.DefaultReportConfig()
	cfg.Format = reporter.OutputFormat(strings.ToLower(format))

	switch cfg.Format {
	case reporter.FormatConsole:
		cfg.IncludeLines = true
		cfg.IncludeWarnings = true
	case reporter.FormatJSON:
		// JSON carries the whole result
		cfg.MaxListItems = 0
	case reporter.FormatCSV:
		cfg.CSVHeaders = true
		cfg.IncludeTanks = false
		cfg.IncludeCash = false
	default:
		return nil, fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", format)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
