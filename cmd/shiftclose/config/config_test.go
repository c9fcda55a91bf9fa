package config

import (
	"testing"
	"time"

	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/reporter"
	"fuel-shift-reconciliation/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestCreateStoreConfig(t *testing.T) {
	v := newViper()
	v.Set("database.driver", "SQLite")
	v.Set("database.dsn", "shifts.db")

	cfg, err := CreateStoreConfig(v)
	if err != nil {
		t.Fatalf("failed to create store config: %v", err)
	}

	if cfg.Driver != "sqlite" {
		t.Errorf("expected driver 'sqlite', got '%s'", cfg.Driver)
	}
	if cfg.DSN != "shifts.db" {
		t.Errorf("expected dsn 'shifts.db', got '%s'", cfg.DSN)
	}
	// untouched keys keep their defaults
	if cfg.MaxOpenConns != 50 {
		t.Errorf("expected MaxOpenConns 50, got %d", cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("expected ConnMaxLifetime 5m, got %s", cfg.ConnMaxLifetime)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("store config should be valid: %v", err)
	}
}

func TestCreateStoreConfigFromEnvironment(t *testing.T) {
	t.Setenv("SHIFTCLOSE_DATABASE_DSN", "user:pass@tcp(db:3306)/shifts")
	t.Setenv("SHIFTCLOSE_DATABASE_MAX_IDLE_CONNS", "3")

	v := newViper()
	BindEnv(v)

	cfg, err := CreateStoreConfig(v)
	if err != nil {
		t.Fatalf("failed to create store config: %v", err)
	}
	if cfg.DSN != "user:pass@tcp(db:3306)/shifts" {
		t.Errorf("expected dsn from environment, got '%s'", cfg.DSN)
	}
	if cfg.MaxIdleConns != 3 {
		t.Errorf("expected MaxIdleConns 3, got %d", cfg.MaxIdleConns)
	}
	if cfg.Driver != "mysql" {
		t.Errorf("expected default driver 'mysql', got '%s'", cfg.Driver)
	}
}

func TestCreateLockConfig(t *testing.T) {
	v := newViper()

	cfg, err := CreateLockConfig(v)
	if err != nil {
		t.Fatalf("failed to create lock config: %v", err)
	}
	if cfg.Enabled() {
		t.Error("lock should be disabled without an address")
	}
	if cfg.LockTTL != 30*time.Second {
		t.Errorf("expected LockTTL 30s, got %s", cfg.LockTTL)
	}

	v.Set("redis.address", "localhost:6379")
	v.Set("redis.lock_ttl", "1m")
	cfg, err = CreateLockConfig(v)
	if err != nil {
		t.Fatalf("failed to create lock config: %v", err)
	}
	if !cfg.Enabled() {
		t.Error("lock should be enabled with an address")
	}
	if cfg.LockTTL != time.Minute {
		t.Errorf("expected LockTTL 1m, got %s", cfg.LockTTL)
	}

	v.Set("redis.lock_ttl", "-1s")
	if _, err := CreateLockConfig(v); err == nil {
		t.Error("expected error for negative lock ttl")
	}
}

func TestCreateServerConfig(t *testing.T) {
	v := newViper()

	cfg, err := CreateServerConfig(v)
	if err != nil {
		t.Fatalf("failed to create server config: %v", err)
	}
	if cfg.Address != ":8080" {
		t.Errorf("expected address ':8080', got '%s'", cfg.Address)
	}
	if cfg.ShutdownTimeout != 15*time.Second {
		t.Errorf("expected ShutdownTimeout 15s, got %s", cfg.ShutdownTimeout)
	}

	v.Set("server.address", "")
	if _, err := CreateServerConfig(v); err == nil {
		t.Error("expected error for empty address")
	}
}

func TestCreateLoggerConfig(t *testing.T) {
	v := newViper()

	cfg, err := CreateLoggerConfig(v, false)
	if err != nil {
		t.Fatalf("failed to create logger config: %v", err)
	}
	if cfg.Level != logger.InfoLevel {
		t.Errorf("expected level info, got %s", cfg.Level)
	}

	cfg, err = CreateLoggerConfig(v, true)
	if err != nil {
		t.Fatalf("failed to create logger config: %v", err)
	}
	if cfg.Level != logger.DebugLevel {
		t.Errorf("verbose should force debug level, got %s", cfg.Level)
	}

	v.Set("log.format", "JSON")
	if cfg, err = CreateLoggerConfig(v, false); err != nil || cfg.Format != logger.JSONFormat {
		t.Errorf("expected json format, got %v (err %v)", cfg, err)
	}

	v.Set("log.output", "file")
	if _, err := CreateLoggerConfig(v, false); err == nil {
		t.Error("expected error for file output without a path")
	}
}

func TestCreateReconcilerConfig(t *testing.T) {
	v := newViper()

	cfg, err := CreateReconcilerConfig(v)
	if err != nil {
		t.Fatalf("failed to create reconciler config: %v", err)
	}
	if !cfg.Tolerance.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("expected tolerance 0.01, got %s", cfg.Tolerance)
	}
	if !cfg.Matching.EnableNoteMatching {
		t.Error("expected note matching to be enabled by default")
	}
	if len(cfg.ConsolidatedLocations) != 0 || len(cfg.BucketOverrides) != 0 {
		t.Error("expected no consolidated locations or bucket overrides by default")
	}

	v.Set("matching.amount_tolerance", "0.05")
	v.Set("matching.note_matching", false)
	v.Set("payments.tolerance", "0.10")
	v.Set("payments.consolidated_locations", []int{3, 4})
	v.Set("payments.buckets", map[string]string{"yape": "Transfer"})

	cfg, err = CreateReconcilerConfig(v)
	if err != nil {
		t.Fatalf("failed to create reconciler config: %v", err)
	}
	if !cfg.Matching.AmountTolerance.Equal(decimal.RequireFromString("0.05")) {
		t.Errorf("expected amount tolerance 0.05, got %s", cfg.Matching.AmountTolerance)
	}
	if cfg.Matching.EnableNoteMatching {
		t.Error("expected note matching to be disabled")
	}
	if !cfg.Tolerance.Equal(decimal.RequireFromString("0.10")) {
		t.Errorf("expected tolerance 0.10, got %s", cfg.Tolerance)
	}
	if len(cfg.ConsolidatedLocations) != 2 || cfg.ConsolidatedLocations[1] != 4 {
		t.Errorf("unexpected consolidated locations %v", cfg.ConsolidatedLocations)
	}
	if got := cfg.BucketOverrides[models.NormalizeMethodCode("yape")]; got != models.BucketTransfer {
		t.Errorf("expected YAPE to map to transfer, got %q", got)
	}
}

func TestCreateReconcilerConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
	}{
		{name: "non-numeric tolerance", key: "payments.tolerance", value: "a lot"},
		{name: "negative tolerance", key: "matching.quantity_tolerance", value: "-0.5"},
		{name: "invalid location id", key: "payments.consolidated_locations", value: []int{0}},
		{name: "unknown bucket", key: "payments.buckets", value: map[string]string{"CASH": "coins"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			v.Set(tt.key, tt.value)
			if _, err := CreateReconcilerConfig(v); err == nil {
				t.Errorf("expected error for %s=%v", tt.key, tt.value)
			}
		})
	}
}

func TestCreateHoseCSVConfig(t *testing.T) {
	v := newViper()
	v.Set("csv.delimiter", ";")
	v.Set("csv.default_unit", "galones")
	v.Set("csv.skip_invalid_rows", true)

	cfg, err := CreateHoseCSVConfig(v)
	if err != nil {
		t.Fatalf("failed to create csv config: %v", err)
	}
	if cfg.Parse.Delimiter != ';' {
		t.Errorf("expected delimiter ';', got '%c'", cfg.Parse.Delimiter)
	}
	if cfg.DefaultUnit != "galones" || !cfg.SkipInvalidRows {
		t.Errorf("unexpected csv config %+v", cfg)
	}

	v.Set("csv.delimiter", ";;")
	if _, err := CreateHoseCSVConfig(v); err == nil {
		t.Error("expected error for multi-character delimiter")
	}
}

func TestCreateReportConfig(t *testing.T) {
	tests := []struct {
		name        string
		format      string
		expected    reporter.OutputFormat
		expectError bool
	}{
		{name: "console format", format: "console", expected: reporter.FormatConsole},
		{name: "json format", format: "json", expected: reporter.FormatJSON},
		{name: "upper case csv", format: "CSV", expected: reporter.FormatCSV},
		{name: "invalid format", format: "xml", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := CreateReportConfig(tt.format)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for format '%s'", tt.format)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if config.Format != tt.expected {
				t.Errorf("expected format %s, got %s", tt.expected, config.Format)
			}
			if tt.expected == reporter.FormatJSON && config.MaxListItems != 0 {
				t.Error("json output should not truncate lists")
			}
		})
	}
}
