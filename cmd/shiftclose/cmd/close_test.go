package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fuel-shift-reconciliation/internal/lock"
	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/store/gormstore"
	"fuel-shift-reconciliation/pkg/errors"
	"fuel-shift-reconciliation/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFixtures = `{
  "locations": [{"id": 1, "name": "North"}],
  "products": [
    {"id": 10, "code": "REG", "name": "Regular", "unit": "litros", "is_fuel": true, "sale_price": "4.00"},
    {"id": 11, "code": "OIL", "name": "Motor oil", "unit": "unidades", "sale_price": "25", "current_stock": "40"}
  ],
  "tanks": [{"id": 20, "location_id": 1, "product_id": 10, "code": "T1", "capacity": "10000", "max_height": "200", "current_level": "5000"}],
  "payment_methods": [{"id": 30, "code": "CASH", "bucket": "cash"}, {"id": 31, "code": "VISA", "bucket": "card"}],
  "cash_ledgers": [{"id": 40, "location_id": 1, "balance": "100"}]
}`

const testRequest = `{
  "location_id": 1,
  "operator_id": 7,
  "shift_start": "2024-03-01T22:00:00Z",
  "shift_end": "2024-03-02T06:00:00Z",
  "product_sales": [
    {"product_code": "OIL", "unit": "unidades", "quantity": "2", "payments": [{"method": "CASH", "amount": "50"}]}
  ]
}`

const testMeters = `dispenser_id,hose_id,product_code,previous_reading,current_reading,unit,payment_method,payment_amount
D1,H1,REG,1000.00,1050.00,galones,CASH,757.08
`

func TestMain(m *testing.M) {
	logger.SetGlobalLogger(logger.Discard())
	os.Exit(m.Run())
}

type closeFiles struct {
	dir      string
	request  string
	fixtures string
	meters   string
}

func writeCloseFiles(t *testing.T) closeFiles {
	t.Helper()
	dir := t.TempDir()
	files := closeFiles{
		dir:      dir,
		request:  filepath.Join(dir, "request.json"),
		fixtures: filepath.Join(dir, "fixtures.json"),
		meters:   filepath.Join(dir, "hoses.csv"),
	}
	require.NoError(t, os.WriteFile(files.request, []byte(testRequest), 0644))
	require.NoError(t, os.WriteFile(files.fixtures, []byte(testFixtures), 0644))
	require.NoError(t, os.WriteFile(files.meters, []byte(testMeters), 0644))
	return files
}

// setConfig overrides viper keys for the duration of the test. viper cannot
// drop an override, so cleanup sets each key back to its previous value.
func setConfig(t *testing.T, values map[string]interface{}) {
	t.Helper()
	previous := make(map[string]interface{}, len(values))
	for key, value := range values {
		previous[key] = viper.Get(key)
		viper.Set(key, value)
	}
	t.Cleanup(func() {
		for key, value := range previous {
			viper.Set(key, value)
		}
	})
}

func runCloseCommand(t *testing.T) (string, error) {
	t.Helper()
	if err := validateCloseFlags(closeCmd, nil); err != nil {
		return "", err
	}
	var out bytes.Buffer
	closeCmd.SetOut(&out)
	t.Cleanup(func() { closeCmd.SetOut(nil) })
	err := runClose(closeCmd, nil)
	return out.String(), err
}

func readResult(t *testing.T, path string) models.ClosureResult {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var result models.ClosureResult
	require.NoError(t, json.Unmarshal(data, &result))
	return result
}

func TestValidateFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	validFile := filepath.Join(tmpDir, "valid.json")
	require.NoError(t, os.WriteFile(validFile, []byte("{}"), 0644))

	tests := []struct {
		name        string
		filePath    string
		expectError bool
	}{
		{name: "valid file", filePath: validFile},
		{name: "empty path", filePath: "", expectError: true},
		{name: "non-existent file", filePath: "/non/existent/file.json", expectError: true},
		{name: "directory instead of file", filePath: tmpDir, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFileExists(tt.filePath, "test file")
			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateCloseFlags(t *testing.T) {
	files := writeCloseFiles(t)

	tests := []struct {
		name    string
		values  map[string]interface{}
		wantErr string
	}{
		{
			name:    "missing request",
			values:  map[string]interface{}{},
			wantErr: "request is required",
		},
		{
			name:    "request does not exist",
			values:  map[string]interface{}{"request": filepath.Join(files.dir, "nope.json")},
			wantErr: "does not exist",
		},
		{
			name:    "invalid output format",
			values:  map[string]interface{}{"request": files.request, "output-format": "xml"},
			wantErr: "invalid output format",
		},
		{
			name:    "invalid shift start",
			values:  map[string]interface{}{"request": files.request, "shift-start": "yesterday"},
			wantErr: "invalid shift-start",
		},
		{
			name:    "missing output directory",
			values:  map[string]interface{}{"request": files.request, "output-file": filepath.Join(files.dir, "missing", "out.json")},
			wantErr: "output directory does not exist",
		},
		{
			name: "valid",
			values: map[string]interface{}{
				"request": files.request, "meters": files.meters, "fixtures": files.fixtures,
				"output-format": "JSON", "shift-end": "2024-03-02T07:00:00Z",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setConfig(t, tt.values)
			err := validateCloseFlags(closeCmd, nil)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "json", outputFormat)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetConfigRestoresPreviousValues(t *testing.T) {
	before := viper.GetString("output-format")
	require.Equal(t, "console", before)

	t.Run("override", func(t *testing.T) {
		setConfig(t, map[string]interface{}{"output-format": "xml", "shift-start": "yesterday"})
		assert.Equal(t, "xml", viper.GetString("output-format"))
	})

	assert.Equal(t, before, viper.GetString("output-format"))
	assert.Empty(t, viper.GetString("shift-start"))

	files := writeCloseFiles(t)
	setConfig(t, map[string]interface{}{"request": files.request})
	require.NoError(t, validateCloseFlags(closeCmd, nil))
	assert.Equal(t, "console", outputFormat)
}

func TestRunClose_FixturesAndMeters(t *testing.T) {
	files := writeCloseFiles(t)
	output := filepath.Join(files.dir, "closure.json")
	setConfig(t, map[string]interface{}{
		"request":       files.request,
		"meters":        files.meters,
		"fixtures":      files.fixtures,
		"output-format": "json",
		"output-file":   output,
	})

	_, err := runCloseCommand(t)
	require.NoError(t, err)

	result := readResult(t, output)
	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Empty(t, result.Errors)
	assert.NotEmpty(t, result.Reference)
	require.Len(t, result.Dispensers, 1)
	assert.Equal(t, "D1", result.Dispensers[0].DispenserID)
	assert.True(t, result.Financial.Balanced)
	assert.Equal(t, 2, result.Transactions.Computed)
}

func TestRunClose_FailedClosureStillReports(t *testing.T) {
	files := writeCloseFiles(t)
	setConfig(t, map[string]interface{}{
		"request":   files.request,
		"fixtures":  files.fixtures,
		"shift-end": "2024-03-01T21:00:00Z",
	})

	out, err := runCloseCommand(t)
	require.Error(t, err)

	rerr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeInvalidRequest, rerr.Code)
	assert.Contains(t, out, "Status:     FAILED")
	assert.Contains(t, out, "invalid_request")
}

func TestRunClose_UnknownLocation(t *testing.T) {
	files := writeCloseFiles(t)
	request := strings.Replace(testRequest, `"location_id": 1`, `"location_id": 99`, 1)
	require.NoError(t, os.WriteFile(files.request, []byte(request), 0644))
	setConfig(t, map[string]interface{}{
		"request":       files.request,
		"fixtures":      files.fixtures,
		"output-format": "csv",
	})

	_, err := runCloseCommand(t)
	rerr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CategoryNotFound, rerr.Category)
	assert.Equal(t, 5, rerr.GetExitCode())
}

func TestMigrateThenCloseAgainstDatabase(t *testing.T) {
	files := writeCloseFiles(t)
	dbPath := filepath.Join(files.dir, "shifts.db")
	setConfig(t, map[string]interface{}{
		"database.driver":    "sqlite",
		"database.dsn":       dbPath,
		"database.log_level": "silent",
	})

	seedFile = files.fixtures
	t.Cleanup(func() { seedFile = "" })
	require.NoError(t, runMigrate(migrateCmd, nil))

	output := filepath.Join(files.dir, "closure.json")
	setConfig(t, map[string]interface{}{
		"request":       files.request,
		"meters":        files.meters,
		"output-format": "json",
		"output-file":   output,
	})
	_, err := runCloseCommand(t)
	require.NoError(t, err)
	result := readResult(t, output)
	assert.Equal(t, models.StatusSuccess, result.Status)
	require.NotNil(t, result.ShiftID)

	// closing the same shift again is rejected
	_, err = runCloseCommand(t)
	rerr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeDuplicateShift, rerr.Code)
	assert.Equal(t, models.StatusFailed, readResult(t, output).Status)

	db, err := gormstore.Open(gormstore.Config{Driver: "sqlite", DSN: dbPath, LogLevel: "silent"}, logger.Discard())
	require.NoError(t, err)
	st := gormstore.New(db)
	defer st.Close()

	oil, err := st.FindProductByCode(context.Background(), "OIL")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("38").Equal(oil.CurrentStock), "stock %s", oil.CurrentStock)
}

func TestOpenStoreRequiresDSN(t *testing.T) {
	_, _, err := openStore("", logger.Discard())
	rerr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CategoryConfiguration, rerr.Category)
	assert.Equal(t, errors.CodeMissingConfig, rerr.Code)
	assert.NotEmpty(t, rerr.Suggestion)
}

func TestNewLockerWithoutRedis(t *testing.T) {
	locker, closeLocker, err := newLocker(context.Background(), logger.Discard())
	require.NoError(t, err)
	defer closeLocker()
	assert.IsType(t, lock.NopLocker{}, locker)
}

func TestCloseCommandHelp(t *testing.T) {
	for _, name := range []string{"request", "meters", "fixtures", "output-format", "output-file", "shift-start", "shift-end", "skip-invalid-rows"} {
		if closeCmd.Flags().Lookup(name) == nil {
			t.Errorf("%s flag not found", name)
		}
	}

	var helpOutput bytes.Buffer
	closeCmd.SetOut(&helpOutput)
	defer closeCmd.SetOut(nil)
	closeCmd.Help()

	for _, section := range []string{"Usage:", "Examples:", "Flags:", "--request", "--meters"} {
		if !strings.Contains(helpOutput.String(), section) {
			t.Errorf("help text should contain '%s'", section)
		}
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"close", "migrate", "serve", "version"} {
		assert.True(t, names[name], "missing %s command", name)
	}
}

func TestVersionString(t *testing.T) {
	SetVersionInfo("dev", "abc123", "2024-03-01")
	assert.Equal(t, "dev (commit abc123, built 2024-03-01)", rootCmd.Version)

	SetVersionInfo("1.2.0", "abc123", "2024-03-01")
	assert.Equal(t, "1.2.0", rootCmd.Version)

	var out bytes.Buffer
	versionCmd.SetOut(&out)
	defer versionCmd.SetOut(nil)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "shiftclose 1.2.0")
	assert.Contains(t, out.String(), "commit: abc123")
}

func TestRunClose_SampleData(t *testing.T) {
	testdata := filepath.Join("..", "..", "..", "testdata")
	setConfig(t, map[string]interface{}{
		"request":  filepath.Join(testdata, "request.json"),
		"meters":   filepath.Join(testdata, "hoses.csv"),
		"fixtures": filepath.Join(testdata, "fixtures.json"),
	})

	out, err := runCloseCommand(t)
	require.NoError(t, err)
	assert.Contains(t, out, "DISPENSERS")
	assert.Contains(t, out, "D1-H1")
	assert.Contains(t, out, "D2-H1")
	assert.Contains(t, out, "CASH LEDGER")
}
