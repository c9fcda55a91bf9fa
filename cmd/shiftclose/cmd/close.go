package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"fuel-shift-reconciliation/cmd/shiftclose/config"
	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/parsers"
	"fuel-shift-reconciliation/internal/reconciler"
	"fuel-shift-reconciliation/internal/reporter"
	"fuel-shift-reconciliation/pkg/errors"
	"fuel-shift-reconciliation/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Resolved close settings. The flags themselves are read through viper, so
// these never back a flag.
var (
	requestFile  string
	metersFile   string
	fixturesFile string
	outputFormat string
	outputFile   string
	shiftStart   string
	shiftEnd     string
)

// closeCmd represents the close command
var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Close a fuel station shift",
	Long: `Close reconciles one shift: it computes dispensed volumes per hose, values
product sales, levels tanks, matches declared payments against computed sales
and updates the location cash ledger. Everything is written in one transaction.

Line-level problems are reported without aborting the closure. A duplicate
shift, an unknown location or a store failure fail the closure and nothing is
written.

The request is a JSON document. Hose readings may instead come from a CSV
file (--meters) with dispenser_id, hose_id, product_code, previous_reading,
current_reading and unit columns; they replace hoses with the same id.

Examples:
  # Close against master data loaded from a fixtures file
  shiftclose close --request shift.json --fixtures station.json

  # Close against the configured database, readings from the meter export
  shiftclose close --request shift.json --meters hoses.csv

  # Machine readable output
  shiftclose close --request shift.json --fixtures station.json \
    --output-format json --output-file closure.json

  # Override the shift window from the request
  shiftclose close --request shift.json --fixtures station.json \
    --shift-start 2024-03-01T06:00:00Z --shift-end 2024-03-01T14:00:00Z`,

	PreRunE: validateCloseFlags,
	RunE:    runClose,
}

func init() {
	rootCmd.AddCommand(closeCmd)

	closeCmd.Flags().StringP("request", "r", "", "path to the shift closure request JSON file (required)")
	closeCmd.Flags().StringP("meters", "m", "", "path to a hose meter readings CSV file")
	closeCmd.Flags().String("fixtures", "", "master data JSON file; closes against an in-memory store instead of the database")

	closeCmd.Flags().StringP("output-format", "f", "console", "output format: console, json, csv")
	closeCmd.Flags().StringP("output-file", "o", "", "output file path (default: stdout)")

	closeCmd.Flags().String("shift-start", "", "override the request shift start (RFC3339)")
	closeCmd.Flags().String("shift-end", "", "override the request shift end (RFC3339)")
	closeCmd.Flags().Bool("skip-invalid-rows", false, "skip invalid meter CSV rows instead of failing")

	closeCmd.MarkFlagRequired("request")

	viper.BindPFlag("request", closeCmd.Flags().Lookup("request"))
	viper.BindPFlag("meters", closeCmd.Flags().Lookup("meters"))
	viper.BindPFlag("fixtures", closeCmd.Flags().Lookup("fixtures"))
	viper.BindPFlag("output-format", closeCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output-file", closeCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("shift-start", closeCmd.Flags().Lookup("shift-start"))
	viper.BindPFlag("shift-end", closeCmd.Flags().Lookup("shift-end"))
	viper.BindPFlag("csv.skip_invalid_rows", closeCmd.Flags().Lookup("skip-invalid-rows"))
}

func validateCloseFlags(cmd *cobra.Command, args []string) error {
	requestFile = viper.GetString("request")
	metersFile = viper.GetString("meters")
	fixturesFile = viper.GetString("fixtures")
	outputFormat = strings.ToLower(viper.GetString("output-format"))
	outputFile = viper.GetString("output-file")
	shiftStart = viper.GetString("shift-start")
	shiftEnd = viper.GetString("shift-end")

	if requestFile == "" {
		return fmt.Errorf("request is required")
	}
	if err := validateFileExists(requestFile, "request file"); err != nil {
		return err
	}
	if metersFile != "" {
		if err := validateFileExists(metersFile, "meters file"); err != nil {
			return err
		}
	}
	if fixturesFile != "" {
		if err := validateFileExists(fixturesFile, "fixtures file"); err != nil {
			return err
		}
	}

	if !reporter.OutputFormat(outputFormat).IsValid() {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", outputFormat)
	}

	for name, value := range map[string]string{"shift-start": shiftStart, "shift-end": shiftEnd} {
		if value == "" {
			continue
		}
		if _, err := models.ParseTimeWithFormats(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("output directory does not exist: %s", dir)
			}
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", description, err)
	}
	file.Close()

	return nil
}

func runClose(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.GetGlobalLogger().WithComponent("close")

	log.WithFields(logger.Fields{
		"request":       requestFile,
		"meters":        metersFile,
		"fixtures":      fixturesFile,
		"output_format": outputFormat,
		"output_file":   outputFile,
	}).Debug("Starting shift closure")

	request, err := loadCloseRequest(ctx, log)
	if err != nil {
		return err
	}

	reconcilerConfig, err := config.CreateReconcilerConfig(viper.GetViper())
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", nil, err)
	}
	reportConfig, err := config.CreateReportConfig(outputFormat)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", outputFormat, err)
	}

	st, closeStore, err := openStore(fixturesFile, log)
	if err != nil {
		return err
	}
	defer closeStore()

	locker, closeLocker, err := newLocker(ctx, log)
	if err != nil {
		return err
	}
	defer closeLocker()

	engine, err := reconciler.NewEngine(st,
		reconciler.WithConfig(reconcilerConfig),
		reconciler.WithLocker(locker),
		reconciler.WithObserver(reconciler.NewLoggingObserver(log)),
	)
	if err != nil {
		return err
	}

	result, closeErr := engine.Close(ctx, request)

	generator, err := reporter.NewSafeReportGenerator(reportConfig, log)
	if err != nil {
		return err
	}
	writer, closeWriter, err := openOutput(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	reportErr := generator.GenerateReportSafely(result, writer)
	closeWriter()

	if closeErr != nil {
		return closeErr
	}
	if reportErr != nil {
		return reportErr
	}

	log.WithFields(logger.Fields{
		"shift_id":  result.ID,
		"reference": result.Reference,
		"status":    result.Status,
	}).Info("Shift closed")
	return nil
}

// loadCloseRequest reads the request and applies the meter file and the
// shift window overrides.
func loadCloseRequest(ctx context.Context, log logger.Logger) (*models.ShiftClosureRequest, error) {
	request, err := parsers.LoadRequest(requestFile)
	if err != nil {
		return nil, err
	}

	if metersFile != "" {
		csvConfig, err := config.CreateHoseCSVConfig(viper.GetViper())
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "csv", nil, err)
		}
		parser, err := parsers.NewHoseReadingParser(csvConfig)
		if err != nil {
			return nil, err
		}
		readings, stats, err := parser.ParseFile(ctx, metersFile)
		if err != nil {
			return nil, err
		}
		if stats.HasErrors() {
			log.WithFields(logger.Fields{
				"file":    metersFile,
				"skipped": stats.ErrorCount,
				"samples": stats.GetSampleErrors(3),
			}).Warn("Skipped invalid meter rows")
		}
		request.Dispensers = parsers.MergeDispensers(request.Dispensers, readings)
	}

	if shiftStart != "" {
		t, err := models.ParseTimeWithFormats(shiftStart)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidTime, "shift-start", shiftStart, err)
		}
		request.ShiftStart = t
	}
	if shiftEnd != "" {
		t, err := models.ParseTimeWithFormats(shiftEnd)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidTime, "shift-end", shiftEnd, err)
		}
		request.ShiftEnd = t
	}
	return request, nil
}

func openOutput(stdout io.Writer) (io.Writer, func(), error) {
	if outputFile == "" {
		return stdout, func() {}, nil
	}
	file, err := os.Create(outputFile)
	if err != nil {
		code := errors.CodeFileNotFound
		if os.IsPermission(err) {
			code = errors.CodeFilePermission
		}
		return nil, nil, errors.FileError(code, outputFile, err)
	}
	return file, func() { file.Close() }, nil
}
