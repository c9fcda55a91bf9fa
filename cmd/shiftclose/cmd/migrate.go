package cmd

import (
	"context"

	"fuel-shift-reconciliation/internal/parsers"
	"fuel-shift-reconciliation/internal/store/gormstore"
	"fuel-shift-reconciliation/pkg/errors"
	"fuel-shift-reconciliation/pkg/logger"

	"github.com/spf13/cobra"
)

var seedFile string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Migrate creates the closure tables in the configured database and
optionally loads master data (locations, products, tanks, payment methods
and cash ledgers) from a fixtures file. Existing rows with the same id are
updated.

Examples:
  shiftclose migrate
  SHIFTCLOSE_DATABASE_DRIVER=sqlite SHIFTCLOSE_DATABASE_DSN=shifts.db \
    shiftclose migrate --fixtures station.json`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if seedFile == "" {
			return nil
		}
		return validateFileExists(seedFile, "fixtures file")
	},
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringVar(&seedFile, "fixtures", "", "master data JSON file to load after migrating")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.GetGlobalLogger().WithComponent("migrate")

	var fixtures *parsers.Fixtures
	if seedFile != "" {
		var err error
		if fixtures, err = parsers.LoadFixtures(seedFile); err != nil {
			return err
		}
	}

	db, err := openDatabase(log)
	if err != nil {
		return err
	}
	st := gormstore.New(db)
	defer st.Close()

	if err := gormstore.Migrate(ctx, db); err != nil {
		return errors.PersistenceError(errors.CodeMigrationFailed, "migrate schema", err)
	}
	log.Info("Schema is up to date")

	if fixtures == nil {
		return nil
	}
	if err := gormstore.Seed(ctx, db, fixtures.Records()...); err != nil {
		return errors.PersistenceError(errors.CodeTransactionFailed, "load fixtures", err)
	}
	log.WithFields(logger.Fields{
		"file":            seedFile,
		"locations":       len(fixtures.Locations),
		"products":        len(fixtures.Products),
		"tanks":           len(fixtures.Tanks),
		"payment_methods": len(fixtures.PaymentMethods),
		"cash_ledgers":    len(fixtures.CashLedgers),
	}).Info("Fixtures loaded")
	return nil
}
