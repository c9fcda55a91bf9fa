package cmd

import (
	"context"

	"fuel-shift-reconciliation/cmd/shiftclose/config"
	"fuel-shift-reconciliation/internal/lock"
	"fuel-shift-reconciliation/internal/parsers"
	"fuel-shift-reconciliation/internal/store"
	"fuel-shift-reconciliation/internal/store/gormstore"
	"fuel-shift-reconciliation/internal/store/memory"
	"fuel-shift-reconciliation/pkg/errors"
	"fuel-shift-reconciliation/pkg/logger"

	"github.com/spf13/viper"
	"gorm.io/gorm"
)

// openStore returns an in-memory store seeded from fixturesPath, or the
// configured database when fixturesPath is empty.
func openStore(fixturesPath string, log logger.Logger) (store.Store, func(), error) {
	if fixturesPath != "" {
		fixtures, err := parsers.LoadFixtures(fixturesPath)
		if err != nil {
			return nil, nil, err
		}
		st := memory.New()
		fixtures.Apply(st)
		log.WithFields(logger.Fields{
			"fixtures":  fixturesPath,
			"locations": len(fixtures.Locations),
			"products":  len(fixtures.Products),
			"tanks":     len(fixtures.Tanks),
		}).Debug("Using in-memory store")
		return st, func() {}, nil
	}

	db, err := openDatabase(log)
	if err != nil {
		return nil, nil, err
	}
	st := gormstore.New(db)
	return st, func() {
		if err := st.Close(); err != nil {
			log.WithError(err).Warn("Closing database failed")
		}
	}, nil
}

func openDatabase(log logger.Logger) (*gorm.DB, error) {
	dbConfig, err := config.CreateStoreConfig(viper.GetViper())
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "database", nil, err)
	}
	if err := dbConfig.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "database", dbConfig.Driver, err).
			WithSuggestion("Set database.dsn (SHIFTCLOSE_DATABASE_DSN) or pass --fixtures to use an in-memory store")
	}

	db, err := gormstore.Open(dbConfig, log)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeConnectionFailed, "open database", err)
	}
	return db, nil
}

// newLocker connects to Redis when redis.address is set.
func newLocker(ctx context.Context, log logger.Logger) (lock.Locker, func(), error) {
	lockConfig, err := config.CreateLockConfig(viper.GetViper())
	if err != nil {
		return nil, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "redis", nil, err)
	}
	if !lockConfig.Enabled() {
		return lock.NopLocker{}, func() {}, nil
	}

	rdb, err := lock.Connect(ctx, lockConfig)
	if err != nil {
		return nil, nil, errors.PersistenceError(errors.CodeConnectionFailed, "connect redis", err).
			WithSuggestion("Check redis.address or unset it to close shifts without a distributed lock")
	}
	log.WithField("address", lockConfig.Address).Debug("Using Redis shift lock")
	return lock.NewRedisLocker(rdb, lockConfig.LockTTL), func() { _ = rdb.Close() }, nil
}
