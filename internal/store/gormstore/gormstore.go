// Package gormstore implements the store ports on a relational database
// through gorm. MySQL is the production target; sqlite is accepted for local
// runs and tests.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/store"
	"fuel-shift-reconciliation/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Config describes the database connection.
type Config struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
	Tracing         bool          `mapstructure:"tracing"`
}

// DefaultConfig returns the pool settings used in production.
func DefaultConfig() Config {
	return Config{
		Driver:          "mysql",
		MaxOpenConns:    50,
		MaxIdleConns:    25,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
		LogLevel:        "error",
		SlowThreshold:   time.Second,
	}
}

// Validate checks that the configuration can open a connection.
func (c Config) Validate() error {
	switch strings.ToLower(c.Driver) {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	if strings.TrimSpace(c.DSN) == "" {
		return errors.New("database dsn is required")
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return errors.New("connection pool sizes cannot be negative")
	}
	return nil
}

// Open connects to the database and tunes the connection pool.
func Open(cfg Config, log logger.Logger) (*gorm.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogger(log, ParseLogLevel(cfg.LogLevel), cfg.SlowThreshold),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
	}

	if sqlDB, derr := db.DB(); derr == nil && sqlDB != nil {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
		if cfg.ConnMaxIdleTime > 0 {
			sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
		}
	}

	if cfg.Tracing {
		if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
			log.WithError(pluginErr).Warn("database connected but the tracing plugin could not be installed")
		}
	}
	return db, nil
}

// Migrate creates or updates every table the closure engine uses.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("auto-migrating schema: %w", err)
	}
	return nil
}

// Seed upserts catalog rows in one transaction. Each record is a pointer to
// a slice of models; rows are matched on their primary key.
func Seed(ctx context.Context, db *gorm.DB, records ...interface{}) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rows := range records {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(rows).Error; err != nil {
				return fmt.Errorf("seeding %T: %w", rows, TranslateError(err))
			}
		}
		return nil
	})
}

// Store implements store.Store on a gorm connection.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// New wraps an open connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func first[T any](ctx context.Context, db *gorm.DB, dest *T, query string, args ...interface{}) (*T, error) {
	err := db.WithContext(ctx).Where(query, args...).Order("id ASC").First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return dest, nil
}

func (s *Store) FindLocation(ctx context.Context, id uint) (*models.Location, error) {
	return first(ctx, s.db, &models.Location{}, "id = ?", id)
}

func (s *Store) FindProductByCode(ctx context.Context, code string) (*models.Product, error) {
	return first(ctx, s.db, &models.Product{}, "code = ? AND active = ?", code, true)
}

func (s *Store) FindActiveTank(ctx context.Context, productID, locationID uint) (*models.Tank, error) {
	return first(ctx, s.db, &models.Tank{}, "product_id = ? AND location_id = ? AND active = ?", productID, locationID, true)
}

func (s *Store) FindTank(ctx context.Context, id uint) (*models.Tank, error) {
	return first(ctx, s.db, &models.Tank{}, "id = ?", id)
}

func (s *Store) FindMethodByCode(ctx context.Context, code string) (*models.PaymentMethod, error) {
	return first(ctx, s.db, &models.PaymentMethod{}, "LOWER(code) = ? AND active = ?", models.NormalizeMethodCode(code), true)
}

func (s *Store) FindShiftByKey(ctx context.Context, key models.ShiftKey) (*models.ShiftRecord, error) {
	return first(ctx, s.db, &models.ShiftRecord{},
		"location_id = ? AND shift_date = ? AND start_time = ? AND end_time = ?",
		key.LocationID, key.Date, key.StartTime, key.EndTime)
}

func (s *Store) ConsolidatedPaymentMode(ctx context.Context, locationID uint) (bool, error) {
	loc, err := s.FindLocation(ctx, locationID)
	if err != nil {
		return false, err
	}
	return loc.ConsolidatedPaymentMode, nil
}

// WithinTransaction runs fn in one database transaction. Driver errors
// escaping fn are translated into the store sentinels.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context, uow store.UnitOfWork) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &unitOfWork{tx: tx})
	})
	return TranslateError(err)
}

type unitOfWork struct {
	tx *gorm.DB
}

func (u *unitOfWork) CreateShift(ctx context.Context, shift *models.ShiftRecord) error {
	if err := u.tx.WithContext(ctx).Create(shift).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return store.ErrDuplicateShift
		}
		return err
	}
	return nil
}

func (u *unitOfWork) SaveShiftPayload(ctx context.Context, shiftID uint, payload *models.ClosureResult) error {
	res := u.tx.WithContext(ctx).Model(&models.ShiftRecord{ID: shiftID}).
		Select("Payload").
		Updates(&models.ShiftRecord{Payload: payload})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (u *unitOfWork) AppendMeterHistory(ctx context.Context, records []models.MeterHistoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	return u.tx.WithContext(ctx).Create(&records).Error
}

func (u *unitOfWork) AppendSalesHistory(ctx context.Context, records []models.SalesHistoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	return u.tx.WithContext(ctx).Create(&records).Error
}

func (u *unitOfWork) AppendPaymentBreakdown(ctx context.Context, records []models.PaymentBreakdownRecord) error {
	if len(records) == 0 {
		return nil
	}
	return u.tx.WithContext(ctx).Create(&records).Error
}

// AdjustStock changes stock with a single guarded statement so a decrement
// never drives stock below zero, even under concurrent closures.
func (u *unitOfWork) AdjustStock(ctx context.Context, productID uint, qty decimal.Decimal, dir store.Direction) error {
	if qty.IsZero() {
		return nil
	}
	q := u.tx.WithContext(ctx).Model(&models.Product{}).Where("id = ?", productID)
	expr := gorm.Expr("current_stock + ?", qty)
	if dir == store.Decrement {
		q = q.Where("current_stock >= ?", qty)
		expr = gorm.Expr("current_stock - ?", qty)
	}

	res := q.Update("current_stock", expr)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := u.tx.WithContext(ctx).Model(&models.Product{}).Where("id = ?", productID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return store.ErrNotFound
	}
	return store.ErrInsufficientStock
}

func (u *unitOfWork) UpdateTankLevel(ctx context.Context, tankID uint, level, occupancy decimal.Decimal) error {
	res := u.tx.WithContext(ctx).Model(&models.Tank{}).Where("id = ?", tankID).
		Updates(map[string]interface{}{
			"current_level": level,
			"occupancy":     occupancy,
		})
	return res.Error
}

func (u *unitOfWork) GetOrCreateCashLedger(ctx context.Context, locationID uint) (*models.CashLedger, error) {
	q := u.tx.WithContext(ctx)
	if u.tx.Dialector.Name() == "mysql" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var ledger models.CashLedger
	err := q.Where(models.CashLedger{LocationID: locationID}).
		Attrs(models.CashLedger{Balance: decimal.Zero}).
		FirstOrCreate(&ledger).Error
	if err != nil {
		return nil, err
	}
	return &ledger, nil
}

func (u *unitOfWork) AppendCashEntries(ctx context.Context, entries []models.CashLedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return u.tx.WithContext(ctx).Create(&entries).Error
}

func (u *unitOfWork) UpdateCashBalance(ctx context.Context, ledgerID uint, balance decimal.Decimal) error {
	res := u.tx.WithContext(ctx).Model(&models.CashLedger{}).Where("id = ?", ledgerID).Update("balance", balance)
	return res.Error
}
