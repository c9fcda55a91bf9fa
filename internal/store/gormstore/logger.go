package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"fuel-shift-reconciliation/pkg/logger"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ParseLogLevel maps a level name onto gorm's levels. Unknown names mean error.
func ParseLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent":
		return gormlogger.Silent
	case "warn", "warning":
		return gormlogger.Warn
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Error
	}
}

type gormLogger struct {
	log   logger.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

// NewGormLogger routes gorm's query log into the application logger.
func NewGormLogger(log logger.Logger, level gormlogger.LogLevel, slow time.Duration) gormlogger.Interface {
	if log == nil {
		log = logger.Discard()
	}
	return &gormLogger{log: log.WithComponent("gorm"), level: level, slow: slow}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		l.log.Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.log.Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		l.log.Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && l.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.log.WithError(err).WithFields(logger.Fields{
			"sql": sql, "rows": rows, "elapsed_ms": elapsed.Milliseconds(),
		}).Error("query failed")
	case l.slow > 0 && elapsed > l.slow && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.log.WithFields(logger.Fields{
			"sql": sql, "rows": rows, "elapsed_ms": elapsed.Milliseconds(),
		}).Warn("slow query")
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.log.WithFields(logger.Fields{
			"sql": sql, "rows": rows, "elapsed_ms": elapsed.Milliseconds(),
		}).Debug("query")
	}
}
