package database

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/tickettoken/ticket-indexer/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 500 * time.Millisecond

// gormLogger routes gorm output to the package logger. Duplicate keys are
// part of normal idempotent ingestion and missing rows are answered with
// ErrNotFound, so neither is reported as an error.
type gormLogger struct {
	level gormlogger.LogLevel
}

func newGormLogger(level gormlogger.LogLevel) gormlogger.Interface {
	return &gormLogger{level: level}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &gormLogger{level: level}
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		logger.Info("gorm: "+msg, args...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		logger.Warn("gorm: "+msg, args...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		logger.Error("gorm: "+msg, args...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && (errors.Is(err, gorm.ErrRecordNotFound) || IsDuplicate(err)):
		if l.level >= gormlogger.Info {
			sql, _ := fc()
			logger.Debug("gorm: %s [%s]: %s", err, elapsed, sql)
		}
	case err != nil:
		sql, rows := fc()
		logger.Error("gorm: %s [%s, %d rows]: %s", err, elapsed, rows, sql)
	case elapsed > slowQueryThreshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		logger.Warn("gorm: slow query [%s, %d rows]: %s", elapsed, rows, sql)
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		logger.Debug("gorm: [%s, %d rows]: %s", elapsed, rows, sql)
	}
}
