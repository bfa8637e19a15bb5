package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormLogger adapts a zap.Logger to gorm's logger.Interface.
type GormLogger struct {
	zl            *zap.Logger
	level         logger.LogLevel
	slowThreshold time.Duration
}

var _ logger.Interface = (*GormLogger)(nil)

// NewGormLogger returns a gorm logger writing to zl. Queries slower than
// slowThreshold are logged at warn level; zero disables slow-query logging.
func NewGormLogger(zl *zap.Logger, slowThreshold time.Duration) *GormLogger {
	if zl == nil {
		zl = zap.NewNop()
	}
	return &GormLogger{
		zl:            zl.Named("gorm"),
		level:         logger.Warn,
		slowThreshold: slowThreshold,
	}
}

// ParseLogLevel maps a config string onto a gorm log level.
func ParseLogLevel(s string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent", "off":
		return logger.Silent
	case "error":
		return logger.Error
	case "info", "debug":
		return logger.Info
	default:
		return logger.Warn
	}
}

func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) Info(_ context.Context, msg string, args ...any) {
	if l.level >= logger.Info {
		l.zl.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *GormLogger) Warn(_ context.Context, msg string, args ...any) {
	if l.level >= logger.Warn {
		l.zl.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *GormLogger) Error(_ context.Context, msg string, args ...any) {
	if l.level >= logger.Error {
		l.zl.Error(fmt.Sprintf(msg, args...))
	}
}

// Trace logs one executed statement. Record-not-found is never an error here;
// stores use it to signal a missing row.
func (l *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && l.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.zl.Error("query failed",
			zap.Error(err), zap.Duration("elapsed", elapsed), zap.Int64("rows", rows), zap.String("sql", sql))
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= logger.Warn:
		sql, rows := fc()
		l.zl.Warn("slow query",
			zap.Duration("elapsed", elapsed), zap.Duration("threshold", l.slowThreshold),
			zap.Int64("rows", rows), zap.String("sql", sql))
	case l.level >= logger.Info:
		sql, rows := fc()
		l.zl.Debug("query",
			zap.Duration("elapsed", elapsed), zap.Int64("rows", rows), zap.String("sql", sql))
	}
}
