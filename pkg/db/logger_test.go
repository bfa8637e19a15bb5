package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newObservedLogger(threshold time.Duration) (*GormLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewGormLogger(zap.New(core), threshold), logs
}

func sqlFn() (string, int64) { return "SELECT 1", 1 }

func TestGormLogger_Trace(t *testing.T) {
	tests := []struct {
		name      string
		level     logger.LogLevel
		begin     time.Time
		err       error
		wantMsg   string
		wantLevel zapcore.Level
	}{
		{"error", logger.Warn, time.Now(), errors.New("boom"), "query failed", zapcore.ErrorLevel},
		{"slow query", logger.Warn, time.Now().Add(-time.Second), nil, "slow query", zapcore.WarnLevel},
		{"info traces every query", logger.Info, time.Now(), nil, "query", zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, logs := newObservedLogger(100 * time.Millisecond)
			l.LogMode(tt.level).Trace(context.Background(), tt.begin, sqlFn, tt.err)

			entries := logs.All()
			if assert.Len(t, entries, 1) {
				assert.Equal(t, tt.wantMsg, entries[0].Message)
				assert.Equal(t, tt.wantLevel, entries[0].Level)
				assert.Equal(t, "gorm", entries[0].LoggerName)
				assert.Equal(t, "SELECT 1", entries[0].ContextMap()["sql"])
			}
		})
	}
}

func TestGormLogger_Quiet(t *testing.T) {
	tests := []struct {
		name  string
		level logger.LogLevel
		err   error
	}{
		{"record not found is not an error", logger.Warn, gorm.ErrRecordNotFound},
		{"silent", logger.Silent, errors.New("boom")},
		{"fast query at warn", logger.Warn, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, logs := newObservedLogger(time.Minute)
			l.LogMode(tt.level).Trace(context.Background(), time.Now(), sqlFn, tt.err)
			assert.Zero(t, logs.Len())
		})
	}
}

func TestGormLogger_LogModeDoesNotMutate(t *testing.T) {
	l, logs := newObservedLogger(0)
	_ = l.LogMode(logger.Silent)

	l.Warn(context.Background(), "pool %s", "exhausted")
	if assert.Equal(t, 1, logs.Len()) {
		assert.Equal(t, "pool exhausted", logs.All()[0].Message)
	}
	l.Info(context.Background(), "hidden at warn level")
	assert.Equal(t, 1, logs.Len())
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, ParseLogLevel("off"))
	assert.Equal(t, logger.Error, ParseLogLevel("ERROR"))
	assert.Equal(t, logger.Info, ParseLogLevel("debug"))
	assert.Equal(t, logger.Warn, ParseLogLevel(""))
}
