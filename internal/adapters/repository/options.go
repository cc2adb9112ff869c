package repository

import (
	"time"

	gormlogger "gorm.io/gorm/logger"
)

const defaultInsertBatchSize = 100

// Option applies a configuration option to the GormStore.
type Option func(*storeConfig)

type storeConfig struct {
	batchSize int
	logLevel  gormlogger.LogLevel
	now       func() time.Time
}

// WithInsertBatchSize sets how many rows CreateInBatches sends per statement.
func WithInsertBatchSize(n int) Option {
	return func(c *storeConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithSQLLogLevel sets the gorm logger level.
func WithSQLLogLevel(level gormlogger.LogLevel) Option {
	return func(c *storeConfig) {
		if level > 0 {
			c.logLevel = level
		}
	}
}

// WithClock overrides time.Now for row timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *storeConfig) {
		if now != nil {
			c.now = now
		}
	}
}
