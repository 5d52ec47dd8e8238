package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PostgresOptions tunes the ledger connection pool and the startup retry.
type PostgresOptions struct {
	Attempts     int
	RetryDelay   time.Duration
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

var DefaultPostgresOptions = PostgresOptions{
	Attempts:     10,
	RetryDelay:   2 * time.Second,
	MaxOpenConns: 25,
	MaxIdleConns: 5,
	ConnLifetime: 5 * time.Minute,
}

// ConnectPostgres opens the ledger database. The container may still be
// starting, so the open and ping are retried with a linear backoff until
// ctx ends or the attempts run out.
func ConnectPostgres(ctx context.Context, dsn string, opts PostgresOptions, logger *zap.Logger) (*gorm.DB, error) {
	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		db, err := openPostgres(ctx, dsn, opts)
		if err == nil {
			logger.Info("Connected to PostgreSQL", zap.Int("attempt", attempt))
			return db, nil
		}
		lastErr = err
		logger.Warn("PostgreSQL not ready", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * opts.RetryDelay):
		}
	}
	return nil, fmt.Errorf("postgres unreachable after %d attempts: %w", opts.Attempts, lastErr)
}

func openPostgres(ctx context.Context, dsn string, opts PostgresOptions) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// ClosePostgres releases the pool. A nil db is a no-op.
func ClosePostgres(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
