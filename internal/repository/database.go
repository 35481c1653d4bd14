// Package repository provides data access layer using GORM for database operations.
package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fieldlink/reputation-engine/internal/apperrors"
	"github.com/fieldlink/reputation-engine/internal/config"
	"github.com/fieldlink/reputation-engine/internal/models"
	"github.com/fieldlink/reputation-engine/pkg/logger"
)

// DB holds the database connection.
type DB struct {
	*gorm.DB
}

// GormConfig returns the gorm settings shared by the server and tests.
func GormConfig(log *logger.Logger) *gorm.Config {
	gormLogLevel := gormlogger.Silent
	if log != nil {
		gormLogLevel = gormlogger.Warn
		if log.Level() <= zerolog.DebugLevel {
			gormLogLevel = gormlogger.Info
		}
	}

	return &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormLogLevel),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewDB creates a new database connection.
func NewDB(cfg *config.PostgresConfig, log *logger.Logger) (*DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), GormConfig(log))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Set connection pool settings
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("Connected to PostgreSQL")

	return &DB{db}, nil
}

// AllModels lists every persisted model.
func AllModels() []interface{} {
	return []interface{}{
		&models.Account{},
		&models.EarningRule{},
		&models.AuditEntry{},
		&models.Transaction{},
		&models.DailyEarningAggregate{},
		&models.TrustScoreReview{},
		&models.TrustScore{},
		&models.RecomputeJob{},
		&models.ConnectionLimitOverride{},
		&models.ConnectionRequestCounter{},
	}
}

// AutoMigrate creates or updates tables for all models.
// Production schemas are owned by RunMigrations; this is used by tests.
func (db *DB) AutoMigrate() error {
	return db.DB.AutoMigrate(AllModels()...)
}

// IsPostgres reports whether the connection speaks the PostgreSQL dialect.
func (db *DB) IsPostgres() bool {
	return db.Dialector.Name() == "postgres"
}

// Close closes the database connection.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks if the database is healthy.
func (db *DB) Health() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// setLockTimeout bounds row lock waits for the rest of the transaction.
// SET does not accept bind parameters, so the value is formatted in.
func setLockTimeout(tx *gorm.DB, timeout time.Duration) error {
	if timeout <= 0 || tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())).Error
}

// Postgres error codes that mean "try again later".
const (
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// translateLockError maps lock timeouts and serialisation failures to Contended.
func translateLockError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgSerializationFailure, pgDeadlockDetected:
			return apperrors.Wrap(apperrors.KindContended, err, "account is busy, try again")
		}
	}
	return err
}
