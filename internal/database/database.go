// Package database provides the fetch history connection and schema.
// It supports SQLite, PostgreSQL, and MySQL through GORM.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/hlsabr/internal/config"
	"github.com/jmylchreest/hlsabr/internal/database/migrations"
)

// DB wraps a GORM database connection.
type DB struct {
	*gorm.DB
	cfg    config.HistoryConfig
	logger *slog.Logger
}

// Options contains optional configuration for database connections.
type Options struct {
	// PrepareStmt enables prepared statement caching.
	PrepareStmt bool
}

const (
	sqliteMaxOpenConns = 4
	sqliteMaxIdleConns = 2
	connMaxLifetime    = time.Hour
)

// New opens the history database described by cfg. Pass nil opts for
// defaults (PrepareStmt: true).
func New(cfg config.HistoryConfig, log *slog.Logger, opts *Options) (*DB, error) {
	if opts == nil {
		opts = &Options{PrepareStmt: true}
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "database"))

	dialector, err := getDialector(cfg)
	if err != nil {
		return nil, fmt.Errorf("getting dialector: %w", err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newGormLogger(cfg.LogLevel, log),
		SkipDefaultTransaction: true,
		PrepareStmt:            opts.PrepareStmt,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	// Each connection to an in-memory SQLite database sees its own database.
	if cfg.Driver == "sqlite" {
		maxOpen, maxIdle := sqliteMaxOpenConns, sqliteMaxIdleConns
		if isMemoryDSN(cfg.DSN) {
			maxOpen, maxIdle = 1, 1
		}
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	log.Debug("database opened", slog.String("driver", cfg.Driver))

	return &DB{DB: db, cfg: cfg, logger: log}, nil
}

// Open opens the database and applies all pending migrations.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*DB, error) {
	db, err := New(cfg, log, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate(ctx context.Context) error {
	m := migrations.NewMigrator(db.DB, db.logger, migrations.AllMigrations()...)
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// getDialector returns the GORM dialector for the configured driver.
func getDialector(cfg config.HistoryConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		// PRAGMAs are applied to every pooled connection through the DSN.
		dsn := cfg.DSN
		if strings.Contains(dsn, "?") {
			dsn += "&"
		} else {
			dsn += "?"
		}
		dsn += "_pragma=busy_timeout(10000)" +
			"&_pragma=journal_mode(WAL)" +
			"&_pragma=synchronous(NORMAL)" +
			"&_pragma=foreign_keys(ON)"
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// Close closes the database connection.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Transaction executes fn within a database transaction.
func (db *DB) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return db.DB.WithContext(ctx).Transaction(fn)
}

// Driver returns the database driver name.
func (db *DB) Driver() string {
	return db.cfg.Driver
}

// gormLogLevel maps string log levels to GORM logger levels.
func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func newGormLogger(level string, log *slog.Logger) *slogGormLogger {
	return &slogGormLogger{logger: log, level: gormLogLevel(level)}
}

// slogGormLogger implements GORM's logger.Interface using slog.
type slogGormLogger struct {
	logger *slog.Logger
	level  logger.LogLevel
}

func (l *slogGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &slogGormLogger{logger: l.logger, level: level}
}

func (l *slogGormLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

const (
	slowQueryThreshold = 500 * time.Millisecond
	maxSQLLogLength    = 200
)

func truncateSQL(sql string) string {
	if len(sql) <= maxSQLLogLength {
		return sql
	}
	return sql[:maxSQLLogLength] + "... (truncated)"
}

func (l *slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)

	// fc builds the interpolated SQL, so decide on the level first.
	switch {
	case err != nil && !isNotFound(err) && l.level >= logger.Error:
		sql, rows := fc()
		l.logger.ErrorContext(ctx, "database error",
			slog.String("sql", truncateSQL(sql)),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
	case elapsed > slowQueryThreshold && l.level >= logger.Warn:
		sql, rows := fc()
		l.logger.WarnContext(ctx, "slow query",
			slog.String("sql", truncateSQL(sql)),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
		)
	case l.level >= logger.Info && l.logger.Enabled(ctx, slog.LevelDebug):
		sql, rows := fc()
		l.logger.DebugContext(ctx, "database query",
			slog.String("sql", truncateSQL(sql)),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
		)
	}
}

func isNotFound(err error) bool {
	return err == gorm.ErrRecordNotFound
}
