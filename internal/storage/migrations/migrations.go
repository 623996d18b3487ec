// Package migrations embeds the crawler schema and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Dialect selects the migration set and the goose dialect.
type Dialect string

// Supported dialects.
const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// goose keeps its configuration in package globals.
var mu sync.Mutex

func (d Dialect) dir() (string, error) {
	switch d {
	case DialectPostgres:
		return "postgres", nil
	case DialectSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported migration dialect %q", d)
	}
}

// Up applies every pending migration for the dialect.
func Up(ctx context.Context, db *sql.DB, dialect Dialect, logger *zap.Logger) error {
	return run(dialect, logger, func(dir string) error {
		return goose.UpContext(ctx, db, dir)
	})
}

// Version reports the current schema version.
func Version(ctx context.Context, db *sql.DB, dialect Dialect, logger *zap.Logger) (int64, error) {
	var version int64
	err := run(dialect, logger, func(string) error {
		v, err := goose.GetDBVersionContext(ctx, db)
		version = v
		return err
	})
	return version, err
}

func run(dialect Dialect, logger *zap.Logger, fn func(dir string) error) error {
	dir, err := dialect.dir()
	if err != nil {
		return err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mu.Lock()
	defer mu.Unlock()

	goose.SetBaseFS(files)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(gooseLogger{logger: logger.Named("migrations").Sugar()})
	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := fn(dir); err != nil {
		return fmt.Errorf("migrate %s: %w", dialect, err)
	}
	return nil
}

// gooseLogger forwards goose output to zap. Fatalf does not exit so callers
// keep control of process shutdown.
type gooseLogger struct {
	logger *zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Infof(format, v...)
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Errorf(format, v...)
}
