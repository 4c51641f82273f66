package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sqlchat/sqlchat/internal/query"
)

type Config struct {
	URI             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// Target is a parsed database URI.
type Target struct {
	Dialect query.Dialect
	Driver  string
	DSN     string
	// FilePath is set for file-backed dialects; empty for in-memory or network databases.
	FilePath string
}

type DB struct {
	db           *sql.DB
	dialect      dialect
	queryTimeout time.Duration
}

// ParseURI understands SQLAlchemy-style URIs: sqlite:///relative.db,
// sqlite:////absolute.db, duckdb:///file.duckdb and postgres://...
func ParseURI(uri string) (Target, error) {
	uri = strings.TrimSpace(uri)
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return Target{}, fmt.Errorf("invalid database uri %q: missing scheme", uri)
	}

	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3":
		filePath, params := splitFileURI(rest)
		if filePath == "" {
			return Target{}, fmt.Errorf("invalid database uri %q: sqlite file path is required", uri)
		}
		dsn := "file:" + filePath + "?mode=ro"
		if params != "" {
			dsn += "&" + params
		}
		return Target{Dialect: query.DialectSQLite, Driver: "sqlite3", DSN: dsn, FilePath: filePath}, nil
	case "duckdb":
		filePath, params := splitFileURI(rest)
		if filePath == "" {
			return Target{Dialect: query.DialectDuckDB, Driver: "duckdb", DSN: ""}, nil
		}
		dsn := filePath + "?access_mode=read_only"
		if params != "" {
			dsn += "&" + params
		}
		return Target{Dialect: query.DialectDuckDB, Driver: "duckdb", DSN: dsn, FilePath: filePath}, nil
	case "postgres", "postgresql":
		if rest == "" {
			return Target{}, fmt.Errorf("invalid database uri %q: host is required", uri)
		}
		parsed, err := url.Parse(uri)
		if err != nil {
			// url.Error repeats the uri, password included.
			if urlErr, ok := err.(*url.Error); ok {
				err = urlErr.Err
			}
			return Target{}, fmt.Errorf("invalid postgres database uri: %w", err)
		}
		// pgx forwards unknown parameters as session settings.
		params := parsed.Query()
		params.Set("default_transaction_read_only", "on")
		parsed.RawQuery = params.Encode()
		return Target{Dialect: query.DialectPostgres, Driver: "pgx", DSN: parsed.String()}, nil
	default:
		return Target{}, fmt.Errorf("unsupported database scheme %q", scheme)
	}
}

func Open(ctx context.Context, cfg Config) (*DB, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("database uri is required")
	}
	target, err := ParseURI(cfg.URI)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(target.Driver, target.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", target.Dialect, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", target.Dialect, err)
	}

	return New(db, target.Dialect, cfg.QueryTimeout)
}

// New wraps an already opened handle.
func New(db *sql.DB, d query.Dialect, queryTimeout time.Duration) (*DB, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	impl, err := dialectFor(d)
	if err != nil {
		return nil, err
	}
	return &DB{db: db, dialect: impl, queryTimeout: queryTimeout}, nil
}

func (d *DB) Dialect() query.Dialect {
	return d.dialect.name()
}

func (d *DB) Ping(ctx context.Context) error {
	var one int
	if err := d.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("select 1: %w", err)
	}
	return nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func splitFileURI(rest string) (string, string) {
	filePath, params, _ := strings.Cut(rest, "?")
	if strings.HasPrefix(filePath, "/") {
		filePath = filePath[1:]
	}
	return filePath, params
}
