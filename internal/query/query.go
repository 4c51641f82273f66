package query

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotReadOnly  = errors.New("statement is not read-only")
	ErrUnknownTable = errors.New("unknown table")
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectDuckDB   Dialect = "duckdb"
	DialectPostgres Dialect = "postgres"
)

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
	Duration  time.Duration
}

type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

type TableInfo struct {
	Name          string   `json:"name"`
	CreateSQL     string   `json:"create_sql"`
	Columns       []Column `json:"columns"`
	SampleColumns []string `json:"sample_columns,omitempty"`
	SampleRows    [][]any  `json:"sample_rows,omitempty"`
}

// Database is the read-only view of the demo database used by the agent and
// the health endpoints.
type Database interface {
	Dialect() Dialect
	Ping(ctx context.Context) error
	ListTables(ctx context.Context) ([]string, error)
	DescribeTables(ctx context.Context, names []string, sampleRows int) ([]TableInfo, error)
	Execute(ctx context.Context, request Request) (Result, error)
}
