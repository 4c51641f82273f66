package sqldb

import (
	"fmt"
	"strings"

	"github.com/sqlchat/sqlchat/internal/query"
)

type dialect interface {
	name() query.Dialect
	listTablesSQL() string
	// columnsSQL takes the table name as its only argument and returns
	// name, type, nullable and primary key columns.
	columnsSQL() string
	// createSQL returns the stored DDL for a table, or "" when the engine
	// does not keep one and it has to be rebuilt from columns.
	createSQL() string
}

func dialectFor(d query.Dialect) (dialect, error) {
	switch d {
	case query.DialectSQLite:
		return sqliteDialect{}, nil
	case query.DialectDuckDB:
		return informationSchemaDialect{dialect: query.DialectDuckDB, placeholder: "?"}, nil
	case query.DialectPostgres:
		return informationSchemaDialect{dialect: query.DialectPostgres, placeholder: "$1"}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", d)
	}
}

type sqliteDialect struct{}

func (sqliteDialect) name() query.Dialect { return query.DialectSQLite }

func (sqliteDialect) listTablesSQL() string {
	return `SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`
}

func (sqliteDialect) columnsSQL() string {
	return `SELECT name, type, "notnull" = 0, pk > 0 FROM pragma_table_info(?) ORDER BY cid`
}

func (sqliteDialect) createSQL() string {
	return `SELECT sql FROM sqlite_master WHERE name = ?`
}

type informationSchemaDialect struct {
	dialect     query.Dialect
	placeholder string
}

func (d informationSchemaDialect) name() query.Dialect { return d.dialect }

func (informationSchemaDialect) listTablesSQL() string {
	return `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name`
}

func (d informationSchemaDialect) columnsSQL() string {
	return `SELECT column_name, data_type, is_nullable = 'YES', false FROM information_schema.columns ` +
		`WHERE table_schema = current_schema() AND table_name = ` + d.placeholder + ` ORDER BY ordinal_position`
}

func (informationSchemaDialect) createSQL() string {
	return ""
}

func buildCreateTable(table string, columns []query.Column) string {
	lines := make([]string, 0, len(columns)+1)
	primary := make([]string, 0, 1)
	for _, column := range columns {
		line := "\t" + quoteIdent(column.Name) + " " + column.Type
		if !column.Nullable {
			line += " NOT NULL"
		}
		lines = append(lines, line)
		if column.PrimaryKey {
			primary = append(primary, quoteIdent(column.Name))
		}
	}
	if len(primary) > 0 {
		lines = append(lines, "\tPRIMARY KEY ("+strings.Join(primary, ", ")+")")
	}
	return "CREATE TABLE " + quoteIdent(table) + " (\n" + strings.Join(lines, ",\n") + "\n)"
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
