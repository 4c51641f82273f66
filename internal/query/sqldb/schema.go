package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sqlchat/sqlchat/internal/query"
)

func (d *DB) ListTables(ctx context.Context) ([]string, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, d.dialect.listTablesSQL())
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

// DescribeTables returns DDL plus up to sampleRows example rows for each named
// table, in the order given. Every name must exist.
func (d *DB) DescribeTables(ctx context.Context, names []string, sampleRows int) ([]query.TableInfo, error) {
	known, err := d.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	knownSet := make(map[string]string, len(known))
	for _, name := range known {
		knownSet[strings.ToLower(name)] = name
	}

	resolved := make([]string, 0, len(names))
	unknown := make([]string, 0)
	seen := map[string]struct{}{}
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		canonical, ok := knownSet[strings.ToLower(name)]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		resolved = append(resolved, canonical)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s", query.ErrUnknownTable, strings.Join(unknown, ", "))
	}

	infos := make([]query.TableInfo, 0, len(resolved))
	for _, name := range resolved {
		info, err := d.describeTable(ctx, name, sampleRows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (d *DB) describeTable(ctx context.Context, table string, sampleRows int) (query.TableInfo, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	columns, err := d.columns(ctx, table)
	if err != nil {
		return query.TableInfo{}, err
	}
	info := query.TableInfo{Name: table, Columns: columns}

	if stmt := d.dialect.createSQL(); stmt != "" {
		var ddl sql.NullString
		err := d.db.QueryRowContext(ctx, stmt, table).Scan(&ddl)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return query.TableInfo{}, fmt.Errorf("load ddl for %q: %w", table, err)
		}
		info.CreateSQL = strings.TrimSpace(ddl.String)
	}
	if info.CreateSQL == "" {
		info.CreateSQL = buildCreateTable(table, columns)
	}

	if sampleRows > 0 {
		sampleSQL := "SELECT * FROM " + quoteIdent(table) + " LIMIT " + strconv.Itoa(sampleRows)
		result, err := d.run(ctx, sampleSQL, sampleRows)
		if err != nil {
			return query.TableInfo{}, fmt.Errorf("load sample rows for %q: %w", table, err)
		}
		info.SampleColumns = result.Columns
		info.SampleRows = result.Rows
	}
	return info, nil
}

func (d *DB) columns(ctx context.Context, table string) ([]query.Column, error) {
	rows, err := d.db.QueryContext(ctx, d.dialect.columnsSQL(), table)
	if err != nil {
		return nil, fmt.Errorf("load columns for %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]query.Column, 0)
	for rows.Next() {
		var column query.Column
		if err := rows.Scan(&column.Name, &column.Type, &column.Nullable, &column.PrimaryKey); err != nil {
			return nil, fmt.Errorf("scan column for %q: %w", table, err)
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns for %q: %w", table, err)
	}
	return columns, nil
}
