package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"droidsql/models"
)

// writeKeywords classify a statement as a write by its first keyword.
var writeKeywords = map[string]bool{
	"insert":  true,
	"update":  true,
	"delete":  true,
	"drop":    true,
	"create":  true,
	"alter":   true,
	"replace": true,
}

// IsWriteStatement reports whether the statement's first keyword marks a
// write, case-insensitively. Everything else is treated as a read.
func IsWriteStatement(sql string) bool {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return false
	}
	return writeKeywords[strings.ToLower(fields[0])]
}

// escapeSQL makes a statement survive one layer of double-quoted shell
// parsing: backslash, double quote, dollar and backtick are each escaped,
// in that order. Single quotes inside double quotes need nothing.
func escapeSQL(sql string) string {
	sql = strings.ReplaceAll(sql, `\`, `\\`)
	sql = strings.ReplaceAll(sql, `"`, `\"`)
	sql = strings.ReplaceAll(sql, `$`, `\$`)
	sql = strings.ReplaceAll(sql, "`", "\\`")
	return sql
}

// applyLimitHint appends a LIMIT clause to a SELECT that lacks one. A
// user-supplied LIMIT is never overridden, and non-SELECT statements pass
// through untouched.
func applyLimitHint(sql string, limit int) string {
	if limit <= 0 {
		return sql
	}
	trimmed := strings.TrimSpace(sql)
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") || strings.Contains(upper, "LIMIT") {
		return sql
	}
	return fmt.Sprintf("%s LIMIT %d;", strings.TrimRight(trimmed, ";"), limit)
}

// Engine turns "run this SQL on this package's database" into a typed result,
// delegating remote execution to the Runner. It never retries a failed query.
type Engine struct {
	runner      Runner
	provisioner *Provisioner
	resolver    *Resolver
}

func NewEngine(runner Runner) *Engine {
	return &Engine{
		runner:      runner,
		provisioner: NewProvisioner(runner),
		resolver:    NewResolver(runner),
	}
}

// Resolver exposes the engine's resolver for listing and discovery.
func (e *Engine) Resolver() *Resolver { return e.resolver }

// RunQuery executes an ad hoc statement. Reads go through the CLI's JSON
// output mode with a delimiter fallback; writes return an empty result shape
// and are observed by re-querying. Column order for reads follows the first
// returned row, so a zero-row result reports zero columns.
func (e *Engine) RunQuery(ctx context.Context, pkg *PackageContext, sql string, limitHint int) (models.QueryResult, error) {
	dbPath, err := e.resolver.Resolve(ctx, pkg)
	if err != nil {
		return models.QueryResult{}, err
	}
	tool, err := e.provisioner.EnsureTool(ctx, pkg)
	if err != nil {
		return models.QueryResult{}, err
	}

	if IsWriteStatement(sql) {
		command := fmt.Sprintf(`%s %s "%s"`, tool, dbPath, escapeSQL(sql))
		if _, err := e.runner.Run(ctx, pkg.RunAs(command)); err != nil {
			return models.QueryResult{}, &QueryError{Reason: "write failed", Err: err}
		}
		return models.EmptyResult(), nil
	}

	sql = applyLimitHint(sql, limitHint)
	command := fmt.Sprintf(`%s %s -json "%s"`, tool, dbPath, escapeSQL(sql))
	out, err := e.runner.Run(ctx, pkg.RunAs(command))
	if err != nil {
		return models.QueryResult{}, &QueryError{Reason: "execution failed", Err: err}
	}
	if strings.TrimSpace(out) == "" {
		// Empty result set: sqlite3 -json prints nothing for zero rows.
		return models.EmptyResult(), nil
	}

	columns, rows, err := parseJSONRows(out)
	if err != nil {
		// Older sqlite3 builds lack -json and echo the statement or an
		// option error instead. Fall back to header + pipe separators.
		return e.runDelimited(ctx, pkg, tool, dbPath, sql)
	}
	return models.QueryResult{Columns: columns, Rows: rows, RowCount: len(rows)}, nil
}

// runDelimited is the lossy fallback: a second invocation requesting a header
// row plus pipe-delimited fields. Lines whose field count differs from the
// header count are dropped, not partially reconstructed.
func (e *Engine) runDelimited(ctx context.Context, pkg *PackageContext, tool, dbPath, sql string) (models.QueryResult, error) {
	command := fmt.Sprintf(`%s %s -header -separator "|" "%s"`, tool, dbPath, escapeSQL(sql))
	out, err := e.runner.Run(ctx, pkg.RunAs(command))
	if err != nil {
		return models.QueryResult{}, &QueryError{Reason: ReasonMalformedOutput, Err: err}
	}
	columns, rows := parseDelimited(out)
	return models.QueryResult{Columns: columns, Rows: rows, RowCount: len(rows)}, nil
}

// BrowseTable returns one window of a table plus a separately computed total.
// Columns come from schema introspection, so they are stable even when every
// value in the window is null or the window is empty. The COUNT(*) runs after
// the fetch with no transaction spanning the two; concurrent writers can make
// them disagree, which is accepted.
func (e *Engine) BrowseTable(ctx context.Context, pkg *PackageContext, table string, limit, offset int) (models.QueryResult, error) {
	schema, err := e.TableSchema(ctx, pkg, table)
	if err != nil {
		return models.QueryResult{}, err
	}
	if len(schema) == 0 {
		return models.QueryResult{}, &QueryError{Reason: "table not found: " + table}
	}
	columns := make([]string, len(schema))
	for i, col := range schema {
		columns[i] = col.Name
	}

	sql := fmt.Sprintf("SELECT * FROM %s LIMIT %d OFFSET %d;", table, limit, offset)
	result, err := e.RunQuery(ctx, pkg, sql, 0)
	if err != nil {
		return models.QueryResult{}, err
	}
	result.Columns = columns

	total, err := e.TableCount(ctx, pkg, table)
	if err != nil {
		return models.QueryResult{}, err
	}
	result.TotalCount = &total
	return result, nil
}

// TableCount runs COUNT(*) against a table.
func (e *Engine) TableCount(ctx context.Context, pkg *PackageContext, table string) (int64, error) {
	result, err := e.RunQuery(ctx, pkg, fmt.Sprintf("SELECT COUNT(*) AS count FROM %s;", table), 0)
	if err != nil {
		return 0, err
	}
	if len(result.Rows) == 0 {
		return 0, &QueryError{Reason: "count returned no rows"}
	}
	return toInt64(result.Rows[0]["count"]), nil
}

// ListTables returns table names from sqlite_master, sorted by name.
func (e *Engine) ListTables(ctx context.Context, pkg *PackageContext) ([]string, error) {
	result, err := e.RunQuery(ctx, pkg, "SELECT name FROM sqlite_master WHERE type='table' ORDER BY name;", 0)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		if name, ok := row["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// ListTablesWithCounts pairs each table with its row count for listing views.
func (e *Engine) ListTablesWithCounts(ctx context.Context, pkg *PackageContext) ([]models.TableInfo, error) {
	names, err := e.ListTables(ctx, pkg)
	if err != nil {
		return nil, err
	}
	tables := make([]models.TableInfo, 0, len(names))
	for _, name := range names {
		count, err := e.TableCount(ctx, pkg, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, models.TableInfo{Name: name, RowCount: count})
	}
	return tables, nil
}

// TableSchema introspects a table through the table_info pragma.
func (e *Engine) TableSchema(ctx context.Context, pkg *PackageContext, table string) ([]models.ColumnInfo, error) {
	result, err := e.RunQuery(ctx, pkg, fmt.Sprintf("PRAGMA table_info(%s);", table), 0)
	if err != nil {
		return nil, err
	}
	columns := make([]models.ColumnInfo, 0, len(result.Rows))
	for _, row := range result.Rows {
		columns = append(columns, models.ColumnInfo{
			CID:          toInt64(row["cid"]),
			Name:         toString(row["name"]),
			Type:         toString(row["type"]),
			NotNull:      toInt64(row["notnull"]) != 0,
			DefaultValue: row["dflt_value"],
			PrimaryKey:   toInt64(row["pk"]) != 0,
		})
	}
	return columns, nil
}

// parseJSONRows decodes a sqlite3 -json array of row objects, preserving the
// first row's key order as the column list.
func parseJSONRows(raw string) ([]string, []models.Row, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("decode output: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, nil, fmt.Errorf("expected array, got %v", tok)
	}

	var columns []string
	rows := []models.Row{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("decode row: %w", err)
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '{' {
			return nil, nil, fmt.Errorf("expected object, got %v", tok)
		}

		row := models.Row{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, nil, fmt.Errorf("decode key: %w", err)
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, nil, fmt.Errorf("expected key, got %v", keyTok)
			}
			var value any
			if err := dec.Decode(&value); err != nil {
				return nil, nil, fmt.Errorf("decode value for %s: %w", key, err)
			}
			row[key] = value
			if len(rows) == 0 {
				columns = append(columns, key)
			}
		}
		if _, err := dec.Token(); err != nil { // closing brace
			return nil, nil, fmt.Errorf("decode row end: %w", err)
		}
		rows = append(rows, row)
	}
	if _, err := dec.Token(); err != nil { // closing bracket
		return nil, nil, fmt.Errorf("decode array end: %w", err)
	}
	// A second array means a multi-statement query; its rows would be lost
	// here, so hand the whole output to the delimiter fallback instead.
	if tok, err := dec.Token(); err != io.EOF {
		return nil, nil, fmt.Errorf("trailing data after rows: %v", tok)
	}
	return columns, rows, nil
}

// parseDelimited reconstructs rows from header + pipe-separated output.
// The first non-empty line is the header; only lines whose field count
// matches the header count become rows.
func parseDelimited(out string) ([]string, []models.Row) {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return []string{}, []models.Row{}
	}

	headers := strings.Split(lines[0], "|")
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	rows := []models.Row{}
	for _, line := range lines[1:] {
		values := strings.Split(line, "|")
		if len(values) != len(headers) {
			continue
		}
		row := models.Row{}
		for i, header := range headers {
			row[header] = strings.TrimSpace(values[i])
		}
		rows = append(rows, row)
	}
	return headers, rows
}

func toInt64(v any) int64 {
	switch value := v.(type) {
	case json.Number:
		n, _ := value.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		return n
	case float64:
		return int64(value)
	case int64:
		return value
	default:
		return 0
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
