package models

// Row maps column name to value. Values may be nil.
type Row map[string]any

// QueryResult is a batch of rows returned by a query.
//
// Columns preserves order: for ad hoc queries it is the key order of the first
// returned row (a zero-row result has zero columns), for table browsing it comes
// from schema introspection so empty windows still report every column.
// TotalCount is set for table browsing only, computed by a separate COUNT(*).
type QueryResult struct {
	Columns    []string `json:"columns"`
	Rows       []Row    `json:"rows"`
	RowCount   int      `json:"row_count"`
	TotalCount *int64   `json:"total_count,omitempty"`
}

// EmptyResult is the shape returned for write statements: the write's effect is
// observed by re-querying, not reflected in the response.
func EmptyResult() QueryResult {
	return QueryResult{Columns: []string{}, Rows: []Row{}}
}

// ColumnInfo is one row of sqlite's table_info pragma.
type ColumnInfo struct {
	CID          int64  `json:"cid"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	NotNull      bool   `json:"notnull"`
	DefaultValue any    `json:"dflt_value"`
	PrimaryKey   bool   `json:"pk"`
}

// TableInfo pairs a table name with its row count for listing views.
type TableInfo struct {
	Name     string `json:"name"`
	RowCount int64  `json:"row_count"`
}
