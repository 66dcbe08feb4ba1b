package tools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/PabloGalante/deckflow-agent/internal/domain"
)

// SQLQueryToolName is the name agents use to declare the tool.
const SQLQueryToolName = "execute_sql_query"

const defaultMaxRows = 200

var errNotReadOnly = errors.New("only a single SELECT or WITH statement is allowed")

// SQLQueryTool lets agents run read-only queries against the analytics database.
type SQLQueryTool struct {
	db      *sql.DB
	maxRows int
}

// NewSQLQueryTool creates a new SQLQueryTool.
// maxRows <= 0 uses a default of 200.
func NewSQLQueryTool(db *sql.DB, maxRows int) *SQLQueryTool {
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}
	return &SQLQueryTool{db: db, maxRows: maxRows}
}

func (t *SQLQueryTool) Name() string {
	return SQLQueryToolName
}

func (t *SQLQueryTool) Spec() domain.ToolSpec {
	return domain.ToolSpec{
		Name:        SQLQueryToolName,
		Description: "Executes a read-only SQL query against the analytics database and returns the resulting rows.",
		Parameters: map[string]domain.ParamSpec{
			"query": {Type: "string", Description: "A single SELECT statement using exact table and column names."},
		},
		Required: []string{"query"},
	}
}

// Call expects an input with this shape:
//
//	{"query": "SELECT name FROM artists LIMIT 5"}
//
// and answers with the rows as a list of column/value objects.
func (t *SQLQueryTool) Call(
	ctx context.Context,
	tctx ToolContext,
	input map[string]any,
) (map[string]any, error) {
	query, err := readOnlyQuery(getString(input, "query"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", SQLQueryToolName, err)
	}

	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: query failed: %w", SQLQueryToolName, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", SQLQueryToolName, err)
	}

	var (
		out       []any
		truncated bool
	)
	for rows.Next() {
		if len(out) == t.maxRows {
			truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", SQLQueryToolName, err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", SQLQueryToolName, err)
	}

	return map[string]any{
		"rows":      out,
		"row_count": len(out),
		"truncated": truncated,
	}, nil
}

func readOnlyQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	if q == "" {
		return "", errors.New("missing query")
	}
	if strings.Contains(q, ";") {
		return "", errNotReadOnly
	}
	switch strings.ToUpper(strings.Fields(q)[0]) {
	case "SELECT", "WITH":
		return q, nil
	default:
		return "", errNotReadOnly
	}
}
