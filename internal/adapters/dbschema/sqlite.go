package dbschema

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/PabloGalante/deckflow-agent/internal/domain"
)

// OpenAnalyticsDB opens the analytics database with query_only set, so
// nothing reached through it can write.
func OpenAnalyticsDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=query_only(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open analytics database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open analytics database: %w", err)
	}
	return db, nil
}

// SQLiteFetcher introspects user tables of a SQLite database.
type SQLiteFetcher struct {
	db *sql.DB
}

func NewSQLiteFetcher(db *sql.DB) *SQLiteFetcher {
	return &SQLiteFetcher{db: db}
}

func (f *SQLiteFetcher) FetchSchema(ctx context.Context) (domain.DatabaseSchema, error) {
	rows, err := f.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("list tables: %w", err)
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	schema := make(domain.DatabaseSchema, len(tables))
	for _, t := range tables {
		cols, err := f.columns(ctx, t)
		if err != nil {
			return nil, err
		}
		schema[t] = cols
	}
	return schema, nil
}

func (f *SQLiteFetcher) columns(ctx context.Context, table string) (domain.TableSchema, error) {
	rows, err := f.db.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	cols := domain.TableSchema{}
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, fmt.Errorf("describe %s: %w", table, err)
		}
		cols[name] = typ
	}
	return cols, rows.Err()
}

// Render turns a schema into the text handed to agents. Map keys are
// emitted in sorted order so the output is stable.
func Render(schema domain.DatabaseSchema) string {
	if len(schema) == 0 {
		return "{}"
	}
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Static serves a fixed schema, for runs without an analytics database.
type Static domain.DatabaseSchema

func (s Static) FetchSchema(context.Context) (domain.DatabaseSchema, error) {
	return domain.DatabaseSchema(s), nil
}
