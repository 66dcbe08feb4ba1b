package dbschema_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/PabloGalante/deckflow-agent/internal/adapters/dbschema"
	"github.com/PabloGalante/deckflow-agent/internal/domain"
)

func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chinook.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE artists (ArtistId INTEGER PRIMARY KEY, Name NVARCHAR(120));
		CREATE TABLE invoices (InvoiceId INTEGER PRIMARY KEY, Total NUMERIC(10,2), InvoiceDate DATETIME);
	`)
	require.NoError(t, err)
	return path
}

func TestFetchSchema(t *testing.T) {
	db, err := dbschema.OpenAnalyticsDB(seedDB(t))
	require.NoError(t, err)
	defer db.Close()

	got, err := dbschema.NewSQLiteFetcher(db).FetchSchema(context.Background())
	require.NoError(t, err)

	want := domain.DatabaseSchema{
		"artists":  {"ArtistId": "INTEGER", "Name": "NVARCHAR(120)"},
		"invoices": {"InvoiceId": "INTEGER", "Total": "NUMERIC(10,2)", "InvoiceDate": "DATETIME"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("schema mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyticsDBIsReadOnly(t *testing.T) {
	db, err := dbschema.OpenAnalyticsDB(seedDB(t))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO artists (Name) VALUES ('x')`)
	assert.Error(t, err)
}

func TestRenderIsStable(t *testing.T) {
	schema := domain.DatabaseSchema{
		"b": {"y": "TEXT", "x": "INTEGER"},
		"a": {"id": "INTEGER"},
	}
	first := dbschema.Render(schema)
	assert.Equal(t, first, dbschema.Render(schema))
	assert.Less(t, strings.Index(first, `"a"`), strings.Index(first, `"b"`))
	assert.Equal(t, "{}", dbschema.Render(nil))
}

func TestStatic(t *testing.T) {
	s := dbschema.Static{"t": {"c": "TEXT"}}
	got, err := s.FetchSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "TEXT", got["t"]["c"])
}
