package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "device_storage.db")
	db, err := OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(context.Background(), `CREATE TABLE probe (k TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = db.ExecContext(context.Background(), `INSERT INTO probe (k) VALUES ('ok')`)
	require.NoError(t, err)

	var k string
	require.NoError(t, db.QueryRow(`SELECT k FROM probe`).Scan(&k))
	assert.Equal(t, "ok", k)
	assert.FileExists(t, path)
}
