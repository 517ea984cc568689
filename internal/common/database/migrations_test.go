package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_add_index.sql":  {Data: []byte("CREATE INDEX a ON t (b);")},
		"migrations/001_init.sql":       {Data: []byte("CREATE TABLE t (b int);")},
		"migrations/README.md":          {Data: []byte("ignored")},
		"migrations/010_more_stuff.sql": {Data: []byte("SELECT 1;")},
	}

	migrations, err := ReadMigrations(fsys, "migrations")
	require.NoError(t, err)
	require.Len(t, migrations, 3)

	assert.Equal(t, []int{1, 2, 10}, []int{migrations[0].id, migrations[1].id, migrations[2].id})
	assert.Equal(t, "001_init.sql", migrations[0].name)
	assert.Equal(t, "CREATE TABLE t (b int);", migrations[0].sql)
}

func TestReadMigrations_BadName(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/init.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := ReadMigrations(fsys, "migrations")
	assert.Error(t, err)
}

func TestCreateConnectionString(t *testing.T) {
	connectionString := CreateConnectionString(map[string]string{
		"host":     "localhost",
		"password": `it's\secret`,
		"port":     "5432",
	})
	assert.Equal(t, `host='localhost' password='it\'s\\secret' port='5432'`, connectionString)
}
