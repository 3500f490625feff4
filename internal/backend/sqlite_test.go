package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirco-team/talky/internal/errs"
)

func setupTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLite_ReadNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.Read(context.Background(), "talky/data.json")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSQLite_CreateThenRead(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	v1, err := db.Write(ctx, "talky/data.json", []byte(`{"a":1}`), "")
	require.NoError(t, err)
	require.NotEmpty(t, v1)

	c, err := db.Read(ctx, "talky/data.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), c.Data)
	assert.Equal(t, v1, c.Version)
}

func TestSQLite_CompareAndSwap(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	v1, err := db.Write(ctx, "doc", []byte("one"), "")
	require.NoError(t, err)

	v2, err := db.Write(ctx, "doc", []byte("two"), v1)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	// A writer still holding v1 must be rejected.
	_, err = db.Write(ctx, "doc", []byte("stale"), v1)
	assert.ErrorIs(t, err, errs.ErrConflict)

	c, err := db.Read(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), c.Data)
}

func TestSQLite_CreateConflictWhenExists(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.Write(ctx, "doc", []byte("one"), "")
	require.NoError(t, err)

	_, err = db.Write(ctx, "doc", []byte("again"), "")
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestSQLite_DSNWithExistingParams(t *testing.T) {
	// A DSN that already carries query parameters must still get the
	// journal-mode and busy-timeout options appended correctly.
	db, err := NewSQLite("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	v1, err := db.Write(ctx, "doc", []byte("one"), "")
	require.NoError(t, err)

	c, err := db.Read(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), c.Data)
	assert.Equal(t, v1, c.Version)
}

func TestSQLite_PathsIndependent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.Write(ctx, "a", []byte("A"), "")
	require.NoError(t, err)
	_, err = db.Write(ctx, "b", []byte("B"), "")
	require.NoError(t, err)

	a, err := db.Read(ctx, "a")
	require.NoError(t, err)
	b, err := db.Read(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []byte("A"), a.Data)
	assert.Equal(t, []byte("B"), b.Data)
}
