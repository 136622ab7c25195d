package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-deposit/pkg/deposit"
	"github.com/tendant/simple-deposit/pkg/deposit/entities"
)

func TestHandlePostgresError(t *testing.T) {
	err := handlePostgresError("ensure schema", &pgconn.PgError{Code: "42P01"})
	assert.Contains(t, err.Error(), "migration required")

	err = handlePostgresError("put entity", &pgconn.PgError{Code: "23502", ColumnName: "kind"})
	assert.Contains(t, err.Error(), "required field kind is missing")

	err = handlePostgresError("get entity", &pgconn.PgError{Code: "XX000", Message: "boom"})
	assert.Contains(t, err.Error(), "database error in get entity: boom")
}

// TestSource_Integration requires a PostgreSQL database in TEST_DATABASE_URL
func TestSource_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("Skipping integration test: TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, pool.Ping(ctx))

	src := New(pool)
	require.NoError(t, src.EnsureSchema(ctx))

	prefix := fmt.Sprintf("it-%d/", time.Now().UnixNano())
	subID := prefix + "submissions/1"
	for _, e := range []deposit.Entity{
		&deposit.SubmissionEntity{ID: subID, User: prefix + "users/1"},
		&deposit.User{ID: prefix + "users/1", FirstName: "Sam", LastName: "Submitter"},
		&deposit.File{ID: prefix + "files/b", Name: "b.pdf", Submission: subID + "/", FileRole: deposit.FileRoleManuscript},
		&deposit.File{ID: prefix + "files/a", Name: "a.csv", Submission: subID, FileRole: deposit.FileRoleSupplemental},
	} {
		require.NoError(t, src.Put(ctx, e))
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM deposit_entity WHERE id LIKE $1`, prefix+"%")
	})

	e, err := src.Get(ctx, prefix+"users/1")
	require.NoError(t, err)
	assert.Equal(t, "Sam", e.(*deposit.User).FirstName)

	_, err = src.Get(ctx, prefix+"users/404")
	assert.ErrorIs(t, err, entities.ErrNotFound)

	files, err := src.FilesFor(ctx, subID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "b.pdf", files[0].Name)
	assert.Equal(t, "a.csv", files[1].Name)

	set, err := src.Resolve(ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, 4, set.Len())
}
