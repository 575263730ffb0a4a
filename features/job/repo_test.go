package job_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/features/job"
)

func TestSQLiteRepo_Lifecycle(t *testing.T) {
	repo, err := job.OpenSQLiteRepo(filepath.Join(t.TempDir(), "nested", "jobs.db"))
	require.NoError(t, err)
	defer repo.Close()
	ctx := context.Background()

	older := &job.Job{
		Handler:   "rebuild-worker",
		Reason:    "api",
		Payload:   []byte(`{"reason":"api"}`),
		Error:     "no .pdf or .docx found",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	newer := &job.Job{
		CorrelationID: "corr-2",
		Handler:       "rebuild-worker",
		Payload:       []byte(`{}`),
		Error:         "embedding service unavailable",
		Retries:       2,
		CreatedAt:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Save(ctx, older))
	require.NoError(t, repo.Save(ctx, newer))
	assert.NotEmpty(t, older.ID)
	assert.NotEqual(t, older.ID, newer.ID)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	jobs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, newer.ID, jobs[0].ID)
	assert.Equal(t, 2, jobs[0].Retries)
	assert.Equal(t, "corr-2", jobs[0].CorrelationID)

	got, err := repo.Get(ctx, older.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"reason":"api"}`, string(got.Payload))
	assert.Equal(t, older.CreatedAt, got.CreatedAt)

	require.NoError(t, repo.Delete(ctx, older.ID))
	_, err = repo.Get(ctx, older.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSQLiteRepo_ReopenKeepsJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	repo, err := job.OpenSQLiteRepo(path)
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), &job.Job{Handler: "rebuild-worker", Payload: []byte(`{}`), Error: "boom"}))
	require.NoError(t, repo.Close())

	repo, err = job.OpenSQLiteRepo(path)
	require.NoError(t, err)
	defer repo.Close()

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLiteRepo_DatabaseErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := job.NewSQLiteRepo(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO failed_jobs")).WillReturnError(errors.New("disk full"))
	assert.ErrorContains(t, repo.Save(ctx, &job.Job{Handler: "rebuild-worker", Payload: []byte(`{}`)}), "disk full")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, correlation_id")).WillReturnError(errors.New("locked"))
	_, err = repo.List(ctx)
	assert.ErrorContains(t, err, "locked")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM failed_jobs")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	assert.NoError(t, mock.ExpectationsWereMet())
}
