package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scroll-press/internal/domain"
)

func newDocumentRepo(t *testing.T) (*DocumentRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectPrepare(`INSERT INTO documents`)
	mock.ExpectPrepare(`SELECT .+ FROM documents`)
	mock.ExpectPrepare(`DELETE FROM documents`)

	repo, err := NewDocumentRepository(db)
	require.NoError(t, err)
	return repo, mock
}

func TestDocumentRepository(t *testing.T) {
	ctx := context.Background()
	createdAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	content := []byte("<!DOCTYPE html><title>t</title>")

	t.Run("create", func(t *testing.T) {
		repo, mock := newDocumentRepo(t)
		mock.ExpectExec(`INSERT INTO documents`).
			WithArgs("doc-1", userID, "story.html", int64(len(content)), content, createdAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Create(ctx, &domain.Document{
			ID: "doc-1", OwnerID: userID, Filename: "story.html", Size: int64(len(content)), Content: content, CreatedAt: createdAt,
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get", func(t *testing.T) {
		repo, mock := newDocumentRepo(t)
		mock.ExpectQuery(`FROM documents`).WithArgs("doc-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "filename", "size", "content", "created_at"}).
				AddRow("doc-1", userID, "story.html", int64(len(content)), content, createdAt))

		doc, err := repo.GetByID(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, content, doc.Content)
		assert.Equal(t, userID, doc.OwnerID)
	})

	t.Run("get_missing", func(t *testing.T) {
		repo, mock := newDocumentRepo(t)
		mock.ExpectQuery(`FROM documents`).WithArgs("nope").WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := repo.GetByID(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	})

	t.Run("delete_by_owner", func(t *testing.T) {
		repo, mock := newDocumentRepo(t)
		mock.ExpectExec(`DELETE FROM documents`).WithArgs(userID).WillReturnResult(sqlmock.NewResult(0, 3))

		n, err := repo.DeleteByOwner(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}
