package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"scroll-press/internal/domain"
)

// DocumentRepository implements domain.DocumentRepository for PostgreSQL.
type DocumentRepository struct {
	db                *sql.DB
	createStmt        *sql.Stmt
	getByIDStmt       *sql.Stmt
	deleteByOwnerStmt *sql.Stmt
}

func NewDocumentRepository(db *sql.DB) (*DocumentRepository, error) {
	repo := &DocumentRepository{db: db}

	var err error
	repo.createStmt, err = db.Prepare(`
		INSERT INTO documents (id, owner_id, filename, size, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare create statement: %w", err)
	}

	repo.getByIDStmt, err = db.Prepare(`
		SELECT id, owner_id, filename, size, content, created_at
		FROM documents
		WHERE id = $1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare getByID statement: %w", err)
	}

	repo.deleteByOwnerStmt, err = db.Prepare(`DELETE FROM documents WHERE owner_id = $1`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare deleteByOwner statement: %w", err)
	}

	return repo, nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	defer observe("insert", "documents", time.Now())

	_, err := r.createStmt.ExecContext(ctx,
		doc.ID, doc.OwnerID, doc.Filename, doc.Size, doc.Content, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	defer observe("select", "documents", time.Now())

	doc := &domain.Document{}
	err := r.getByIDStmt.QueryRowContext(ctx, id).Scan(
		&doc.ID,
		&doc.OwnerID,
		&doc.Filename,
		&doc.Size,
		&doc.Content,
		&doc.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepository) DeleteByOwner(ctx context.Context, ownerID string) (int, error) {
	defer observe("delete", "documents", time.Now())

	result, err := r.deleteByOwnerStmt.ExecContext(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}
