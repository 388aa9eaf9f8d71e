package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"scroll-press/internal/domain"
)

const userColumns = `id, email, display_name, password_hash, email_verified, created_at`

// UserRepository implements domain.UserRepository for PostgreSQL.
type UserRepository struct {
	db                 *sql.DB
	createStmt         *sql.Stmt
	getByIDStmt        *sql.Stmt
	getByEmailStmt     *sql.Stmt
	updatePasswordStmt *sql.Stmt
	markVerifiedStmt   *sql.Stmt
	deleteStmt         *sql.Stmt
}

// NewUserRepository prepares every statement up front and fails if any
// does not prepare.
func NewUserRepository(db *sql.DB) (*UserRepository, error) {
	repo := &UserRepository{db: db}

	statements := []struct {
		name  string
		dst   **sql.Stmt
		query string
	}{
		{"create", &repo.createStmt, `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`},
		{"getByID", &repo.getByIDStmt, `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1
	`},
		{"getByEmail", &repo.getByEmailStmt, `
		SELECT ` + userColumns + `
		FROM users
		WHERE lower(email) = lower($1)
	`},
		{"updatePassword", &repo.updatePasswordStmt, `UPDATE users SET password_hash = $2 WHERE id = $1`},
		{"markEmailVerified", &repo.markVerifiedStmt, `UPDATE users SET email_verified = TRUE WHERE id = $1`},
		{"delete", &repo.deleteStmt, `DELETE FROM users WHERE id = $1`},
	}

	for _, s := range statements {
		stmt, err := db.Prepare(s.query)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare %s statement: %w", s.name, err)
		}
		*s.dst = stmt
	}

	return repo, nil
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	defer observe("insert", "users", time.Now())

	_, err := r.createStmt.ExecContext(ctx,
		user.ID,
		user.Email,
		user.DisplayName,
		user.PasswordHash,
		user.EmailVerified,
		user.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err, constraintUsersEmail) {
			return domain.ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	defer observe("select", "users", time.Now())
	return scanUser(r.getByIDStmt.QueryRowContext(ctx, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	defer observe("select", "users", time.Now())
	return scanUser(r.getByEmailStmt.QueryRowContext(ctx, email))
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	defer observe("update", "users", time.Now())
	return execOne(r.updatePasswordStmt.ExecContext(ctx, id, passwordHash))
}

func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	defer observe("update", "users", time.Now())
	return execOne(r.markVerifiedStmt.ExecContext(ctx, id))
}

// Delete removes the user; their documents go with them via ON DELETE CASCADE.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	defer observe("delete", "users", time.Now())
	return execOne(r.deleteStmt.ExecContext(ctx, id))
}

// Close releases the prepared statements.
func (r *UserRepository) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{
		r.createStmt, r.getByIDStmt, r.getByEmailStmt,
		r.updatePasswordStmt, r.markVerifiedStmt, r.deleteStmt,
	} {
		if stmt != nil {
			errs = append(errs, stmt.Close())
		}
	}
	return errors.Join(errs...)
}

func scanUser(row *sql.Row) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.EmailVerified,
		&user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// execOne maps "no row affected" to ErrUserNotFound.
func execOne(result sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
