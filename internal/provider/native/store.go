package native

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/leonlurk/broker-agm-sub002/internal/repository"
)

// pgExecutor is the subset of pgxpool.Pool the store needs, satisfied by
// pgxmock in tests.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var userColumns = []string{
	"id",
	"email",
	"username",
	"password_hash",
	"email_verified",
	"created_at",
	"updated_at",
}

// UserRecord is the binding-owned identity row. It is never exposed past the
// binding boundary; callers only ever see domain.Principal.
type UserRecord struct {
	ID            string
	Email         string
	Username      string
	PasswordHash  string
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UserStore persists native identity records in PostgreSQL.
type UserStore struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserStore constructs a store backed by any executor that satisfies pgExecutor.
func NewUserStore(exec pgExecutor) *UserStore {
	return &UserStore{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a new user row.
func (s *UserStore) Create(ctx context.Context, user UserRecord) error {
	stmt, args, err := s.builder.Insert("auth.users").
		Columns(userColumns...).
		Values(
			user.ID,
			user.Email,
			user.Username,
			user.PasswordHash,
			user.EmailVerified,
			user.CreatedAt,
			user.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}

	if _, err := s.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by id.
func (s *UserStore) GetByID(ctx context.Context, id string) (*UserRecord, error) {
	return s.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByEmail retrieves a user by email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*UserRecord, error) {
	return s.getOne(ctx, squirrel.Eq{"email": email})
}

// UpdatePasswordHash replaces the stored password hash.
func (s *UserStore) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	stmt, args, err := s.builder.Update("auth.users").
		Set("password_hash", passwordHash).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update user sql: %w", err)
	}

	tag, err := s.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// SetEmailVerified updates the email verification flag.
func (s *UserStore) SetEmailVerified(ctx context.Context, id string, verified bool) error {
	stmt, args, err := s.builder.Update("auth.users").
		Set("email_verified", verified).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update user sql: %w", err)
	}

	tag, err := s.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update user verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (s *UserStore) getOne(ctx context.Context, pred squirrel.Eq) (*UserRecord, error) {
	stmt, args, err := s.builder.Select(userColumns...).
		From("auth.users").
		Where(pred).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	var user UserRecord
	if err := s.exec.QueryRow(ctx, stmt, args...).Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.PasswordHash,
		&user.EmailVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	return &user, nil
}
