package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
	"github.com/leonlurk/broker-agm-sub002/internal/repository"
)

var twoFactorColumns = []string{
	"user_id",
	"enabled",
	"method",
	"secret",
	"backup_codes",
	"enrolled_at",
	"activated_at",
	"updated_at",
}

// TwoFactorRepository implements port.TwoFactorStore using PostgreSQL.
// Backup code hashes live in a text[] column; consumption removes the hash
// in a single UPDATE so a code can never be spent twice.
type TwoFactorRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewTwoFactorRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewTwoFactorRepository(exec pgExecutor) *TwoFactorRepository {
	return &TwoFactorRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Get retrieves the second-factor configuration for a user.
func (r *TwoFactorRepository) Get(ctx context.Context, userID string) (*domain.TwoFactorStatus, error) {
	stmt, args, err := r.builder.Select(twoFactorColumns...).
		From("auth.twofactor").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select twofactor sql: %w", err)
	}

	var status domain.TwoFactorStatus
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&status.UserID,
		&status.Enabled,
		&status.Method,
		&status.Secret,
		&status.BackupCodeHashes,
		&status.EnrolledAt,
		&status.ActivatedAt,
		&status.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan twofactor: %w", err)
	}

	return &status, nil
}

// Upsert creates or replaces the second-factor configuration for a user.
func (r *TwoFactorRepository) Upsert(ctx context.Context, status domain.TwoFactorStatus) error {
	stmt, args, err := r.builder.Insert("auth.twofactor").
		Columns(twoFactorColumns...).
		Values(
			status.UserID,
			status.Enabled,
			status.Method,
			status.Secret,
			status.BackupCodeHashes,
			status.EnrolledAt,
			status.ActivatedAt,
			status.UpdatedAt,
		).
		Suffix(`ON CONFLICT (user_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			method = EXCLUDED.method,
			secret = EXCLUDED.secret,
			backup_codes = EXCLUDED.backup_codes,
			activated_at = EXCLUDED.activated_at,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert twofactor sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("upsert twofactor: %w", err)
	}

	return nil
}

// ConsumeBackupCode removes the hash from the unused set and reports whether
// it was present. The removal happens in one statement, so concurrent consumers
// of the same code observe exactly one success.
func (r *TwoFactorRepository) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	tag, err := r.exec.Exec(ctx,
		`UPDATE auth.twofactor
		 SET backup_codes = array_remove(backup_codes, $2), updated_at = now()
		 WHERE user_id = $1 AND $2 = ANY(backup_codes)`,
		userID, codeHash,
	)
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ReplaceBackupCodes swaps the full set of unused backup code hashes.
func (r *TwoFactorRepository) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error {
	stmt, args, err := r.builder.Update("auth.twofactor").
		Set("backup_codes", codeHashes).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update backup codes sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("replace backup codes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Delete removes the second-factor configuration for a user.
func (r *TwoFactorRepository) Delete(ctx context.Context, userID string) error {
	stmt, args, err := r.builder.Delete("auth.twofactor").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete twofactor sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete twofactor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

var _ port.TwoFactorStore = (*TwoFactorRepository)(nil)
