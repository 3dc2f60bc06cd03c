package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
	"github.com/leonlurk/broker-agm-sub002/internal/repository"
)

var profileColumns = []string{
	"id",
	"email",
	"username",
	"verified",
	"metadata",
	"created_at",
	"updated_at",
}

// ProfileRepository implements port.ProfileStore using PostgreSQL.
type ProfileRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewProfileRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewProfileRepository(exec pgExecutor) *ProfileRepository {
	return &ProfileRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a new profile row.
func (r *ProfileRepository) Create(ctx context.Context, profile domain.Profile) error {
	metadata, err := encodeMetadata(profile.Metadata)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert("auth.profiles").
		Columns(profileColumns...).
		Values(
			profile.ID,
			profile.Email,
			profile.Username,
			profile.Verified,
			metadata,
			profile.CreatedAt,
			profile.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert profile sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}

	return nil
}

// GetByID retrieves a profile by id.
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByEmail retrieves a profile by email.
func (r *ProfileRepository) GetByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	return r.getOne(ctx, squirrel.Eq{"email": email})
}

// FindByUsername returns every profile carrying the supplied username. More
// than one match is a data-integrity condition the caller must reject.
func (r *ProfileRepository) FindByUsername(ctx context.Context, username string) ([]domain.Profile, error) {
	stmt, args, err := r.builder.Select(profileColumns...).
		From("auth.profiles").
		Where(squirrel.Eq{"username": username}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select profiles sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []domain.Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}

	return profiles, nil
}

// SetVerified updates the verification flag for a profile.
func (r *ProfileRepository) SetVerified(ctx context.Context, id string, verified bool) error {
	stmt, args, err := r.builder.Update("auth.profiles").
		Set("verified", verified).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update profile sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Delete removes the profile row.
func (r *ProfileRepository) Delete(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Delete("auth.profiles").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete profile sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *ProfileRepository) getOne(ctx context.Context, pred squirrel.Eq) (*domain.Profile, error) {
	stmt, args, err := r.builder.Select(profileColumns...).
		From("auth.profiles").
		Where(pred).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select profile sql: %w", err)
	}

	profile, err := scanProfile(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return profile, nil
}

func scanProfile(row pgx.Row) (*domain.Profile, error) {
	var (
		profile  domain.Profile
		metadata []byte
	)

	if err := row.Scan(
		&profile.ID,
		&profile.Email,
		&profile.Username,
		&profile.Verified,
		&metadata,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &profile.Metadata); err != nil {
			return nil, fmt.Errorf("decode profile metadata: %w", err)
		}
	}

	return &profile, nil
}

func encodeMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode profile metadata: %w", err)
	}
	return encoded, nil
}

var _ port.ProfileStore = (*ProfileRepository)(nil)
