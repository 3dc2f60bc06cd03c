package native

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/leonlurk/broker-agm-sub002/internal/repository"
)

func TestUserStore_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	store := NewUserStore(mock)

	now := time.Now().UTC()
	user := UserRecord{
		ID:           "user-123",
		Email:        "trader@example.com",
		Username:     "trader1",
		PasswordHash: "argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	mock.ExpectExec(`INSERT INTO auth\.users`).
		WithArgs(
			user.ID,
			user.Email,
			user.Username,
			user.PasswordHash,
			user.EmailVerified,
			user.CreatedAt,
			user.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.Create(context.Background(), user); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserStore_GetByEmail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	store := NewUserStore(mock)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .+ FROM auth\.users`).
		WithArgs("trader@example.com").
		WillReturnRows(pgxmock.NewRows(userColumns).AddRow(
			"user-123", "trader@example.com", "trader1", "hash", true, now, now,
		))

	user, err := store.GetByEmail(context.Background(), "trader@example.com")
	if err != nil {
		t.Fatalf("GetByEmail returned error: %v", err)
	}
	if user.ID != "user-123" || !user.EmailVerified {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestUserStore_GetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	store := NewUserStore(mock)

	mock.ExpectQuery(`SELECT .+ FROM auth\.users`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(userColumns))

	if _, err := store.GetByID(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserStore_UpdatePasswordHashMissingRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	store := NewUserStore(mock)

	mock.ExpectExec(`UPDATE auth\.users`).
		WithArgs("new-hash", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := store.UpdatePasswordHash(context.Background(), "missing", "new-hash"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserStore_SetEmailVerified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	store := NewUserStore(mock)

	mock.ExpectExec(`UPDATE auth\.users`).
		WithArgs(true, pgxmock.AnyArg(), "user-123").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := store.SetEmailVerified(context.Background(), "user-123", true); err != nil {
		t.Fatalf("SetEmailVerified returned error: %v", err)
	}
}
