package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/repository"
)

func TestCodeRepository_StoreAndFetch(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewCodeRepository(client, "test:code")

	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo.WithClock(func() time.Time { return fixed })

	ctx := context.Background()
	record, err := repo.Store(ctx, domain.CodePurposeEmailConfirmation, "user-1", "hash-abc", 10*time.Minute)
	if err != nil {
		t.Fatalf("Store returned error: %v", err)
	}
	if record.ExpiresAt != fixed.Add(10*time.Minute) {
		t.Fatalf("unexpected expiry: %v", record.ExpiresAt)
	}

	fetched, err := repo.Fetch(ctx, domain.CodePurposeEmailConfirmation, "user-1")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if fetched.CodeHash != "hash-abc" {
		t.Fatalf("expected stored hash, got %s", fetched.CodeHash)
	}
	if fetched.Attempts != 0 {
		t.Fatalf("expected zero attempts, got %d", fetched.Attempts)
	}
}

func TestCodeRepository_StoreReplacesPreviousCode(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewCodeRepository(client, "test:code")

	ctx := context.Background()
	if _, err := repo.Store(ctx, domain.CodePurposeTwoFactor, "user-1", "hash-old", time.Minute); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}
	if _, err := repo.Store(ctx, domain.CodePurposeTwoFactor, "user-1", "hash-new", time.Minute); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}

	fetched, err := repo.Fetch(ctx, domain.CodePurposeTwoFactor, "user-1")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if fetched.CodeHash != "hash-new" {
		t.Fatalf("expected most recent code to win, got %s", fetched.CodeHash)
	}
}

func TestCodeRepository_PurposesAreIsolated(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewCodeRepository(client, "test:code")

	ctx := context.Background()
	if _, err := repo.Store(ctx, domain.CodePurposeEmailConfirmation, "user-1", "hash-confirm", time.Minute); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}

	if _, err := repo.Fetch(ctx, domain.CodePurposeTwoFactor, "user-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other purpose, got %v", err)
	}
}

func TestCodeRepository_DeleteEnforcesSingleUse(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewCodeRepository(client, "test:code")

	ctx := context.Background()
	if _, err := repo.Store(ctx, domain.CodePurposeEmailConfirmation, "user-1", "hash-abc", time.Minute); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}

	if err := repo.Delete(ctx, domain.CodePurposeEmailConfirmation, "user-1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if err := repo.Delete(ctx, domain.CodePurposeEmailConfirmation, "user-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestCodeRepository_IncrementAttempts(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewCodeRepository(client, "test:code")

	ctx := context.Background()
	if _, err := repo.Store(ctx, domain.CodePurposeTwoFactor, "user-1", "hash-abc", time.Minute); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}

	count, err := repo.IncrementAttempts(ctx, domain.CodePurposeTwoFactor, "user-1")
	if err != nil {
		t.Fatalf("IncrementAttempts returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected attempts 1, got %d", count)
	}
}
