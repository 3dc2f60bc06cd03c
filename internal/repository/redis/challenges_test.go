package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/repository"
)

func TestChallengeRepository_RoundTrip(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewChallengeRepository(client, "test:challenge")

	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	verified := true
	challenge := domain.LoginChallenge{
		ID:     "challenge-1",
		State:  domain.ChallengeAwaitingAuthenticator,
		Method: domain.TwoFactorAuthenticator,
		Principal: domain.Principal{
			ID:            "user-1",
			Email:         "trader@example.com",
			Username:      "trader1",
			EmailVerified: &verified,
			Binding:       domain.BindingNative,
		},
		Session: domain.ProviderSession{
			Binding:   domain.BindingNative,
			Material:  []byte("opaque-token"),
			ExpiresAt: created.Add(time.Hour),
		},
		CreatedAt: created,
		ExpiresAt: created.Add(5 * time.Minute),
	}

	ctx := context.Background()
	if err := repo.Save(ctx, challenge, 5*time.Minute); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	got, err := repo.Get(ctx, "challenge-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.State != domain.ChallengeAwaitingAuthenticator {
		t.Fatalf("unexpected state: %s", got.State)
	}
	if got.Principal.Email != "trader@example.com" {
		t.Fatalf("unexpected principal email: %s", got.Principal.Email)
	}
	if string(got.Session.Material) != "opaque-token" {
		t.Fatalf("session material did not round-trip")
	}
	if got.Principal.EmailVerified == nil || !*got.Principal.EmailVerified {
		t.Fatalf("verified flag did not round-trip")
	}
}

func TestChallengeRepository_ExpiresWithTTL(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewChallengeRepository(client, "test:challenge")

	challenge := domain.LoginChallenge{
		ID:        "challenge-ttl",
		State:     domain.ChallengeAwaitingEmailCode,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Minute),
	}

	ctx := context.Background()
	if err := repo.Save(ctx, challenge, time.Minute); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	server.FastForward(2 * time.Minute)

	if _, err := repo.Get(ctx, "challenge-ttl"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL, got %v", err)
	}
}

func TestChallengeRepository_GetUnknown(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewChallengeRepository(client, "test:challenge")

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
