package native

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/security"
	"github.com/leonlurk/broker-agm-sub002/internal/repository"
)

type stubUserStore struct {
	byEmail map[string]*UserRecord
	byID    map[string]*UserRecord

	createErr   error
	created     []UserRecord
	updatedHash map[string]string
}

func newStubUserStore() *stubUserStore {
	return &stubUserStore{
		byEmail:     map[string]*UserRecord{},
		byID:        map[string]*UserRecord{},
		updatedHash: map[string]string{},
	}
}

func (s *stubUserStore) add(user UserRecord) {
	u := user
	s.byEmail[u.Email] = &u
	s.byID[u.ID] = &u
}

func (s *stubUserStore) Create(_ context.Context, user UserRecord) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, user)
	s.add(user)
	return nil
}

func (s *stubUserStore) GetByID(_ context.Context, id string) (*UserRecord, error) {
	if user, ok := s.byID[id]; ok {
		return user, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubUserStore) GetByEmail(_ context.Context, email string) (*UserRecord, error) {
	if user, ok := s.byEmail[email]; ok {
		return user, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubUserStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	if _, ok := s.byID[id]; !ok {
		return repository.ErrNotFound
	}
	s.updatedHash[id] = hash
	return nil
}

type stubRevocations struct {
	revoked map[string]bool
	marked  []string
	cleared []string
}

func newStubRevocations() *stubRevocations {
	return &stubRevocations{revoked: map[string]bool{}}
}

func (s *stubRevocations) MarkRevoked(_ context.Context, userID, _ string, _ time.Duration) error {
	s.revoked[userID] = true
	s.marked = append(s.marked, userID)
	return nil
}

func (s *stubRevocations) IsRevoked(_ context.Context, userID string) (bool, error) {
	return s.revoked[userID], nil
}

func (s *stubRevocations) ClearRevoked(_ context.Context, userID string) error {
	delete(s.revoked, userID)
	s.cleared = append(s.cleared, userID)
	return nil
}

type stubCodeSender struct {
	sent      []sentCode
	sendErr   error
	sendFail  bool
	verifyOK  bool
	verifyMsg string
}

type sentCode struct {
	principalID string
	email       string
	purpose     domain.CodePurpose
}

func (s *stubCodeSender) SendCode(_ context.Context, principalID, email, _ string, purpose domain.CodePurpose) (port.SendResult, error) {
	if s.sendErr != nil {
		return port.SendResult{}, s.sendErr
	}
	if s.sendFail {
		return port.SendResult{Success: false, Message: "smtp down"}, nil
	}
	s.sent = append(s.sent, sentCode{principalID: principalID, email: email, purpose: purpose})
	return port.SendResult{Success: true}, nil
}

func (s *stubCodeSender) VerifyCode(context.Context, string, string, domain.CodePurpose) (port.VerifyResult, error) {
	return port.VerifyResult{Success: s.verifyOK, Message: s.verifyMsg}, nil
}

const testSecret = "unit-test-signing-secret"

func newTestBinding(t *testing.T, users userStore, revocations port.RevocationStore, codes port.CodeSender) *Binding {
	t.Helper()
	binding, err := NewBinding(users, testSecret, time.Hour, revocations, codes, nil)
	if err != nil {
		t.Fatalf("NewBinding returned error: %v", err)
	}
	return binding
}

func seedUser(t *testing.T, store *stubUserStore, email, password string) UserRecord {
	t.Helper()
	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	user := UserRecord{
		ID:           "user-1",
		Email:        email,
		Username:     "trader1",
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	store.add(user)
	return user
}

func TestRegisterRejectsInvalidEmail(t *testing.T) {
	binding := newTestBinding(t, newStubUserStore(), newStubRevocations(), nil)

	_, _, err := binding.Register(context.Background(), port.RegisterInput{
		Username: "trader1",
		Email:    "not-an-email",
		Password: "V3ry$trongPass!word",
	})
	if !errors.Is(err, port.ErrBindingInvalidEmail) {
		t.Fatalf("expected ErrBindingInvalidEmail, got %v", err)
	}
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	binding := newTestBinding(t, newStubUserStore(), newStubRevocations(), nil)

	_, _, err := binding.Register(context.Background(), port.RegisterInput{
		Username: "trader1",
		Email:    "trader@example.com",
		Password: "short",
	})
	if !errors.Is(err, port.ErrBindingWeakPassword) {
		t.Fatalf("expected ErrBindingWeakPassword, got %v", err)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	store := newStubUserStore()
	seedUser(t, store, "trader@example.com", "V3ry$trongPass!word")
	binding := newTestBinding(t, store, newStubRevocations(), nil)

	_, _, err := binding.Register(context.Background(), port.RegisterInput{
		Username: "trader2",
		Email:    "trader@example.com",
		Password: "An0ther$trongPass!",
	})
	if !errors.Is(err, port.ErrBindingEmailInUse) {
		t.Fatalf("expected ErrBindingEmailInUse, got %v", err)
	}
	if len(store.created) != 0 {
		t.Fatalf("expected no user created, got %d", len(store.created))
	}
}

func TestRegisterCreatesUserAndEmitsSignedIn(t *testing.T) {
	store := newStubUserStore()
	binding := newTestBinding(t, store, newStubRevocations(), nil)

	var events []domain.AuthStateEvent
	binding.OnAuthStateChange(func(_ context.Context, event domain.AuthStateEvent) {
		events = append(events, event)
	})

	principal, session, err := binding.Register(context.Background(), port.RegisterInput{
		Username: "trader1",
		Email:    "Trader@Example.com",
		Password: "V3ry$trongPass!word",
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if principal.Email != "trader@example.com" {
		t.Fatalf("expected normalized email, got %s", principal.Email)
	}
	if principal.Binding != domain.BindingNative {
		t.Fatalf("unexpected binding: %s", principal.Binding)
	}
	if len(session.Material) == 0 {
		t.Fatal("expected session material")
	}
	if len(events) != 1 || events[0].Kind != domain.AuthStateSignedIn {
		t.Fatalf("expected one signed_in event, got %+v", events)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected one created user, got %d", len(store.created))
	}
	if store.created[0].PasswordHash == "V3ry$trongPass!word" {
		t.Fatal("password stored unhashed")
	}
}

func TestSignInWithPasswordWrongPassword(t *testing.T) {
	store := newStubUserStore()
	seedUser(t, store, "trader@example.com", "V3ry$trongPass!word")
	binding := newTestBinding(t, store, newStubRevocations(), nil)

	_, _, err := binding.SignInWithPassword(context.Background(), "trader@example.com", "wrong-password")
	if !errors.Is(err, port.ErrBindingInvalidCredentials) {
		t.Fatalf("expected ErrBindingInvalidCredentials, got %v", err)
	}
}

func TestSignInWithPasswordUnknownEmail(t *testing.T) {
	binding := newTestBinding(t, newStubUserStore(), newStubRevocations(), nil)

	_, _, err := binding.SignInWithPassword(context.Background(), "nobody@example.com", "whatever")
	if !errors.Is(err, port.ErrBindingInvalidCredentials) {
		t.Fatalf("expected ErrBindingInvalidCredentials, got %v", err)
	}
}

func TestSignInClearsRevocationMark(t *testing.T) {
	store := newStubUserStore()
	user := seedUser(t, store, "trader@example.com", "V3ry$trongPass!word")
	revocations := newStubRevocations()
	revocations.revoked[user.ID] = true
	binding := newTestBinding(t, store, revocations, nil)

	_, _, err := binding.SignInWithPassword(context.Background(), "trader@example.com", "V3ry$trongPass!word")
	if err != nil {
		t.Fatalf("SignInWithPassword returned error: %v", err)
	}

	if revocations.revoked[user.ID] {
		t.Fatal("expected revocation mark to be cleared on fresh sign-in")
	}
}

func TestCurrentUserRoundTrip(t *testing.T) {
	store := newStubUserStore()
	user := seedUser(t, store, "trader@example.com", "V3ry$trongPass!word")
	binding := newTestBinding(t, store, newStubRevocations(), nil)

	_, session, err := binding.SignInWithPassword(context.Background(), user.Email, "V3ry$trongPass!word")
	if err != nil {
		t.Fatalf("SignInWithPassword returned error: %v", err)
	}

	principal, err := binding.CurrentUser(context.Background(), session)
	if err != nil {
		t.Fatalf("CurrentUser returned error: %v", err)
	}
	if principal.ID != user.ID {
		t.Fatalf("unexpected principal id: %s", principal.ID)
	}
}

func TestCurrentUserExpiredToken(t *testing.T) {
	store := newStubUserStore()
	user := seedUser(t, store, "trader@example.com", "V3ry$trongPass!word")
	binding := newTestBinding(t, store, newStubRevocations(), nil)

	past := time.Now().Add(-2 * time.Hour)
	binding.WithClock(func() time.Time { return past })
	_, session, err := binding.SignInWithPassword(context.Background(), user.Email, "V3ry$trongPass!word")
	if err != nil {
		t.Fatalf("SignInWithPassword returned error: %v", err)
	}

	binding.WithClock(time.Now)
	if _, err := binding.CurrentUser(context.Background(), session); !errors.Is(err, port.ErrBindingSessionExpired) {
		t.Fatalf("expected ErrBindingSessionExpired, got %v", err)
	}
}

func TestCurrentUserRevokedSession(t *testing.T) {
	store := newStubUserStore()
	user := seedUser(t, store, "trader@example.com", "V3ry$trongPass!word")
	revocations := newStubRevocations()
	binding := newTestBinding(t, store, revocations, nil)

	_, session, err := binding.SignInWithPassword(context.Background(), user.Email, "V3ry$trongPass!word")
	if err != nil {
		t.Fatalf("SignInWithPassword returned error: %v", err)
	}

	revocations.revoked[user.ID] = true
	if _, err := binding.CurrentUser(context.Background(), session); !errors.Is(err, port.ErrBindingSessionExpired) {
		t.Fatalf("expected ErrBindingSessionExpired, got %v", err)
	}
}

func TestSignOutMarksUserRevoked(t *testing.T) {
	store := newStubUserStore()
	user := seedUser(t, store, "trader@example.com", "V3ry$trongPass!word")
	revocations := newStubRevocations()
	binding := newTestBinding(t, store, revocations, nil)

	_, session, err := binding.SignInWithPassword(context.Background(), user.Email, "V3ry$trongPass!word")
	if err != nil {
		t.Fatalf("SignInWithPassword returned error: %v", err)
	}

	var events []domain.AuthStateEvent
	binding.OnAuthStateChange(func(_ context.Context, event domain.AuthStateEvent) {
		events = append(events, event)
	})

	if err := binding.SignOut(context.Background(), session); err != nil {
		t.Fatalf("SignOut returned error: %v", err)
	}

	if !revocations.revoked[user.ID] {
		t.Fatal("expected user to be marked revoked")
	}
	if len(events) != 1 || events[0].Kind != domain.AuthStateSignedOut {
		t.Fatalf("expected signed_out event, got %+v", events)
	}
}

func TestResetPasswordForEmailUnknownAddressIsSilent(t *testing.T) {
	codes := &stubCodeSender{}
	binding := newTestBinding(t, newStubUserStore(), newStubRevocations(), codes)

	if err := binding.ResetPasswordForEmail(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("expected silent success for unknown address, got %v", err)
	}
	if len(codes.sent) != 0 {
		t.Fatalf("expected no code sent, got %d", len(codes.sent))
	}
}

func TestResetPasswordForEmailSendsCode(t *testing.T) {
	store := newStubUserStore()
	user := seedUser(t, store, "trader@example.com", "V3ry$trongPass!word")
	codes := &stubCodeSender{}
	binding := newTestBinding(t, store, newStubRevocations(), codes)

	if err := binding.ResetPasswordForEmail(context.Background(), user.Email); err != nil {
		t.Fatalf("ResetPasswordForEmail returned error: %v", err)
	}

	if len(codes.sent) != 1 {
		t.Fatalf("expected one code sent, got %d", len(codes.sent))
	}
	if codes.sent[0].purpose != domain.CodePurposePasswordReset {
		t.Fatalf("unexpected purpose: %s", codes.sent[0].purpose)
	}
}

func TestUpdatePassword(t *testing.T) {
	store := newStubUserStore()
	user := seedUser(t, store, "trader@example.com", "V3ry$trongPass!word")
	binding := newTestBinding(t, store, newStubRevocations(), nil)

	_, session, err := binding.SignInWithPassword(context.Background(), user.Email, "V3ry$trongPass!word")
	if err != nil {
		t.Fatalf("SignInWithPassword returned error: %v", err)
	}

	if err := binding.UpdatePassword(context.Background(), session, "Fresh$trongPass!99"); err != nil {
		t.Fatalf("UpdatePassword returned error: %v", err)
	}

	hash, ok := store.updatedHash[user.ID]
	if !ok {
		t.Fatal("expected password hash to be updated")
	}
	match, err := security.VerifyPassword("Fresh$trongPass!99", hash)
	if err != nil || !match {
		t.Fatalf("stored hash does not verify new password: match=%v err=%v", match, err)
	}
}

func TestUpdatePasswordRejectsWeak(t *testing.T) {
	store := newStubUserStore()
	user := seedUser(t, store, "trader@example.com", "V3ry$trongPass!word")
	binding := newTestBinding(t, store, newStubRevocations(), nil)

	_, session, err := binding.SignInWithPassword(context.Background(), user.Email, "V3ry$trongPass!word")
	if err != nil {
		t.Fatalf("SignInWithPassword returned error: %v", err)
	}

	if err := binding.UpdatePassword(context.Background(), session, "weak"); !errors.Is(err, port.ErrBindingWeakPassword) {
		t.Fatalf("expected ErrBindingWeakPassword, got %v", err)
	}
}

func TestUserExists(t *testing.T) {
	store := newStubUserStore()
	seedUser(t, store, "trader@example.com", "V3ry$trongPass!word")
	binding := newTestBinding(t, store, newStubRevocations(), nil)

	exists, err := binding.UserExists(context.Background(), "trader@example.com")
	if err != nil || !exists {
		t.Fatalf("expected existing user, got exists=%v err=%v", exists, err)
	}

	exists, err = binding.UserExists(context.Background(), "other@example.com")
	if err != nil || exists {
		t.Fatalf("expected missing user, got exists=%v err=%v", exists, err)
	}
}
