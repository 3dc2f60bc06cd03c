package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/security"
)

type twoFactorFixture struct {
	svc        *TwoFactorService
	statuses   *stubTwoFactorStore
	challenges *stubChallengeStore
	codes      *stubCodeSender
	totp       *security.TOTPManager
	events     *publishedEvents
	clock      *time.Time
}

func newTwoFactorFixture(t *testing.T) *twoFactorFixture {
	t.Helper()

	statuses := newStubTwoFactorStore()
	challenges := newStubChallengeStore()
	codes := &stubCodeSender{}
	events := &publishedEvents{}
	totp := security.NewTOTPManager(security.DefaultTOTPConfig("Broker"))

	svc := NewTwoFactorService(statuses, challenges, codes, totp, events, TwoFactorConfig{
		ChallengeTTL:    5 * time.Minute,
		ResendCooldown:  time.Minute,
		BackupCodeCount: 10,
	}, zap.NewNop())

	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	clock := &now
	svc.WithClock(func() time.Time { return *clock })

	return &twoFactorFixture{
		svc:        svc,
		statuses:   statuses,
		challenges: challenges,
		codes:      codes,
		totp:       totp,
		events:     events,
		clock:      clock,
	}
}

func (f *twoFactorFixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *twoFactorFixture) enrollAuthenticator(t *testing.T, userID string) []byte {
	t.Helper()
	secret, secretBase32, err := f.totp.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	f.statuses.statuses[userID] = domain.TwoFactorStatus{
		UserID:  userID,
		Enabled: true,
		Method:  domain.TwoFactorAuthenticator,
		Secret:  secretBase32,
	}
	return secret
}

func TestBeginChallengeDisabledGoesStraightToVerified(t *testing.T) {
	f := newTwoFactorFixture(t)

	challenge, err := f.svc.BeginChallenge(context.Background(), testPrincipal("u1", "user@example.com", "trader7"), testSession())
	if err != nil {
		t.Fatalf("BeginChallenge: %v", err)
	}
	if challenge.State != domain.ChallengeVerified {
		t.Fatalf("expected verified, got %q", challenge.State)
	}
	if len(f.codes.sent) != 0 {
		t.Fatal("no code may be sent when the second factor is disabled")
	}
	if len(f.challenges.challenges) != 0 {
		t.Fatal("nothing may be persisted when the second factor is disabled")
	}
}

func TestBeginChallengeAuthenticator(t *testing.T) {
	f := newTwoFactorFixture(t)
	f.enrollAuthenticator(t, "u1")

	challenge, err := f.svc.BeginChallenge(context.Background(), testPrincipal("u1", "user@example.com", "trader7"), testSession())
	if err != nil {
		t.Fatalf("BeginChallenge: %v", err)
	}
	if challenge.State != domain.ChallengeAwaitingAuthenticator {
		t.Fatalf("expected awaiting authenticator, got %q", challenge.State)
	}
	if len(f.codes.sent) != 0 {
		t.Fatal("authenticator flow must not send email codes")
	}
	if _, ok := f.challenges.challenges[challenge.ID]; !ok {
		t.Fatal("challenge not persisted")
	}
}

func TestBeginChallengeEmailSendsSynchronously(t *testing.T) {
	f := newTwoFactorFixture(t)
	f.statuses.statuses["u1"] = domain.TwoFactorStatus{
		UserID: "u1", Enabled: true, Method: domain.TwoFactorEmail,
	}

	challenge, err := f.svc.BeginChallenge(context.Background(), testPrincipal("u1", "user@example.com", "trader7"), testSession())
	if err != nil {
		t.Fatalf("BeginChallenge: %v", err)
	}
	if challenge.State != domain.ChallengeAwaitingEmailCode {
		t.Fatalf("expected awaiting email code, got %q", challenge.State)
	}
	if challenge.LastCodeSentAt == nil {
		t.Fatal("LastCodeSentAt not recorded")
	}
	if len(f.codes.sent) != 1 || f.codes.sent[0].purpose != domain.CodePurposeTwoFactor {
		t.Fatalf("expected one two-factor code send, got %+v", f.codes.sent)
	}
}

func TestBeginChallengeEmailSendFailureBlocksTransition(t *testing.T) {
	f := newTwoFactorFixture(t)
	f.statuses.statuses["u1"] = domain.TwoFactorStatus{
		UserID: "u1", Enabled: true, Method: domain.TwoFactorEmail,
	}
	f.codes.sendFail = true

	_, err := f.svc.BeginChallenge(context.Background(), testPrincipal("u1", "user@example.com", "trader7"), testSession())
	if !errors.Is(err, ErrCodeSendFailed) {
		t.Fatalf("expected ErrCodeSendFailed, got %v", err)
	}
	if len(f.challenges.challenges) != 0 {
		t.Fatal("challenge must not persist when the first send fails")
	}
}

func TestVerifyAuthenticatorCodeTOTP(t *testing.T) {
	f := newTwoFactorFixture(t)
	secret := f.enrollAuthenticator(t, "u1")

	challenge, err := f.svc.BeginChallenge(context.Background(), testPrincipal("u1", "user@example.com", "trader7"), testSession())
	if err != nil {
		t.Fatalf("BeginChallenge: %v", err)
	}

	code, err := f.totp.GenerateCode(secret, *f.clock)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	verified, err := f.svc.VerifyAuthenticatorCode(context.Background(), challenge.ID, code)
	if err != nil {
		t.Fatalf("VerifyAuthenticatorCode: %v", err)
	}
	if verified.State != domain.ChallengeVerified {
		t.Fatalf("expected verified, got %q", verified.State)
	}
	if len(f.events.loginsOK) != 1 {
		t.Fatalf("expected login succeeded event, got %d", len(f.events.loginsOK))
	}
	if f.events.loginsOK[0].TwoFactorMethod == nil || *f.events.loginsOK[0].TwoFactorMethod != "authenticator" {
		t.Fatal("login event missing two-factor method")
	}
	if _, ok := f.challenges.challenges[challenge.ID]; ok {
		t.Fatal("verified challenge must be deleted")
	}
}

func TestVerifyAuthenticatorBackupCodeConsumedOnce(t *testing.T) {
	f := newTwoFactorFixture(t)
	f.enrollAuthenticator(t, "u1")

	backup := "48213975"
	status := f.statuses.statuses["u1"]
	status.BackupCodeHashes = []string{security.HashToken(backup)}
	f.statuses.statuses["u1"] = status

	principal := testPrincipal("u1", "user@example.com", "trader7")

	first, err := f.svc.BeginChallenge(context.Background(), principal, testSession())
	if err != nil {
		t.Fatalf("BeginChallenge: %v", err)
	}
	verified, err := f.svc.VerifyAuthenticatorCode(context.Background(), first.ID, backup)
	if err != nil {
		t.Fatalf("backup code must verify: %v", err)
	}
	if verified.State != domain.ChallengeVerified {
		t.Fatalf("expected verified, got %q", verified.State)
	}

	// The same code on a new challenge must fail: it was consumed.
	second, err := f.svc.BeginChallenge(context.Background(), principal, testSession())
	if err != nil {
		t.Fatalf("BeginChallenge: %v", err)
	}
	if _, err := f.svc.VerifyAuthenticatorCode(context.Background(), second.ID, backup); !errors.Is(err, ErrIncorrectCode) {
		t.Fatalf("consumed backup code must be rejected, got %v", err)
	}
}

func TestVerifyAuthenticatorIncorrectCodeLeavesChallengeOpen(t *testing.T) {
	f := newTwoFactorFixture(t)
	f.enrollAuthenticator(t, "u1")

	challenge, err := f.svc.BeginChallenge(context.Background(), testPrincipal("u1", "user@example.com", "trader7"), testSession())
	if err != nil {
		t.Fatalf("BeginChallenge: %v", err)
	}

	if _, err := f.svc.VerifyAuthenticatorCode(context.Background(), challenge.ID, "000000"); !errors.Is(err, ErrIncorrectCode) {
		t.Fatalf("expected ErrIncorrectCode, got %v", err)
	}
	if _, ok := f.challenges.challenges[challenge.ID]; !ok {
		t.Fatal("challenge must stay open after an incorrect code")
	}
}

func TestVerifyEmailCode(t *testing.T) {
	f := newTwoFactorFixture(t)
	f.statuses.statuses["u1"] = domain.TwoFactorStatus{
		UserID: "u1", Enabled: true, Method: domain.TwoFactorEmail,
	}

	challenge, err := f.svc.BeginChallenge(context.Background(), testPrincipal("u1", "user@example.com", "trader7"), testSession())
	if err != nil {
		t.Fatalf("BeginChallenge: %v", err)
	}

	t.Run("incorrect while code is live", func(t *testing.T) {
		f.codes.verifyOK = false
		if _, err := f.svc.VerifyEmailCode(context.Background(), challenge.ID, "111111"); !errors.Is(err, ErrIncorrectCode) {
			t.Fatalf("expected ErrIncorrectCode, got %v", err)
		}
	})

	t.Run("sender-reported expiry maps to ErrCodeExpired", func(t *testing.T) {
		f.codes.verifyOK = false
		f.codes.verifyExpired = true
		if _, err := f.svc.VerifyEmailCode(context.Background(), challenge.ID, "111111"); !errors.Is(err, ErrCodeExpired) {
			t.Fatalf("expected ErrCodeExpired, got %v", err)
		}
		f.codes.verifyExpired = false
	})

	t.Run("correct code verifies", func(t *testing.T) {
		f.codes.verifyOK = true
		verified, err := f.svc.VerifyEmailCode(context.Background(), challenge.ID, "222222")
		if err != nil {
			t.Fatalf("VerifyEmailCode: %v", err)
		}
		if verified.State != domain.ChallengeVerified {
			t.Fatalf("expected verified, got %q", verified.State)
		}
	})
}

func TestResendEmailCodeCooldown(t *testing.T) {
	f := newTwoFactorFixture(t)
	f.statuses.statuses["u1"] = domain.TwoFactorStatus{
		UserID: "u1", Enabled: true, Method: domain.TwoFactorEmail,
	}

	challenge, err := f.svc.BeginChallenge(context.Background(), testPrincipal("u1", "user@example.com", "trader7"), testSession())
	if err != nil {
		t.Fatalf("BeginChallenge: %v", err)
	}

	if _, err := f.svc.ResendEmailCode(context.Background(), challenge.ID); !errors.Is(err, ErrResendCooldown) {
		t.Fatalf("resend inside the cooldown must be denied, got %v", err)
	}

	f.advance(61 * time.Second)
	updated, err := f.svc.ResendEmailCode(context.Background(), challenge.ID)
	if err != nil {
		t.Fatalf("ResendEmailCode: %v", err)
	}
	if len(f.codes.sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(f.codes.sent))
	}
	if updated.LastCodeSentAt == nil || !updated.LastCodeSentAt.Equal(f.clock.UTC()) {
		t.Fatal("LastCodeSentAt not refreshed on resend")
	}
}

func TestEnrollAndActivateAuthenticator(t *testing.T) {
	f := newTwoFactorFixture(t)
	principal := testPrincipal("u1", "user@example.com", "trader7")

	enrollment, err := f.svc.EnrollAuthenticator(context.Background(), principal)
	if err != nil {
		t.Fatalf("EnrollAuthenticator: %v", err)
	}
	if enrollment.Secret == "" || enrollment.ProvisionURI == "" {
		t.Fatal("enrollment material missing")
	}

	secret, err := f.totp.DecodeSecret(enrollment.Secret)
	if err != nil {
		t.Fatalf("DecodeSecret: %v", err)
	}

	t.Run("wrong code does not activate", func(t *testing.T) {
		if _, err := f.svc.Activate(context.Background(), principal, "000000"); !errors.Is(err, ErrIncorrectCode) {
			t.Fatalf("expected ErrIncorrectCode, got %v", err)
		}
		if f.statuses.statuses["u1"].Enabled {
			t.Fatal("enrollment must stay inactive after a wrong code")
		}
	})

	code, err := f.totp.GenerateCode(secret, *f.clock)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	backupCodes, err := f.svc.Activate(context.Background(), principal, code)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if len(backupCodes) != 10 {
		t.Fatalf("expected 10 backup codes, got %d", len(backupCodes))
	}

	status := f.statuses.statuses["u1"]
	if !status.Enabled || status.ActivatedAt == nil {
		t.Fatal("status not activated")
	}
	if len(status.BackupCodeHashes) != 10 {
		t.Fatalf("expected 10 stored hashes, got %d", len(status.BackupCodeHashes))
	}
	for i, hash := range status.BackupCodeHashes {
		if hash == backupCodes[i] {
			t.Fatal("backup codes must be stored hashed")
		}
	}
	if len(f.events.twoFactor) != 1 || !f.events.twoFactor[0].Enabled {
		t.Fatalf("expected enabled change event, got %+v", f.events.twoFactor)
	}
}

func TestDisableRemovesConfiguration(t *testing.T) {
	f := newTwoFactorFixture(t)
	f.enrollAuthenticator(t, "u1")
	principal := testPrincipal("u1", "user@example.com", "trader7")

	if err := f.svc.Disable(context.Background(), principal); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if _, ok := f.statuses.statuses["u1"]; ok {
		t.Fatal("status must be deleted")
	}
	if len(f.events.twoFactor) != 1 || f.events.twoFactor[0].Enabled {
		t.Fatalf("expected disabled change event, got %+v", f.events.twoFactor)
	}

	if err := f.svc.Disable(context.Background(), principal); !errors.Is(err, ErrTwoFactorNotEnrolled) {
		t.Fatalf("expected ErrTwoFactorNotEnrolled, got %v", err)
	}
}

func TestRegenerateBackupCodesReplacesSet(t *testing.T) {
	f := newTwoFactorFixture(t)
	f.enrollAuthenticator(t, "u1")

	old := "11112222"
	status := f.statuses.statuses["u1"]
	status.BackupCodeHashes = []string{security.HashToken(old)}
	f.statuses.statuses["u1"] = status

	fresh, err := f.svc.RegenerateBackupCodes(context.Background(), testPrincipal("u1", "user@example.com", "trader7"))
	if err != nil {
		t.Fatalf("RegenerateBackupCodes: %v", err)
	}
	if len(fresh) != 10 {
		t.Fatalf("expected 10 codes, got %d", len(fresh))
	}

	consumed, err := f.statuses.ConsumeBackupCode(context.Background(), "u1", security.HashToken(old))
	if err != nil {
		t.Fatalf("ConsumeBackupCode: %v", err)
	}
	if consumed {
		t.Fatal("old backup codes must stop working after regeneration")
	}
}
