package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/security"
	"github.com/leonlurk/broker-agm-sub002/internal/repository"
)

var (
	// ErrChallengeNotFound indicates the challenge id is unknown or already expired.
	ErrChallengeNotFound = errors.New("login challenge not found")
	// ErrChallengeState indicates the operation does not apply to the challenge's
	// current state, e.g. an email code submitted against an authenticator challenge.
	ErrChallengeState = errors.New("operation not valid for challenge state")
	// ErrIncorrectCode indicates the submitted code did not verify. The challenge
	// stays open and the code can be re-entered.
	ErrIncorrectCode = errors.New("incorrect verification code")
	// ErrCodeExpired indicates the emailed code outlived its validity window.
	ErrCodeExpired = errors.New("verification code expired")
	// ErrResendCooldown indicates a resend was requested before the cooldown elapsed.
	ErrResendCooldown = errors.New("resend requested too soon")
	// ErrCodeSendFailed indicates the email code could not be delivered.
	ErrCodeSendFailed = errors.New("could not send verification code")
	// ErrTwoFactorNotEnrolled indicates the user has no second factor configured.
	ErrTwoFactorNotEnrolled = errors.New("two-factor not enrolled")
	// ErrTwoFactorNotActive indicates enrollment exists but was never activated.
	ErrTwoFactorNotActive = errors.New("two-factor enrollment not activated")
	// ErrTwoFactorAlreadyActive indicates a second factor is already active.
	ErrTwoFactorAlreadyActive = errors.New("two-factor already active")
)

const backupCodeLength = 8

// TwoFactorService drives a login attempt through second-factor verification
// and manages per-user enrollment. Each login attempt is a LoginChallenge: the
// principal and provider session stay parked on the challenge until it reaches
// the verified state, so the caller never holds a usable session before the
// second factor clears.
//
// This layer imposes no attempt cap on code entry; abuse control lives in the
// transport rate limiter.
type TwoFactorService struct {
	statuses   port.TwoFactorStore
	challenges port.ChallengeStore
	codes      port.CodeSender
	totp       *security.TOTPManager
	events     port.EventPublisher
	log        *zap.Logger
	now        func() time.Time

	challengeTTL    time.Duration
	resendCooldown  time.Duration
	backupCodeCount int
}

// TwoFactorConfig bundles the orchestrator's tunables. Email code validity is
// not among them: the code sender owns that window and reports expiry through
// its verify result.
type TwoFactorConfig struct {
	ChallengeTTL    time.Duration
	ResendCooldown  time.Duration
	BackupCodeCount int
}

// NewTwoFactorService constructs the orchestrator.
func NewTwoFactorService(
	statuses port.TwoFactorStore,
	challenges port.ChallengeStore,
	codes port.CodeSender,
	totp *security.TOTPManager,
	events port.EventPublisher,
	cfg TwoFactorConfig,
	log *zap.Logger,
) *TwoFactorService {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = time.Minute
	}
	if cfg.BackupCodeCount <= 0 {
		cfg.BackupCodeCount = 10
	}

	return &TwoFactorService{
		statuses:        statuses,
		challenges:      challenges,
		codes:           codes,
		totp:            totp,
		events:          events,
		log:             log,
		now:             time.Now,
		challengeTTL:    cfg.ChallengeTTL,
		resendCooldown:  cfg.ResendCooldown,
		backupCodeCount: cfg.BackupCodeCount,
	}
}

// WithClock overrides the internal clock, used in tests.
func (s *TwoFactorService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// BeginChallenge opens a challenge for a principal that passed primary auth.
// A user without an active second factor goes straight to the verified state:
// no code is generated, sent, or checked, and nothing is persisted. For the
// email method the first code is sent synchronously here; the challenge only
// reaches the awaiting-email-code state if delivery succeeded.
func (s *TwoFactorService) BeginChallenge(ctx context.Context, principal domain.Principal, session domain.ProviderSession) (domain.LoginChallenge, error) {
	now := s.now().UTC()
	challenge := domain.LoginChallenge{
		ID:        uuid.NewString(),
		State:     domain.ChallengeAwaitingMethodCheck,
		Principal: principal,
		Session:   session,
		CreatedAt: now,
		ExpiresAt: now.Add(s.challengeTTL),
	}

	status, err := s.statuses.Get(ctx, principal.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return domain.LoginChallenge{}, fmt.Errorf("load two-factor status: %w", err)
	}

	if status == nil || !status.Enabled {
		challenge.State = domain.ChallengeVerified
		return challenge, nil
	}

	challenge.Method = status.Method

	switch status.Method {
	case domain.TwoFactorAuthenticator:
		challenge.State = domain.ChallengeAwaitingAuthenticator
	case domain.TwoFactorEmail:
		if err := s.sendEmailCode(ctx, &challenge); err != nil {
			return domain.LoginChallenge{}, err
		}
		challenge.State = domain.ChallengeAwaitingEmailCode
	default:
		return domain.LoginChallenge{}, fmt.Errorf("unsupported two-factor method %q", status.Method)
	}

	if err := s.challenges.Save(ctx, challenge, s.challengeTTL); err != nil {
		return domain.LoginChallenge{}, fmt.Errorf("save challenge: %w", err)
	}

	return challenge, nil
}

// VerifyAuthenticatorCode checks a code against an authenticator challenge.
// The code is tried as a TOTP value first; if that fails it gets exactly one
// try as a backup code, which is consumed whether it was the last one or not.
// An incorrect code leaves the challenge open for another attempt.
func (s *TwoFactorService) VerifyAuthenticatorCode(ctx context.Context, challengeID, code string) (domain.LoginChallenge, error) {
	challenge, err := s.loadChallenge(ctx, challengeID, domain.ChallengeAwaitingAuthenticator)
	if err != nil {
		return domain.LoginChallenge{}, err
	}

	status, err := s.statuses.Get(ctx, challenge.Principal.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.LoginChallenge{}, ErrTwoFactorNotEnrolled
		}
		return domain.LoginChallenge{}, fmt.Errorf("load two-factor status: %w", err)
	}

	secret, err := s.totp.DecodeSecret(status.Secret)
	if err != nil {
		return domain.LoginChallenge{}, fmt.Errorf("decode authenticator secret: %w", err)
	}

	ok, err := s.totp.VerifyCode(secret, code, s.now())
	if err != nil {
		return domain.LoginChallenge{}, fmt.Errorf("verify authenticator code: %w", err)
	}

	if !ok {
		consumed, err := s.statuses.ConsumeBackupCode(ctx, challenge.Principal.ID, security.HashToken(code))
		if err != nil {
			return domain.LoginChallenge{}, fmt.Errorf("consume backup code: %w", err)
		}
		if !consumed {
			return domain.LoginChallenge{}, ErrIncorrectCode
		}
		s.log.Info("backup code consumed", zap.String("user_id", challenge.Principal.ID))
	}

	return s.completeChallenge(ctx, challenge)
}

// VerifyEmailCode checks a code against an email challenge. An incorrect code
// leaves the challenge open; an expired code is reported distinctly so the
// caller can prompt for a resend instead of a retype.
func (s *TwoFactorService) VerifyEmailCode(ctx context.Context, challengeID, code string) (domain.LoginChallenge, error) {
	challenge, err := s.loadChallenge(ctx, challengeID, domain.ChallengeAwaitingEmailCode)
	if err != nil {
		return domain.LoginChallenge{}, err
	}

	result, err := s.codes.VerifyCode(ctx, challenge.Principal.ID, code, domain.CodePurposeTwoFactor)
	if err != nil {
		return domain.LoginChallenge{}, fmt.Errorf("verify email code: %w", err)
	}
	if !result.Success {
		if result.Expired {
			return domain.LoginChallenge{}, ErrCodeExpired
		}
		return domain.LoginChallenge{}, ErrIncorrectCode
	}

	return s.completeChallenge(ctx, challenge)
}

// ResendEmailCode sends a fresh code for an email challenge, at most once per
// cooldown window.
func (s *TwoFactorService) ResendEmailCode(ctx context.Context, challengeID string) (domain.LoginChallenge, error) {
	challenge, err := s.loadChallenge(ctx, challengeID, domain.ChallengeAwaitingEmailCode)
	if err != nil {
		return domain.LoginChallenge{}, err
	}

	if challenge.LastCodeSentAt != nil && s.now().Before(challenge.LastCodeSentAt.Add(s.resendCooldown)) {
		return domain.LoginChallenge{}, ErrResendCooldown
	}

	if err := s.sendEmailCode(ctx, &challenge); err != nil {
		return domain.LoginChallenge{}, err
	}

	if err := s.challenges.Save(ctx, challenge, s.challengeTTL); err != nil {
		return domain.LoginChallenge{}, fmt.Errorf("save challenge: %w", err)
	}

	return challenge, nil
}

// Enrollment is the provisioning material returned when authenticator
// enrollment starts. The secret is shown to the user exactly once.
type Enrollment struct {
	Secret       string
	ProvisionURI string
}

// EnrollAuthenticator provisions a new authenticator secret for the user.
// Enrollment is inert until Activate confirms the user can produce codes.
func (s *TwoFactorService) EnrollAuthenticator(ctx context.Context, principal domain.Principal) (Enrollment, error) {
	existing, err := s.statuses.Get(ctx, principal.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return Enrollment{}, fmt.Errorf("load two-factor status: %w", err)
	}
	if existing != nil && existing.Enabled {
		return Enrollment{}, ErrTwoFactorAlreadyActive
	}

	_, secretBase32, err := s.totp.GenerateSecret()
	if err != nil {
		return Enrollment{}, fmt.Errorf("generate authenticator secret: %w", err)
	}

	now := s.now().UTC()
	status := domain.TwoFactorStatus{
		UserID:     principal.ID,
		Enabled:    false,
		Method:     domain.TwoFactorAuthenticator,
		Secret:     secretBase32,
		EnrolledAt: now,
		UpdatedAt:  now,
	}
	if err := s.statuses.Upsert(ctx, status); err != nil {
		return Enrollment{}, fmt.Errorf("save two-factor status: %w", err)
	}

	return Enrollment{
		Secret:       secretBase32,
		ProvisionURI: s.totp.ProvisionURI(secretBase32, principal.Email),
	}, nil
}

// Activate turns a pending authenticator enrollment on after the user proves
// possession with a valid code. Backup codes are generated here and returned
// in plaintext exactly once; only their hashes are stored.
func (s *TwoFactorService) Activate(ctx context.Context, principal domain.Principal, code string) ([]string, error) {
	status, err := s.statuses.Get(ctx, principal.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTwoFactorNotEnrolled
		}
		return nil, fmt.Errorf("load two-factor status: %w", err)
	}
	if status.Enabled {
		return nil, ErrTwoFactorAlreadyActive
	}

	secret, err := s.totp.DecodeSecret(status.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode authenticator secret: %w", err)
	}
	ok, err := s.totp.VerifyCode(secret, code, s.now())
	if err != nil {
		return nil, fmt.Errorf("verify authenticator code: %w", err)
	}
	if !ok {
		return nil, ErrIncorrectCode
	}

	plain, hashes, err := s.generateBackupCodes()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	status.Enabled = true
	status.ActivatedAt = &now
	status.UpdatedAt = now
	status.BackupCodeHashes = hashes
	if err := s.statuses.Upsert(ctx, *status); err != nil {
		return nil, fmt.Errorf("save two-factor status: %w", err)
	}

	s.publishChanged(ctx, principal.ID, true, domain.TwoFactorAuthenticator)

	return plain, nil
}

// EnableEmail activates email-code second factor for the user. Possession of
// the mailbox is already established by the account's email verification, so
// no confirmation code is required here.
func (s *TwoFactorService) EnableEmail(ctx context.Context, principal domain.Principal) error {
	existing, err := s.statuses.Get(ctx, principal.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("load two-factor status: %w", err)
	}
	if existing != nil && existing.Enabled {
		return ErrTwoFactorAlreadyActive
	}

	now := s.now().UTC()
	status := domain.TwoFactorStatus{
		UserID:      principal.ID,
		Enabled:     true,
		Method:      domain.TwoFactorEmail,
		EnrolledAt:  now,
		ActivatedAt: &now,
		UpdatedAt:   now,
	}
	if err := s.statuses.Upsert(ctx, status); err != nil {
		return fmt.Errorf("save two-factor status: %w", err)
	}

	s.publishChanged(ctx, principal.ID, true, domain.TwoFactorEmail)

	return nil
}

// Disable removes the user's second-factor configuration entirely, backup
// codes included.
func (s *TwoFactorService) Disable(ctx context.Context, principal domain.Principal) error {
	status, err := s.statuses.Get(ctx, principal.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTwoFactorNotEnrolled
		}
		return fmt.Errorf("load two-factor status: %w", err)
	}

	if err := s.statuses.Delete(ctx, principal.ID); err != nil {
		return fmt.Errorf("delete two-factor status: %w", err)
	}

	s.publishChanged(ctx, principal.ID, false, status.Method)

	return nil
}

// RegenerateBackupCodes replaces the unused backup-code set with a fresh one
// and returns the new codes in plaintext exactly once. Previously issued
// codes stop working immediately.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, principal domain.Principal) ([]string, error) {
	status, err := s.statuses.Get(ctx, principal.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTwoFactorNotEnrolled
		}
		return nil, fmt.Errorf("load two-factor status: %w", err)
	}
	if !status.Enabled || status.Method != domain.TwoFactorAuthenticator {
		return nil, ErrTwoFactorNotActive
	}

	plain, hashes, err := s.generateBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.statuses.ReplaceBackupCodes(ctx, principal.ID, hashes); err != nil {
		return nil, fmt.Errorf("replace backup codes: %w", err)
	}

	return plain, nil
}

// Status returns the user's second-factor configuration, or nil when none exists.
func (s *TwoFactorService) Status(ctx context.Context, principal domain.Principal) (*domain.TwoFactorStatus, error) {
	status, err := s.statuses.Get(ctx, principal.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load two-factor status: %w", err)
	}
	return status, nil
}

func (s *TwoFactorService) loadChallenge(ctx context.Context, id string, want domain.ChallengeState) (domain.LoginChallenge, error) {
	challenge, err := s.challenges.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.LoginChallenge{}, ErrChallengeNotFound
		}
		return domain.LoginChallenge{}, fmt.Errorf("load challenge: %w", err)
	}
	if challenge.Expired(s.now()) || challenge.Terminal() {
		return domain.LoginChallenge{}, ErrChallengeNotFound
	}
	if challenge.State != want {
		return domain.LoginChallenge{}, ErrChallengeState
	}
	return *challenge, nil
}

func (s *TwoFactorService) completeChallenge(ctx context.Context, challenge domain.LoginChallenge) (domain.LoginChallenge, error) {
	challenge.State = domain.ChallengeVerified
	if err := s.challenges.Delete(ctx, challenge.ID); err != nil {
		s.log.Warn("delete verified challenge", zap.String("challenge_id", challenge.ID), zap.Error(err))
	}

	if s.events != nil {
		method := string(challenge.Method)
		event := domain.LoginSucceededEvent{
			EventID:         uuid.NewString(),
			UserID:          challenge.Principal.ID,
			Binding:         string(challenge.Session.Binding),
			TwoFactorMethod: &method,
			LoggedInAt:      s.now().UTC(),
		}
		if err := s.events.PublishLoginSucceeded(ctx, event); err != nil {
			s.log.Warn("publish login succeeded event", zap.Error(err))
		}
	}

	return challenge, nil
}

func (s *TwoFactorService) sendEmailCode(ctx context.Context, challenge *domain.LoginChallenge) error {
	result, err := s.codes.SendCode(ctx, challenge.Principal.ID, challenge.Principal.Email, challenge.Principal.Username, domain.CodePurposeTwoFactor)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCodeSendFailed, err)
	}
	if !result.Success {
		return fmt.Errorf("%w: %s", ErrCodeSendFailed, result.Message)
	}

	sentAt := s.now().UTC()
	challenge.LastCodeSentAt = &sentAt
	return nil
}

func (s *TwoFactorService) generateBackupCodes() ([]string, []string, error) {
	plain := make([]string, 0, s.backupCodeCount)
	hashes := make([]string, 0, s.backupCodeCount)
	for i := 0; i < s.backupCodeCount; i++ {
		code, err := security.GenerateNumericCode(backupCodeLength)
		if err != nil {
			return nil, nil, fmt.Errorf("generate backup code: %w", err)
		}
		plain = append(plain, code)
		hashes = append(hashes, security.HashToken(code))
	}
	return plain, hashes, nil
}

func (s *TwoFactorService) publishChanged(ctx context.Context, userID string, enabled bool, method domain.TwoFactorMethod) {
	if s.events == nil {
		return
	}
	event := domain.TwoFactorChangedEvent{
		EventID:   uuid.NewString(),
		UserID:    userID,
		Enabled:   enabled,
		Method:    string(method),
		ChangedAt: s.now().UTC(),
	}
	if err := s.events.PublishTwoFactorChanged(ctx, event); err != nil {
		s.log.Warn("publish two-factor changed event", zap.Error(err))
	}
}
