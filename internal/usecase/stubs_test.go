package usecase

import (
	"context"
	"time"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
	"github.com/leonlurk/broker-agm-sub002/internal/repository"
)

type stubBinding struct {
	name domain.BindingName

	registerFn   func(ctx context.Context, input port.RegisterInput) (domain.Principal, domain.ProviderSession, error)
	signInFn     func(ctx context.Context, email, password string) (domain.Principal, domain.ProviderSession, error)
	signOutFn    func(ctx context.Context, session domain.ProviderSession) error
	resetFn      func(ctx context.Context, email string) error
	updateFn     func(ctx context.Context, session domain.ProviderSession, newPassword string) error
	currentFn    func(ctx context.Context, session domain.ProviderSession) (domain.Principal, error)
	existsFn     func(ctx context.Context, email string) (bool, error)
	callbacks    []port.AuthStateCallback
	signInCalls  int
	signOutCalls int
}

func (b *stubBinding) Name() domain.BindingName { return b.name }

func (b *stubBinding) Register(ctx context.Context, input port.RegisterInput) (domain.Principal, domain.ProviderSession, error) {
	if b.registerFn != nil {
		return b.registerFn(ctx, input)
	}
	return domain.Principal{}, domain.ProviderSession{}, nil
}

func (b *stubBinding) SignInWithPassword(ctx context.Context, email, password string) (domain.Principal, domain.ProviderSession, error) {
	b.signInCalls++
	if b.signInFn != nil {
		return b.signInFn(ctx, email, password)
	}
	return domain.Principal{}, domain.ProviderSession{}, nil
}

func (b *stubBinding) SignOut(ctx context.Context, session domain.ProviderSession) error {
	b.signOutCalls++
	if b.signOutFn != nil {
		return b.signOutFn(ctx, session)
	}
	return nil
}

func (b *stubBinding) ResetPasswordForEmail(ctx context.Context, email string) error {
	if b.resetFn != nil {
		return b.resetFn(ctx, email)
	}
	return nil
}

func (b *stubBinding) UpdatePassword(ctx context.Context, session domain.ProviderSession, newPassword string) error {
	if b.updateFn != nil {
		return b.updateFn(ctx, session, newPassword)
	}
	return nil
}

func (b *stubBinding) CurrentUser(ctx context.Context, session domain.ProviderSession) (domain.Principal, error) {
	if b.currentFn != nil {
		return b.currentFn(ctx, session)
	}
	return domain.Principal{}, nil
}

func (b *stubBinding) UserExists(ctx context.Context, email string) (bool, error) {
	if b.existsFn != nil {
		return b.existsFn(ctx, email)
	}
	return false, nil
}

func (b *stubBinding) OnAuthStateChange(cb port.AuthStateCallback) {
	b.callbacks = append(b.callbacks, cb)
}

func (b *stubBinding) emit(ctx context.Context, event domain.AuthStateEvent) {
	for _, cb := range b.callbacks {
		cb(ctx, event)
	}
}

type stubProfileStore struct {
	byID       map[string]domain.Profile
	byUsername map[string][]domain.Profile
	created    []domain.Profile
	verified   map[string]bool
	createErr  error
	findErr    error
	getErr     error
}

func newStubProfileStore() *stubProfileStore {
	return &stubProfileStore{
		byID:       make(map[string]domain.Profile),
		byUsername: make(map[string][]domain.Profile),
		verified:   make(map[string]bool),
	}
}

func (s *stubProfileStore) add(profile domain.Profile) {
	s.byID[profile.ID] = profile
	s.byUsername[profile.Username] = append(s.byUsername[profile.Username], profile)
}

func (s *stubProfileStore) Create(ctx context.Context, profile domain.Profile) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, profile)
	s.add(profile)
	return nil
}

func (s *stubProfileStore) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	profile, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &profile, nil
}

func (s *stubProfileStore) GetByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	for _, profile := range s.byID {
		if profile.Email == email {
			p := profile
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubProfileStore) FindByUsername(ctx context.Context, username string) ([]domain.Profile, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.byUsername[username], nil
}

func (s *stubProfileStore) SetVerified(ctx context.Context, id string, verified bool) error {
	profile, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	profile.Verified = &verified
	s.byID[id] = profile
	s.verified[id] = verified
	return nil
}

func (s *stubProfileStore) Delete(ctx context.Context, id string) error {
	delete(s.byID, id)
	return nil
}

type publishedEvents struct {
	registered   []domain.UserRegisteredEvent
	loginsOK     []domain.LoginSucceededEvent
	loginsDenied []domain.LoginDeniedEvent
	revoked      []domain.SessionRevokedEvent
	emailsSent   []domain.VerificationEmailSentEvent
	twoFactor    []domain.TwoFactorChangedEvent
}

func (p *publishedEvents) PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error {
	p.registered = append(p.registered, event)
	return nil
}

func (p *publishedEvents) PublishLoginSucceeded(ctx context.Context, event domain.LoginSucceededEvent) error {
	p.loginsOK = append(p.loginsOK, event)
	return nil
}

func (p *publishedEvents) PublishLoginDenied(ctx context.Context, event domain.LoginDeniedEvent) error {
	p.loginsDenied = append(p.loginsDenied, event)
	return nil
}

func (p *publishedEvents) PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error {
	p.revoked = append(p.revoked, event)
	return nil
}

func (p *publishedEvents) PublishVerificationEmailSent(ctx context.Context, event domain.VerificationEmailSentEvent) error {
	p.emailsSent = append(p.emailsSent, event)
	return nil
}

func (p *publishedEvents) PublishTwoFactorChanged(ctx context.Context, event domain.TwoFactorChangedEvent) error {
	p.twoFactor = append(p.twoFactor, event)
	return nil
}

type stubTwoFactorStore struct {
	statuses map[string]domain.TwoFactorStatus
	getErr   error
}

func newStubTwoFactorStore() *stubTwoFactorStore {
	return &stubTwoFactorStore{statuses: make(map[string]domain.TwoFactorStatus)}
}

func (s *stubTwoFactorStore) Get(ctx context.Context, userID string) (*domain.TwoFactorStatus, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	status, ok := s.statuses[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &status, nil
}

func (s *stubTwoFactorStore) Upsert(ctx context.Context, status domain.TwoFactorStatus) error {
	s.statuses[status.UserID] = status
	return nil
}

func (s *stubTwoFactorStore) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	status, ok := s.statuses[userID]
	if !ok {
		return false, nil
	}
	for i, hash := range status.BackupCodeHashes {
		if hash == codeHash {
			status.BackupCodeHashes = append(status.BackupCodeHashes[:i], status.BackupCodeHashes[i+1:]...)
			s.statuses[userID] = status
			return true, nil
		}
	}
	return false, nil
}

func (s *stubTwoFactorStore) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error {
	status, ok := s.statuses[userID]
	if !ok {
		return repository.ErrNotFound
	}
	status.BackupCodeHashes = codeHashes
	s.statuses[userID] = status
	return nil
}

func (s *stubTwoFactorStore) Delete(ctx context.Context, userID string) error {
	delete(s.statuses, userID)
	return nil
}

type stubChallengeStore struct {
	challenges map[string]domain.LoginChallenge
	saveErr    error
}

func newStubChallengeStore() *stubChallengeStore {
	return &stubChallengeStore{challenges: make(map[string]domain.LoginChallenge)}
}

func (s *stubChallengeStore) Save(ctx context.Context, challenge domain.LoginChallenge, ttl time.Duration) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.challenges[challenge.ID] = challenge
	return nil
}

func (s *stubChallengeStore) Get(ctx context.Context, id string) (*domain.LoginChallenge, error) {
	challenge, ok := s.challenges[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &challenge, nil
}

func (s *stubChallengeStore) Delete(ctx context.Context, id string) error {
	delete(s.challenges, id)
	return nil
}

type sentCode struct {
	principalID string
	email       string
	purpose     domain.CodePurpose
}

type stubCodeSender struct {
	sent          []sentCode
	sendHook      func()
	sendErr       error
	sendFail      bool
	verifyOK      bool
	verifyExpired bool
	verifyErr     error
	verifyReqs    []sentCode
}

func (s *stubCodeSender) SendCode(ctx context.Context, principalID, email, displayName string, purpose domain.CodePurpose) (port.SendResult, error) {
	if s.sendHook != nil {
		s.sendHook()
	}
	if s.sendErr != nil {
		return port.SendResult{}, s.sendErr
	}
	if s.sendFail {
		return port.SendResult{Success: false, Message: "delivery failed"}, nil
	}
	s.sent = append(s.sent, sentCode{principalID: principalID, email: email, purpose: purpose})
	return port.SendResult{Success: true}, nil
}

func (s *stubCodeSender) VerifyCode(ctx context.Context, principalID, code string, purpose domain.CodePurpose) (port.VerifyResult, error) {
	if s.verifyErr != nil {
		return port.VerifyResult{}, s.verifyErr
	}
	s.verifyReqs = append(s.verifyReqs, sentCode{principalID: principalID, purpose: purpose})
	if s.verifyOK {
		return port.VerifyResult{Success: true}, nil
	}
	if s.verifyExpired {
		return port.VerifyResult{Success: false, Expired: true, Message: "expired"}, nil
	}
	return port.VerifyResult{Success: false, Message: "incorrect"}, nil
}

type stubKVStore struct {
	values map[string][]byte
}

func newStubKVStore() *stubKVStore {
	return &stubKVStore{values: make(map[string][]byte)}
}

func (s *stubKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, ok := s.values[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return value, nil
}

func (s *stubKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.values[key] = value
	return nil
}

func (s *stubKVStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value
	return true, nil
}

func (s *stubKVStore) Delete(ctx context.Context, key string) error {
	delete(s.values, key)
	return nil
}
