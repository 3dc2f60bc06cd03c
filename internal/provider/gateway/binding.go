package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/config"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/logger"
)

// Binding is a thin client for the hosted identity API the platform is
// migrating away from. Session material is the provider's token pair, kept
// opaque to everything outside this package.
type Binding struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *zap.Logger

	mu        sync.RWMutex
	callbacks []port.AuthStateCallback
}

// NewBinding constructs the gateway binding from its settings.
func NewBinding(cfg config.GatewaySettings, log *zap.Logger) *Binding {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Binding{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// sessionMaterial is the provider token pair serialized into ProviderSession.Material.
type sessionMaterial struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type userPayload struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	Username      string         `json:"username"`
	EmailVerified *bool          `json:"email_verified"`
	Metadata      map[string]any `json:"metadata"`
}

type sessionPayload struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int         `json:"expires_in"`
	User         userPayload `json:"user"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Name identifies the binding.
func (b *Binding) Name() domain.BindingName {
	return domain.BindingGateway
}

// Register creates a remote identity and opens a session for it.
func (b *Binding) Register(ctx context.Context, input port.RegisterInput) (domain.Principal, domain.ProviderSession, error) {
	body := map[string]string{
		"email":    strings.ToLower(strings.TrimSpace(input.Email)),
		"username": input.Username,
		"password": input.Password,
	}
	if input.ReferralID != "" {
		body["referral_id"] = input.ReferralID
	}

	var payload sessionPayload
	if err := b.do(ctx, http.MethodPost, "/v1/signup", "", body, &payload); err != nil {
		return domain.Principal{}, domain.ProviderSession{}, err
	}

	principal, session := b.sessionFrom(payload)
	b.emit(ctx, domain.AuthStateEvent{
		Kind:       domain.AuthStateSignedIn,
		Principal:  &principal,
		Session:    &session,
		OccurredAt: time.Now().UTC(),
	})

	return principal, session, nil
}

// SignInWithPassword exchanges credentials for a provider token pair.
func (b *Binding) SignInWithPassword(ctx context.Context, email, password string) (domain.Principal, domain.ProviderSession, error) {
	body := map[string]string{
		"grant_type": "password",
		"email":      strings.ToLower(strings.TrimSpace(email)),
		"password":   password,
	}

	var payload sessionPayload
	if err := b.do(ctx, http.MethodPost, "/v1/token", "", body, &payload); err != nil {
		return domain.Principal{}, domain.ProviderSession{}, err
	}

	principal, session := b.sessionFrom(payload)
	b.emit(ctx, domain.AuthStateEvent{
		Kind:       domain.AuthStateSignedIn,
		Principal:  &principal,
		Session:    &session,
		OccurredAt: time.Now().UTC(),
	})

	return principal, session, nil
}

// SignOut invalidates the provider session.
func (b *Binding) SignOut(ctx context.Context, session domain.ProviderSession) error {
	material, err := decodeMaterial(session.Material)
	if err != nil {
		return nil
	}

	if err := b.do(ctx, http.MethodPost, "/v1/logout", material.AccessToken, nil, nil); err != nil {
		// The provider treats an already-dead token as signed out; only
		// transport failures matter here.
		if !errors.Is(err, port.ErrBindingSessionExpired) {
			return err
		}
	}

	b.emit(ctx, domain.AuthStateEvent{
		Kind:       domain.AuthStateSignedOut,
		OccurredAt: time.Now().UTC(),
	})
	return nil
}

// ResetPasswordForEmail asks the provider to start its recovery flow.
func (b *Binding) ResetPasswordForEmail(ctx context.Context, email string) error {
	body := map[string]string{"email": strings.ToLower(strings.TrimSpace(email))}
	return b.do(ctx, http.MethodPost, "/v1/recover", "", body, nil)
}

// UpdatePassword replaces the password of the session's user.
func (b *Binding) UpdatePassword(ctx context.Context, session domain.ProviderSession, newPassword string) error {
	material, err := decodeMaterial(session.Material)
	if err != nil {
		return port.ErrBindingSessionExpired
	}

	body := map[string]string{"password": newPassword}
	return b.do(ctx, http.MethodPut, "/v1/user/password", material.AccessToken, body, nil)
}

// CurrentUser resolves the session's bearer token to its principal.
func (b *Binding) CurrentUser(ctx context.Context, session domain.ProviderSession) (domain.Principal, error) {
	material, err := decodeMaterial(session.Material)
	if err != nil {
		return domain.Principal{}, port.ErrBindingSessionExpired
	}

	var payload userPayload
	if err := b.do(ctx, http.MethodGet, "/v1/user", material.AccessToken, nil, &payload); err != nil {
		return domain.Principal{}, err
	}

	return b.principalFrom(payload), nil
}

// UserExists asks the provider whether the email has an identity record.
func (b *Binding) UserExists(ctx context.Context, email string) (bool, error) {
	path := "/v1/users/exists?email=" + url.QueryEscape(strings.ToLower(strings.TrimSpace(email)))

	var payload struct {
		Exists bool `json:"exists"`
	}
	if err := b.do(ctx, http.MethodGet, path, "", nil, &payload); err != nil {
		return false, err
	}
	return payload.Exists, nil
}

// OnAuthStateChange registers a callback invoked for every session change.
func (b *Binding) OnAuthStateChange(cb port.AuthStateCallback) {
	if cb == nil {
		return
	}
	b.mu.Lock()
	b.callbacks = append(b.callbacks, cb)
	b.mu.Unlock()
}

func (b *Binding) emit(ctx context.Context, event domain.AuthStateEvent) {
	b.mu.RLock()
	callbacks := make([]port.AuthStateCallback, len(b.callbacks))
	copy(callbacks, b.callbacks)
	b.mu.RUnlock()

	for _, cb := range callbacks {
		cb(ctx, event)
	}
}

func (b *Binding) do(ctx context.Context, method, path, bearer string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode gateway request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.apiKey != "" {
		req.Header.Set("X-Api-Key", b.apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", port.ErrBindingUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return b.mapError(resp.StatusCode, raw)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}

// mapError normalizes the provider's error shape onto the binding taxonomy.
// Provider codes never escape this function.
func (b *Binding) mapError(status int, raw []byte) error {
	var payload errorPayload
	_ = json.Unmarshal(raw, &payload)

	switch payload.Code {
	case "invalid_credentials", "invalid_grant":
		return port.ErrBindingInvalidCredentials
	case "email_exists", "user_already_exists":
		return port.ErrBindingEmailInUse
	case "invalid_email":
		return port.ErrBindingInvalidEmail
	case "weak_password":
		return port.ErrBindingWeakPassword
	case "token_expired", "invalid_token":
		return port.ErrBindingSessionExpired
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return port.ErrBindingSessionExpired
	case http.StatusConflict:
		return port.ErrBindingEmailInUse
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return port.ErrBindingInvalidCredentials
	}

	b.log.Warn("gateway request failed",
		zap.Int("status", status),
		zap.String("code", payload.Code),
	)
	return fmt.Errorf("%w: status %d", port.ErrBindingUnavailable, status)
}

func (b *Binding) sessionFrom(payload sessionPayload) (domain.Principal, domain.ProviderSession) {
	material, _ := json.Marshal(sessionMaterial{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	})

	expiresAt := time.Now().UTC().Add(time.Duration(payload.ExpiresIn) * time.Second)
	session := domain.ProviderSession{
		Binding:   domain.BindingGateway,
		Material:  material,
		ExpiresAt: expiresAt,
	}

	return b.principalFrom(payload.User), session
}

func (b *Binding) principalFrom(user userPayload) domain.Principal {
	principal := domain.Principal{
		ID:            user.ID,
		Email:         user.Email,
		Username:      user.Username,
		EmailVerified: user.EmailVerified,
		Binding:       domain.BindingGateway,
		Raw:           user.Metadata,
	}
	if principal.Email != "" {
		b.log.Debug("gateway principal resolved",
			zap.String("email", logger.MaskEmail(principal.Email)))
	}
	return principal
}

func decodeMaterial(material []byte) (sessionMaterial, error) {
	var decoded sessionMaterial
	if err := json.Unmarshal(material, &decoded); err != nil {
		return sessionMaterial{}, fmt.Errorf("decode session material: %w", err)
	}
	if decoded.AccessToken == "" {
		return sessionMaterial{}, errors.New("session material missing access token")
	}
	return decoded, nil
}

var _ port.IdentityBinding = (*Binding)(nil)
