package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/config"
)

func newTestBinding(t *testing.T, handler http.Handler) (*Binding, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	binding := NewBinding(config.GatewaySettings{
		BaseURL:        server.URL,
		APIKey:         "test-key",
		RequestTimeout: 5 * time.Second,
	}, nil)
	return binding, server
}

func sessionResponse() map[string]any {
	return map[string]any{
		"access_token":  "at-123",
		"refresh_token": "rt-456",
		"expires_in":    3600,
		"user": map[string]any{
			"id":             "gw-user-1",
			"email":          "trader@example.com",
			"username":       "trader1",
			"email_verified": true,
		},
	}
}

func TestSignInWithPassword(t *testing.T) {
	binding, _ := newTestBinding(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/token" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Error("missing api key header")
		}

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["email"] != "trader@example.com" || body["grant_type"] != "password" {
			t.Errorf("unexpected body: %v", body)
		}

		_ = json.NewEncoder(w).Encode(sessionResponse())
	}))

	var events []domain.AuthStateEvent
	binding.OnAuthStateChange(func(_ context.Context, event domain.AuthStateEvent) {
		events = append(events, event)
	})

	principal, session, err := binding.SignInWithPassword(context.Background(), "Trader@Example.com", "secret")
	if err != nil {
		t.Fatalf("SignInWithPassword returned error: %v", err)
	}

	if principal.ID != "gw-user-1" || principal.Binding != domain.BindingGateway {
		t.Fatalf("unexpected principal: %+v", principal)
	}
	if principal.EmailVerified == nil || !*principal.EmailVerified {
		t.Fatal("expected email_verified true")
	}

	var material sessionMaterial
	if err := json.Unmarshal(session.Material, &material); err != nil {
		t.Fatalf("decode material: %v", err)
	}
	if material.AccessToken != "at-123" || material.RefreshToken != "rt-456" {
		t.Fatalf("unexpected material: %+v", material)
	}

	if len(events) != 1 || events[0].Kind != domain.AuthStateSignedIn {
		t.Fatalf("expected one signed_in event, got %+v", events)
	}
}

func TestSignInWithPasswordInvalidCredentials(t *testing.T) {
	binding, _ := newTestBinding(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "invalid_grant"})
	}))

	_, _, err := binding.SignInWithPassword(context.Background(), "trader@example.com", "wrong")
	if !errors.Is(err, port.ErrBindingInvalidCredentials) {
		t.Fatalf("expected ErrBindingInvalidCredentials, got %v", err)
	}
}

func TestRegisterEmailInUse(t *testing.T) {
	binding, _ := newTestBinding(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "email_exists"})
	}))

	_, _, err := binding.Register(context.Background(), port.RegisterInput{
		Email:    "trader@example.com",
		Username: "trader1",
		Password: "whatever",
	})
	if !errors.Is(err, port.ErrBindingEmailInUse) {
		t.Fatalf("expected ErrBindingEmailInUse, got %v", err)
	}
}

func TestCurrentUserSendsBearer(t *testing.T) {
	binding, _ := newTestBinding(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at-123" {
			t.Errorf("unexpected authorization header: %s", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":       "gw-user-1",
			"email":    "trader@example.com",
			"username": "trader1",
		})
	}))

	material, _ := json.Marshal(sessionMaterial{AccessToken: "at-123", RefreshToken: "rt-456"})
	session := domain.ProviderSession{Binding: domain.BindingGateway, Material: material}

	principal, err := binding.CurrentUser(context.Background(), session)
	if err != nil {
		t.Fatalf("CurrentUser returned error: %v", err)
	}
	if principal.ID != "gw-user-1" {
		t.Fatalf("unexpected principal: %+v", principal)
	}
	if principal.EmailVerified != nil {
		t.Fatal("expected nil email_verified when the provider omits the field")
	}
}

func TestCurrentUserExpiredToken(t *testing.T) {
	binding, _ := newTestBinding(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "token_expired"})
	}))

	material, _ := json.Marshal(sessionMaterial{AccessToken: "stale"})
	session := domain.ProviderSession{Binding: domain.BindingGateway, Material: material}

	if _, err := binding.CurrentUser(context.Background(), session); !errors.Is(err, port.ErrBindingSessionExpired) {
		t.Fatalf("expected ErrBindingSessionExpired, got %v", err)
	}
}

func TestSignOutToleratesDeadToken(t *testing.T) {
	binding, _ := newTestBinding(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "invalid_token"})
	}))

	var events []domain.AuthStateEvent
	binding.OnAuthStateChange(func(_ context.Context, event domain.AuthStateEvent) {
		events = append(events, event)
	})

	material, _ := json.Marshal(sessionMaterial{AccessToken: "stale"})
	session := domain.ProviderSession{Binding: domain.BindingGateway, Material: material}

	if err := binding.SignOut(context.Background(), session); err != nil {
		t.Fatalf("SignOut returned error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != domain.AuthStateSignedOut {
		t.Fatalf("expected signed_out event, got %+v", events)
	}
}

func TestUserExists(t *testing.T) {
	binding, _ := newTestBinding(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("email"); got != "trader@example.com" {
			t.Errorf("unexpected email query: %s", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"exists": true})
	}))

	exists, err := binding.UserExists(context.Background(), "trader@example.com")
	if err != nil || !exists {
		t.Fatalf("expected exists=true, got exists=%v err=%v", exists, err)
	}
}

func TestProviderUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // force connection failures

	binding := NewBinding(config.GatewaySettings{BaseURL: server.URL}, nil)

	_, _, err := binding.SignInWithPassword(context.Background(), "trader@example.com", "pw")
	if !errors.Is(err, port.ErrBindingUnavailable) {
		t.Fatalf("expected ErrBindingUnavailable, got %v", err)
	}
}
