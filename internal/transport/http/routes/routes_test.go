package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leonlurk/broker-agm-sub002/internal/infra/config"
)

func TestRegisterExposesOperationalEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := Register(Dependencies{
		Config: &config.AppConfig{},
		Logger: zap.NewNop(),
	})

	cases := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/metrics", http.StatusOK},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != tc.want {
			t.Fatalf("GET %s: expected %d, got %d", tc.path, tc.want, rr.Code)
		}
	}
}

func TestRegisterBindsAuthRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := Register(Dependencies{
		Config: &config.AppConfig{},
		Logger: zap.NewNop(),
	})

	found := make(map[string]bool)
	for _, route := range router.Routes() {
		found[route.Method+" "+route.Path] = true
	}

	expected := []string{
		"POST /api/v1/auth/register",
		"POST /api/v1/auth/login",
		"POST /api/v1/auth/login/2fa",
		"POST /api/v1/auth/login/2fa/resend",
		"POST /api/v1/auth/logout",
		"GET /api/v1/auth/session",
		"POST /api/v1/verification/resend",
		"POST /api/v1/verification/confirm",
		"GET /api/v1/verification/pending",
		"POST /api/v1/password/reset",
		"PUT /api/v1/password/update",
		"POST /api/v1/twofactor/enroll",
		"POST /api/v1/twofactor/activate",
		"POST /api/v1/twofactor/disable",
		"POST /api/v1/twofactor/backup-codes",
	}
	for _, route := range expected {
		if !found[route] {
			t.Errorf("route %s not registered", route)
		}
	}
}
