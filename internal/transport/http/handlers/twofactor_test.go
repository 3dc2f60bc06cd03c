package handlers

import (
	"errors"
	"fmt"
	"testing"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/usecase"
)

func TestFailedCheckMethod(t *testing.T) {
	cases := []struct {
		name      string
		attempted domain.TwoFactorMethod
		err       error
		want      domain.TwoFactorMethod
	}{
		{
			name:      "wrong authenticator code keeps the method",
			attempted: domain.TwoFactorAuthenticator,
			err:       usecase.ErrIncorrectCode,
			want:      domain.TwoFactorAuthenticator,
		},
		{
			name:      "wrong email code keeps the method",
			attempted: domain.TwoFactorEmail,
			err:       usecase.ErrIncorrectCode,
			want:      domain.TwoFactorEmail,
		},
		{
			name:      "expired email code keeps the method",
			attempted: domain.TwoFactorEmail,
			err:       usecase.ErrCodeExpired,
			want:      domain.TwoFactorEmail,
		},
		{
			name:      "wrapped code error keeps the method",
			attempted: domain.TwoFactorEmail,
			err:       fmt.Errorf("verify email code: %w", usecase.ErrIncorrectCode),
			want:      domain.TwoFactorEmail,
		},
		{
			name:      "unknown challenge has no method",
			attempted: domain.TwoFactorAuthenticator,
			err:       usecase.ErrChallengeNotFound,
			want:      "",
		},
		{
			name:      "state mismatch on both paths has no method",
			attempted: domain.TwoFactorEmail,
			err:       usecase.ErrChallengeState,
			want:      "",
		},
		{
			name:      "infrastructure failure keeps the attempted method",
			attempted: domain.TwoFactorAuthenticator,
			err:       errors.New("store unavailable"),
			want:      domain.TwoFactorAuthenticator,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := failedCheckMethod(tc.attempted, tc.err); got != tc.want {
				t.Fatalf("failedCheckMethod(%q, %v) = %q, want %q", tc.attempted, tc.err, got, tc.want)
			}
		})
	}
}
