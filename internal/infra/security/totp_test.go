package security

import (
	"strings"
	"testing"
	"time"
)

// RFC 6238 appendix B shared secret for SHA-1.
var rfcSecret = []byte("12345678901234567890")

func TestTOTPKnownVectors(t *testing.T) {
	m := NewTOTPManager(TOTPConfig{Issuer: "Test", Digits: 8, Period: 30})

	cases := []struct {
		unix int64
		code string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
	}

	for _, tc := range cases {
		got, err := m.GenerateCode(rfcSecret, time.Unix(tc.unix, 0))
		if err != nil {
			t.Fatalf("GenerateCode(%d): %v", tc.unix, err)
		}
		if got != tc.code {
			t.Errorf("GenerateCode(%d) = %s, want %s", tc.unix, got, tc.code)
		}
	}
}

func TestTOTPVerifyWithinSkew(t *testing.T) {
	m := NewTOTPManager(DefaultTOTPConfig("Test"))
	now := time.Unix(1700000000, 0)

	code, err := m.GenerateCode(rfcSecret, now.Add(-30*time.Second))
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	ok, err := m.VerifyCode(rfcSecret, code, now)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if !ok {
		t.Error("expected code from previous step to verify within skew")
	}
}

func TestTOTPVerifyOutsideSkew(t *testing.T) {
	m := NewTOTPManager(DefaultTOTPConfig("Test"))
	now := time.Unix(1700000000, 0)

	code, err := m.GenerateCode(rfcSecret, now.Add(-90*time.Second))
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	ok, err := m.VerifyCode(rfcSecret, code, now)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if ok {
		t.Error("expected code three steps old to be rejected")
	}
}

func TestTOTPVerifyRejectsMalformed(t *testing.T) {
	m := NewTOTPManager(DefaultTOTPConfig("Test"))
	now := time.Unix(1700000000, 0)

	for _, code := range []string{"", "12345", "1234567", "12345a", "abc def"} {
		ok, err := m.VerifyCode(rfcSecret, code, now)
		if err != nil {
			t.Fatalf("VerifyCode(%q): %v", code, err)
		}
		if ok {
			t.Errorf("expected %q to be rejected", code)
		}
	}
}

func TestTOTPSecretRoundTrip(t *testing.T) {
	m := NewTOTPManager(DefaultTOTPConfig("Test"))

	raw, encoded, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if len(raw) != totpSecretBytes {
		t.Fatalf("secret length = %d, want %d", len(raw), totpSecretBytes)
	}

	decoded, err := m.DecodeSecret(encoded)
	if err != nil {
		t.Fatalf("DecodeSecret: %v", err)
	}
	if string(decoded) != string(raw) {
		t.Error("decoded secret does not match generated material")
	}
}

func TestTOTPProvisionURI(t *testing.T) {
	m := NewTOTPManager(DefaultTOTPConfig("Broker AGM"))

	uri := m.ProvisionURI("JBSWY3DPEHPK3PXP", "trader@example.com")
	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Fatalf("unexpected scheme: %s", uri)
	}
	for _, want := range []string{"secret=JBSWY3DPEHPK3PXP", "issuer=Broker+AGM", "digits=6", "period=30"} {
		if !strings.Contains(uri, want) {
			t.Errorf("URI missing %q: %s", want, uri)
		}
	}
}
