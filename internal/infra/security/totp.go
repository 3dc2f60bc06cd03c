package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const totpSecretBytes = 20

// ErrMissingSecret is returned when an empty TOTP secret is supplied.
var ErrMissingSecret = errors.New("totp secret is required")

// TOTPConfig tunes RFC 6238 code generation and verification.
type TOTPConfig struct {
	Issuer string
	Digits int
	Period int
	// Skew is how many steps either side of now a code is accepted for,
	// absorbing clock drift between server and authenticator app.
	Skew int
}

// DefaultTOTPConfig returns the production defaults: 6 digits, 30s period, ±1 step.
func DefaultTOTPConfig(issuer string) TOTPConfig {
	return TOTPConfig{Issuer: issuer, Digits: 6, Period: 30, Skew: 1}
}

// TOTPManager generates secrets and verifies RFC 6238 time-based codes.
type TOTPManager struct {
	config TOTPConfig
}

// NewTOTPManager constructs a manager, filling zero config fields with defaults.
func NewTOTPManager(cfg TOTPConfig) *TOTPManager {
	if cfg.Digits <= 0 {
		cfg.Digits = 6
	}
	if cfg.Period <= 0 {
		cfg.Period = 30
	}
	if cfg.Skew < 0 {
		cfg.Skew = 0
	}
	return &TOTPManager{config: cfg}
}

// GenerateSecret produces fresh secret material and its base32 form.
func (m *TOTPManager) GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generate totp secret: %w", err)
	}

	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return raw, enc.EncodeToString(raw), nil
}

// DecodeSecret converts the stored base32 secret back into key material.
func (m *TOTPManager) DecodeSecret(secretBase32 string) ([]byte, error) {
	if secretBase32 == "" {
		return nil, ErrMissingSecret
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	raw, err := enc.DecodeString(strings.ToUpper(secretBase32))
	if err != nil {
		return nil, fmt.Errorf("decode totp secret: %w", err)
	}
	return raw, nil
}

// ProvisionURI builds the otpauth:// URI an authenticator app scans at enrollment.
func (m *TOTPManager) ProvisionURI(secretBase32, account string) string {
	issuer := m.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(m.config.Period))
	v.Set("digits", strconv.Itoa(m.config.Digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// VerifyCode checks a submitted code against the secret at the given instant,
// accepting codes within the configured skew window.
func (m *TOTPManager) VerifyCode(secret []byte, code string, now time.Time) (bool, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !isDigits(trimmed) {
		return false, nil
	}
	if len(secret) == 0 {
		return false, ErrMissingSecret
	}

	baseCounter := now.Unix() / int64(m.config.Period)
	for step := -m.config.Skew; step <= m.config.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotpCode(secret, counter, m.config.Digits)
		if err != nil {
			return false, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, nil
		}
	}

	return false, nil
}

// GenerateCode produces the code for the given instant, used by enrollment tests
// and by the activation round-trip.
func (m *TOTPManager) GenerateCode(secret []byte, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", ErrMissingSecret
	}
	return hotpCode(secret, now.Unix()/int64(m.config.Period), m.config.Digits)
}

func hotpCode(secret []byte, counter int64, digits int) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
