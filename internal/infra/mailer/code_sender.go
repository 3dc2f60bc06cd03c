package mailer

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/logger"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/security"
	"github.com/leonlurk/broker-agm-sub002/internal/repository"
	redisrepo "github.com/leonlurk/broker-agm-sub002/internal/repository/redis"
)

const (
	codeLength      = 6
	maxCodeAttempts = 5
)

// Mailer delivers a rendered message to a recipient.
type Mailer interface {
	Send(to, subject, textBody, htmlBody string) error
}

// EmailCodeSender issues 6-digit codes over email and verifies them against
// the stored hash. Sending is synchronous: SendCode returns only after the
// SMTP handshake completes, so callers can surface delivery failures directly.
type EmailCodeSender struct {
	codes  *redisrepo.CodeRepository
	mailer Mailer
	ttl    time.Duration
	log    *zap.Logger
	now    func() time.Time
}

// NewEmailCodeSender constructs a code sender backed by the code repository and mailer.
func NewEmailCodeSender(codes *redisrepo.CodeRepository, mailer Mailer, ttl time.Duration, log *zap.Logger) *EmailCodeSender {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &EmailCodeSender{codes: codes, mailer: mailer, ttl: ttl, log: log, now: time.Now}
}

// WithClock overrides the internal clock, used in tests.
func (s *EmailCodeSender) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// SendCode generates a fresh code, stores its hash, and emails it. Issuing a
// new code invalidates any previously issued code for the same purpose.
func (s *EmailCodeSender) SendCode(ctx context.Context, principalID, email, displayName string, purpose domain.CodePurpose) (port.SendResult, error) {
	code, err := security.GenerateNumericCode(codeLength)
	if err != nil {
		return port.SendResult{}, fmt.Errorf("generate code: %w", err)
	}

	if _, err := s.codes.Store(ctx, purpose, principalID, security.HashToken(code), s.ttl); err != nil {
		return port.SendResult{}, fmt.Errorf("store code: %w", err)
	}

	subject, text, html := renderCodeMessage(purpose, displayName, code, s.ttl)
	if err := s.mailer.Send(email, subject, text, html); err != nil {
		// The stored hash is harmless without the email, but remove it so a
		// retry is not verifiable against a code the user never received.
		_ = s.codes.Delete(ctx, purpose, principalID)
		return port.SendResult{Success: false, Message: "No se pudo enviar el correo de verificación"}, err
	}

	s.log.Info("verification code sent",
		zap.String("principal_id", principalID),
		zap.String("email", logger.MaskEmail(email)),
		zap.String("purpose", string(purpose)),
	)

	return port.SendResult{Success: true, Message: "Código enviado"}, nil
}

// VerifyCode checks the submitted code against the stored hash. A successful
// check consumes the code; expired or exhausted codes are removed.
func (s *EmailCodeSender) VerifyCode(ctx context.Context, principalID, code string, purpose domain.CodePurpose) (port.VerifyResult, error) {
	record, err := s.codes.Fetch(ctx, purpose, principalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// No stored code: either never issued or Redis already dropped it
			// at TTL. The caller treats both as expired.
			return port.VerifyResult{Success: false, Expired: true, Message: "Código expirado"}, nil
		}
		return port.VerifyResult{}, fmt.Errorf("fetch code: %w", err)
	}

	if s.now().UTC().After(record.ExpiresAt) {
		_ = s.codes.Delete(ctx, purpose, principalID)
		return port.VerifyResult{Success: false, Expired: true, Message: "Código expirado"}, nil
	}

	attempts, err := s.codes.IncrementAttempts(ctx, purpose, principalID)
	if err != nil {
		return port.VerifyResult{}, fmt.Errorf("count attempt: %w", err)
	}
	if attempts > maxCodeAttempts {
		_ = s.codes.Delete(ctx, purpose, principalID)
		return port.VerifyResult{Success: false, Message: "Demasiados intentos, solicita un nuevo código"}, nil
	}

	submitted := security.HashToken(code)
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(record.CodeHash)) != 1 {
		return port.VerifyResult{Success: false, Message: "Código incorrecto"}, nil
	}

	if err := s.codes.Delete(ctx, purpose, principalID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return port.VerifyResult{}, fmt.Errorf("consume code: %w", err)
	}

	return port.VerifyResult{Success: true, Message: "Código verificado"}, nil
}

func renderCodeMessage(purpose domain.CodePurpose, displayName, code string, ttl time.Duration) (subject, text, html string) {
	name := displayName
	if name == "" {
		name = "trader"
	}
	minutes := int(ttl.Minutes())

	switch purpose {
	case domain.CodePurposeTwoFactor:
		subject = "Tu código de acceso"
		text = fmt.Sprintf("Hola %s,\n\nTu código de acceso es: %s\n\nExpira en %d minutos. Si no intentaste iniciar sesión, ignora este correo.", name, code, minutes)
		html = fmt.Sprintf("<p>Hola %s,</p><p>Tu código de acceso es: <strong>%s</strong></p><p>Expira en %d minutos. Si no intentaste iniciar sesión, ignora este correo.</p>", name, code, minutes)
	default:
		subject = "Verifica tu correo"
		text = fmt.Sprintf("Hola %s,\n\nTu código de verificación es: %s\n\nExpira en %d minutos.", name, code, minutes)
		html = fmt.Sprintf("<p>Hola %s,</p><p>Tu código de verificación es: <strong>%s</strong></p><p>Expira en %d minutos.</p>", name, code, minutes)
	}
	return subject, text, html
}

var _ port.CodeSender = (*EmailCodeSender)(nil)
