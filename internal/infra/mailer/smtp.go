package mailer

import (
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"
	"go.uber.org/zap"

	"github.com/leonlurk/broker-agm-sub002/internal/infra/config"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/logger"
)

// SMTPMailer delivers transactional email over SMTP.
type SMTPMailer struct {
	cfg config.SMTPSettings
	log *zap.Logger
}

// NewSMTPMailer constructs a mailer from SMTP settings.
func NewSMTPMailer(cfg config.SMTPSettings, log *zap.Logger) *SMTPMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &SMTPMailer{cfg: cfg, log: log}
}

// Send delivers a multipart plain/html message to a single recipient.
func (m *SMTPMailer) Send(to, subject, textBody, htmlBody string) error {
	msg := mail.NewMessage()
	msg.SetAddressHeader("From", m.cfg.FromAddress, m.cfg.FromName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)

	if textBody != "" {
		msg.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			msg.SetBody("text/html", htmlBody)
		} else {
			msg.AddAlternative("text/html", htmlBody)
		}
	}

	dialer := mail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.Username, m.cfg.Password)
	dialer.TLSConfig = &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}
	dialer.StartTLSPolicy = mail.OpportunisticStartTLS
	if m.cfg.StartTLS {
		dialer.StartTLSPolicy = mail.MandatoryStartTLS
	}

	if err := dialer.DialAndSend(msg); err != nil {
		m.log.Error("smtp send failed",
			zap.String("to", logger.MaskEmail(to)),
			zap.Error(err),
		)
		return fmt.Errorf("smtp send: %w", err)
	}

	m.log.Info("email sent",
		zap.String("to", logger.MaskEmail(to)),
		zap.String("subject", subject),
	)
	return nil
}
