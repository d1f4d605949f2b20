package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukerupert/chandlery/internal/telemetry"
)

// Service delivers composed messages through a Sender.
type Service struct {
	sender      Sender
	fromAddress string
	fromName    string
	logger      *slog.Logger
}

// NewService creates a new email service
func NewService(sender Sender, fromAddress, fromName string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sender:      sender,
		fromAddress: fromAddress,
		fromName:    fromName,
		logger:      logger,
	}
}

// Deliver sends one message. tag names the message type in metrics.
func (s *Service) Deliver(ctx context.Context, tag string, to []string, subject, html, text string) (string, error) {
	if len(to) == 0 {
		return "", ErrNoRecipients
	}
	if text == "" && html != "" {
		text = generatePlainText(html)
	}

	msg := &Email{
		To:       to,
		From:     s.from(),
		Subject:  subject,
		HTMLBody: html,
		TextBody: text,
	}
	if tag != "" {
		msg.Headers = map[string]string{HeaderTag: tag}
	}

	id, err := s.sender.Send(ctx, msg)
	if err != nil {
		if telemetry.Business != nil {
			telemetry.Business.EmailFailed.WithLabelValues(tag, "send").Inc()
		}
		return "", fmt.Errorf("failed to send %s email: %w", tag, err)
	}

	if telemetry.Business != nil {
		telemetry.Business.EmailSent.WithLabelValues(tag).Inc()
	}
	s.logger.Info("email sent", "tag", tag, "recipients", len(to), "message_id", id)
	return id, nil
}

func (s *Service) from() string {
	if s.fromName == "" {
		return s.fromAddress
	}
	return fmt.Sprintf("%s <%s>", s.fromName, s.fromAddress)
}

// LogSender writes messages to the logger instead of sending them. Used in
// development when no SMTP relay or Postmark key is configured.
type LogSender struct {
	Logger *slog.Logger
}

// Send implements Sender.
func (l LogSender) Send(_ context.Context, email *Email) (string, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email (log sender)",
		"to", strings.Join(email.To, ","),
		"subject", email.Subject,
		"text", email.TextBody,
	)
	return "log-" + email.Subject, nil
}

// generatePlainText creates a simple plain text version from HTML
func generatePlainText(html string) string {
	text := html

	text = strings.ReplaceAll(text, "<br>", "\n")
	text = strings.ReplaceAll(text, "<br/>", "\n")
	text = strings.ReplaceAll(text, "<br />", "\n")
	text = strings.ReplaceAll(text, "</p>", "\n\n")
	text = strings.ReplaceAll(text, "</div>", "\n")
	text = strings.ReplaceAll(text, "</tr>", "\n")
	text = strings.ReplaceAll(text, "</td>", " ")
	text = strings.ReplaceAll(text, "</h1>", "\n\n")
	text = strings.ReplaceAll(text, "</h2>", "\n\n")
	text = strings.ReplaceAll(text, "</h3>", "\n\n")

	for strings.Contains(text, "<") && strings.Contains(text, ">") {
		start := strings.Index(text, "<")
		end := strings.Index(text, ">")
		if start >= 0 && end > start {
			text = text[:start] + text[end+1:]
		} else {
			break
		}
	}

	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", "\"")
	text = strings.ReplaceAll(text, "&#34;", "\"")
	text = strings.ReplaceAll(text, "&#39;", "'")

	lines := strings.Split(text, "\n")
	var cleaned []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}

	return strings.Join(cleaned, "\n")
}
