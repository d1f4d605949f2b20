package email

import "context"

// HeaderTag carries the outbox event name so providers can group messages.
const HeaderTag = "X-Chandlery-Tag"

// Email is one rendered workflow message: a confirmation request, a
// tracking update, an invoice link or an ops alert.
type Email struct {
	To       []string
	From     string
	Subject  string
	TextBody string
	HTMLBody string
	Headers  map[string]string // HeaderTag holds the outbox event name
}

// Tag returns the outbox event name the message was sent for, such as
// "order.confirmation_requested".
func (e *Email) Tag() string {
	return e.Headers[HeaderTag]
}

// Sender hands a message to a provider and returns its message id.
// SMTPSender, PostmarkSender and LogSender implement it.
type Sender interface {
	Send(ctx context.Context, email *Email) (string, error)
}
