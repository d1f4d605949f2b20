package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/currency"
	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/email"
)

// Notification types stored with in-app notifications.
const (
	NotifyOrderCreated     = "order_created"
	NotifyOrderItemUpdate  = "order_item_update"
	NotifyOrderInvoice     = "order_invoice"
	NotifyOrderRefund      = "order_refund"
	NotifyBookingRequested = "booking_requested"
	NotifyBookingUpdate    = "booking_update"
	NotifyQuoteUpdate      = "quote_update"
	NotifyPayment          = "payment"
	NotifyPayoutEligible   = "payout_eligible"
	NotifyShipment         = "shipment"
)

// mail renders tmpl and appends an email event. Email is best effort: a
// render failure is logged and the message dropped.
func (c *Clients) mail(ev *domain.Events, name string, aggregateID uuid.UUID, to string, tmpl email.EmailTemplate) {
	if strings.TrimSpace(to) == "" {
		return
	}
	html, text, err := c.Emails.Render(tmpl)
	if err != nil {
		c.Logger.Error("failed to render email",
			"event", name,
			"template", tmpl.TemplateName(),
			"error", err,
		)
		return
	}
	ev.Email(name, aggregateID, domain.EmailMessage{
		To:      []string{to},
		Subject: tmpl.Subject(),
		HTML:    html,
		Text:    text,
		Tags:    map[string]string{"event": name},
	})
}

// notify appends an in-app notification event.
func (c *Clients) notify(ev *domain.Events, name string, aggregateID, recipient uuid.UUID, typ string, priority domain.Priority, title, message string, data map[string]string) {
	ev.Notify(name, aggregateID, domain.Notification{
		ID:          uuid.New(),
		RecipientID: recipient,
		Type:        typ,
		Priority:    priority,
		Title:       title,
		Message:     message,
		Data:        data,
		CreatedAt:   c.Now(),
	})
}

// customerEmail looks up the address for a customer. A lookup failure only
// costs the email, so it is logged rather than returned.
func (c *Clients) customerEmail(ctx context.Context, id uuid.UUID) (*domain.User, string) {
	u, err := c.Users.GetUser(ctx, id)
	if err != nil {
		c.Logger.Warn("failed to load customer for email", "customer_id", id, "error", err)
		return nil, ""
	}
	return u, u.Email
}

// business loads a business for notification purposes.
func (c *Clients) business(ctx context.Context, id uuid.UUID) *domain.Business {
	b, err := c.Catalog.GetBusiness(ctx, id)
	if err != nil {
		c.Logger.Warn("failed to load business for email", "business_id", id, "error", err)
		return nil
	}
	return b
}

// opsAlert emails the operators about a case that needs manual review.
func (c *Clients) opsAlert(ev *domain.Events, aggregateID uuid.UUID, reference, reason string, rows []email.Row) {
	c.mail(ev, "ops.alert", aggregateID, c.Config.OpsEmail, email.OpsAlertEmail{
		Reference: reference,
		Reason:    reason,
		Rows:      rows,
	})
}

// link builds an absolute URL under the configured base.
func (c *Clients) link(parts ...string) string {
	return strings.TrimRight(c.Config.BaseURL, "/") + "/" + strings.TrimLeft(strings.Join(parts, "/"), "/")
}

// usd formats settlement cents.
func usd(cents int64) string {
	return email.FormatMoney(cents, currency.Settlement)
}

// ref is the short human reference used in subjects.
func ref(id uuid.UUID) string {
	return strings.ToUpper(id.String()[:8])
}
