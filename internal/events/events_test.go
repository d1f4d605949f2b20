package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/dukerupert/chandlery/internal/domain"
)

func TestNewMessage(t *testing.T) {
	recipient := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	ev := domain.Event{
		Kind:        domain.EventNotification,
		Name:        "shipment.delivered",
		AggregateID: uuid.New(),
		Notification: &domain.Notification{
			RecipientID: recipient,
			Type:        "shipment_delivered",
		},
		Attributes: map[string]string{"status": "delivered"},
		At:         at,
	}

	msg := NewMessage(ev)

	assert.Equal(t, "shipment.delivered", msg.Name)
	assert.Equal(t, "notification", msg.Kind)
	assert.Equal(t, ev.AggregateID, msg.AggregateID)
	assert.Equal(t, "delivered", msg.Attributes["status"])
	assert.Equal(t, recipient.String(), msg.Attributes["recipient_id"])
	assert.Equal(t, time.UTC, msg.OccurredAt.Location())
	assert.Len(t, ev.Attributes, 1, "source attributes must not be mutated")
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), domain.Event{}))
	assert.NoError(t, p.Close())
}
