package shipping

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/EasyPost/easypost-go/v5"

	"github.com/dukerupert/chandlery/internal/domain"
)

// SignatureHeader carries the HMAC of a tracker webhook body.
const SignatureHeader = "X-Hmac-Signature"

const signaturePrefix = "hmac-sha256-hex="

// trackerStatuses maps carrier tracker statuses onto shipment statuses.
// Statuses absent from the map are ignored.
var trackerStatuses = map[string]domain.ShipmentStatus{
	"pre_transit":          domain.ShipmentLabelPurchased,
	"in_transit":           domain.ShipmentShipped,
	"out_for_delivery":     domain.ShipmentShipped,
	"available_for_pickup": domain.ShipmentShipped,
	"delivered":            domain.ShipmentDelivered,
	"return_to_sender":     domain.ShipmentReturnedToSupplier,
	"failure":              domain.ShipmentFailed,
	"error":                domain.ShipmentFailed,
	"cancelled":            domain.ShipmentFailed,
}

// MapTrackerStatus translates a tracker status. The bool is false for
// statuses that carry no lifecycle meaning, such as "unknown".
func MapTrackerStatus(status string) (domain.ShipmentStatus, bool) {
	s, ok := trackerStatuses[strings.ToLower(strings.TrimSpace(status))]
	return s, ok
}

// VerifySignature checks the X-Hmac-Signature header against the body.
// An empty secret disables verification.
func VerifySignature(body []byte, header, secret string) error {
	if secret == "" {
		return nil
	}
	got, ok := strings.CutPrefix(strings.TrimSpace(header), signaturePrefix)
	if !ok {
		return ErrInvalidSignature
	}
	provided, err := hex.DecodeString(got)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(provided, computeMAC(body, secret)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the header value VerifySignature accepts for body.
func Sign(body []byte, secret string) string {
	return signaturePrefix + hex.EncodeToString(computeMAC(body, secret))
}

func computeMAC(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

type webhookEnvelope struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// ParseTrackerEvent decodes a tracker.created or tracker.updated callback.
func ParseTrackerEvent(body []byte) (*TrackingEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode webhook: %w", err)
	}
	if !strings.HasPrefix(env.Description, "tracker.") || len(env.Result) == 0 {
		return nil, ErrNotTracker
	}

	var tracker easypost.Tracker
	if err := json.Unmarshal(env.Result, &tracker); err != nil {
		return nil, fmt.Errorf("failed to decode tracker: %w", err)
	}
	if tracker.TrackingCode == "" {
		return nil, ErrNotTracker
	}

	return &TrackingEvent{
		EventID:       env.ID,
		TrackingCode:  tracker.TrackingCode,
		Carrier:       tracker.Carrier,
		CarrierStatus: tracker.Status,
		StatusDetail:  tracker.StatusDetail,
	}, nil
}
