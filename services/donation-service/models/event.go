package models

import "time"

const (
	EventRequestCreated       = "request.created"
	EventRequestStatusChanged = "request.status_changed"
	EventPaymentRecorded      = "payment.recorded"
)

// Event is published to SNS and Kafka after a state change has been persisted.
type Event struct {
	Type       string      `json:"type"`
	Key        string      `json:"key"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// StatusChangedPayload is the payload of request.status_changed.
type StatusChangedPayload struct {
	RequestID string         `json:"request_id"`
	From      DonationStatus `json:"from"`
	To        DonationStatus `json:"to"`
	Actor     string         `json:"actor"`
}
