package domain

import "time"

type AckStatus string

const (
	AckPending AckStatus = "Pending"
	AckAcked   AckStatus = "Acked"
	AckFailed  AckStatus = "Failed"
)

// LineError is a partner rejection tied to one line (0-based, source order).
type LineError struct {
	Line    int    `json:"line"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type DistributionMessage struct {
	ID            int64          `json:"id"`
	EchoToken     string         `json:"echoToken"`
	HotelCode     string         `json:"hotelCode"`
	HotelName     string         `json:"hotelName,omitempty"`
	Lines         []RatePlanLine `json:"lines"`
	SentAt        *time.Time     `json:"sentAt,omitempty"`
	AckStatus     AckStatus      `json:"ackStatus"`
	Attempt       int            `json:"attempt"`
	LineErrors    []LineError    `json:"lineErrors,omitempty"`
	LastError     string         `json:"lastError,omitempty"`
	NextAttemptAt *time.Time     `json:"nextAttemptAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// PartnerAck is the parsed partner response for one message.
type PartnerAck struct {
	EchoToken  string
	Success    bool
	LineErrors []LineError
	// Errors not attributable to a line; they fail the whole message.
	Errors []string
}
