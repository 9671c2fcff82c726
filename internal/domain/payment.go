package domain

import "time"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "Pending"
	PaymentConfirmed PaymentStatus = "Confirmed"
	PaymentCancelled PaymentStatus = "Cancelled"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentConfirmed || s == PaymentCancelled
}

type PaymentIntent struct {
	ID        string
	Status    PaymentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
