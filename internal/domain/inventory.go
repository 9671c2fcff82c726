package domain

import "time"

const DateLayout = "2006-01-02"

type InventoryRecord struct {
	ID          int64      `json:"id"`
	HotelCode   string     `json:"hotelCode"`
	InvTypeCode string     `json:"invTypeCode"`
	StartDate   time.Time  `json:"startDate"`
	EndDate     time.Time  `json:"endDate"`
	Count       int        `json:"count"`
	Version     int64      `json:"version"`
	ClosedAt    *time.Time `json:"closedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (r InventoryRecord) Key() InventoryKey {
	return InventoryKey{HotelCode: r.HotelCode, InvTypeCode: r.InvTypeCode, StartDate: r.StartDate, EndDate: r.EndDate}
}

func (r InventoryRecord) Closed() bool { return r.ClosedAt != nil }

// InventoryKey identifies a room type's availability window.
type InventoryKey struct {
	HotelCode   string
	InvTypeCode string
	StartDate   time.Time
	EndDate     time.Time
}

func (k InventoryKey) Complete() bool {
	return k.HotelCode != "" && k.InvTypeCode != "" && !k.StartDate.IsZero() && !k.EndDate.IsZero()
}

// AvailabilityDelta is one inbound availability change. InventoryID takes
// precedence over the key; ExpectedVersion 0 means "no record yet".
type AvailabilityDelta struct {
	InventoryID     int64
	Key             InventoryKey
	Availability    int
	ExpectedVersion int64
}

type RejectReason string

const (
	RejectConflict    RejectReason = "conflict"
	RejectNotFound    RejectReason = "not_found"
	RejectInvalid     RejectReason = "invalid"
	RejectClosed      RejectReason = "closed"
	RejectUnavailable RejectReason = "unavailable"
)

type DeltaOutcome struct {
	Index          int              `json:"index"`
	InventoryID    int64            `json:"inventoryId,omitempty"`
	Created        bool             `json:"created,omitempty"`
	Record         *InventoryRecord `json:"record,omitempty"`
	Reason         RejectReason     `json:"reason,omitempty"`
	CurrentVersion int64            `json:"currentVersion,omitempty"`
	Detail         string           `json:"detail,omitempty"`
}

type ApplyResult struct {
	Applied  []DeltaOutcome `json:"applied"`
	Rejected []DeltaOutcome `json:"rejected"`
}
