package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"hotel_sync/internal/domain"
)

type deltaRequest struct {
	InventoryID     int64  `json:"inventoryId" validate:"gte=0"`
	HotelCode       string `json:"hotelCode" validate:"max=32"`
	InvTypeCode     string `json:"invTypeCode" validate:"max=32"`
	Start           string `json:"start" validate:"omitempty,datetime=2006-01-02"`
	End             string `json:"end" validate:"omitempty,datetime=2006-01-02"`
	Availability    *int   `json:"availability" validate:"required"`
	ExpectedVersion int64  `json:"expectedVersion"`
}

// applyRequest is either a bare array of deltas or {"deltas": [...]}.
type applyRequest struct {
	Deltas []deltaRequest `json:"deltas" validate:"required,min=1,max=1000,dive"`
}

func (a *applyRequest) UnmarshalJSON(b []byte) error {
	if t := bytes.TrimSpace(b); len(t) > 0 && t[0] == '[' {
		return strictUnmarshal(t, &a.Deltas)
	}
	type wrapped applyRequest
	return strictUnmarshal(b, (*wrapped)(a))
}

func strictUnmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// toDeltas keeps range and sign checks for the reconciler so they come back
// as per-delta rejections instead of failing the batch.
func (a applyRequest) toDeltas() []domain.AvailabilityDelta {
	out := make([]domain.AvailabilityDelta, len(a.Deltas))
	for i, d := range a.Deltas {
		out[i] = domain.AvailabilityDelta{
			InventoryID: d.InventoryID,
			Key: domain.InventoryKey{
				HotelCode:   strings.TrimSpace(d.HotelCode),
				InvTypeCode: strings.TrimSpace(d.InvTypeCode),
				StartDate:   parseDay(d.Start),
				EndDate:     parseDay(d.End),
			},
			Availability:    *d.Availability,
			ExpectedVersion: d.ExpectedVersion,
		}
	}
	return out
}

type closeRequest struct {
	ExpectedVersion int64 `json:"expectedVersion" validate:"gt=0"`
}

type resyncRequest struct {
	Reason string `json:"reason" validate:"max=200"`
}

type lineRequest struct {
	HotelCode    string                    `json:"hotelCode" validate:"required,max=32"`
	HotelName    string                    `json:"hotelName" validate:"max=255"`
	RatePlanCode string                    `json:"ratePlanCode" validate:"required,max=32"`
	InvTypeCode  string                    `json:"invTypeCode" validate:"required,max=32"`
	Start        string                    `json:"start" validate:"required,datetime=2006-01-02"`
	End          string                    `json:"end" validate:"required,datetime=2006-01-02"`
	Days         string                    `json:"days" validate:"omitempty,len=7"` // Mon..Sun, e.g. "1010100"
	CurrencyCode string                    `json:"currencyCode" validate:"required,len=3"`
	BaseAmounts  []domain.GuestAmount      `json:"baseAmounts" validate:"required,min=1"`
	ExtraAmounts []domain.ExtraGuestAmount `json:"extraAmounts"`
}

type distributionRequest struct {
	RatePlanCodes []string      `json:"ratePlanCodes" validate:"omitempty,max=200,dive,required,max=32"`
	Lines         []lineRequest `json:"lines" validate:"omitempty,max=2000,dive"`
}

func (d distributionRequest) toLines() ([]domain.RatePlanLine, error) {
	out := make([]domain.RatePlanLine, 0, len(d.Lines))
	for i, l := range d.Lines {
		mask, err := parseDays(l.Days)
		if err != nil {
			return nil, &badRequest{msg: "validation failed", fields: map[string]string{fmt.Sprintf("lines[%d].days", i): err.Error()}}
		}
		out = append(out, domain.RatePlanLine{
			HotelCode:              l.HotelCode,
			HotelName:              l.HotelName,
			RatePlanCode:           l.RatePlanCode,
			InvTypeCode:            l.InvTypeCode,
			StartDate:              parseDay(l.Start),
			EndDate:                parseDay(l.End),
			WeekdayMask:            mask,
			CurrencyCode:           strings.ToUpper(l.CurrencyCode),
			BaseAmountsByOccupancy: l.BaseAmounts,
			ExtraGuestAmounts:      l.ExtraAmounts,
		})
	}
	return out, nil
}

func parseDay(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(domain.DateLayout, s)
	return t
}

// parseDays reads seven 0/1 flags starting Monday. Empty means every day.
func parseDays(s string) (domain.WeekdayMask, error) {
	if s == "" {
		return domain.AllWeek, nil
	}
	var m domain.WeekdayMask
	for i, c := range s {
		switch c {
		case '1':
			m |= 1 << i
		case '0':
		default:
			return 0, fmt.Errorf("must contain only 0 and 1")
		}
	}
	return m, nil
}
