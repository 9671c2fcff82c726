package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// WeekdayMask holds one bit per day, Monday in bit 0 through Sunday in bit 6.
type WeekdayMask uint8

const (
	Monday WeekdayMask = 1 << iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday

	AllWeek WeekdayMask = 0x7f
)

// Has reports whether d is enabled; time.Weekday counts from Sunday.
func (m WeekdayMask) Has(d time.Weekday) bool {
	bit := (int(d) + 6) % 7
	return m&(1<<bit) != 0
}

type GuestAmount struct {
	NumberOfGuests  int             `json:"numberOfGuests"`
	AmountBeforeTax decimal.Decimal `json:"amountBeforeTax"`
}

type ExtraGuestAmount struct {
	AgeQualifyingCode string          `json:"ageQualifyingCode"`
	Amount            decimal.Decimal `json:"amount"`
}

type RatePlanLine struct {
	HotelCode              string             `json:"hotelCode"`
	HotelName              string             `json:"hotelName,omitempty"`
	RatePlanCode           string             `json:"ratePlanCode"`
	InvTypeCode            string             `json:"invTypeCode"`
	StartDate              time.Time          `json:"startDate"`
	EndDate                time.Time          `json:"endDate"`
	WeekdayMask            WeekdayMask        `json:"weekdayMask"`
	CurrencyCode           string             `json:"currencyCode"`
	BaseAmountsByOccupancy []GuestAmount      `json:"baseAmountsByOccupancy"`
	ExtraGuestAmounts      []ExtraGuestAmount `json:"extraGuestAmounts,omitempty"`
}

// HotelGroup is the set of lines distributed in one partner message.
type HotelGroup struct {
	HotelCode string
	HotelName string
	Lines     []RatePlanLine
}

// GroupByHotel keeps hotels in first-seen order and lines in source order.
func GroupByHotel(lines []RatePlanLine) []HotelGroup {
	idx := make(map[string]int)
	var out []HotelGroup
	for _, l := range lines {
		i, ok := idx[l.HotelCode]
		if !ok {
			i = len(out)
			idx[l.HotelCode] = i
			out = append(out, HotelGroup{HotelCode: l.HotelCode, HotelName: l.HotelName})
		}
		if out[i].HotelName == "" {
			out[i].HotelName = l.HotelName
		}
		out[i].Lines = append(out[i].Lines, l)
	}
	return out
}

// RatePlanRef names one plan of one hotel. An empty HotelCode matches the
// code in every hotel.
type RatePlanRef struct {
	HotelCode string `json:"hotelCode,omitempty"`
	Code      string `json:"code"`
}

func (r RatePlanRef) String() string {
	if r.HotelCode == "" {
		return r.Code
	}
	return r.HotelCode + "/" + r.Code
}

// ParseRatePlanRef reads a change-log document id, "HOTEL/CODE" or a bare code.
func ParseRatePlanRef(documentID string) RatePlanRef {
	if hotel, code, ok := strings.Cut(documentID, "/"); ok {
		return RatePlanRef{HotelCode: hotel, Code: code}
	}
	return RatePlanRef{Code: documentID}
}

// RefsForCodes selects each code in every hotel.
func RefsForCodes(codes []string) []RatePlanRef {
	out := make([]RatePlanRef, 0, len(codes))
	for _, c := range codes {
		out = append(out, RatePlanRef{Code: c})
	}
	return out
}

// SortRatePlanRefs orders refs by hotel, then code.
func SortRatePlanRefs(refs []RatePlanRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].HotelCode != refs[j].HotelCode {
			return refs[i].HotelCode < refs[j].HotelCode
		}
		return refs[i].Code < refs[j].Code
	})
}
