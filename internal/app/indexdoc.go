package app

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"hotel_sync/internal/domain"
)

type propertyDocument struct {
	ID        string        `json:"id"`
	HotelCode string        `json:"hotelCode"`
	Name      string        `json:"name"`
	Stars     *int          `json:"stars,omitempty"`
	Category  categoryDoc   `json:"category"`
	Address   addressDoc    `json:"address"`
	Location  *locationDoc  `json:"location,omitempty"`
	Amenities []string      `json:"amenities"`
	Rooms     []roomDoc     `json:"rooms"`
	RatePlans []ratePlanDoc `json:"ratePlans"`
	UpdatedAt string        `json:"updatedAt"`
}

type categoryDoc struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type addressDoc struct {
	Line1      string `json:"line1,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

type locationDoc struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type roomDoc struct {
	ID           int64  `json:"id"`
	InvTypeCode  string `json:"invTypeCode"`
	Name         string `json:"name"`
	MaxOccupancy int    `json:"maxOccupancy"`
	Units        int    `json:"units"`
}

type ratePlanDoc struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	InvTypeCode  string `json:"invTypeCode"`
	CurrencyCode string `json:"currencyCode"`
}

// encodeAggregate renders a property as its search document. Collections are
// sorted so the same aggregate always encodes to the same bytes.
func encodeAggregate(a domain.PropertyAggregate) (domain.IndexDocument, error) {
	doc := propertyDocument{
		ID:        strconv.FormatInt(a.ID, 10),
		HotelCode: a.HotelCode,
		Name:      a.Name,
		Stars:     a.Stars,
		Category:  categoryDoc{ID: a.Category.ID, Name: a.Category.Name},
		Address: addressDoc{
			Line1:      a.Address.Line1,
			City:       a.Address.City,
			State:      a.Address.State,
			Country:    a.Address.Country,
			PostalCode: a.Address.PostalCode,
		},
		Amenities: normalizeAmenities(a.Amenities),
		Rooms:     make([]roomDoc, 0, len(a.Rooms)),
		RatePlans: make([]ratePlanDoc, 0, len(a.RatePlans)),
		UpdatedAt: a.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if c := a.Address.Coords; c != nil {
		doc.Location = &locationDoc{Lat: c.Lat, Lon: c.Lon}
	}
	for _, r := range a.Rooms {
		doc.Rooms = append(doc.Rooms, roomDoc{ID: r.ID, InvTypeCode: r.InvTypeCode, Name: r.Name, MaxOccupancy: r.MaxOccupancy, Units: r.Units})
	}
	sort.Slice(doc.Rooms, func(i, j int) bool { return doc.Rooms[i].ID < doc.Rooms[j].ID })
	for _, p := range a.RatePlans {
		doc.RatePlans = append(doc.RatePlans, ratePlanDoc{Code: p.Code, Name: p.Name, InvTypeCode: p.InvTypeCode, CurrencyCode: p.CurrencyCode})
	}
	sort.Slice(doc.RatePlans, func(i, j int) bool {
		if doc.RatePlans[i].Code != doc.RatePlans[j].Code {
			return doc.RatePlans[i].Code < doc.RatePlans[j].Code
		}
		return doc.RatePlans[i].InvTypeCode < doc.RatePlans[j].InvTypeCode
	})

	body, err := json.Marshal(doc)
	if err != nil {
		return domain.IndexDocument{}, domain.E(domain.KindSchemaViolation, "app.encodeAggregate", err)
	}
	return domain.IndexDocument{ID: doc.ID, Body: body}, nil
}

func normalizeAmenities(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
