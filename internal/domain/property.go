package domain

import "time"

// PropertyAggregate is the denormalized read model pushed to the search index.
// It is rebuilt from the relational graph and never patched in place.
type PropertyAggregate struct {
	ID        int64
	HotelCode string
	Name      string
	Stars     *int
	Category  Category
	Address   Address
	Amenities []string
	Rooms     []Room
	RatePlans []RatePlan
	UpdatedAt time.Time
}

type Category struct {
	ID   int64
	Name string
}

type Address struct {
	Line1      string
	City       string
	State      string
	Country    string
	PostalCode string
	Coords     *Coords
}

type Coords struct{ Lat, Lon float64 }

type Room struct {
	ID           int64
	InvTypeCode  string
	Name         string
	MaxOccupancy int
	Units        int
}

type RatePlan struct {
	Code         string
	Name         string
	InvTypeCode  string
	CurrencyCode string
}

// IndexDocument is one encoded aggregate ready for a bulk upsert.
type IndexDocument struct {
	ID   string
	Body []byte
}

type BulkItemResult struct {
	ID     string
	Status int
	Error  string
}

type BulkResult struct {
	Items []BulkItemResult
}

func (r BulkResult) Failed() []BulkItemResult {
	var out []BulkItemResult
	for _, it := range r.Items {
		if it.Error != "" {
			out = append(out, it)
		}
	}
	return out
}
