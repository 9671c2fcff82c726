package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/rs/zerolog/log"

	"hotel_sync/internal/adapters/observability"
	"hotel_sync/internal/domain"
)

// Client writes property documents to an Elasticsearch compatible index.
type Client struct {
	es *elasticsearch.Client
}

type Options struct {
	URLs      []string
	Username  string
	Password  string
	Transport http.RoundTripper
}

func New(o Options) (*Client, error) {
	if len(o.URLs) == 0 {
		return nil, fmt.Errorf("search: at least one URL is required")
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:  o.URLs,
		Username:   o.Username,
		Password:   o.Password,
		Transport:  o.Transport,
		MaxRetries: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("search: new client: %w", err)
	}
	return &Client{es: es}, nil
}

// EnsureIndex creates index with the property mapping if it does not exist.
func (c *Client) EnsureIndex(ctx context.Context, index string) error {
	const op = "search.EnsureIndex"
	res, err := c.es.Indices.Exists([]string{index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return domain.E(domain.KindTransientIO, op, err)
	}
	res.Body.Close()
	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return domain.E(domain.KindTransientIO, op, fmt.Errorf("exists status %d", res.StatusCode))
	}

	res, err = c.es.Indices.Create(index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(strings.NewReader(propertyMapping)),
	)
	if err != nil {
		return domain.E(domain.KindTransientIO, op, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		// lost a race with another syncer
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		return domain.E(kindForStatus(res.StatusCode), op, fmt.Errorf("create status %d: %s", res.StatusCode, body))
	}
	log.Info().Str("index", index).Msg("search index created")
	return nil
}

type bulkAction struct {
	Index bulkMeta `json:"index"`
}

type bulkMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

type bulkResponse struct {
	Errors bool                         `json:"errors"`
	Items  []map[string]bulkItemPayload `json:"items"`
}

type bulkItemPayload struct {
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error"`
}

// BulkUpsert indexes docs by id in one request. A transport or server
// failure fails the whole call; per-document failures come back as items.
func (c *Client) BulkUpsert(ctx context.Context, index string, docs []domain.IndexDocument) (domain.BulkResult, error) {
	const op = "search.BulkUpsert"
	if len(docs) == 0 {
		return domain.BulkResult{}, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		if err := enc.Encode(bulkAction{Index: bulkMeta{Index: index, ID: d.ID}}); err != nil {
			return domain.BulkResult{}, domain.E(domain.KindSchemaViolation, op, err)
		}
		buf.Write(bytes.TrimSpace(d.Body))
		buf.WriteByte('\n')
	}

	start := time.Now()
	res, err := c.es.Bulk(&buf, c.es.Bulk.WithContext(ctx), c.es.Bulk.WithIndex(index))
	if err != nil {
		observability.ObserveExternal("search", "bulk", 0, time.Since(start))
		return domain.BulkResult{}, domain.E(domain.KindTransientIO, op, err)
	}
	defer res.Body.Close()
	observability.ObserveExternal("search", "bulk", res.StatusCode, time.Since(start))

	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return domain.BulkResult{}, domain.E(kindForStatus(res.StatusCode), op,
			fmt.Errorf("bulk status %d: %s", res.StatusCode, strings.TrimSpace(string(body))))
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return domain.BulkResult{}, domain.E(domain.KindTransientIO, op, fmt.Errorf("decode bulk response: %w", err))
	}

	out := domain.BulkResult{Items: make([]domain.BulkItemResult, 0, len(br.Items))}
	for _, item := range br.Items {
		for _, p := range item {
			r := domain.BulkItemResult{ID: p.ID, Status: p.Status}
			if p.Status >= 300 || (len(p.Error) > 0 && string(p.Error) != "null") {
				r.Error = itemError(p.Error, p.Status)
			}
			out.Items = append(out.Items, r)
		}
	}
	return out, nil
}

func itemError(raw json.RawMessage, status int) string {
	var e struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &e); err == nil && e.Type != "" {
		return e.Type + ": " + e.Reason
	}
	if len(raw) > 0 && string(raw) != "null" {
		return string(raw)
	}
	return fmt.Sprintf("status %d", status)
}

func kindForStatus(code int) domain.Kind {
	if code == http.StatusTooManyRequests || code >= 500 {
		return domain.KindTransientIO
	}
	return domain.KindSchemaViolation
}

const propertyMapping = `{
  "mappings": {
    "dynamic": "strict",
    "properties": {
      "id":         {"type": "keyword"},
      "hotelCode":  {"type": "keyword"},
      "name":       {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "stars":      {"type": "integer"},
      "category":   {"properties": {"id": {"type": "long"}, "name": {"type": "keyword"}}},
      "address":    {"properties": {
        "line1": {"type": "text"}, "city": {"type": "keyword"}, "state": {"type": "keyword"},
        "country": {"type": "keyword"}, "postalCode": {"type": "keyword"}
      }},
      "location":   {"type": "geo_point"},
      "amenities":  {"type": "keyword"},
      "rooms":      {"type": "nested", "properties": {
        "id": {"type": "long"}, "invTypeCode": {"type": "keyword"}, "name": {"type": "text"},
        "maxOccupancy": {"type": "integer"}, "units": {"type": "integer"}
      }},
      "ratePlans":  {"type": "nested", "properties": {
        "code": {"type": "keyword"}, "name": {"type": "text"},
        "invTypeCode": {"type": "keyword"}, "currencyCode": {"type": "keyword"}
      }},
      "updatedAt":  {"type": "date"}
    }
  }
}`
