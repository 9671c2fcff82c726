package search_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotel_sync/internal/adapters/search"
	"hotel_sync/internal/domain"
)

// fakeCluster answers just enough of the Elasticsearch API for the adapter.
type fakeCluster struct {
	mu       sync.Mutex
	indexes  map[string]bool
	bulkIDs  []string
	failIDs  map[string]bool
	status   int
	lastBody string
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
			return
		}
		var items []map[string]any
		sc := bufio.NewScanner(r.Body)
		var sb strings.Builder
		for i := 0; sc.Scan(); i++ {
			sb.WriteString(sc.Text() + "\n")
			if i%2 == 1 {
				continue
			}
			var action struct {
				Index struct {
					ID string `json:"_id"`
				} `json:"index"`
			}
			_ = json.Unmarshal(sc.Bytes(), &action)
			id := action.Index.ID
			f.bulkIDs = append(f.bulkIDs, id)
			if f.failIDs[id] {
				items = append(items, map[string]any{"index": map[string]any{
					"_id": id, "status": 400,
					"error": map[string]any{"type": "mapper_parsing_exception", "reason": "bad field"},
				}})
				continue
			}
			items = append(items, map[string]any{"index": map[string]any{"_id": id, "status": 200}})
		}
		f.lastBody = sb.String()
		_ = json.NewEncoder(w).Encode(map[string]any{"errors": len(f.failIDs) > 0, "items": items})
	case r.Method == http.MethodHead:
		if f.indexes[strings.Trim(r.URL.Path, "/")] {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodPut:
		f.indexes[strings.Trim(r.URL.Path, "/")] = true
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newCluster(t *testing.T) (*fakeCluster, *search.Client) {
	t.Helper()
	fc := &fakeCluster{indexes: map[string]bool{}, failIDs: map[string]bool{}}
	srv := httptest.NewServer(fc)
	t.Cleanup(srv.Close)
	c, err := search.New(search.Options{URLs: []string{srv.URL}})
	require.NoError(t, err)
	return fc, c
}

func docs(ids ...string) []domain.IndexDocument {
	out := make([]domain.IndexDocument, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.IndexDocument{ID: id, Body: []byte(`{"id":"` + id + `"}`)})
	}
	return out
}

func TestBulkUpsert_AllIndexed(t *testing.T) {
	fc, c := newCluster(t)

	res, err := c.BulkUpsert(context.Background(), "properties", docs("1", "2", "3"))
	require.NoError(t, err)
	assert.Len(t, res.Items, 3)
	assert.Empty(t, res.Failed())
	assert.Equal(t, []string{"1", "2", "3"}, fc.bulkIDs)
	assert.Contains(t, fc.lastBody, `{"index":{"_index":"properties","_id":"2"}}`+"\n"+`{"id":"2"}`)
}

func TestBulkUpsert_ItemFailureIsReportedNotRaised(t *testing.T) {
	fc, c := newCluster(t)
	fc.failIDs["2"] = true

	res, err := c.BulkUpsert(context.Background(), "properties", docs("1", "2", "3"))
	require.NoError(t, err)
	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "2", failed[0].ID)
	assert.Equal(t, 400, failed[0].Status)
	assert.Contains(t, failed[0].Error, "mapper_parsing_exception")
}

func TestBulkUpsert_ServerErrorIsTransient(t *testing.T) {
	fc, c := newCluster(t)
	fc.status = http.StatusInternalServerError

	_, err := c.BulkUpsert(context.Background(), "properties", docs("1"))
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestBulkUpsert_RejectedRequestIsSchemaViolation(t *testing.T) {
	fc, c := newCluster(t)
	fc.status = http.StatusBadRequest

	_, err := c.BulkUpsert(context.Background(), "properties", docs("1"))
	assert.ErrorIs(t, err, domain.ErrSchemaViolation)
}

func TestBulkUpsert_EmptyIsNoop(t *testing.T) {
	fc, c := newCluster(t)
	res, err := c.BulkUpsert(context.Background(), "properties", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Empty(t, fc.bulkIDs)
}

func TestEnsureIndex_CreatesOnce(t *testing.T) {
	fc, c := newCluster(t)

	require.NoError(t, c.EnsureIndex(context.Background(), "properties"))
	require.NoError(t, c.EnsureIndex(context.Background(), "properties"))
	assert.True(t, fc.indexes["properties"])
}
