package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/54b3r/concierge-go/internal/catalog"
)

// ---------------------------------------------------------------------------
// Fake Reranker
// ---------------------------------------------------------------------------

// fakeReranker records the last call and returns records in reverse order.
type fakeReranker struct {
	// mu guards the recorded fields.
	mu sync.Mutex
	// query is the last query received.
	query string
	// records is the last record set received.
	records []Record
	// topN is the last topN received.
	topN int
	// extra is appended to the response to simulate unknown identifiers.
	extra []Scored
	// err is returned instead of a result when non-nil.
	err error
}

func (f *fakeReranker) Rank(_ context.Context, query string, records []Record, topN int) ([]Scored, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query, f.records, f.topN = query, records, topN
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Scored, 0, len(records)+len(f.extra))
	out = append(out, f.extra...)
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, Scored{ID: records[i].ID, Score: float32(i)})
	}
	return out, nil
}

// makeItems returns n items with IDs "i0".."i{n-1}".
func makeItems(n int) []catalog.Item {
	items := make([]catalog.Item, n)
	for i := range items {
		items[i] = catalog.Item{ID: fmt.Sprintf("i%d", i), Name: "name", Description: "desc"}
	}
	return items
}

// ---------------------------------------------------------------------------
// Apply
// ---------------------------------------------------------------------------

func TestApply_CapsAtMaxRecords(t *testing.T) {
	t.Parallel()

	r := &fakeReranker{}
	got, err := Apply(context.Background(), r, "gift toys", makeItems(250))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(r.records) != MaxRecords {
		t.Fatalf("want %d records submitted, got %d", MaxRecords, len(r.records))
	}
	if r.topN != MaxRecords {
		t.Errorf("topN: want %d, got %d", MaxRecords, r.topN)
	}
	if r.records[199].ID != "i199" {
		t.Errorf("submitted set must be the first 200 by arrival, last is %q", r.records[199].ID)
	}
	if len(got) != MaxRecords {
		t.Errorf("want %d ranked items, got %d", MaxRecords, len(got))
	}
	for _, it := range got {
		if it.ID == "i200" || it.ID == "i249" {
			t.Errorf("overflow item %q appeared in output", it.ID)
		}
	}
}

func TestApply_FollowsServiceOrder(t *testing.T) {
	t.Parallel()

	r := &fakeReranker{}
	got, err := Apply(context.Background(), r, "q", makeItems(3))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if ids := strings.Join(catalog.IDs(got), ","); ids != "i2,i1,i0" {
		t.Errorf("want i2,i1,i0, got %s", ids)
	}
	if got[0].RerankScore == nil || *got[0].RerankScore != 2 {
		t.Errorf("rerank score not attached: %+v", got[0])
	}
	if r.query != "q" {
		t.Errorf("query: want q, got %q", r.query)
	}
}

func TestApply_IgnoresUnknownIDs(t *testing.T) {
	t.Parallel()

	r := &fakeReranker{extra: []Scored{{ID: "ghost", Score: 99}}}
	got, err := Apply(context.Background(), r, "q", makeItems(2))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2, got %d (%v)", len(got), catalog.IDs(got))
	}
}

func TestApply_PropagatesError(t *testing.T) {
	t.Parallel()

	boom := errors.New("ranker down")
	_, err := Apply(context.Background(), &fakeReranker{err: boom}, "q", makeItems(2))
	if !errors.Is(err, boom) {
		t.Errorf("want wrapped ranker error, got %v", err)
	}
}

func TestApply_EmptyInputSkipsCall(t *testing.T) {
	t.Parallel()

	r := &fakeReranker{}
	got, err := Apply(context.Background(), r, "q", nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("want empty result, got %v / %v", got, err)
	}
	if r.records != nil {
		t.Error("ranker should not be called for empty input")
	}
}

// ---------------------------------------------------------------------------
// HTTPReranker
// ---------------------------------------------------------------------------

func TestHTTPReranker_Rank(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		gotReq  rerankRequest
		gotAuth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"index":0,"relevance_score":0.2},{"index":1,"relevance_score":0.9}]}`))
	}))
	t.Cleanup(srv.Close)

	h, err := NewHTTPReranker(&HTTPConfig{Endpoint: srv.URL, Model: "ranker-v1", APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewHTTPReranker: %v", err)
	}

	got, err := h.Rank(context.Background(), "science kits", []Record{
		{ID: "a", Title: "Volcano kit", Content: "erupts"},
		{ID: "b", Title: "Crystal kit", Content: "grows"},
	}, 2)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotAuth != "Bearer secret" {
		t.Errorf("auth header: got %q", gotAuth)
	}
	if gotReq.Model != "ranker-v1" || gotReq.Query != "science kits" || gotReq.TopN != 2 {
		t.Errorf("request: got %+v", gotReq)
	}
	if gotReq.Documents[0] != "Volcano kit\nerupts" {
		t.Errorf("document text: got %q", gotReq.Documents[0])
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Errorf("want b,a by score, got %+v", got)
	}
}

func TestHTTPReranker_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream overloaded"}}`))
	}))
	t.Cleanup(srv.Close)

	h, err := NewHTTPReranker(&HTTPConfig{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPReranker: %v", err)
	}
	_, err = h.Rank(context.Background(), "q", []Record{{ID: "a"}}, 1)
	if err == nil || !strings.Contains(err.Error(), "upstream overloaded") {
		t.Errorf("want upstream error message, got %v", err)
	}
}

func TestHTTPReranker_RejectsOversizedBatch(t *testing.T) {
	t.Parallel()

	h, err := NewHTTPReranker(&HTTPConfig{Endpoint: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("NewHTTPReranker: %v", err)
	}
	_, err = h.Rank(context.Background(), "q", make([]Record, MaxRecords+1), 1)
	if err == nil {
		t.Error("want error for oversized batch")
	}
}

func TestNewHTTPReranker_RequiresEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPReranker(&HTTPConfig{}); err == nil {
		t.Error("want error for missing endpoint")
	}
}
