package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/concierge-go/internal/catalog"
	"github.com/54b3r/concierge-go/internal/retrieval"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// fakeRetriever serves canned candidates per category and applies the
// request's claimer the way the real pipeline does.
type fakeRetriever struct {
	// candidates maps category name to the items found before claiming.
	candidates map[string][]string
	// fail maps category name to the error returned.
	fail map[string]error
	// panics lists categories whose run panics.
	panics map[string]bool
	// started receives each category name as its run begins, when non-nil.
	started chan string
	// mu guards budgets.
	mu sync.Mutex
	// budgets records the budget of every request.
	budgets []int
}

func (f *fakeRetriever) Retrieve(_ context.Context, req retrieval.Request) (*catalog.RankedResult, error) {
	f.mu.Lock()
	f.budgets = append(f.budgets, req.Budget)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- req.Category
	}
	if f.panics[req.Category] {
		panic("nil map write")
	}
	if err := f.fail[req.Category]; err != nil {
		return nil, err
	}

	var items []catalog.Item
	for _, id := range f.candidates[req.Category] {
		items = append(items, catalog.Item{ID: id, Name: id})
	}
	found := len(items)
	if req.Claimer != nil {
		items = req.Claimer.Claim(items)
	}
	return catalog.NewRankedResult(items, catalog.ResultMeta{
		Intent: req.Intent, Category: req.Category, Queries: req.Phrases, FoundCount: found, TotalCount: 100,
	}), nil
}

func newTestCoordinator(t *testing.T, r Retriever) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(&CoordinatorConfig{
		Retriever:       r,
		Stagger:         -1,
		Settle:          -1,
		TotalItems:      100,
		MetricsRegistry: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return c
}

func cats(names ...string) []Category {
	out := make([]Category, len(names))
	for i, n := range names {
		out[i] = Category{Name: n, Queries: []string{n + " one", n + " two"}}
	}
	return out
}

// collect drains events, failing the test if the stream does not close.
func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("event stream did not close")
		}
	}
}

// ---------------------------------------------------------------------------
// Coordinator
// ---------------------------------------------------------------------------

func TestRun_CrossCategoryDedup(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{candidates: map[string][]string{
		"building blocks": {"X1", "B1", "B2"},
		"science kits":    {"X1", "S1"},
	}}
	c := newTestCoordinator(t, r)

	events := collect(t, c.Run(context.Background(), Request{
		Intent:     "gift for 10-year-old",
		Categories: cats("building blocks", "science kits"),
	}))

	if len(events) != 3 {
		t.Fatalf("want 3 events, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.Kind != EventAggregate || last.Category != AggregateCategory {
		t.Fatalf("last event should be the aggregate, got %+v", last)
	}

	x1 := 0
	for _, ev := range events[:2] {
		if ev.Kind != EventCategory || ev.Result == nil {
			t.Fatalf("unexpected category event %+v", ev)
		}
		for _, it := range ev.Result.Items {
			if it.ID == "X1" {
				x1++
			}
		}
	}
	if x1 != 1 {
		t.Errorf("X1 emitted %d times across categories, want 1", x1)
	}

	agg := last.Result
	seen := map[string]int{}
	for _, it := range agg.Items {
		seen[it.ID]++
	}
	if seen["X1"] != 1 {
		t.Errorf("X1 appears %d times in aggregate", seen["X1"])
	}
	if agg.SelectedCount != 4 || agg.FoundCount != 4 || agg.TotalCount != 100 {
		t.Errorf("aggregate counts: %+v", agg)
	}
	for _, b := range r.budgets {
		if b != DefaultBudget {
			t.Errorf("budget: want %d, got %d", DefaultBudget, b)
		}
	}
}

func TestRun_HighlightsCappedPerCategory(t *testing.T) {
	t.Parallel()

	var ids []string
	for i := range 8 {
		ids = append(ids, fmt.Sprintf("k%d", i))
	}
	c := newTestCoordinator(t, &fakeRetriever{candidates: map[string][]string{"kitchen": ids}})

	events := collect(t, c.Run(context.Background(), Request{Intent: "new home", Categories: cats("kitchen")}))
	agg := events[len(events)-1].Result
	if got := strings.Join(catalog.IDs(agg.Items), ","); got != "k0,k1,k2,k3,k4" {
		t.Errorf("highlights: got %s", got)
	}
	if agg.IconID != "k0" || !strings.HasPrefix(agg.GroupID, "group_") {
		t.Errorf("icon=%q group=%q", agg.IconID, agg.GroupID)
	}
}

func TestRun_FailuresDoNotAbortBarrier(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(t, &fakeRetriever{
		candidates: map[string][]string{"ok": {"a"}},
		fail:       map[string]error{"broken": errors.New("index unavailable")},
		panics:     map[string]bool{"explodes": true},
	})

	events := collect(t, c.Run(context.Background(), Request{Categories: cats("broken", "explodes", "ok")}))
	if len(events) != 4 {
		t.Fatalf("want 4 events, got %d", len(events))
	}

	byCat := map[string]Event{}
	for _, ev := range events[:3] {
		byCat[ev.Category] = ev
	}
	if byCat["broken"].Error == "" || byCat["broken"].Result != nil {
		t.Errorf("broken: %+v", byCat["broken"])
	}
	if !strings.Contains(byCat["explodes"].Error, "panicked") {
		t.Errorf("explodes: %+v", byCat["explodes"])
	}
	if byCat["ok"].Result == nil {
		t.Errorf("ok: %+v", byCat["ok"])
	}

	agg := events[3].Result
	if agg == nil || len(agg.Items) != 1 || agg.Items[0].ID != "a" {
		t.Errorf("aggregate: %+v", agg)
	}
}

func TestRun_EmptyAggregate(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(t, &fakeRetriever{fail: map[string]error{"x": errors.New("down")}})
	events := collect(t, c.Run(context.Background(), Request{Categories: cats("x")}))

	agg := events[len(events)-1]
	if agg.Kind != EventAggregate || agg.Result == nil {
		t.Fatalf("want aggregate, got %+v", agg)
	}
	if agg.Result.IconID != "" || agg.Result.SelectedCount != 0 {
		t.Errorf("empty aggregate: %+v", agg.Result)
	}
}

func TestRun_CancelStopsLaunches(t *testing.T) {
	t.Parallel()

	started := make(chan string, 3)
	c, err := NewCoordinator(&CoordinatorConfig{
		Retriever:       &fakeRetriever{started: started},
		Stagger:         time.Hour,
		Settle:          time.Hour,
		MetricsRegistry: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := c.Run(ctx, Request{Categories: cats("a", "b", "c")})
	<-started
	cancel()

	events := collect(t, ch)
	if len(events) != 2 {
		t.Fatalf("want first category plus aggregate, got %d events", len(events))
	}
	if events[0].Category != "a" || events[1].Kind != EventAggregate {
		t.Errorf("events: %+v", events)
	}
}

func TestRun_StaggerSpacesLaunches(t *testing.T) {
	t.Parallel()

	started := make(chan string, 2)
	c, err := NewCoordinator(&CoordinatorConfig{
		Retriever:       &fakeRetriever{started: started},
		Stagger:         50 * time.Millisecond,
		Settle:          -1,
		MetricsRegistry: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	ch := c.Run(context.Background(), Request{Categories: cats("a", "b")})
	<-started
	first := time.Now()
	<-started
	if gap := time.Since(first); gap < 40*time.Millisecond {
		t.Errorf("launches %v apart, want at least the stagger", gap)
	}
	collect(t, ch)
}

func TestNewCoordinator_Defaults(t *testing.T) {
	t.Parallel()

	c, err := NewCoordinator(&CoordinatorConfig{Retriever: &fakeRetriever{}})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	if c.stagger != DefaultStagger || c.settle != DefaultSettle || c.budget != DefaultBudget {
		t.Errorf("defaults: stagger=%v settle=%v budget=%d", c.stagger, c.settle, c.budget)
	}
	if _, err := NewCoordinator(&CoordinatorConfig{}); err == nil {
		t.Error("want error without retriever")
	}
}

// ---------------------------------------------------------------------------
// Session and Tracker
// ---------------------------------------------------------------------------

func TestSession_ConcurrentClaim(t *testing.T) {
	t.Parallel()

	s := NewSession()
	items := []catalog.Item{{ID: "X1"}, {ID: "X2"}, {ID: "X3"}}

	var kept atomic.Int64
	var wg sync.WaitGroup
	for range 32 {
		wg.Go(func() {
			kept.Add(int64(len(s.Claim(items))))
		})
	}
	wg.Wait()

	if kept.Load() != 3 {
		t.Errorf("each ID should be kept exactly once, kept %d", kept.Load())
	}
	if s.Claimed() != 3 {
		t.Errorf("claimed: %d", s.Claimed())
	}
}

func TestSession_ClaimDropsInBatchDuplicates(t *testing.T) {
	t.Parallel()

	got := NewSession().Claim([]catalog.Item{{ID: "a"}, {ID: "a"}, {ID: "b"}})
	if ids := strings.Join(catalog.IDs(got), ","); ids != "a,b" {
		t.Errorf("got %s", ids)
	}
}

func TestSession_HighlightsCopy(t *testing.T) {
	t.Parallel()

	s := NewSession()
	s.AddHighlights([]catalog.Item{{ID: "a"}, {ID: "b"}}, 5)
	s.AddHighlights(nil, 5)
	h := s.Highlights()
	h[0].ID = "mutated"
	if s.Highlights()[0].ID != "a" {
		t.Error("Highlights must return a copy")
	}
}

func TestTracker(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	if !tr.TryStart("s1") {
		t.Fatal("first start should succeed")
	}
	if tr.TryStart("s1") {
		t.Error("overlapping start should be refused")
	}
	if !tr.InProgress("s1") || tr.InProgress("s2") {
		t.Error("in-progress flags wrong")
	}
	tr.Finish("s1")
	tr.Finish("s1")
	if tr.InProgress("s1") || !tr.TryStart("s1") {
		t.Error("finish should clear the flag")
	}
}

// ---------------------------------------------------------------------------
// Categories
// ---------------------------------------------------------------------------

func TestParseCategories(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		answer  string
		want    int
		wantErr bool
	}{
		{"plain", `[{"item_category":"Toys","queries":["lego","puzzle"]}]`, 1, false},
		{"fenced", "```json\n[{\"item_category\":\"Toys\",\"queries\":[\"lego\"]}]\n```", 1, false},
		{"prose around", `Sure! [{"item_category":"A","queries":["x"]},{"item_category":"B","queries":["y"]}] Enjoy.`, 2, false},
		{"no array", `{"item_category":"Toys"}`, 0, true},
		{"empty array", `[]`, 0, true},
		{"bad json", `[{"item_category":]`, 0, true},
		{"blank name", `[{"item_category":" ","queries":["x"]}]`, 0, true},
		{"only blank queries", `[{"item_category":"A","queries":["  ",""]}]`, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseCategories(tc.answer)
			if tc.wantErr {
				if !errors.Is(err, ErrMalformedCategories) {
					t.Errorf("want ErrMalformedCategories, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tc.want {
				t.Errorf("want %d categories, got %d", tc.want, len(got))
			}
		})
	}
}

// scriptedGenerator returns answers in order.
type scriptedGenerator struct {
	// errs is the error returned per call; nil means success.
	errs []error
	// calls counts Generate invocations.
	calls int
}

func (g *scriptedGenerator) Generate(context.Context, string) ([]Category, error) {
	err := g.errs[g.calls]
	g.calls++
	if err != nil {
		return nil, err
	}
	return cats("ok"), nil
}

func TestGenerateWithRetry(t *testing.T) {
	t.Parallel()

	malformed := fmt.Errorf("%w: empty list", ErrMalformedCategories)
	transport := errors.New("connection refused")

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{"first succeeds", []error{nil}, 1, nil},
		{"retry succeeds", []error{malformed, nil}, 2, nil},
		{"retry also malformed", []error{malformed, malformed}, 2, ErrMalformedCategories},
		{"other error not retried", []error{transport}, 1, transport},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := &scriptedGenerator{errs: tc.errs}
			_, err := GenerateWithRetry(context.Background(), g, "winter")
			if g.calls != tc.wantCalls {
				t.Errorf("calls: want %d, got %d", tc.wantCalls, g.calls)
			}
			if tc.wantErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("want %v, got %v", tc.wantErr, err)
			}
		})
	}
}

// fakeChatModel answers every Generate call with a fixed reply.
type fakeChatModel struct {
	// reply is the assistant message content.
	reply string
	// got records the messages of the last call.
	got []*schema.Message
}

func (m *fakeChatModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.got = in
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *fakeChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestLLMCategoryGenerator(t *testing.T) {
	t.Parallel()

	cm := &fakeChatModel{reply: "```json\n[{\"item_category\":\"Sweaters & Knits\",\"queries\":[\"wool sweater\",\"cardigan\"]}]\n```"}
	g, err := NewLLMCategoryGenerator(context.Background(), cm)
	if err != nil {
		t.Fatalf("NewLLMCategoryGenerator: %v", err)
	}

	got, err := g.Generate(context.Background(), "warm clothes for winter")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Sweaters & Knits" || len(got[0].Queries) != 2 {
		t.Errorf("got %+v", got)
	}

	if len(cm.got) != 2 {
		t.Fatalf("want system and user messages, got %d", len(cm.got))
	}
	if !strings.Contains(cm.got[0].Content, "5 diverse and interesting item categories") {
		t.Errorf("system prompt not rendered: %q", cm.got[0].Content)
	}
	if cm.got[1].Content != "User intent: warm clothes for winter" {
		t.Errorf("user message: %q", cm.got[1].Content)
	}
}

func TestLLMCategoryGenerator_Malformed(t *testing.T) {
	t.Parallel()

	g, err := NewLLMCategoryGenerator(context.Background(), &fakeChatModel{reply: "I cannot help with that."})
	if err != nil {
		t.Fatalf("NewLLMCategoryGenerator: %v", err)
	}
	if _, err := g.Generate(context.Background(), "x"); !errors.Is(err, ErrMalformedCategories) {
		t.Errorf("want ErrMalformedCategories, got %v", err)
	}
}
