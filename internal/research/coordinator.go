package research

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/concierge-go/internal/catalog"
	"github.com/54b3r/concierge-go/internal/logging"
	"github.com/54b3r/concierge-go/internal/retrieval"
)

const (
	// AggregateCategory names the synthesized cross-category result.
	AggregateCategory = "Concierge's Pick"

	// HighlightsPerCategory is how many top items each category contributes
	// to the aggregate.
	HighlightsPerCategory = 5

	// DefaultBudget is the neighbour count per index lookup during research.
	DefaultBudget = 10

	// DefaultStagger is the delay between category launches.
	DefaultStagger = 5 * time.Second

	// DefaultSettle is the delay between the last category finishing and the
	// aggregate being emitted.
	DefaultSettle = 5 * time.Second
)

// EventKind distinguishes per-category results from the final aggregate.
type EventKind string

const (
	// EventCategory carries the result of one category run.
	EventCategory EventKind = "category"
	// EventAggregate carries the cross-category highlight result. It is
	// always the last event of a run.
	EventAggregate EventKind = "aggregate"
)

// Event is one message on the stream returned by Coordinator.Run.
type Event struct {
	// Kind is the event type.
	Kind EventKind `json:"kind"`
	// Category is the item category this event belongs to.
	Category string `json:"item_category"`
	// Result is the ranked result. Nil when the category run failed.
	Result *catalog.RankedResult `json:"result,omitempty"`
	// Error describes a failed category run.
	Error string `json:"error,omitempty"`
}

// Retriever runs one retrieval for a category.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*catalog.RankedResult, error)
}

// Request is the input to one deep research.
type Request struct {
	// Intent is the user's shopping intent.
	Intent string
	// Categories are the item categories to search, in launch order.
	Categories []Category
	// ReferenceImage is the optional user-uploaded image.
	ReferenceImage []byte
}

// CoordinatorConfig holds the Coordinator's collaborators and timings.
type CoordinatorConfig struct {
	// Retriever runs each category. Required.
	Retriever Retriever
	// Budget is the per-lookup neighbour count. Defaults to DefaultBudget.
	Budget int
	// Stagger is the delay between launches. Zero means DefaultStagger;
	// negative disables the delay.
	Stagger time.Duration
	// Settle is the delay before the aggregate. Zero means DefaultSettle;
	// negative disables the delay.
	Settle time.Duration
	// TotalItems is the catalog size reported in the aggregate.
	TotalItems int
	// MetricsRegistry receives the coordinator's collectors. A private
	// registry is used when nil.
	MetricsRegistry prometheus.Registerer
}

// Coordinator runs deep research. It is safe for concurrent use; each Run
// owns its own Session.
type Coordinator struct {
	// retriever runs each category.
	retriever Retriever
	// budget is the per-lookup neighbour count.
	budget int
	// stagger is the delay between launches.
	stagger time.Duration
	// settle is the delay before the aggregate.
	settle time.Duration
	// totalItems is the catalog size reported in the aggregate.
	totalItems int
	// categoryRuns counts finished category runs by outcome.
	categoryRuns *prometheus.CounterVec
}

// NewCoordinator validates cfg and returns a Coordinator.
func NewCoordinator(cfg *CoordinatorConfig) (*Coordinator, error) {
	if cfg == nil || cfg.Retriever == nil {
		return nil, fmt.Errorf("research: retriever must not be nil")
	}
	reg := cfg.MetricsRegistry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	budget := cfg.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Coordinator{
		retriever:  cfg.Retriever,
		budget:     budget,
		stagger:    delayOrDefault(cfg.Stagger, DefaultStagger),
		settle:     delayOrDefault(cfg.Settle, DefaultSettle),
		totalItems: cfg.TotalItems,
		categoryRuns: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "research",
			Name:      "category_runs_total",
			Help:      "Deep research category runs, partitioned by outcome.",
		}, []string{"outcome"}),
	}, nil
}

func delayOrDefault(d, def time.Duration) time.Duration {
	switch {
	case d == 0:
		return def
	case d < 0:
		return 0
	}
	return d
}

// Run starts the research and returns its event stream. One EventCategory
// is sent per category as it finishes, then exactly one EventAggregate, then
// the channel is closed. The channel is buffered for every event, so a slow
// reader never stalls the category runs.
//
// A failing or panicking category is reported as an event with Error set and
// never aborts its siblings. Cancelling ctx stops further launches; the
// aggregate is still emitted from whatever highlights were collected.
func (c *Coordinator) Run(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, len(req.Categories)+1)
	go c.run(ctx, req, events)
	return events
}

func (c *Coordinator) run(ctx context.Context, req Request, events chan<- Event) {
	defer close(events)

	log := logging.FromContext(ctx)
	session := NewSession()
	start := time.Now()

	var wg sync.WaitGroup
	for i, cat := range req.Categories {
		if i > 0 && !wait(ctx, c.stagger) {
			log.Warn("research: launches stopped early",
				slog.Int("launched", i),
				slog.Int("categories", len(req.Categories)),
				slog.Any("error", ctx.Err()),
			)
			break
		}
		wg.Go(func() {
			events <- c.runCategory(ctx, req, cat, session)
		})
	}
	wg.Wait()
	wait(ctx, c.settle)

	agg := c.aggregate(req.Intent, session.Highlights())
	events <- Event{Kind: EventAggregate, Category: AggregateCategory, Result: agg}

	log.Info("research: complete",
		slog.Int("categories", len(req.Categories)),
		slog.Int("claimed", session.Claimed()),
		slog.Int("highlights", agg.SelectedCount),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// runCategory runs one category and converts every failure, panics included,
// into an error event.
func (c *Coordinator) runCategory(ctx context.Context, req Request, cat Category, session *Session) (ev Event) {
	ev = Event{Kind: EventCategory, Category: cat.Name}
	log := logging.FromContext(ctx).With(slog.String("category", cat.Name))

	defer func() {
		if r := recover(); r != nil {
			log.Error("research: category run panicked", slog.Any("panic", r))
			c.categoryRuns.WithLabelValues("error").Inc()
			ev.Result, ev.Error = nil, fmt.Sprintf("category run panicked: %v", r)
		}
	}()

	res, err := c.retriever.Retrieve(ctx, retrieval.Request{
		Phrases:        cat.Queries,
		Budget:         c.budget,
		Intent:         req.Intent,
		Category:       cat.Name,
		ReferenceImage: req.ReferenceImage,
		Claimer:        session,
	})
	if err != nil {
		log.Error("research: category run failed", slog.Any("error", err))
		c.categoryRuns.WithLabelValues("error").Inc()
		ev.Error = err.Error()
		return ev
	}

	session.AddHighlights(res.Items, HighlightsPerCategory)
	c.categoryRuns.WithLabelValues("ok").Inc()
	ev.Result = res
	return ev
}

// aggregate builds the Concierge's Pick from the highlight pool. Found and
// selected counts both equal the pool size.
func (c *Coordinator) aggregate(intent string, highlights []catalog.Item) *catalog.RankedResult {
	return catalog.NewRankedResult(highlights, catalog.ResultMeta{
		Intent:     intent,
		Category:   AggregateCategory,
		FoundCount: len(highlights),
		TotalCount: c.totalItems,
	})
}

// wait sleeps for d or until ctx is done. It reports whether the full delay
// elapsed.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
