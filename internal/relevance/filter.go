// Package relevance narrows a candidate set to the items a vision-language
// judge considers on-topic. Candidates are split into fixed-size batches;
// each batch is rendered onto a numbered tile board and judged concurrently.
// Batches that fail or miss the shared deadline contribute nothing.
package relevance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/concierge-go/internal/catalog"
	"github.com/54b3r/concierge-go/internal/logging"
)

const (
	// BatchSize is the number of candidates judged per call. It equals the
	// number of cells on one tile board.
	BatchSize = BoardColumns * BoardColumns

	// DefaultBatchTimeout is how long Filter waits for all batches to report.
	DefaultBatchTimeout = 5 * time.Second
)

// Batch outcome label values.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
)

// Request is the input to one Filter call.
type Request struct {
	// Intent is the user's shopping intent.
	Intent string
	// Category is the item category being searched.
	Category string
	// Items are the candidates to judge.
	Items []catalog.Item
	// ReferenceImage is an optional user-supplied image; nil when absent.
	ReferenceImage []byte
}

// JudgeRequest is what a VisionJudge sees for one batch.
type JudgeRequest struct {
	// Prompt is the instruction text, including the numbered item listing.
	Prompt string
	// Board is the JPEG-encoded labelled tile board.
	Board []byte
	// ReferenceImage is the optional user reference image.
	ReferenceImage []byte
}

// VisionJudge selects the labels of on-topic items from a labelled board.
// Implementations must be safe to call from multiple goroutines.
type VisionJudge interface {
	// SelectMatches returns the labels the judge considers a match.
	SelectMatches(ctx context.Context, req JudgeRequest) ([]string, error)
}

// Renderer draws a batch of items onto a labelled board image.
type Renderer interface {
	// Render returns the encoded board for items, labelled "#0".."#n-1".
	Render(ctx context.Context, items []catalog.Item) ([]byte, error)
}

// Config holds the settings for constructing a Filter.
type Config struct {
	// Judge is the vision-language model client. Required.
	Judge VisionJudge
	// Renderer draws the tile boards. Required.
	Renderer Renderer
	// BatchTimeout is the deadline shared by all batches of one call.
	// Defaults to DefaultBatchTimeout if zero.
	BatchTimeout time.Duration
	// MetricsRegistry receives the filter's Prometheus collectors.
	// A private registry is used when nil.
	MetricsRegistry prometheus.Registerer
}

// Filter is the batched multimodal relevance filter. It is safe for
// concurrent use.
type Filter struct {
	// judge selects matching labels per batch.
	judge VisionJudge
	// renderer draws the per-batch board.
	renderer Renderer
	// timeout is the shared batch deadline.
	timeout time.Duration
	// metrics counts batch outcomes.
	metrics *filterMetrics
}

// NewFilter constructs a Filter from cfg.
func NewFilter(cfg *Config) (*Filter, error) {
	if cfg == nil || cfg.Judge == nil {
		return nil, fmt.Errorf("relevance: judge must not be nil")
	}
	if cfg.Renderer == nil {
		return nil, fmt.Errorf("relevance: renderer must not be nil")
	}
	timeout := cfg.BatchTimeout
	if timeout <= 0 {
		timeout = DefaultBatchTimeout
	}
	reg := cfg.MetricsRegistry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Filter{
		judge:    cfg.Judge,
		renderer: cfg.Renderer,
		timeout:  timeout,
		metrics:  newFilterMetrics(reg),
	}, nil
}

// batchResult is what one batch goroutine reports.
type batchResult struct {
	// index is the batch position, used for logging.
	index int
	// items are the matched items for the batch.
	items []catalog.Item
	// err is the judge or render failure, if any.
	err error
}

// Apply judges req.Items and returns the matched subset. Output order follows
// batch completion, not input order. Apply never fails: batches that error or
// miss the deadline are logged and contribute zero items.
func (f *Filter) Apply(ctx context.Context, req Request) []catalog.Item {
	log := logging.FromContext(ctx)
	batches := Partition(req.Items, BatchSize)
	if len(batches) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	// Buffered so abandoned goroutines can always deliver and exit once
	// cancel() aborts their in-flight calls.
	results := make(chan batchResult, len(batches))
	for i, batch := range batches {
		go func() {
			matched, err := f.judgeBatch(ctx, req, batch)
			results <- batchResult{index: i, items: matched, err: err}
		}()
	}

	var out []catalog.Item
	pending := len(batches)
collect:
	for pending > 0 {
		select {
		case r := <-results:
			pending--
			if r.err != nil {
				outcome := outcomeError
				if errors.Is(r.err, context.DeadlineExceeded) {
					outcome = outcomeTimeout
				}
				f.metrics.batchesTotal.WithLabelValues(outcome).Inc()
				log.Warn("relevance: batch dropped",
					slog.Int("batch", r.index),
					slog.String("outcome", outcome),
					slog.Any("error", r.err),
				)
				continue
			}
			f.metrics.batchesTotal.WithLabelValues(outcomeOK).Inc()
			out = append(out, r.items...)
		case <-ctx.Done():
			f.metrics.batchesTotal.WithLabelValues(outcomeTimeout).Add(float64(pending))
			log.Warn("relevance: batches abandoned at deadline",
				slog.Int("abandoned", pending),
				slog.Int("batches", len(batches)),
				slog.Duration("timeout", f.timeout),
			)
			break collect
		}
	}

	f.metrics.itemsKept.Observe(float64(len(out)))
	return out
}

// judgeBatch renders one batch, asks the judge, and maps labels back to items.
func (f *Filter) judgeBatch(ctx context.Context, req Request, batch []catalog.Item) ([]catalog.Item, error) {
	board, err := f.renderer.Render(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("render board: %w", err)
	}

	labels, err := f.judge.SelectMatches(ctx, JudgeRequest{
		Prompt:         BuildPrompt(req.Intent, req.Category, batch, req.ReferenceImage != nil),
		Board:          board,
		ReferenceImage: req.ReferenceImage,
	})
	if err != nil {
		return nil, fmt.Errorf("judge: %w", err)
	}

	return MapLabels(labels, batch), nil
}

// Partition splits items into consecutive batches of at most size items.
func Partition(items []catalog.Item, size int) [][]catalog.Item {
	if size <= 0 {
		size = BatchSize
	}
	var batches [][]catalog.Item
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end])
	}
	return batches
}

// MapLabels converts judge labels ("3", "#3", " #3 ") to the batch items
// they name. Unknown, malformed, and repeated labels are dropped.
func MapLabels(labels []string, batch []catalog.Item) []catalog.Item {
	out := make([]catalog.Item, 0, len(labels))
	taken := make(map[int]bool, len(labels))
	for _, l := range labels {
		n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(l), "#"))
		if err != nil || n < 0 || n >= len(batch) || taken[n] {
			continue
		}
		taken[n] = true
		out = append(out, batch[n])
	}
	return out
}
