// Package ingestion loads a catalog export into the search backends. Each
// JSONL record is embedded three ways (dense text, dense multimodal, sparse),
// its vectors are upserted into the index and its attributes are written to
// the feature store. The pipeline is invoked by `concierge ingest`.
package ingestion

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/concierge-go/internal/catalog"
	"github.com/54b3r/concierge-go/internal/featurestore"
	"github.com/54b3r/concierge-go/internal/index"
	"github.com/54b3r/concierge-go/internal/logging"
)

const (
	// DefaultBatchSize is the number of records embedded and written together.
	DefaultBatchSize = 64
	// DefaultConcurrency is the number of batches in flight.
	DefaultConcurrency = 4
	// maxLineBytes bounds a single JSONL record.
	maxLineBytes = 1 << 20
)

// Record is one line of the catalog export.
type Record struct {
	// ID is the catalog item identifier.
	ID string `json:"id"`
	// Name is the product name.
	Name string `json:"name"`
	// Description is the product description.
	Description string `json:"description"`
}

// Text is the string embedded for the record.
func (r Record) Text() string {
	return strings.TrimSpace(r.Name + " " + r.Description)
}

// Encoder embeds a batch of texts on all three channels.
// *embedder.Hybrid satisfies it.
type Encoder interface {
	EmbedBatch(ctx context.Context, texts []string) (text, multimodal [][]float32, sparse []catalog.SparseVector, err error)
}

// VectorWriter persists item vectors. *index.QdrantIndex satisfies it.
type VectorWriter interface {
	Upsert(ctx context.Context, points []index.Point) error
}

// AttributeWriter persists item attributes. Every featurestore.Store
// satisfies it.
type AttributeWriter interface {
	Put(ctx context.Context, records []featurestore.Record) error
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// BatchSize is the number of records per batch. Defaults to 64.
	BatchSize int
	// Concurrency is the number of batches processed at once. Defaults to 4.
	Concurrency int
}

// Stats summarises an ingestion run.
type Stats struct {
	// Read is the number of non-blank lines read.
	Read int
	// Ingested is the number of records written to both backends.
	Ingested int
	// Skipped is the number of malformed or unnamed records.
	Skipped int
	// Batches is the number of batches written.
	Batches int
}

// Pipeline orchestrates the read → embed → upsert flow.
type Pipeline struct {
	// encoder produces the three vectors per record.
	encoder Encoder
	// vectors receives the index points.
	vectors VectorWriter
	// attributes receives the item attributes.
	attributes AttributeWriter
	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(encoder Encoder, vectors VectorWriter, attributes AttributeWriter, cfg *Config) (*Pipeline, error) {
	switch {
	case encoder == nil:
		return nil, fmt.Errorf("ingestion: encoder must not be nil")
	case vectors == nil:
		return nil, fmt.Errorf("ingestion: vector writer must not be nil")
	case attributes == nil:
		return nil, fmt.Errorf("ingestion: attribute writer must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Pipeline{encoder: encoder, vectors: vectors, attributes: attributes, cfg: cfg}, nil
}

// Ingest reads JSONL records from r and writes them in batches. Malformed
// lines and records without an ID or name are logged and skipped. The first
// backend error cancels the run. progress, if non-nil, is called after each
// batch with the running totals; calls are serialised.
func (p *Pipeline) Ingest(ctx context.Context, r io.Reader, progress func(Stats)) (Stats, error) {
	log := logging.FromContext(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	var (
		stats    Stats
		ingested atomic.Int64
		batches  atomic.Int64
		report   = make(chan struct{}, p.cfg.Concurrency)
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range report {
			if progress != nil {
				progress(Stats{Ingested: int(ingested.Load()), Batches: int(batches.Load())})
			}
		}
	}()

	submit := func(batch []Record) {
		g.Go(func() error {
			if err := p.writeBatch(gctx, batch); err != nil {
				return err
			}
			ingested.Add(int64(len(batch)))
			batches.Add(1)
			report <- struct{}{}
			return nil
		})
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	batch := make([]Record, 0, p.cfg.BatchSize)
	line := 0
	for sc.Scan() && gctx.Err() == nil {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		stats.Read++

		rec, err := parseRecord(raw)
		if err != nil {
			stats.Skipped++
			log.Warn("ingest: skipping record", slog.Int("line", line), slog.Any("error", err))
			continue
		}
		batch = append(batch, rec)
		if len(batch) == p.cfg.BatchSize {
			submit(batch)
			batch = make([]Record, 0, p.cfg.BatchSize)
		}
	}
	scanErr := sc.Err()
	if len(batch) > 0 && gctx.Err() == nil {
		submit(batch)
	}

	err := g.Wait()
	close(report)
	<-done

	stats.Ingested = int(ingested.Load())
	stats.Batches = int(batches.Load())
	if err != nil {
		return stats, fmt.Errorf("ingestion: %w", err)
	}
	if scanErr != nil {
		return stats, fmt.Errorf("ingestion: read: %w", scanErr)
	}
	return stats, ctx.Err()
}

// errMissingField marks records that cannot be indexed.
var errMissingField = errors.New("id and name are required")

// parseRecord decodes one JSONL line.
func parseRecord(raw string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, fmt.Errorf("decode: %w", err)
	}
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" || strings.TrimSpace(rec.Name) == "" {
		return Record{}, errMissingField
	}
	return rec, nil
}

// writeBatch embeds batch and writes it to both backends. Attributes are
// written first so an indexed item is always enrichable.
func (p *Pipeline) writeBatch(ctx context.Context, batch []Record) error {
	texts := make([]string, len(batch))
	attrs := make([]featurestore.Record, len(batch))
	for i, rec := range batch {
		texts[i] = rec.Text()
		attrs[i] = featurestore.Record{
			ID: rec.ID,
			Attributes: map[string]string{
				featurestore.FieldName:        rec.Name,
				featurestore.FieldDescription: rec.Description,
			},
		}
	}

	text, mm, sparse, err := p.encoder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch starting at %s: %w", batch[0].ID, err)
	}
	if len(text) != len(batch) || len(mm) != len(batch) || len(sparse) != len(batch) {
		return fmt.Errorf("embed batch starting at %s: got %d/%d/%d vectors for %d records",
			batch[0].ID, len(text), len(mm), len(sparse), len(batch))
	}

	if err := p.attributes.Put(ctx, attrs); err != nil {
		return fmt.Errorf("put attributes: %w", err)
	}

	points := make([]index.Point, len(batch))
	for i, rec := range batch {
		points[i] = index.Point{ItemID: rec.ID, Text: text[i], Multimodal: mm[i], Sparse: sparse[i]}
	}
	if err := p.vectors.Upsert(ctx, points); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}
	return nil
}

// ReadCorpus returns the embedding text of every valid record in r, for
// fitting the sparse encoder.
func ReadCorpus(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var corpus []string
	for sc.Scan() {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		if rec, err := parseRecord(raw); err == nil {
			corpus = append(corpus, rec.Text())
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ingestion: read corpus: %w", err)
	}
	return corpus, nil
}
