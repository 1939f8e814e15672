package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/54b3r/concierge-go/internal/embedder"
	"github.com/54b3r/concierge-go/internal/ingestion"
	"github.com/54b3r/concierge-go/internal/logging"
	"github.com/54b3r/concierge-go/internal/server"
)

// NewIngestCmd constructs the `concierge ingest` command, which loads a
// catalog export into the vector index and the feature store.
func NewIngestCmd() *cobra.Command {
	var file string
	var fitSparse bool
	var vocabOut string
	var batchSize int
	var concurrency int

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load a JSONL catalog export into Qdrant and the feature store",
		Long: `Load a catalog export into the vector index and the feature store.

The export is JSON Lines, one item per line:

  {"id": "sku-1", "name": "Linen shirt", "description": "Relaxed fit..."}

Every item is embedded on the dense text, multimodal and sparse channels
and written to Qdrant; its name and description are written to the feature
store. Lines without an id or name are skipped.

--fit-sparse first fits the TF-IDF vocabulary on the export and saves it to
--vocab-out (default: SPARSE_VOCAB_PATH or ~/.concierge/sparse.json). The
same file must be used at query time.

Required environment variables:
  QDRANT_HOST, QDRANT_PORT, QDRANT_COLLECTION   Vector index
  FEATURE_STORE, FEATURE_STORE_PATH, REDIS_*    Attribute store
  MM_EMBEDDING_ENDPOINT                         Multimodal encoder
  SPARSE_VOCAB_PATH                             Sparse model (unless --fit-sparse)

Examples:
  concierge ingest --file catalog.jsonl --fit-sparse
  concierge ingest --file catalog.jsonl --batch-size 128 --concurrency 8`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if file == "" {
				return fmt.Errorf("ingest: --file is required")
			}

			if fitSparse {
				path, err := fitSparseModel(file, vocabOut, log)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				if err := os.Setenv("SPARSE_VOCAB_PATH", path); err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			enc, err := embedder.NewHybridFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}

			backends, err := openStorage(ctx)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = backends.Close() }()

			preflight := server.NewMultiPinger(
				server.NewPinger("qdrant", backends.index),
				server.NewPinger("feature_store", backends.features),
			)
			if err := preflight.Ping(ctx); err != nil {
				return fmt.Errorf("ingest: preflight: %w", err)
			}

			pipeline, err := ingestion.NewPipeline(enc, backends.index, backends.features, &ingestion.Config{
				BatchSize:   batchSize,
				Concurrency: concurrency,
			})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			stats, err := ingestFile(ctx, pipeline, file, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d of %d items (%d skipped) in %d batches\n",
				stats.Ingested, stats.Read, stats.Skipped, stats.Batches)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the JSONL catalog export")
	cmd.Flags().BoolVar(&fitSparse, "fit-sparse", false, "Fit and save the TF-IDF vocabulary before ingesting")
	cmd.Flags().StringVar(&vocabOut, "vocab-out", "", "Where --fit-sparse saves the vocabulary")
	cmd.Flags().IntVar(&batchSize, "batch-size", ingestion.DefaultBatchSize, "Records per batch")
	cmd.Flags().IntVar(&concurrency, "concurrency", ingestion.DefaultConcurrency, "Batches in flight")

	return cmd
}

// ingestFile streams the export at path through the pipeline, logging
// progress as batches land.
func ingestFile(ctx context.Context, p *ingestion.Pipeline, path string, log *slog.Logger) (ingestion.Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ingestion.Stats{}, err
	}
	defer f.Close()

	return p.Ingest(ctx, f, func(s ingestion.Stats) {
		log.Info("ingest progress",
			slog.Int("ingested", s.Ingested),
			slog.Int("batches", s.Batches),
		)
	})
}

// fitSparseModel fits the TF-IDF vocabulary on the export at path and saves
// it. It returns the path the model was written to.
func fitSparseModel(path, out string, log *slog.Logger) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	corpus, err := ingestion.ReadCorpus(f)
	if err != nil {
		return "", err
	}
	enc, err := embedder.FitTFIDF(corpus)
	if err != nil {
		return "", err
	}

	if out == "" {
		out = os.Getenv("SPARSE_VOCAB_PATH")
	}
	if out == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not determine home directory: %w", err)
		}
		out = filepath.Join(home, ".concierge", "sparse.json")
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
		return "", err
	}
	if err := writeFile(out, enc.Save); err != nil {
		return "", fmt.Errorf("save sparse model: %w", err)
	}

	log.Info("sparse model fitted",
		slog.Int("documents", len(corpus)),
		slog.Int("vocabulary", enc.VocabularySize()),
		slog.String("path", out),
	)
	return out, nil
}

// writeFile creates path and streams write into it.
func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
