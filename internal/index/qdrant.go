// Package index is the vector index port of the retrieval engine, backed by
// Qdrant. One collection holds every catalog item as a point with three
// named vectors: "text" (dense text space), "mm" (dense image-text space) and
// "sparse" (TF-IDF terms). The catalog item ID travels in the payload.
package index

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/concierge-go/internal/catalog"
)

// Named vectors and payload keys in the collection.
const (
	vectorText       = "text"
	vectorMultimodal = "mm"
	vectorSparse     = "sparse"
	payloadItemID    = "item_id"
)

// pointNamespace derives stable Qdrant point UUIDs from catalog item IDs.
var pointNamespace = uuid.MustParse("6f1c6a52-8d0f-4c1e-9a57-3b2f1d7e4c90")

// PointID returns the Qdrant point UUID for a catalog item ID.
func PointID(itemID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(itemID)).String()
}

// QdrantConfig holds connection parameters for the Qdrant catalog collection.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string
	// Port is the Qdrant gRPC port (default: 6334).
	Port int
	// Collection is the catalog collection name (default: catalog).
	Collection string
	// TextSize is the dimensionality of the "text" vector.
	TextSize uint64
	// MultimodalSize is the dimensionality of the "mm" vector.
	MultimodalSize uint64
	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string
	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// pointClient is the subset of *qdrant.Client used by QdrantIndex.
type pointClient interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// QdrantIndex implements the retrieval pipeline's VectorIndex on Qdrant.
// It is safe for concurrent use.
type QdrantIndex struct {
	// client is the Qdrant gRPC client.
	client pointClient
	// collection is the catalog collection name.
	collection string
}

// NewQdrantIndex connects to Qdrant and ensures the catalog collection exists
// with the expected named vectors.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "catalog"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	if err := ensureCollection(ctx, client, cfg); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &QdrantIndex{client: client, collection: cfg.Collection}, nil
}

// ensureCollection creates the catalog collection if it does not exist.
func ensureCollection(ctx context.Context, client *qdrant.Client, cfg *QdrantConfig) error {
	exists, err := client.CollectionExists(ctx, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorText:       {Size: cfg.TextSize, Distance: qdrant.Distance_Cosine},
			vectorMultimodal: {Size: cfg.MultimodalSize, Distance: qdrant.Distance_Cosine},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			vectorSparse: {},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", cfg.Collection, err)
	}
	return nil
}

// Search runs the nearest-neighbour lookup for one query. Text queries run
// the dense and sparse channels concurrently and fuse them; multimodal
// queries use the dense "mm" channel alone.
func (x *QdrantIndex) Search(ctx context.Context, req catalog.SearchRequest) ([]catalog.Neighbor, error) {
	vector, alpha := vectorText, float64(AlphaText)
	if req.Modality == catalog.ModalityMultimodal {
		vector, alpha = vectorMultimodal, AlphaMultimodal
	}
	withSparse := alpha < 1 && !req.Sparse.Empty()

	var dense, sparse []hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dense, err = x.query(gctx, vector, qdrant.NewQueryDense(req.Dense), req.Limit)
		return err
	})
	if withSparse {
		g.Go(func() error {
			var err error
			sparse, err = x.query(gctx, vectorSparse, qdrant.NewQuerySparse(req.Sparse.Indices, req.Sparse.Values), req.Limit)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return fuse(dense, sparse, alpha, req.Limit), nil
}

// query issues one single-vector query and returns hits in rank order.
func (x *QdrantIndex) query(ctx context.Context, using string, q *qdrant.Query, limit int) ([]hit, error) {
	n := uint64(limit)
	points, err := x.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          q,
		Using:          qdrant.PtrOf(using),
		Limit:          &n,
		WithPayload:    qdrant.NewWithPayloadInclude(payloadItemID),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: %s query failed: %w", using, err)
	}

	hits := make([]hit, 0, len(points))
	for _, p := range points {
		id := p.GetPayload()[payloadItemID].GetStringValue()
		if id == "" {
			continue
		}
		hits = append(hits, hit{id: id, score: p.GetScore()})
	}
	return hits, nil
}

// Point is one catalog item's vectors for upsert.
type Point struct {
	// ItemID is the catalog identifier.
	ItemID string
	// Text is the dense text embedding.
	Text []float32
	// Multimodal is the dense image-text embedding.
	Multimodal []float32
	// Sparse is the TF-IDF vector. Empty vectors are not stored.
	Sparse catalog.SparseVector
}

// Upsert stores or replaces the given points and waits for the write to be
// applied.
func (x *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		vectors := map[string]*qdrant.Vector{
			vectorText:       qdrant.NewVectorDense(p.Text),
			vectorMultimodal: qdrant.NewVectorDense(p.Multimodal),
		}
		if !p.Sparse.Empty() {
			vectors[vectorSparse] = qdrant.NewVectorSparse(p.Sparse.Indices, p.Sparse.Values)
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(p.ItemID)),
			Vectors: qdrant.NewVectorsMap(vectors),
			Payload: qdrant.NewValueMap(map[string]any{payloadItemID: p.ItemID}),
		})
	}

	_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Count returns the exact number of items in the collection.
func (x *QdrantIndex) Count(ctx context.Context) (uint64, error) {
	n, err := x.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: x.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return n, nil
}

// Ping reports whether Qdrant is reachable.
func (x *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := x.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (x *QdrantIndex) Close() error {
	return x.client.Close()
}
