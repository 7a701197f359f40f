package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Storage defines the interface for persisting and querying signature vectors
type Storage interface {
	// Collection operations
	CreateCollection(ctx context.Context, collection *Collection) error
	GetCollection(ctx context.Context, name string) (*Collection, error)
	ListCollections(ctx context.Context) ([]*Collection, error)
	UpdateCollection(ctx context.Context, collection *Collection) error
	DeleteCollection(ctx context.Context, collectionID int64) error

	// Vector operations
	UpsertVectors(ctx context.Context, collectionID int64, records []*VectorRecord) error
	GetVector(ctx context.Context, collectionID int64, externalID string) (*VectorRecord, error)
	ListVectors(ctx context.Context, collectionID int64) ([]*VectorRecord, error)
	CountVectors(ctx context.Context, collectionID int64) (int, error)
	DeleteVector(ctx context.Context, collectionID int64, externalID string) error
	ClearVectors(ctx context.Context, collectionID int64) (deletedCount int, err error)

	// Search operations
	QueryNearest(ctx context.Context, collectionID int64, vector []float32, limit int) ([]Neighbor, error)

	// Build run operations
	RecordBuildRun(ctx context.Context, run *BuildRun) error
	ListBuildRuns(ctx context.Context, collectionID int64) ([]*BuildRun, error)

	// Status operations
	GetStatus(ctx context.Context, collectionID int64) (*CollectionStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Metric names the distance function of a collection
type Metric string

const (
	MetricCosine Metric = "cosine" // 1 - cosine similarity
	MetricL2     Metric = "l2"     // Euclidean distance
	MetricIP     Metric = "ip"     // 1 - inner product
)

// ParseMetric converts a metric name, defaulting to cosine when empty
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", MetricCosine:
		return MetricCosine, nil
	case MetricL2:
		return MetricL2, nil
	case MetricIP:
		return MetricIP, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// Collection is a named set of vectors sharing one dimension and metric
type Collection struct {
	ID              int64
	Name            string
	Metric          Metric
	Dimension       int // 0 until the first vector is written
	MaxQueryResults int // Result-count ceiling for QueryNearest, 0 = unlimited
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// VectorRecord is a single stored vector
type VectorRecord struct {
	ID           int64
	CollectionID int64
	ExternalID   string // Disease or term ID
	Vector       []float32
	Dimension    int
	Metadata     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Neighbor is a nearest-neighbour query hit
type Neighbor struct {
	ExternalID string
	Distance   float64
	Metadata   map[string]string
}

// BuildRun records one signature build into a collection
type BuildRun struct {
	ID           string // UUID
	CollectionID int64
	Kind         string // Aggregator kind, e.g. "average" or "organ"
	Diseases     int
	Skipped      int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Duration returns how long the build took
func (r *BuildRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// CollectionStatus contains statistics about a collection
type CollectionStatus struct {
	Collection  *Collection
	VectorCount int
	BuildRuns   int
	LastBuild   *BuildRun // Nullable
	IndexSizeMB float64
	Health      HealthStatus
}

// HealthStatus represents the health of the store
type HealthStatus struct {
	DatabaseAccessible bool
	VectorsAvailable   bool
	VectorExtension    bool
}
