package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	return storage
}

func createTestCollection(t *testing.T, s *SQLiteStorage, name string, metric Metric) *Collection {
	t.Helper()
	coll := &Collection{Name: name, Metric: metric}
	require.NoError(t, s.CreateCollection(context.Background(), coll))
	return coll
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	assert.NotNil(t, storage)
	assert.NotNil(t, storage.db)
}

func TestClose(t *testing.T) {
	storage := setupTestDB(t)
	err := storage.Close()
	assert.NoError(t, err)
}

func TestCreateCollection(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	coll := &Collection{Name: "average"}

	err := storage.CreateCollection(ctx, coll)
	require.NoError(t, err)
	assert.Greater(t, coll.ID, int64(0))
	assert.Equal(t, MetricCosine, coll.Metric)

	// Try to create duplicate - should fail
	err = storage.CreateCollection(ctx, &Collection{Name: "average"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreateCollection_InvalidInput(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()

	err := storage.CreateCollection(ctx, &Collection{Name: "bad", Metric: "hamming"})
	assert.ErrorIs(t, err, ErrUnknownMetric)

	err = storage.CreateCollection(ctx, &Collection{Name: "bad", MaxQueryResults: -1})
	assert.Error(t, err)
}

func TestGetCollection(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	coll := &Collection{Name: "organ", Metric: MetricL2, MaxQueryResults: 50}
	require.NoError(t, storage.CreateCollection(ctx, coll))

	retrieved, err := storage.GetCollection(ctx, "organ")
	require.NoError(t, err)
	assert.Equal(t, coll.ID, retrieved.ID)
	assert.Equal(t, MetricL2, retrieved.Metric)
	assert.Equal(t, 50, retrieved.MaxQueryResults)
	assert.Equal(t, 0, retrieved.Dimension)
}

func TestGetCollection_NotFound(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	_, err := storage.GetCollection(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListCollections(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	createTestCollection(t, storage, "organ", MetricCosine)
	createTestCollection(t, storage, "average", MetricCosine)

	colls, err := storage.ListCollections(context.Background())
	require.NoError(t, err)
	require.Len(t, colls, 2)
	assert.Equal(t, "average", colls[0].Name)
	assert.Equal(t, "organ", colls[1].Name)
}

func TestUpdateCollection(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	coll := createTestCollection(t, storage, "average", MetricCosine)

	coll.MaxQueryResults = 7
	require.NoError(t, storage.UpdateCollection(ctx, coll))

	retrieved, err := storage.GetCollection(ctx, "average")
	require.NoError(t, err)
	assert.Equal(t, 7, retrieved.MaxQueryResults)

	err = storage.UpdateCollection(ctx, &Collection{ID: 9999})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCollection_CascadesVectors(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	coll := createTestCollection(t, storage, "average", MetricCosine)
	require.NoError(t, storage.UpsertVectors(ctx, coll.ID, []*VectorRecord{
		{ExternalID: "OMIM:1", Vector: []float32{1, 0}},
	}))

	require.NoError(t, storage.DeleteCollection(ctx, coll.ID))

	_, err := storage.GetCollection(ctx, "average")
	assert.ErrorIs(t, err, ErrNotFound)

	count, err := storage.CountVectors(ctx, coll.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestUpsertVectors(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	coll := createTestCollection(t, storage, "average", MetricCosine)

	records := []*VectorRecord{
		{ExternalID: "OMIM:100", Vector: []float32{1, 2, 3}, Metadata: map[string]string{"type": "disease"}},
		{ExternalID: "OMIM:200", Vector: []float32{4, 5, 6}},
	}
	require.NoError(t, storage.UpsertVectors(ctx, coll.ID, records))
	assert.Greater(t, records[0].ID, int64(0))
	assert.Equal(t, 3, records[0].Dimension)

	// First write fixes the dimension
	retrieved, err := storage.GetCollection(ctx, "average")
	require.NoError(t, err)
	assert.Equal(t, 3, retrieved.Dimension)

	// Upsert replaces by external ID
	require.NoError(t, storage.UpsertVectors(ctx, coll.ID, []*VectorRecord{
		{ExternalID: "OMIM:100", Vector: []float32{9, 9, 9}},
	}))

	rec, err := storage.GetVector(ctx, coll.ID, "OMIM:100")
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 9, 9}, rec.Vector)
	assert.Nil(t, rec.Metadata)

	count, err := storage.CountVectors(ctx, coll.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUpsertVectors_DimensionMismatch(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	coll := createTestCollection(t, storage, "average", MetricCosine)

	// Mixed dimensions within one call
	err := storage.UpsertVectors(ctx, coll.ID, []*VectorRecord{
		{ExternalID: "a", Vector: []float32{1, 2}},
		{ExternalID: "b", Vector: []float32{1, 2, 3}},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	require.NoError(t, storage.UpsertVectors(ctx, coll.ID, []*VectorRecord{
		{ExternalID: "a", Vector: []float32{1, 2}},
	}))

	// Mismatch against the stored dimension
	err = storage.UpsertVectors(ctx, coll.ID, []*VectorRecord{
		{ExternalID: "c", Vector: []float32{1, 2, 3}},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	err = storage.UpsertVectors(ctx, coll.ID, []*VectorRecord{{ExternalID: "d"}})
	assert.ErrorIs(t, err, ErrEmptyVector)
}

func TestUpsertVectors_UnknownCollection(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	err := storage.UpsertVectors(context.Background(), 42, []*VectorRecord{
		{ExternalID: "a", Vector: []float32{1}},
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetVector_Metadata(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	coll := createTestCollection(t, storage, "ont_hp", MetricCosine)
	meta := map[string]string{"term_id": "HP:0001250", "label": "Seizure"}
	require.NoError(t, storage.UpsertVectors(ctx, coll.ID, []*VectorRecord{
		{ExternalID: "HP:0001250", Vector: []float32{0.5, 0.5}, Metadata: meta},
	}))

	rec, err := storage.GetVector(ctx, coll.ID, "HP:0001250")
	require.NoError(t, err)
	assert.Equal(t, meta, rec.Metadata)
	assert.Equal(t, coll.ID, rec.CollectionID)

	_, err = storage.GetVector(ctx, coll.ID, "HP:0000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListVectors(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	coll := createTestCollection(t, storage, "average", MetricCosine)
	require.NoError(t, storage.UpsertVectors(ctx, coll.ID, []*VectorRecord{
		{ExternalID: "OMIM:3", Vector: []float32{1}},
		{ExternalID: "OMIM:1", Vector: []float32{2}},
		{ExternalID: "OMIM:2", Vector: []float32{3}},
	}))

	records, err := storage.ListVectors(ctx, coll.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "OMIM:1", records[0].ExternalID)
	assert.Equal(t, "OMIM:2", records[1].ExternalID)
	assert.Equal(t, "OMIM:3", records[2].ExternalID)
}

func TestDeleteVector(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	coll := createTestCollection(t, storage, "average", MetricCosine)
	require.NoError(t, storage.UpsertVectors(ctx, coll.ID, []*VectorRecord{
		{ExternalID: "OMIM:1", Vector: []float32{1}},
	}))

	require.NoError(t, storage.DeleteVector(ctx, coll.ID, "OMIM:1"))

	_, err := storage.GetVector(ctx, coll.ID, "OMIM:1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClearVectors(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	coll := createTestCollection(t, storage, "average", MetricCosine)
	require.NoError(t, storage.UpsertVectors(ctx, coll.ID, []*VectorRecord{
		{ExternalID: "OMIM:1", Vector: []float32{1, 2}},
		{ExternalID: "OMIM:2", Vector: []float32{3, 4}},
	}))

	n, err := storage.ClearVectors(ctx, coll.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Dimension resets so a rebuild may change it
	retrieved, err := storage.GetCollection(ctx, "average")
	require.NoError(t, err)
	assert.Equal(t, 0, retrieved.Dimension)

	require.NoError(t, storage.UpsertVectors(ctx, coll.ID, []*VectorRecord{
		{ExternalID: "OMIM:1", Vector: []float32{1, 2, 3}},
	}))
}

func TestQueryNearest(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	coll := createTestCollection(t, storage, "average", MetricCosine)
	require.NoError(t, storage.UpsertVectors(ctx, coll.ID, []*VectorRecord{
		{ExternalID: "far", Vector: []float32{0, 1}},
		{ExternalID: "near", Vector: []float32{1, 0}},
		{ExternalID: "mid", Vector: []float32{1, 1}},
	}))

	neighbors, err := storage.QueryNearest(ctx, coll.ID, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, neighbors, 3)
	assert.Equal(t, "near", neighbors[0].ExternalID)
	assert.Equal(t, "mid", neighbors[1].ExternalID)
	assert.Equal(t, "far", neighbors[2].ExternalID)
	assert.InDelta(t, 0.0, neighbors[0].Distance, 1e-6)
	assert.InDelta(t, 1.0, neighbors[2].Distance, 1e-6)

	neighbors, err = storage.QueryNearest(ctx, coll.ID, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "near", neighbors[0].ExternalID)

	neighbors, err = storage.QueryNearest(ctx, coll.ID, []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, neighbors)

	_, err = storage.QueryNearest(ctx, coll.ID, []float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestQueryNearest_ResultLimit(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	coll := &Collection{Name: "capped", MaxQueryResults: 2}
	require.NoError(t, storage.CreateCollection(ctx, coll))
	require.NoError(t, storage.UpsertVectors(ctx, coll.ID, []*VectorRecord{
		{ExternalID: "a", Vector: []float32{1, 0}},
		{ExternalID: "b", Vector: []float32{0, 1}},
		{ExternalID: "c", Vector: []float32{1, 1}},
	}))

	neighbors, err := storage.QueryNearest(ctx, coll.ID, []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, neighbors, 2)

	_, err = storage.QueryNearest(ctx, coll.ID, []float32{1, 0}, 3)
	assert.True(t, errors.Is(err, ErrResultLimitExceeded))
}

func TestQueryNearest_EmptyCollection(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	coll := createTestCollection(t, storage, "empty", MetricCosine)
	neighbors, err := storage.QueryNearest(context.Background(), coll.ID, []float32{1, 2}, 5)
	require.NoError(t, err)
	assert.Empty(t, neighbors)
}

func TestBuildRuns(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	coll := createTestCollection(t, storage, "average", MetricCosine)

	start := time.Now().Add(-2 * time.Minute)
	first := &BuildRun{ID: "run-1", CollectionID: coll.ID, Kind: "average", Diseases: 10,
		StartedAt: start, FinishedAt: start.Add(time.Second)}
	second := &BuildRun{ID: "run-2", CollectionID: coll.ID, Kind: "average", Diseases: 12, Skipped: 1,
		StartedAt: start.Add(time.Minute), FinishedAt: start.Add(time.Minute + 3*time.Second)}
	require.NoError(t, storage.RecordBuildRun(ctx, first))
	require.NoError(t, storage.RecordBuildRun(ctx, second))

	runs, err := storage.ListBuildRuns(ctx, coll.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, 1, runs[0].Skipped)

	err = storage.RecordBuildRun(ctx, &BuildRun{CollectionID: coll.ID})
	assert.Error(t, err)
}

func TestGetStatus(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	coll := createTestCollection(t, storage, "average", MetricCosine)

	status, err := storage.GetStatus(ctx, coll.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.VectorCount)
	assert.Nil(t, status.LastBuild)
	assert.True(t, status.Health.DatabaseAccessible)
	assert.False(t, status.Health.VectorsAvailable)
	assert.Equal(t, VectorExtensionAvailable, status.Health.VectorExtension)

	require.NoError(t, storage.UpsertVectors(ctx, coll.ID, []*VectorRecord{
		{ExternalID: "OMIM:1", Vector: []float32{1}},
	}))
	now := time.Now()
	require.NoError(t, storage.RecordBuildRun(ctx, &BuildRun{ID: "r", CollectionID: coll.ID,
		Kind: "average", Diseases: 1, StartedAt: now, FinishedAt: now}))

	status, err = storage.GetStatus(ctx, coll.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.VectorCount)
	assert.Equal(t, 1, status.BuildRuns)
	require.NotNil(t, status.LastBuild)
	assert.Equal(t, "r", status.LastBuild.ID)
	assert.True(t, status.Health.VectorsAvailable)

	_, err = storage.GetStatus(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBeginTx_CommitRollback(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	coll := createTestCollection(t, storage, "average", MetricCosine)

	// Rollback discards writes
	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertVectors(ctx, coll.ID, []*VectorRecord{
		{ExternalID: "OMIM:1", Vector: []float32{1, 2}},
	}))
	require.NoError(t, tx.Rollback())

	count, err := storage.CountVectors(ctx, coll.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Commit keeps them, and reads inside the tx see uncommitted rows
	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertVectors(ctx, coll.ID, []*VectorRecord{
		{ExternalID: "OMIM:1", Vector: []float32{1, 2}},
	}))
	inTx, err := tx.CountVectors(ctx, coll.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, inTx)

	_, err = tx.BeginTx(ctx)
	assert.Error(t, err)
	require.NoError(t, tx.Commit())

	count, err = storage.CountVectors(ctx, coll.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
