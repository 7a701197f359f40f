package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
	// ErrDimensionMismatch is returned when a vector does not match its collection dimension
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrResultLimitExceeded is returned when a query asks for more results than the collection allows
	ErrResultLimitExceeded = errors.New("requested result count exceeds collection limit")
	// ErrUnknownMetric is returned for unsupported distance metrics
	ErrUnknownMetric = errors.New("unknown distance metric")
	// ErrEmptyVector is returned when a vector has no components
	ErrEmptyVector = errors.New("vector cannot be empty")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single connection: one writer, and ":memory:" databases stay shared
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Collection operations

const collectionColumns = `id, name, metric, dimension, max_query_results, created_at, updated_at`

func scanCollection(row interface{ Scan(...interface{}) error }) (*Collection, error) {
	var c Collection
	var metric string
	if err := row.Scan(&c.ID, &c.Name, &metric, &c.Dimension, &c.MaxQueryResults, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Metric = Metric(metric)
	return &c, nil
}

// createCollectionWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) createCollectionWithQuerier(ctx context.Context, q querier, collection *Collection) error {
	metric, err := ParseMetric(string(collection.Metric))
	if err != nil {
		return err
	}
	if collection.MaxQueryResults < 0 {
		return fmt.Errorf("max query results must be >= 0, got %d", collection.MaxQueryResults)
	}

	query := `
		INSERT INTO collections (name, metric, dimension, max_query_results, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := q.ExecContext(ctx, query,
		collection.Name, string(metric), collection.Dimension, collection.MaxQueryResults, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("collection %q: %w", collection.Name, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create collection: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	collection.ID = id
	collection.Metric = metric
	collection.CreatedAt = now
	collection.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) CreateCollection(ctx context.Context, collection *Collection) error {
	return s.createCollectionWithQuerier(ctx, s.querier(), collection)
}

// getCollectionWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getCollectionWithQuerier(ctx context.Context, q querier, name string) (*Collection, error) {
	row := q.QueryRowContext(ctx, `SELECT `+collectionColumns+` FROM collections WHERE name = ?`, name)
	c, err := scanCollection(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStorage) GetCollection(ctx context.Context, name string) (*Collection, error) {
	return s.getCollectionWithQuerier(ctx, s.querier(), name)
}

// getCollectionByIDWithQuerier retrieves a collection by ID
func (s *SQLiteStorage) getCollectionByIDWithQuerier(ctx context.Context, q querier, collectionID int64) (*Collection, error) {
	row := q.QueryRowContext(ctx, `SELECT `+collectionColumns+` FROM collections WHERE id = ?`, collectionID)
	c, err := scanCollection(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// listCollectionsWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listCollectionsWithQuerier(ctx context.Context, q querier) ([]*Collection, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+collectionColumns+` FROM collections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	collections := make([]*Collection, 0)
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		collections = append(collections, c)
	}
	return collections, rows.Err()
}

func (s *SQLiteStorage) ListCollections(ctx context.Context) ([]*Collection, error) {
	return s.listCollectionsWithQuerier(ctx, s.querier())
}

// updateCollectionWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) updateCollectionWithQuerier(ctx context.Context, q querier, collection *Collection) error {
	if collection.MaxQueryResults < 0 {
		return fmt.Errorf("max query results must be >= 0, got %d", collection.MaxQueryResults)
	}
	query := `
		UPDATE collections
		SET max_query_results = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now()
	result, err := q.ExecContext(ctx, query, collection.MaxQueryResults, now, collection.ID)
	if err != nil {
		return fmt.Errorf("failed to update collection: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	collection.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpdateCollection(ctx context.Context, collection *Collection) error {
	return s.updateCollectionWithQuerier(ctx, s.querier(), collection)
}

// deleteCollectionWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteCollectionWithQuerier(ctx context.Context, q querier, collectionID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, collectionID)
	return err
}

func (s *SQLiteStorage) DeleteCollection(ctx context.Context, collectionID int64) error {
	return s.deleteCollectionWithQuerier(ctx, s.querier(), collectionID)
}

// Vector operations

// upsertVectorsWithQuerier is the internal implementation that uses a querier.
// The first vector written fixes the collection dimension.
func (s *SQLiteStorage) upsertVectorsWithQuerier(ctx context.Context, q querier, collectionID int64, records []*VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	coll, err := s.getCollectionByIDWithQuerier(ctx, q, collectionID)
	if err != nil {
		return fmt.Errorf("failed to load collection %d: %w", collectionID, err)
	}

	dimension := coll.Dimension
	for _, rec := range records {
		if len(rec.Vector) == 0 {
			return fmt.Errorf("%s: %w", rec.ExternalID, ErrEmptyVector)
		}
		if dimension == 0 {
			dimension = len(rec.Vector)
		}
		if len(rec.Vector) != dimension {
			return fmt.Errorf("%w: %s has %d, collection %q has %d",
				ErrDimensionMismatch, rec.ExternalID, len(rec.Vector), coll.Name, dimension)
		}
	}

	if coll.Dimension == 0 {
		if _, err := q.ExecContext(ctx, `UPDATE collections SET dimension = ?, updated_at = ? WHERE id = ?`,
			dimension, time.Now(), collectionID); err != nil {
			return fmt.Errorf("failed to set collection dimension: %w", err)
		}
	}

	query := `
		INSERT INTO vectors (collection_id, external_id, vector, dimension, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection_id, external_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now()
	for _, rec := range records {
		metadata, err := encodeMetadata(rec.Metadata)
		if err != nil {
			return err
		}
		err = q.QueryRowContext(ctx, query,
			collectionID, rec.ExternalID, serializeVector(rec.Vector), len(rec.Vector), metadata, now, now,
		).Scan(&rec.ID)
		if err != nil {
			return fmt.Errorf("failed to upsert vector %s: %w", rec.ExternalID, err)
		}
		rec.CollectionID = collectionID
		rec.Dimension = len(rec.Vector)
		rec.UpdatedAt = now
	}
	return nil
}

func (s *SQLiteStorage) UpsertVectors(ctx context.Context, collectionID int64, records []*VectorRecord) error {
	return s.upsertVectorsWithQuerier(ctx, s.querier(), collectionID, records)
}

const vectorColumns = `id, collection_id, external_id, vector, dimension, metadata, created_at, updated_at`

func scanVector(row interface{ Scan(...interface{}) error }) (*VectorRecord, error) {
	var rec VectorRecord
	var blob []byte
	var metadata sql.NullString
	err := row.Scan(&rec.ID, &rec.CollectionID, &rec.ExternalID, &blob, &rec.Dimension,
		&metadata, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Vector = deserializeVector(blob)
	rec.Metadata, err = decodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// getVectorWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getVectorWithQuerier(ctx context.Context, q querier, collectionID int64, externalID string) (*VectorRecord, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+vectorColumns+` FROM vectors WHERE collection_id = ? AND external_id = ?`,
		collectionID, externalID)
	rec, err := scanVector(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStorage) GetVector(ctx context.Context, collectionID int64, externalID string) (*VectorRecord, error) {
	return s.getVectorWithQuerier(ctx, s.querier(), collectionID, externalID)
}

// listVectorsWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listVectorsWithQuerier(ctx context.Context, q querier, collectionID int64) ([]*VectorRecord, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+vectorColumns+` FROM vectors WHERE collection_id = ? ORDER BY external_id`,
		collectionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	records := make([]*VectorRecord, 0)
	for rows.Next() {
		rec, err := scanVector(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStorage) ListVectors(ctx context.Context, collectionID int64) ([]*VectorRecord, error) {
	return s.listVectorsWithQuerier(ctx, s.querier(), collectionID)
}

// countVectorsWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) countVectorsWithQuerier(ctx context.Context, q querier, collectionID int64) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors WHERE collection_id = ?`, collectionID).Scan(&count)
	return count, err
}

func (s *SQLiteStorage) CountVectors(ctx context.Context, collectionID int64) (int, error) {
	return s.countVectorsWithQuerier(ctx, s.querier(), collectionID)
}

// deleteVectorWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteVectorWithQuerier(ctx context.Context, q querier, collectionID int64, externalID string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM vectors WHERE collection_id = ? AND external_id = ?`, collectionID, externalID)
	return err
}

func (s *SQLiteStorage) DeleteVector(ctx context.Context, collectionID int64, externalID string) error {
	return s.deleteVectorWithQuerier(ctx, s.querier(), collectionID, externalID)
}

// clearVectorsWithQuerier removes every vector and resets the collection dimension
func (s *SQLiteStorage) clearVectorsWithQuerier(ctx context.Context, q querier, collectionID int64) (int, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM vectors WHERE collection_id = ?`, collectionID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear vectors: %w", err)
	}
	if _, err := q.ExecContext(ctx, `UPDATE collections SET dimension = 0, updated_at = ? WHERE id = ?`,
		time.Now(), collectionID); err != nil {
		return 0, fmt.Errorf("failed to reset collection dimension: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStorage) ClearVectors(ctx context.Context, collectionID int64) (int, error) {
	return s.clearVectorsWithQuerier(ctx, s.querier(), collectionID)
}

// Search operations

// queryNearestWithQuerier validates the request against the collection and runs the search
func (s *SQLiteStorage) queryNearestWithQuerier(ctx context.Context, q querier, collectionID int64, vector []float32, limit int) ([]Neighbor, error) {
	coll, err := s.getCollectionByIDWithQuerier(ctx, q, collectionID)
	if err != nil {
		return nil, err
	}

	if coll.MaxQueryResults > 0 && limit > coll.MaxQueryResults {
		return nil, fmt.Errorf("%w: requested %d, collection %q allows %d",
			ErrResultLimitExceeded, limit, coll.Name, coll.MaxQueryResults)
	}

	if coll.Dimension == 0 {
		return []Neighbor{}, nil
	}
	if len(vector) != coll.Dimension {
		return nil, fmt.Errorf("%w: query has %d, collection %q has %d",
			ErrDimensionMismatch, len(vector), coll.Name, coll.Dimension)
	}

	return searchNearest(ctx, q, coll, vector, limit)
}

func (s *SQLiteStorage) QueryNearest(ctx context.Context, collectionID int64, vector []float32, limit int) ([]Neighbor, error) {
	return s.queryNearestWithQuerier(ctx, s.querier(), collectionID, vector, limit)
}

// Build run operations

// recordBuildRunWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) recordBuildRunWithQuerier(ctx context.Context, q querier, run *BuildRun) error {
	if run.ID == "" {
		return fmt.Errorf("build run ID is required")
	}
	query := `
		INSERT INTO build_runs (id, collection_id, kind, diseases, skipped, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		run.ID, run.CollectionID, run.Kind, run.Diseases, run.Skipped, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to record build run: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) RecordBuildRun(ctx context.Context, run *BuildRun) error {
	return s.recordBuildRunWithQuerier(ctx, s.querier(), run)
}

// listBuildRunsWithQuerier returns runs newest first
func (s *SQLiteStorage) listBuildRunsWithQuerier(ctx context.Context, q querier, collectionID int64) ([]*BuildRun, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, collection_id, kind, diseases, skipped, started_at, finished_at
		FROM build_runs
		WHERE collection_id = ?
		ORDER BY finished_at DESC, id
	`, collectionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	runs := make([]*BuildRun, 0)
	for rows.Next() {
		var run BuildRun
		if err := rows.Scan(&run.ID, &run.CollectionID, &run.Kind, &run.Diseases, &run.Skipped,
			&run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStorage) ListBuildRuns(ctx context.Context, collectionID int64) ([]*BuildRun, error) {
	return s.listBuildRunsWithQuerier(ctx, s.querier(), collectionID)
}

// Status operations

// getStatusWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier, collectionID int64) (*CollectionStatus, error) {
	coll, err := s.getCollectionByIDWithQuerier(ctx, q, collectionID)
	if err != nil {
		return nil, err
	}

	status := &CollectionStatus{Collection: coll}

	status.VectorCount, err = s.countVectorsWithQuerier(ctx, q, collectionID)
	if err != nil {
		return nil, err
	}

	runs, err := s.listBuildRunsWithQuerier(ctx, q, collectionID)
	if err != nil {
		return nil, err
	}
	status.BuildRuns = len(runs)
	if len(runs) > 0 {
		status.LastBuild = runs[0]
	}

	// Calculate database size
	var pageCount, pageSize int
	err = q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	status.Health = HealthStatus{
		DatabaseAccessible: true,
		VectorsAvailable:   status.VectorCount > 0,
		VectorExtension:    VectorExtensionAvailable,
	}

	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context, collectionID int64) (*CollectionStatus, error) {
	return s.getStatusWithQuerier(ctx, s.querier(), collectionID)
}

// isUniqueViolation detects UNIQUE constraint errors from either driver
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Transaction implementations route every call through the transaction querier.
// The pool holds a single connection, so reaching for s.db inside a Tx would block.

func (t *sqliteTx) CreateCollection(ctx context.Context, collection *Collection) error {
	return t.storage.createCollectionWithQuerier(ctx, t.querier(), collection)
}

func (t *sqliteTx) GetCollection(ctx context.Context, name string) (*Collection, error) {
	return t.storage.getCollectionWithQuerier(ctx, t.querier(), name)
}

func (t *sqliteTx) ListCollections(ctx context.Context) ([]*Collection, error) {
	return t.storage.listCollectionsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) UpdateCollection(ctx context.Context, collection *Collection) error {
	return t.storage.updateCollectionWithQuerier(ctx, t.querier(), collection)
}

func (t *sqliteTx) DeleteCollection(ctx context.Context, collectionID int64) error {
	return t.storage.deleteCollectionWithQuerier(ctx, t.querier(), collectionID)
}

func (t *sqliteTx) UpsertVectors(ctx context.Context, collectionID int64, records []*VectorRecord) error {
	return t.storage.upsertVectorsWithQuerier(ctx, t.querier(), collectionID, records)
}

func (t *sqliteTx) GetVector(ctx context.Context, collectionID int64, externalID string) (*VectorRecord, error) {
	return t.storage.getVectorWithQuerier(ctx, t.querier(), collectionID, externalID)
}

func (t *sqliteTx) ListVectors(ctx context.Context, collectionID int64) ([]*VectorRecord, error) {
	return t.storage.listVectorsWithQuerier(ctx, t.querier(), collectionID)
}

func (t *sqliteTx) CountVectors(ctx context.Context, collectionID int64) (int, error) {
	return t.storage.countVectorsWithQuerier(ctx, t.querier(), collectionID)
}

func (t *sqliteTx) DeleteVector(ctx context.Context, collectionID int64, externalID string) error {
	return t.storage.deleteVectorWithQuerier(ctx, t.querier(), collectionID, externalID)
}

func (t *sqliteTx) ClearVectors(ctx context.Context, collectionID int64) (int, error) {
	return t.storage.clearVectorsWithQuerier(ctx, t.querier(), collectionID)
}

func (t *sqliteTx) QueryNearest(ctx context.Context, collectionID int64, vector []float32, limit int) ([]Neighbor, error) {
	return t.storage.queryNearestWithQuerier(ctx, t.querier(), collectionID, vector, limit)
}

func (t *sqliteTx) RecordBuildRun(ctx context.Context, run *BuildRun) error {
	return t.storage.recordBuildRunWithQuerier(ctx, t.querier(), run)
}

func (t *sqliteTx) ListBuildRuns(ctx context.Context, collectionID int64) ([]*BuildRun, error) {
	return t.storage.listBuildRunsWithQuerier(ctx, t.querier(), collectionID)
}

func (t *sqliteTx) GetStatus(ctx context.Context, collectionID int64) (*CollectionStatus, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier(), collectionID)
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
