package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// searchNearest performs a nearest-neighbour query under the collection's metric
func searchNearest(ctx context.Context, q querier, coll *Collection, queryVector []float32, limit int) ([]Neighbor, error) {
	if limit <= 0 {
		return []Neighbor{}, nil
	}
	// sqlite-vec has no inner-product distance, so ip always runs in Go.
	// A zero-norm cosine query also runs in Go, where it scores 1 everywhere.
	if VectorExtensionAvailable && coll.Metric != MetricIP && !(coll.Metric == MetricCosine && isZeroVector(queryVector)) {
		return searchNearestOptimized(ctx, q, coll, queryVector, limit)
	}
	return searchNearestFallback(ctx, q, coll, queryVector, limit)
}

// searchNearestOptimized uses sqlite-vec scalar functions to rank inside SQL
func searchNearestOptimized(ctx context.Context, q querier, coll *Collection, queryVector []float32, limit int) ([]Neighbor, error) {
	// Stored zero-norm vectors make vec_distance_cosine NaN, which SQLite
	// returns as NULL; they score 1 as in the Go path
	distanceExpr := "COALESCE(vec_distance_cosine(vector, ?), 1)"
	if coll.Metric == MetricL2 {
		distanceExpr = "vec_distance_l2(vector, ?)"
	}

	query := fmt.Sprintf(`
		SELECT external_id, %s AS distance, metadata
		FROM vectors
		WHERE collection_id = ? AND dimension = ?
		ORDER BY distance ASC, external_id ASC
		LIMIT ?
	`, distanceExpr)

	rows, err := q.QueryContext(ctx, query, serializeVector(queryVector), coll.ID, len(queryVector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]Neighbor, 0, limit)
	for rows.Next() {
		var n Neighbor
		var metadata sql.NullString
		if err := rows.Scan(&n.ExternalID, &n.Distance, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		n.Metadata, err = decodeMetadata(metadata)
		if err != nil {
			return nil, err
		}
		results = append(results, n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// searchNearestFallback scans the collection and computes distances in Go.
// Used for purego builds and metrics sqlite-vec does not provide.
func searchNearestFallback(ctx context.Context, q querier, coll *Collection, queryVector []float32, limit int) ([]Neighbor, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT external_id, vector, metadata
		FROM vectors
		WHERE collection_id = ?
	`, coll.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]Neighbor, 0, 1024)
	for rows.Next() {
		var n Neighbor
		var blob []byte
		var metadata sql.NullString
		if err := rows.Scan(&n.ExternalID, &blob, &metadata); err != nil {
			return nil, err
		}

		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}

		n.Distance = distance(coll.Metric, queryVector, vector)
		n.Metadata, err = decodeMetadata(metadata)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortNeighbors(candidates)

	if limit > len(candidates) {
		limit = len(candidates)
	}
	return candidates[:limit], nil
}

// sortNeighbors orders by ascending distance, ties by external ID
func sortNeighbors(neighbors []Neighbor) {
	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].ExternalID < neighbors[j].ExternalID
	})
}

// distance dispatches on metric
func distance(metric Metric, a, b []float32) float64 {
	switch metric {
	case MetricL2:
		return l2Distance(a, b)
	case MetricIP:
		return ipDistance(a, b)
	default:
		return cosineDistance(a, b)
	}
}

// cosineDistance computes 1 - cosine similarity; a zero-norm operand is distance 1
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 1
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 1
	}

	return 1 - dotProduct/(math.Sqrt(normA)*math.Sqrt(normB))
}

func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// l2Distance computes the Euclidean distance
func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// ipDistance computes 1 - inner product
func ipDistance(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

func encodeMetadata(metadata map[string]string) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeMetadata(raw sql.NullString) (map[string]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(raw.String), &metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return metadata, nil
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// Distance computes the distance between two vectors under metric
func Distance(metric Metric, a, b []float32) float64 {
	return distance(metric, a, b)
}
