package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/phenorank/internal/builder"
	"github.com/dshills/phenorank/internal/pipeline"
	"github.com/dshills/phenorank/internal/ranker"
	"github.com/dshills/phenorank/internal/signature"
	"github.com/dshills/phenorank/internal/storage"
	"github.com/dshills/phenorank/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams   = -32602 // Invalid method parameters
	ErrorCodeInternalError   = -32603 // Internal JSON-RPC error
	ErrorCodeBuildInProgress = -32002 // Another signature build is already running
	ErrorCodeNotBuilt        = -32003 // Signature collection not built
	ErrorCodeEmptyTerms      = -32004 // Terms parameter is empty
)

const (
	modeAverage = string(signature.KindAverage)
	modeOrgan   = string(signature.KindOrgan)
	modeAll     = "all"
)

// handleRankDiseases handles the rank_diseases tool invocation
func (s *Server) handleRankDiseases(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	terms, err := getTerms(args, "terms")
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid terms", map[string]interface{}{
			"param":  "terms",
			"reason": err.Error(),
		})
	}
	if len(terms) == 0 {
		return nil, newMCPError(ErrorCodeEmptyTerms, "terms parameter is required and cannot be empty", map[string]interface{}{
			"param":  "terms",
			"reason": "missing or empty",
		})
	}
	if err := types.ValidateTerms(terms); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid term ID", map[string]interface{}{
			"param":  "terms",
			"reason": err.Error(),
		})
	}

	mode := getStringDefault(args, "mode", modeOrgan)
	kind, err := signature.ParseKind(mode)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   mode,
			"allowed": []string{modeOrgan, modeAverage},
		})
	}

	limit := getIntDefault(args, "limit", 0)
	if limit < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be >= 0", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	resp, err := s.pipeline.Rank(ctx, terms, kind, limit)
	if err != nil {
		return nil, s.rankError(err, kind, limit)
	}

	results := make([]map[string]interface{}, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = map[string]interface{}{
			"rank":       r.Rank,
			"disease_id": string(r.DiseaseID),
			"distance":   r.Distance,
		}
	}

	response := map[string]interface{}{
		"mode":        string(resp.Kind),
		"collection":  resp.Collection,
		"total":       len(results),
		"limit":       resp.Limit,
		"probed":      resp.Probed,
		"terms_used":  resp.UsedTerms,
		"results":     results,
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
	}
	if len(resp.Missing) > 0 {
		response["missing_terms"] = termStrings(resp.Missing)
	}
	if len(resp.Unclustered) > 0 {
		response["unclustered_terms"] = termStrings(resp.Unclustered)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// rankError maps ranking failures to MCP errors
func (s *Server) rankError(err error, kind signature.Kind, limit int) error {
	switch {
	case errors.Is(err, ranker.ErrCollectionNotBuilt):
		return newMCPError(ErrorCodeNotBuilt, "signature collection not built. Use build_signatures to build it.", map[string]interface{}{
			"mode":       string(kind),
			"collection": s.pipeline.Config().CollectionFor(kind),
		})
	case errors.Is(err, types.ErrNoTerms):
		return newMCPError(ErrorCodeEmptyTerms, "terms parameter is required and cannot be empty", nil)
	case errors.Is(err, signature.ErrNoEmbeddings):
		return newMCPError(ErrorCodeInvalidParams, "none of the terms has an embedding", map[string]interface{}{
			"param":  "terms",
			"reason": err.Error(),
		})
	case errors.Is(err, storage.ErrResultLimitExceeded):
		return newMCPError(ErrorCodeInvalidParams, "limit exceeds the collection's result ceiling", map[string]interface{}{
			"param":  "limit",
			"value":  limit,
			"reason": err.Error(),
		})
	default:
		s.logger.Error("ranking failed", zap.String("mode", string(kind)), zap.Error(err))
		return newMCPError(ErrorCodeInternalError, "ranking failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// handleBuildSignatures handles the build_signatures tool invocation
func (s *Server) handleBuildSignatures(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		if request.Params.Arguments != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
		}
		args = map[string]interface{}{}
	}

	mode := getStringDefault(args, "mode", modeAll)
	var kinds []signature.Kind
	switch mode {
	case modeAll:
		kinds = pipeline.DefaultKinds
	case modeAverage, modeOrgan:
		kinds = []signature.Kind{signature.Kind(mode)}
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   mode,
			"allowed": []string{modeAll, modeAverage, modeOrgan},
		})
	}

	if s.pipeline.Building() {
		return nil, newMCPError(ErrorCodeBuildInProgress, "a signature build is already in progress", nil)
	}

	report, err := s.pipeline.Setup(ctx, pipeline.SetupOptions{
		IngestTerms: getBoolDefault(args, "ingest_terms", false),
		Force:       getBoolDefault(args, "force", false),
		Kinds:       kinds,
	})
	if err != nil {
		if errors.Is(err, builder.ErrBuildInProgress) {
			return nil, newMCPError(ErrorCodeBuildInProgress, "a signature build is already in progress", nil)
		}
		s.logger.Error("build failed", zap.String("mode", mode), zap.Error(err))
		return nil, newMCPError(ErrorCodeInternalError, "build failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	builds := make([]map[string]interface{}, len(report.Builds))
	for i, b := range report.Builds {
		entry := map[string]interface{}{
			"mode":        string(b.Kind),
			"collection":  b.Collection,
			"diseases":    b.Diseases,
			"skipped":     b.Skipped,
			"batches":     b.Batches,
			"existing":    b.Existing,
			"duration_ms": b.Duration.Milliseconds(),
		}
		if b.RunID != "" {
			entry["run_id"] = b.RunID
		}
		if len(b.SkippedIDs) > 0 {
			// Include first few skipped diseases
			skipped := b.SkippedIDs
			if len(skipped) > 5 {
				skipped = skipped[:5]
			}
			entry["skipped_ids"] = diseaseStrings(skipped)
		}
		builds[i] = entry
	}

	response := map[string]interface{}{
		"built":       true,
		"collections": builds,
		"duration_ms": report.Duration.Milliseconds(),
	}
	if report.Ingest != nil {
		response["ingest"] = map[string]interface{}{
			"collection":  report.Ingest.Collection,
			"terms":       report.Ingest.Terms,
			"obsolete":    report.Ingest.Obsolete,
			"existing":    report.Ingest.Existing,
			"duration_ms": report.Ingest.Duration.Milliseconds(),
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.pipeline.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	collections := make([]map[string]interface{}, len(status.Collections))
	for i, c := range status.Collections {
		entry := map[string]interface{}{
			"role":  c.Role,
			"name":  c.Name,
			"built": c.Ready(),
		}
		if !c.Exists {
			entry["message"] = "Collection not built. Use build_signatures to build it."
		}
		if st := c.Status; st != nil {
			entry["statistics"] = map[string]interface{}{
				"vector_count":      st.VectorCount,
				"dimension":         st.Collection.Dimension,
				"metric":            string(st.Collection.Metric),
				"max_query_results": st.Collection.MaxQueryResults,
				"build_runs":        st.BuildRuns,
				"index_size_mb":     fmt.Sprintf("%.2f", st.IndexSizeMB),
			}
			if run := st.LastBuild; run != nil {
				entry["last_build"] = map[string]interface{}{
					"run_id":      run.ID,
					"kind":        run.Kind,
					"diseases":    run.Diseases,
					"skipped":     run.Skipped,
					"finished_at": run.FinishedAt.Format(time.RFC3339),
				}
			}
			entry["health"] = map[string]interface{}{
				"database_accessible": st.Health.DatabaseAccessible,
				"vectors_available":   st.Health.VectorsAvailable,
				"vector_extension":    st.Health.VectorExtension,
			}
		}
		collections[i] = entry
	}

	response := map[string]interface{}{
		"collections":  collections,
		"terms_loaded": status.TermsLoaded,
		"diseases":     status.Diseases,
		"building":     status.Building,
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getTerms extracts a term list given either as an array of strings or as
// one comma-separated string
func getTerms(args map[string]interface{}, key string) ([]types.TermID, error) {
	switch v := args[key].(type) {
	case nil:
		return nil, nil
	case string:
		return types.ParseTerms(strings.Split(v, ",")), nil
	case []string:
		return types.ParseTerms(v), nil
	case []interface{}:
		raw := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, want string", i, item)
			}
			raw = append(raw, s)
		}
		return types.ParseTerms(raw), nil
	default:
		return nil, fmt.Errorf("got %T, want array of strings", v)
	}
}

func termStrings(ids []types.TermID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func diseaseStrings(ids []types.DiseaseID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok && val != "" {
		return val
	}
	return defaultValue
}
