package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// rankDiseasesTool returns the tool definition for rank_diseases
func rankDiseasesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "rank_diseases",
		Description: "Rank candidate diseases by similarity to a set of phenotype terms",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"terms": map[string]interface{}{
					"type":        "array",
					"description": "Observed phenotype term IDs (e.g. HP:0001250)",
					"items": map[string]interface{}{
						"type": "string",
					},
					"minItems": 1,
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "Signature strategy: organ (per organ-system means) or average (flat mean)",
					"enum":        []string{modeOrgan, modeAverage},
					"default":     modeOrgan,
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of diseases to return; 0 returns as many as the store allows",
					"default":     0,
					"minimum":     0,
				},
			},
			Required: []string{"terms"},
		},
	}
}

// buildSignaturesTool returns the tool definition for build_signatures
func buildSignaturesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "build_signatures",
		Description: "Build the disease signature collections from the annotation table",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "Which collection to build",
					"enum":        []string{modeAll, modeAverage, modeOrgan},
					"default":     modeAll,
				},
				"ingest_terms": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, embed ontology terms into the term collection first",
					"default":     false,
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, rebuild collections that already hold vectors",
					"default":     false,
				},
			},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report the term and disease signature collections and their build history",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
