package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rendis/graphcompose/internal/diagram"
	"github.com/rendis/graphcompose/internal/operations"
	"github.com/rendis/graphcompose/internal/runner"
	"github.com/rendis/graphcompose/internal/store"
	"github.com/rendis/graphcompose/pkg/schema"
)

// handleRun evaluates a graph document and returns the run result.
func (s *GraphServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runner == nil {
		return mcp.NewToolResultError("runner is not configured"), nil
	}
	def, errResult := requireDefinition(req)
	if errResult != nil {
		return errResult, nil
	}

	result, err := s.runner.Run(ctx, def, runner.RunOptions{
		Overrides: mcp.ParseStringMap(req, "overrides", nil),
		RunID:     req.GetString("run_id", ""),
	})
	if err != nil {
		return toolError("graph run failed", err), nil
	}
	if result.Err() != nil {
		s.logger.Warn("graph run failed", "graph", result.GraphName, "run_id", result.RunID, "error", result.Err())
	}
	return marshalResult(result)
}

// handleValidate runs the validation pipeline and returns every issue found.
func (s *GraphServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runner == nil {
		return mcp.NewToolResultError("runner is not configured"), nil
	}
	def, errResult := requireDefinition(req)
	if errResult != nil {
		return errResult, nil
	}

	res := s.runner.Validate(def)
	return marshalResult(map[string]any{
		"valid":    res.Valid(),
		"errors":   res.Errors,
		"warnings": res.Warnings,
	})
}

// handlePlan renders the evaluation plan in the requested format.
func (s *GraphServer) handlePlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runner == nil {
		return mcp.NewToolResultError("runner is not configured"), nil
	}
	format := req.GetString("format", "levels")
	switch format {
	case "levels", "mermaid", "ascii", "image":
	default:
		return mcp.NewToolResultError("format must be levels, mermaid, ascii, or image"), nil
	}

	def, errResult := requireDefinition(req)
	if errResult != nil {
		return errResult, nil
	}
	g, err := s.runner.Prepare(def)
	if err != nil {
		return toolError("graph build failed", err), nil
	}

	var results []*store.NodeResult
	if runID := req.GetString("run_id", ""); runID != "" {
		if s.store == nil {
			return mcp.NewToolResultError("run history is not configured"), nil
		}
		results, err = s.store.ListNodeResults(ctx, runID)
		if err != nil {
			return toolError("node results lookup failed", err), nil
		}
	}

	model, err := diagram.Build(def, g, results)
	if err != nil {
		return toolError("plan failed", err), nil
	}

	switch format {
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "image":
		png, imgErr := diagram.RenderImage(ctx, model, diagram.ImagePNG)
		if imgErr != nil {
			return toolError("image render failed", imgErr), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	default:
		return mcp.NewToolResultText(diagram.RenderLevels(model)), nil
	}
}

// handleOperations lists the registry, optionally narrowed to one namespace.
func (s *GraphServer) handleOperations(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.registry == nil {
		return mcp.NewToolResultError("operation registry is not configured"), nil
	}
	namespace := req.GetString("namespace", "")

	infos := s.registry.List()
	if namespace != "" {
		filtered := make([]operations.Info, 0, len(infos))
		for _, info := range infos {
			if info.Namespace == namespace {
				filtered = append(filtered, info)
			}
		}
		infos = filtered
	}
	return marshalResult(map[string]any{
		"operations": infos,
		"total":      len(infos),
	})
}

// handleRuns returns one run with its node results, or a filtered run listing.
func (s *GraphServer) handleRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("run history is not configured"), nil
	}

	if runID := req.GetString("run_id", ""); runID != "" {
		run, err := s.store.GetRun(ctx, runID)
		if err != nil {
			return toolError("run lookup failed", err), nil
		}
		nodes, err := s.store.ListNodeResults(ctx, runID)
		if err != nil {
			return toolError("node results lookup failed", err), nil
		}
		return marshalResult(map[string]any{
			"run":   run,
			"nodes": nodes,
		})
	}

	filter := mcp.ParseStringMap(req, "filter", nil)
	rf := store.RunFilter{
		Limit:  extractInt(filter, "limit", 20),
		Offset: extractInt(filter, "offset", 0),
	}
	if filter != nil {
		if v, ok := filter["graph_name"].(string); ok {
			rf.GraphName = v
		}
		if v, ok := filter["job_name"].(string); ok {
			rf.JobName = v
		}
		if v, ok := filter["status"].(string); ok && v != "" {
			status := store.RunStatus(v)
			rf.Status = &status
		}
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return toolError("run listing failed", err), nil
	}
	return marshalResult(map[string]any{
		"runs":  runs,
		"total": len(runs),
	})
}

// --- Helpers ---

// requireDefinition decodes the definition argument through the document parser.
func requireDefinition(req mcp.CallToolRequest) (*schema.GraphDefinition, *mcp.CallToolResult) {
	raw := mcp.ParseStringMap(req, "definition", nil)
	if raw == nil {
		return nil, mcp.NewToolResultError("definition is required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("definition is not serializable: %v", err))
	}
	def, err := schema.ParseDefinition(data)
	if err != nil {
		return nil, toolError("invalid definition", err)
	}
	return def, nil
}

// toolError renders err as a tool error. GraphError messages carry their code.
func toolError(prefix string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
