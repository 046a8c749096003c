package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/foodtracker/internal/stats"
	"github.com/MrWong99/foodtracker/internal/tracker"
	"github.com/MrWong99/foodtracker/pkg/food"
)

func (s *Server) registerTools() {
	s.mcp.AddTool(&gomcp.Tool{
		Name:        "scan_food",
		Description: "Match a free-form meal description against the food library. Returns candidate foods with a confidence in [0, 1], best first.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"description": {"type": "string", "description": "What was eaten, e.g. \"a bowl of oatmeal with banana\""},
				"top_k": {"type": "integer", "minimum": 1, "description": "Maximum number of candidates (default from config)"}
			},
			"required": ["description"]
		}`),
	}, s.handleScanFood)

	s.mcp.AddTool(&gomcp.Tool{
		Name:        "log_food",
		Description: "Log a food entry. Pass either a description, which logs the best library match, or a full food object for a manual entry.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"description": {"type": "string", "description": "Meal description to match against the library"},
				"food": {
					"type": "object",
					"description": "Manual food with per-serving nutrition",
					"properties": {
						"name": {"type": "string"},
						"serving_size": {"type": "string"},
						"calories": {"type": "number", "minimum": 0},
						"macronutrients": {"type": "object", "additionalProperties": {"type": "number", "minimum": 0}}
					},
					"required": ["name", "calories"]
				},
				"quantity": {"type": "number", "exclusiveMinimum": 0, "description": "Number of servings (default 1)"}
			}
		}`),
	}, s.handleLogFood)

	s.mcp.AddTool(&gomcp.Tool{
		Name:        "list_entries",
		Description: "List logged food entries, optionally restricted to one UTC day.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"day": {"type": "string", "description": "Day as YYYY-MM-DD (default: all days)"}
			}
		}`),
	}, s.handleListEntries)

	s.mcp.AddTool(&gomcp.Tool{
		Name:        "daily_summary",
		Description: "Totals for one day measured against the nutrition goals.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"day": {"type": "string", "description": "Day as YYYY-MM-DD (default: today)"}
			}
		}`),
	}, s.handleDailySummary)

	s.mcp.AddTool(&gomcp.Tool{
		Name:        "get_stats",
		Description: "Weekly overview, current logging streak and lifetime statistics.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"days": {"type": "integer", "minimum": 1, "maximum": 3660, "description": "Length of the overview in days (default 7)"}
			}
		}`),
	}, s.handleGetStats)

	s.mcp.AddTool(&gomcp.Tool{
		Name:        "edit_entry",
		Description: "Change the number of servings of a logged entry.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "integer", "description": "Entry id"},
				"quantity": {"type": "number", "exclusiveMinimum": 0}
			},
			"required": ["id", "quantity"]
		}`),
	}, s.handleEditEntry)

	s.mcp.AddTool(&gomcp.Tool{
		Name:        "remove_entry",
		Description: "Delete a logged entry.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "integer", "description": "Entry id"}
			},
			"required": ["id"]
		}`),
	}, s.handleRemoveEntry)

	s.mcp.AddTool(&gomcp.Tool{
		Name:        "set_goals",
		Description: "Update daily nutrition goals. Omitted values keep their target; a null macro clears it.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"calories": {"type": "number", "minimum": 0},
				"clear_calories": {"type": "boolean"},
				"macronutrients": {"type": "object", "additionalProperties": {"type": ["number", "null"]}}
			}
		}`),
	}, s.handleSetGoals)
}

// ── Handlers ─────────────────────────────────────────────────────────────────

type scanArgs struct {
	Description string `json:"description"`
	TopK        *int   `json:"top_k"`
}

func (s *Server) handleScanFood(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	var args scanArgs
	if err := unmarshalArgs(req, &args); err != nil {
		return toolError(err), nil
	}
	topK := 0
	if args.TopK != nil {
		if *args.TopK <= 0 {
			return toolError(fmt.Errorf("%w: top_k must be positive, got %d", food.ErrInvalidInput, *args.TopK)), nil
		}
		topK = *args.TopK
	}
	results, err := s.tracker.ScanText(ctx, args.Description, topK)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"items": results})
}

type logArgs struct {
	Description string     `json:"description"`
	Food        *food.Food `json:"food"`
	Quantity    *float64   `json:"quantity"`
}

type logResult struct {
	Entry      food.Entry `json:"entry"`
	Calories   float64    `json:"calories"`
	Confidence *float64   `json:"confidence,omitempty"`
}

func (s *Server) handleLogFood(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	var args logArgs
	if err := unmarshalArgs(req, &args); err != nil {
		return toolError(err), nil
	}
	quantity := 1.0
	if args.Quantity != nil {
		quantity = *args.Quantity
	}

	if args.Food != nil {
		e, err := s.tracker.ManualEntry(ctx, *args.Food, quantity)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(logResult{Entry: e, Calories: e.Calories()})
	}
	if strings.TrimSpace(args.Description) == "" {
		return toolError(fmt.Errorf("%w: description or food is required", food.ErrInvalidInput)), nil
	}

	results, err := s.tracker.ScanText(ctx, args.Description, 1)
	if err != nil {
		return toolError(err), nil
	}
	if len(results) == 0 {
		return toolError(fmt.Errorf("%w: no library food matches %q", food.ErrNotFound, args.Description)), nil
	}
	e, err := s.tracker.LogMatch(ctx, results[0].Food, quantity, time.Time{})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(logResult{Entry: e, Calories: e.Calories(), Confidence: &results[0].Confidence})
}

type dayArgs struct {
	Day string `json:"day"`
}

func (a dayArgs) parse(def time.Time) (time.Time, error) {
	if a.Day == "" {
		return def, nil
	}
	d, err := stats.ParseDay(a.Day)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: day %q: want YYYY-MM-DD", food.ErrInvalidInput, a.Day)
	}
	return d, nil
}

func (s *Server) handleListEntries(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	var args dayArgs
	if err := unmarshalArgs(req, &args); err != nil {
		return toolError(err), nil
	}
	if args.Day == "" {
		entries, err := s.tracker.Entries(ctx)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(map[string]any{"items": entries})
	}
	day, err := args.parse(time.Time{})
	if err != nil {
		return toolError(err), nil
	}
	log, err := s.tracker.DaySummary(ctx, day)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"items": log.Entries})
}

type dailySummary struct {
	stats.DayProgress
	EntryCount int `json:"entry_count"`
}

func (s *Server) handleDailySummary(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	var args dayArgs
	if err := unmarshalArgs(req, &args); err != nil {
		return toolError(err), nil
	}
	day, err := args.parse(s.tracker.Today())
	if err != nil {
		return toolError(err), nil
	}
	p, err := s.tracker.Progress(ctx, day)
	if err != nil {
		return toolError(err), nil
	}
	log, err := s.tracker.DaySummary(ctx, day)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(dailySummary{DayProgress: p, EntryCount: len(log.Entries)})
}

type statsArgs struct {
	Days *int `json:"days"`
}

func (s *Server) handleGetStats(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	args := statsArgs{}
	if err := unmarshalArgs(req, &args); err != nil {
		return toolError(err), nil
	}
	days := tracker.DefaultWeeklyDays
	if args.Days != nil {
		days = *args.Days
	}
	weekly, err := s.tracker.Weekly(ctx, days)
	if err != nil {
		return toolError(err), nil
	}
	lifetime, err := s.tracker.Lifetime(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"weekly": weekly, "lifetime": lifetime})
}

type editArgs struct {
	ID       int64   `json:"id"`
	Quantity float64 `json:"quantity"`
}

func (s *Server) handleEditEntry(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	var args editArgs
	if err := unmarshalArgs(req, &args); err != nil {
		return toolError(err), nil
	}
	e, err := s.tracker.EditEntry(ctx, args.ID, args.Quantity)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(logResult{Entry: e, Calories: e.Calories()})
}

type idArgs struct {
	ID int64 `json:"id"`
}

func (s *Server) handleRemoveEntry(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	var args idArgs
	if err := unmarshalArgs(req, &args); err != nil {
		return toolError(err), nil
	}
	if err := s.tracker.RemoveEntry(ctx, args.ID); err != nil {
		return toolError(err), nil
	}
	return textResult(fmt.Sprintf("Removed entry %d.", args.ID)), nil
}

func (s *Server) handleSetGoals(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	var u food.GoalUpdate
	if err := unmarshalArgs(req, &u); err != nil {
		return toolError(err), nil
	}
	g, err := s.tracker.UpdateGoals(ctx, u)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(g)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// unmarshalArgs decodes tool arguments. Missing arguments decode as an empty
// object.
func unmarshalArgs(req *gomcp.CallToolRequest, v any) error {
	raw := req.Params.Arguments
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: invalid arguments: %w", food.ErrInvalidInput, err)
	}
	return nil
}

// errorKind names the taxonomy class of err for tool error messages.
func errorKind(err error) string {
	switch {
	case errors.Is(err, food.ErrInvalidInput):
		return "invalid input"
	case errors.Is(err, food.ErrUnsupportedMedia):
		return "unsupported media"
	case errors.Is(err, food.ErrNotFound):
		return "not found"
	case errors.Is(err, food.ErrEmbeddingFailure):
		return "embedding unavailable"
	default:
		return "internal error"
	}
}

func toolError(err error) *gomcp.CallToolResult {
	kind := errorKind(err)
	if kind == "internal error" {
		slog.Error("mcp: tool failed", "error", err)
	}
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: kind + ": " + err.Error()}},
		IsError: true,
	}
}

func textResult(text string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{Content: []gomcp.Content{&gomcp.TextContent{Text: text}}}
}

func jsonResult(v any) (*gomcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: encode result: %w", err)
	}
	return textResult(string(data)), nil
}
