// Package api serves the food tracker as a JSON HTTP API under /api.
//
// Handlers are thin: they decode the request, call the [tracker.Tracker] and
// encode the result. Errors are mapped onto status codes by the taxonomy in
// package food (see [statusFor]).
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/foodtracker/internal/matcher"
	"github.com/MrWong99/foodtracker/internal/observe"
	"github.com/MrWong99/foodtracker/internal/stats"
	"github.com/MrWong99/foodtracker/internal/tracker"
	"github.com/MrWong99/foodtracker/pkg/food"
)

// DefaultMaxImageBytes caps uploaded image size.
const DefaultMaxImageBytes = 10 << 20

// maxJSONBytes caps JSON request bodies.
const maxJSONBytes = 1 << 20

// Server holds the HTTP handlers. Use [New] to construct one and
// [Server.Register] to mount its routes.
type Server struct {
	tracker       *tracker.Tracker
	maxImageBytes int64
}

// Option configures a [Server].
type Option func(*Server)

// WithMaxImageBytes overrides [DefaultMaxImageBytes].
func WithMaxImageBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxImageBytes = n
		}
	}
}

// New creates a Server over t.
func New(t *tracker.Tracker, opts ...Option) *Server {
	s := &Server{tracker: t, maxImageBytes: DefaultMaxImageBytes}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register mounts every /api route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/foods/search", s.searchFoods)
	mux.HandleFunc("POST /api/scan-image", s.scanImage)
	mux.HandleFunc("GET /api/foods/library", s.library)
	mux.HandleFunc("POST /api/foods", s.registerFood)
	mux.HandleFunc("GET /api/entries", s.listEntries)
	mux.HandleFunc("POST /api/entries", s.createEntry)
	mux.HandleFunc("PATCH /api/entries/{id}", s.editEntry)
	mux.HandleFunc("DELETE /api/entries/{id}", s.deleteEntry)
	mux.HandleFunc("GET /api/summary", s.summary)
	mux.HandleFunc("GET /api/goals", s.getGoals)
	mux.HandleFunc("PUT /api/goals", s.updateGoals)
	mux.HandleFunc("GET /api/stats", s.stats)
}

// ── Wire types ───────────────────────────────────────────────────────────────

type itemsResponse[T any] struct {
	Items []T `json:"items"`
}

type matchJSON struct {
	Food       food.Food `json:"food"`
	Confidence float64   `json:"confidence"`
}

// entryJSON is an entry plus its derived totals.
type entryJSON struct {
	ID             int64              `json:"id"`
	Food           food.Food          `json:"food"`
	Quantity       float64            `json:"quantity"`
	Timestamp      time.Time          `json:"timestamp"`
	Calories       float64            `json:"calories"`
	Macronutrients map[string]float64 `json:"macronutrients"`
}

type dailyLogJSON struct {
	Day                 string             `json:"day"`
	Entries             []entryJSON        `json:"entries"`
	TotalCalories       float64            `json:"total_calories"`
	TotalMacronutrients map[string]float64 `json:"total_macronutrients"`
}

type createEntryRequest struct {
	Food      food.Food  `json:"food"`
	Quantity  *float64   `json:"quantity"`
	Timestamp *time.Time `json:"timestamp"`
}

type editEntryRequest struct {
	Quantity float64 `json:"quantity"`
}

type statsResponse struct {
	Today    stats.DayProgress    `json:"today"`
	Weekly   stats.WeeklyOverview `json:"weekly"`
	Lifetime stats.LifetimeStats  `json:"lifetime"`
}

func toEntryJSON(e food.Entry) entryJSON {
	return entryJSON{
		ID:             e.ID,
		Food:           e.Food,
		Quantity:       e.Quantity,
		Timestamp:      e.Timestamp,
		Calories:       e.Calories(),
		Macronutrients: e.Macronutrients(),
	}
}

func toEntriesJSON(entries []food.Entry) []entryJSON {
	out := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryJSON(e))
	}
	return out
}

func toMatchesJSON(results []matcher.Result) []matchJSON {
	out := make([]matchJSON, 0, len(results))
	for _, r := range results {
		out = append(out, matchJSON{Food: r.Food, Confidence: r.Confidence})
	}
	return out
}

// ── Foods ────────────────────────────────────────────────────────────────────

// searchFoods ranks the library against ?query= (or ?q=). An empty query
// returns no items rather than an error.
func (s *Server) searchFoods(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("query")
	if text == "" {
		text = q.Get("q")
	}
	if strings.TrimSpace(text) == "" {
		writeJSON(w, http.StatusOK, itemsResponse[matchJSON]{Items: []matchJSON{}})
		return
	}
	topK, err := queryTopK(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	results, err := s.tracker.ScanText(r.Context(), text, topK)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsResponse[matchJSON]{Items: toMatchesJSON(results)})
}

// scanImage accepts a multipart upload in the "file" field or a raw image
// body.
func (s *Server) scanImage(w http.ResponseWriter, r *http.Request) {
	if !s.tracker.SupportsImage() {
		writeError(w, r, fmt.Errorf("%w: image scanning is not available with provider %s",
			food.ErrUnsupportedMedia, s.tracker.Provider().ModelID()))
		return
	}
	data, err := s.readImage(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	topK, err := queryTopK(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	results, err := s.tracker.ScanImage(r.Context(), data, topK)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsResponse[matchJSON]{Items: toMatchesJSON(results)})
}

func (s *Server) readImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxImageBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("%w: multipart field \"file\": %w", food.ErrInvalidInput, err)
		}
		defer f.Close()
		r.Body = io.NopCloser(f)
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %w", food.ErrInvalidInput, err)
	}
	return data, nil
}

func (s *Server) library(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, itemsResponse[food.Food]{Items: s.tracker.KnownFoods()})
}

func (s *Server) registerFood(w http.ResponseWriter, r *http.Request) {
	var f food.Food
	if err := decodeJSON(w, r, &f); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.tracker.RegisterCustomFood(r.Context(), f); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// ── Entries ──────────────────────────────────────────────────────────────────

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.tracker.Entries(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsResponse[entryJSON]{Items: toEntriesJSON(entries)})
}

// createEntry logs a food. The quantity defaults to one serving.
func (s *Server) createEntry(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	quantity := 1.0
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	var ts time.Time
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	e, err := s.tracker.LogMatch(r.Context(), req.Food, quantity, ts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryJSON(e))
}

func (s *Server) editEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req editEntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.tracker.EditEntry(r.Context(), id, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryJSON(e))
}

func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.tracker.RemoveEntry(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Summaries, goals and stats ───────────────────────────────────────────────

// summary lists every day with entries, or only ?day=YYYY-MM-DD.
func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	var logs []stats.DailyLog
	if raw := r.URL.Query().Get("day"); raw != "" {
		day, err := stats.ParseDay(raw)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: day: %w", food.ErrInvalidInput, err))
			return
		}
		log, err := s.tracker.DaySummary(r.Context(), day)
		if err != nil {
			writeError(w, r, err)
			return
		}
		logs = []stats.DailyLog{log}
	} else {
		var err error
		if logs, err = s.tracker.DailySummaries(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}

	days := make([]dailyLogJSON, 0, len(logs))
	for _, l := range logs {
		days = append(days, dailyLogJSON{
			Day:                 l.Day.Format(stats.DayLayout),
			Entries:             toEntriesJSON(l.Entries),
			TotalCalories:       l.TotalCalories(),
			TotalMacronutrients: l.TotalMacros(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days})
}

func (s *Server) getGoals(w http.ResponseWriter, r *http.Request) {
	g, err := s.tracker.Goals(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) updateGoals(w http.ResponseWriter, r *http.Request) {
	var u food.GoalUpdate
	if err := decodeJSON(w, r, &u); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := s.tracker.UpdateGoals(r.Context(), u)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// stats returns today's progress, the weekly overview (?days=, default 7)
// and lifetime totals.
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	days, set, err := queryInt(r.URL.Query(), "days")
	if !set {
		days = tracker.DefaultWeeklyDays
	}
	if err != nil || days < 1 || days > stats.MaxDays {
		writeError(w, r, fmt.Errorf("%w: days must be an integer between 1 and %d", food.ErrInvalidInput, stats.MaxDays))
		return
	}
	ctx := r.Context()
	var resp statsResponse
	if resp.Today, err = s.tracker.Progress(ctx, s.tracker.Today()); err != nil {
		writeError(w, r, err)
		return
	}
	if resp.Weekly, err = s.tracker.Weekly(ctx, days); err != nil {
		writeError(w, r, err)
		return
	}
	if resp.Lifetime, err = s.tracker.Lifetime(ctx); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, food.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, food.ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, food.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, food.ErrEmbeddingFailure):
		return http.StatusServiceUnavailable
	default:
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("api: request failed", "status", status, "error", err)
	} else {
		log.Debug("api: request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "error", err)
	}
}

// decodeJSON decodes a single JSON object, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return fmt.Errorf("%w: decode request body: %w", food.ErrInvalidInput, err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: entry id %q must be a positive integer", food.ErrInvalidInput, r.PathValue("id"))
	}
	return id, nil
}

// queryInt parses an optional integer query parameter. set is false when the
// parameter is absent or blank.
func queryInt(q url.Values, key string) (n int, set bool, err error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return 0, false, nil
	}
	n, err = strconv.Atoi(raw)
	return n, true, err
}

// queryTopK returns the requested top_k, or 0 to use the configured default
// when the parameter is absent. An explicit value must be positive.
func queryTopK(q url.Values) (int, error) {
	n, set, err := queryInt(q, "top_k")
	switch {
	case err != nil:
		return 0, fmt.Errorf("%w: top_k: %w", food.ErrInvalidInput, err)
	case set && n <= 0:
		return 0, fmt.Errorf("%w: top_k must be positive, got %d", food.ErrInvalidInput, n)
	}
	return n, nil
}
