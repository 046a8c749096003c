package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/foodtracker/internal/api"
	"github.com/MrWong99/foodtracker/internal/corpus"
	"github.com/MrWong99/foodtracker/internal/dataset"
	"github.com/MrWong99/foodtracker/internal/observe"
	"github.com/MrWong99/foodtracker/internal/stats"
	"github.com/MrWong99/foodtracker/internal/store/filestore"
	"github.com/MrWong99/foodtracker/internal/tracker"
	"github.com/MrWong99/foodtracker/pkg/food"
	"github.com/MrWong99/foodtracker/pkg/provider/embeddings"
	"github.com/MrWong99/foodtracker/pkg/provider/embeddings/lexical"
	"github.com/MrWong99/foodtracker/pkg/provider/embeddings/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type nopSaver struct{}

func (nopSaver) Save(context.Context, []food.Food) error { return nil }

func newServer(t *testing.T, p embeddings.Provider, foods []food.Food) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	idx, err := corpus.Build(ctx, foods, p, corpus.BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	st, err := filestore.Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("filestore.Open: %v", err)
	}
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	tr, err := tracker.New(ctx, p, idx, st,
		tracker.WithClock(func() time.Time { return now }),
		tracker.WithMetrics(m),
		tracker.WithCustomFoods(nopSaver{}, nil),
	)
	if err != nil {
		t.Fatalf("tracker.New: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	mux := http.NewServeMux()
	api.New(tr).Register(mux)
	srv := httptest.NewServer(observe.Middleware(m)(mux))
	t.Cleanup(srv.Close)
	return srv
}

func lexicalServer(t *testing.T) *httptest.Server {
	t.Helper()
	p, err := lexical.New()
	if err != nil {
		t.Fatalf("lexical.New: %v", err)
	}
	return newServer(t, p, dataset.Builtin())
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			r = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatal(err)
			}
			r = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, want, body)
	}
}

type match struct {
	Food       food.Food `json:"food"`
	Confidence float64   `json:"confidence"`
}

type entry struct {
	ID       int64     `json:"id"`
	Food     food.Food `json:"food"`
	Quantity float64   `json:"quantity"`
	Calories float64   `json:"calories"`
}

type items[T any] struct {
	Items []T `json:"items"`
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// ── Foods ────────────────────────────────────────────────────────────────────

func TestSearchFoods(t *testing.T) {
	srv := lexicalServer(t)

	resp := do(t, "GET", srv.URL+"/api/foods/search?query=green+apple&top_k=2", nil)
	wantStatus(t, resp, http.StatusOK)
	got := decode[items[match]](t, resp)
	if len(got.Items) == 0 || len(got.Items) > 2 {
		t.Fatalf("got %d items, want 1..2", len(got.Items))
	}
	if got.Items[0].Food.Name != "Apple" {
		t.Errorf("top match = %q, want Apple", got.Items[0].Food.Name)
	}
	if c := got.Items[0].Confidence; c < 0 || c > 1 {
		t.Errorf("confidence = %v, want in [0, 1]", c)
	}
}

func TestSearchFoods_QAlias(t *testing.T) {
	srv := lexicalServer(t)
	resp := do(t, "GET", srv.URL+"/api/foods/search?q=banana", nil)
	wantStatus(t, resp, http.StatusOK)
	if got := decode[items[match]](t, resp); len(got.Items) == 0 || got.Items[0].Food.Name != "Banana" {
		t.Errorf("items = %+v, want Banana first", got.Items)
	}
}

func TestSearchFoods_EmptyQuery(t *testing.T) {
	srv := lexicalServer(t)
	resp := do(t, "GET", srv.URL+"/api/foods/search?query=+++", nil)
	wantStatus(t, resp, http.StatusOK)
	got := decode[items[match]](t, resp)
	if got.Items == nil || len(got.Items) != 0 {
		t.Errorf("items = %v, want empty non-null list", got.Items)
	}
}

func TestSearchFoods_BadTopK(t *testing.T) {
	srv := lexicalServer(t)
	for _, q := range []string{"top_k=abc", "top_k=-1", "top_k=0"} {
		resp := do(t, "GET", srv.URL+"/api/foods/search?query=apple&"+q, nil)
		wantStatus(t, resp, http.StatusBadRequest)
	}
}

func TestSearchFoods_BlankTopKUsesDefault(t *testing.T) {
	srv := lexicalServer(t)
	resp := do(t, "GET", srv.URL+"/api/foods/search?query=apple&top_k=", nil)
	wantStatus(t, resp, http.StatusOK)
	if got := decode[items[match]](t, resp); len(got.Items) == 0 || len(got.Items) > tracker.DefaultTopK {
		t.Errorf("got %d items, want 1..%d", len(got.Items), tracker.DefaultTopK)
	}
}

func TestSearchFoods_EmbeddingFailureIs503(t *testing.T) {
	// Corpus builds go through EmbedBatch, so only query embeds fail.
	p := &mock.Provider{ModelIDValue: "m", DimensionsValue: 2, EmbedResult: []float32{1, 0}, EmbedErr: errors.New("backend down")}
	srv := newServer(t, p, []food.Food{{Name: "Apple", Calories: 95}})

	resp := do(t, "GET", srv.URL+"/api/foods/search?query=apple", nil)
	wantStatus(t, resp, http.StatusServiceUnavailable)
	if e := decode[api.ErrorResponse](t, resp); e.Error == "" {
		t.Error("error message is empty")
	}
}

func TestScanImage_UnsupportedProviderIs415(t *testing.T) {
	srv := lexicalServer(t)
	resp := do(t, "POST", srv.URL+"/api/scan-image", string(pngBytes(t)))
	wantStatus(t, resp, http.StatusUnsupportedMediaType)
}

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	p := &mock.ImageProvider{
		Provider: mock.Provider{
			ModelIDValue:    "joint-v1",
			DimensionsValue: 2,
			Vectors: map[string][]float32{
				corpus.Describe(food.Food{Name: "Apple"}): {1, 0},
				corpus.Describe(food.Food{Name: "Pizza"}): {0, 1},
			},
		},
		ImageResult: []float32{0.1, 0.9},
	}
	return newServer(t, p, []food.Food{{Name: "Apple"}, {Name: "Pizza"}})
}

func TestScanImage_Multipart(t *testing.T) {
	srv := imageServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "meal.png")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(pngBytes(t))
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/scan-image?top_k=1", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	wantStatus(t, resp, http.StatusOK)
	got := decode[items[match]](t, resp)
	if len(got.Items) != 1 || got.Items[0].Food.Name != "Pizza" {
		t.Errorf("items = %+v, want Pizza", got.Items)
	}
}

func TestScanImage_UndecodableIs415(t *testing.T) {
	srv := imageServer(t)
	resp, err := http.Post(srv.URL+"/api/scan-image", "image/png", strings.NewReader("not an image"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	wantStatus(t, resp, http.StatusUnsupportedMediaType)
}

func TestLibraryAndRegisterFood(t *testing.T) {
	srv := lexicalServer(t)
	before := decode[items[food.Food]](t, do(t, "GET", srv.URL+"/api/foods/library", nil))

	custom := food.Food{Name: "Grandma's Borscht", ServingSize: "1 bowl", Calories: 210}
	resp := do(t, "POST", srv.URL+"/api/foods", custom)
	wantStatus(t, resp, http.StatusCreated)

	after := decode[items[food.Food]](t, do(t, "GET", srv.URL+"/api/foods/library", nil))
	if len(after.Items) != len(before.Items)+1 {
		t.Fatalf("library size = %d, want %d", len(after.Items), len(before.Items)+1)
	}

	resp = do(t, "POST", srv.URL+"/api/foods", custom)
	wantStatus(t, resp, http.StatusBadRequest)

	resp = do(t, "POST", srv.URL+"/api/foods", food.Food{Name: " ", Calories: 1})
	wantStatus(t, resp, http.StatusBadRequest)
}

// ── Entries ──────────────────────────────────────────────────────────────────

func TestEntriesLifecycle(t *testing.T) {
	srv := lexicalServer(t)
	apple := food.Food{Name: "Apple", ServingSize: "1 medium", Calories: 95}

	resp := do(t, "POST", srv.URL+"/api/entries", map[string]any{"food": apple, "quantity": 2})
	wantStatus(t, resp, http.StatusCreated)
	created := decode[entry](t, resp)
	if created.ID == 0 || created.Calories != 190 {
		t.Errorf("created = %+v, want id and 190 kcal", created)
	}

	// Quantity defaults to one serving.
	resp = do(t, "POST", srv.URL+"/api/entries", map[string]any{"food": apple})
	wantStatus(t, resp, http.StatusCreated)
	if e := decode[entry](t, resp); e.Quantity != 1 {
		t.Errorf("default quantity = %v, want 1", e.Quantity)
	}

	list := decode[items[entry]](t, do(t, "GET", srv.URL+"/api/entries", nil))
	if len(list.Items) != 2 {
		t.Fatalf("entries = %d, want 2", len(list.Items))
	}

	url := srv.URL + "/api/entries/" + strconv.FormatInt(created.ID, 10)
	resp = do(t, "PATCH", url, map[string]any{"quantity": 0.5})
	wantStatus(t, resp, http.StatusOK)
	if e := decode[entry](t, resp); e.Quantity != 0.5 || e.Calories != 47.5 {
		t.Errorf("edited = %+v, want quantity 0.5", e)
	}

	resp = do(t, "PATCH", url, map[string]any{"quantity": -1})
	wantStatus(t, resp, http.StatusBadRequest)

	resp = do(t, "DELETE", url, nil)
	wantStatus(t, resp, http.StatusNoContent)
	resp = do(t, "DELETE", url, nil)
	wantStatus(t, resp, http.StatusNotFound)
	resp = do(t, "PATCH", url, map[string]any{"quantity": 1})
	wantStatus(t, resp, http.StatusNotFound)
}

func TestEntries_BadRequests(t *testing.T) {
	srv := lexicalServer(t)
	tests := []struct {
		name, method, path string
		body               any
	}{
		{"invalid food", "POST", "/api/entries", map[string]any{"food": food.Food{Calories: 1}}},
		{"quantity over limit", "POST", "/api/entries", map[string]any{"food": food.Food{Name: "A"}, "quantity": 5000}},
		{"unknown field", "POST", "/api/entries", `{"food":{"name":"A"},"servings":2}`},
		{"malformed json", "POST", "/api/entries", `{"food":`},
		{"non-numeric id", "DELETE", "/api/entries/abc", nil},
		{"zero id", "PATCH", "/api/entries/0", map[string]any{"quantity": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantStatus(t, do(t, tt.method, srv.URL+tt.path, tt.body), http.StatusBadRequest)
		})
	}
}

// ── Summary, goals, stats ────────────────────────────────────────────────────

func TestSummary(t *testing.T) {
	srv := lexicalServer(t)
	do(t, "POST", srv.URL+"/api/entries", map[string]any{
		"food": food.Food{Name: "Apple", Calories: 95, Macronutrients: map[string]float64{"carbs": 25}},
		"timestamp": now.Add(-24 * time.Hour),
	})
	do(t, "POST", srv.URL+"/api/entries", map[string]any{"food": food.Food{Name: "Egg", Calories: 70}, "timestamp": now})

	type day struct {
		Day                 string             `json:"day"`
		TotalCalories       float64            `json:"total_calories"`
		TotalMacronutrients map[string]float64 `json:"total_macronutrients"`
	}
	type summary struct {
		Days []day `json:"days"`
	}

	all := decode[summary](t, do(t, "GET", srv.URL+"/api/summary", nil))
	if len(all.Days) != 2 || all.Days[0].Day != "2026-03-13" || all.Days[0].TotalMacronutrients["carbs"] != 25 {
		t.Errorf("summary = %+v", all)
	}

	one := decode[summary](t, do(t, "GET", srv.URL+"/api/summary?day=2026-03-14", nil))
	if len(one.Days) != 1 || one.Days[0].TotalCalories != 70 {
		t.Errorf("day summary = %+v, want 70 kcal", one)
	}

	wantStatus(t, do(t, "GET", srv.URL+"/api/summary?day=yesterday", nil), http.StatusBadRequest)
}

func TestGoals(t *testing.T) {
	srv := lexicalServer(t)

	resp := do(t, "PUT", srv.URL+"/api/goals", `{"calories":2000,"macronutrients":{"protein":120}}`)
	wantStatus(t, resp, http.StatusOK)
	g := decode[food.Goal](t, resp)
	if g.Calories == nil || *g.Calories != 2000 || g.Macronutrients["protein"] != 120 {
		t.Errorf("goal = %+v", g)
	}

	// A null macro clears it; omitted calories keep their value.
	resp = do(t, "PUT", srv.URL+"/api/goals", `{"macronutrients":{"protein":null,"fat":70}}`)
	wantStatus(t, resp, http.StatusOK)
	g = decode[food.Goal](t, do(t, "GET", srv.URL+"/api/goals", nil))
	if _, ok := g.Macronutrients["protein"]; ok || g.Macronutrients["fat"] != 70 || g.Calories == nil {
		t.Errorf("goal after merge = %+v", g)
	}

	resp = do(t, "PUT", srv.URL+"/api/goals", `{"clear_calories":true}`)
	wantStatus(t, resp, http.StatusOK)
	if g := decode[food.Goal](t, resp); g.Calories != nil {
		t.Errorf("calories = %v, want cleared", *g.Calories)
	}

	wantStatus(t, do(t, "PUT", srv.URL+"/api/goals", `{"calories":-5}`), http.StatusBadRequest)
}

func TestStats(t *testing.T) {
	srv := lexicalServer(t)
	do(t, "PUT", srv.URL+"/api/goals", `{"calories":2000}`)
	do(t, "POST", srv.URL+"/api/entries", map[string]any{"food": food.Food{Name: "Apple", Calories: 100}, "timestamp": now})

	resp := do(t, "GET", srv.URL+"/api/stats?days=3", nil)
	wantStatus(t, resp, http.StatusOK)
	var got struct {
		Today struct {
			Calories struct {
				Consumed  float64  `json:"consumed"`
				Remaining *float64 `json:"remaining"`
			} `json:"calories"`
		} `json:"today"`
		Weekly struct {
			Days          []json.RawMessage `json:"days"`
			CurrentStreak int               `json:"current_streak"`
		} `json:"weekly"`
		Lifetime struct {
			TotalEntries int `json:"total_entries"`
		} `json:"lifetime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Today.Calories.Consumed != 100 || got.Today.Calories.Remaining == nil || *got.Today.Calories.Remaining != 1900 {
		t.Errorf("today = %+v", got.Today)
	}
	if len(got.Weekly.Days) != 3 || got.Weekly.CurrentStreak != 1 {
		t.Errorf("weekly days = %d streak = %d, want 3 and 1", len(got.Weekly.Days), got.Weekly.CurrentStreak)
	}
	if got.Lifetime.TotalEntries != 1 {
		t.Errorf("total entries = %d, want 1", got.Lifetime.TotalEntries)
	}

	wantStatus(t, do(t, "GET", srv.URL+"/api/stats?days=-2", nil), http.StatusBadRequest)
}


func TestStats_DaysBounds(t *testing.T) {
	srv := lexicalServer(t)
	tests := []struct {
		query string
		want  int
	}{
		{"", http.StatusOK},
		{"?days=1", http.StatusOK},
		{"?days=" + strconv.Itoa(stats.MaxDays), http.StatusOK},
		{"?days=0", http.StatusBadRequest},
		{"?days=" + strconv.Itoa(stats.MaxDays+1), http.StatusBadRequest},
		{"?days=2000000000", http.StatusBadRequest},
		{"?days=week", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			wantStatus(t, do(t, "GET", srv.URL+"/api/stats"+tt.query, nil), tt.want)
		})
	}
}
