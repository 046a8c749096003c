// Package tracker is the food tracking service: it scans text and photo
// queries against the corpus, logs entries, maintains the goal and serves the
// derived statistics.
//
// A Tracker owns no transport. The HTTP API, the MCP server and the CLI all
// drive the same instance. The active corpus index and matcher settings are
// swapped atomically, so readers never observe a half-built index.
//
// For testing, inject test doubles via functional options (WithClock,
// WithMetrics, etc.).
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/foodtracker/internal/corpus"
	"github.com/MrWong99/foodtracker/internal/matcher"
	"github.com/MrWong99/foodtracker/internal/observe"
	"github.com/MrWong99/foodtracker/internal/stats"
	"github.com/MrWong99/foodtracker/internal/store"
	"github.com/MrWong99/foodtracker/pkg/food"
	"github.com/MrWong99/foodtracker/pkg/provider/embeddings"
)

// Defaults applied when an option is not given.
const (
	DefaultTopK          = 3
	DefaultMinConfidence = 0.05
	DefaultEmbedTimeout  = 10 * time.Second
	DefaultWeeklyDays    = 7
)

// Entry sources recorded on the entries-logged counter.
const (
	SourceMatch  = "match"
	SourceManual = "manual"
)

// MatcherSettings are the hot-reloadable ranking options.
type MatcherSettings struct {
	// TopK is used when a scan asks for zero candidates.
	TopK int

	// MinConfidence drops candidates scoring below it.
	MinConfidence float64
}

// CustomFoodSaver persists the user-registered foods. It receives the full
// list on every registration.
type CustomFoodSaver interface {
	Save(ctx context.Context, foods []food.Food) error
}

// Tracker is the food tracking service. All methods are safe for concurrent
// use.
type Tracker struct {
	provider embeddings.Provider
	store    store.Store

	index    atomic.Pointer[corpus.Index]
	settings atomic.Pointer[MatcherSettings]

	cache        corpus.Cache
	saver        CustomFoodSaver
	build        corpus.BuildOptions
	embedTimeout time.Duration
	now          func() time.Time
	metrics      *observe.Metrics

	// mu serialises index rebuilds and goal read-modify-write cycles.
	mu     sync.Mutex
	custom []food.Food
}

// Option is a functional option for New.
type Option func(*Tracker)

// WithMatcher sets the initial matcher settings.
func WithMatcher(s MatcherSettings) Option {
	return func(t *Tracker) { t.settings.Store(&s) }
}

// WithEmbedTimeout bounds every query embedding call. Zero disables the
// bound.
func WithEmbedTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.embedTimeout = d }
}

// WithCustomFoods sets the already-registered custom foods and the saver new
// registrations are persisted through.
func WithCustomFoods(saver CustomFoodSaver, existing []food.Food) Option {
	return func(t *Tracker) {
		t.saver = saver
		t.custom = append([]food.Food(nil), existing...)
	}
}

// WithCache sets the corpus cache that rebuilt indexes are saved to.
func WithCache(c corpus.Cache) Option {
	return func(t *Tracker) { t.cache = c }
}

// WithBuildOptions tunes corpus rebuilds.
func WithBuildOptions(o corpus.BuildOptions) Option {
	return func(t *Tracker) { t.build = o }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// New creates a Tracker serving idx with p and persisting to st.
func New(ctx context.Context, p embeddings.Provider, idx *corpus.Index, st store.Store, opts ...Option) (*Tracker, error) {
	if p == nil || st == nil {
		return nil, errors.New("tracker: provider and store are required")
	}
	t := &Tracker{
		provider:     p,
		store:        st,
		embedTimeout: DefaultEmbedTimeout,
		now:          time.Now,
	}
	t.settings.Store(&MatcherSettings{TopK: DefaultTopK, MinConfidence: DefaultMinConfidence})
	for _, o := range opts {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	if t.build.Metrics == nil {
		t.build.Metrics = t.metrics
	}
	if idx == nil {
		idx, _ = corpus.New(nil, nil, embeddings.Identity(p))
	}
	if idx.Len() > 0 && idx.Dimensions() != p.Dimensions() && p.Dimensions() > 0 {
		return nil, fmt.Errorf("tracker: %w: index has %d dimensions, provider %s reports %d",
			food.ErrInvalidInput, idx.Dimensions(), p.ModelID(), p.Dimensions())
	}
	t.index.Store(idx)

	if rec := st.Recovery(); rec != store.RecoveryNone {
		observe.Logger(ctx).Warn("tracker: entry store recovered on open", "recovery", rec.String())
	}
	return t, nil
}

// ── Matching ─────────────────────────────────────────────────────────────────

// Index returns the active corpus index.
func (t *Tracker) Index() *corpus.Index { return t.index.Load() }

// Provider returns the embeddings provider.
func (t *Tracker) Provider() embeddings.Provider { return t.provider }

// Matcher returns the active matcher settings.
func (t *Tracker) Matcher() MatcherSettings { return *t.settings.Load() }

// SetMatcher swaps the matcher settings. In-flight scans finish with the
// settings they started with.
func (t *Tracker) SetMatcher(s MatcherSettings) {
	if s.TopK <= 0 {
		s.TopK = DefaultTopK
	}
	t.settings.Store(&s)
	slog.Info("tracker: matcher settings updated", "top_k", s.TopK, "min_confidence", s.MinConfidence)
}

// SupportsImage reports whether image scans are available.
func (t *Tracker) SupportsImage() bool { return embeddings.SupportsImage(t.provider) }

// ScanText ranks the corpus against a free-form description. topK zero uses
// the configured default; negative topK fails with [food.ErrInvalidInput].
func (t *Tracker) ScanText(ctx context.Context, text string, topK int) (_ []matcher.Result, err error) {
	if err := embeddings.ValidateText(text); err != nil {
		return nil, fmt.Errorf("tracker: scan: %w", err)
	}
	ctx, span := observe.StartSpan(ctx, "tracker.ScanText")
	defer func() { observe.EndSpan(span, err) }()

	return t.scan(ctx, "text", topK, func(ctx context.Context) ([]float32, error) {
		return t.provider.Embed(ctx, text)
	})
}

// ScanImage ranks the corpus against a photo. It fails with
// [food.ErrUnsupportedMedia] when the provider has no image support or the
// bytes are not a decodable image.
func (t *Tracker) ScanImage(ctx context.Context, data []byte, topK int) (_ []matcher.Result, err error) {
	ie, ok := t.provider.(embeddings.ImageEmbedder)
	if !ok || !embeddings.SupportsImage(t.provider) {
		return nil, fmt.Errorf("tracker: scan image: %w: provider %s does not embed images",
			food.ErrUnsupportedMedia, t.provider.ModelID())
	}
	if _, err := embeddings.ValidateImage(data); err != nil {
		return nil, fmt.Errorf("tracker: scan image: %w", err)
	}
	ctx, span := observe.StartSpan(ctx, "tracker.ScanImage")
	defer func() { observe.EndSpan(span, err) }()

	return t.scan(ctx, "image", topK, func(ctx context.Context) ([]float32, error) {
		return ie.EmbedImage(ctx, data)
	})
}

func (t *Tracker) scan(ctx context.Context, kind string, topK int, embed func(context.Context) ([]float32, error)) ([]matcher.Result, error) {
	settings := t.Matcher()
	if topK == 0 {
		topK = settings.TopK
	}
	if topK < 0 {
		return nil, fmt.Errorf("tracker: scan: %w: top_k must be positive, got %d", food.ErrInvalidInput, topK)
	}

	embedCtx := ctx
	if t.embedTimeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, t.embedTimeout)
		defer cancel()
	}
	start := time.Now()
	query, err := embed(embedCtx)
	t.metrics.RecordEmbed(ctx, t.provider.ModelID(), kind, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("tracker: scan: %w", embeddings.Failure(t.provider.ModelID(), err))
	}

	start = time.Now()
	results, err := matcher.Matcher{MinConfidence: settings.MinConfidence}.Rank(query, t.index.Load(), topK)
	t.metrics.RankDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("tracker: scan: %w", err)
	}
	observe.Logger(ctx).Debug("tracker: scan ranked", "kind", kind, "results", len(results))
	return results, nil
}

// ── Entries ──────────────────────────────────────────────────────────────────

// LogMatch logs quantity servings of a matched food. A zero ts means now.
func (t *Tracker) LogMatch(ctx context.Context, f food.Food, quantity float64, ts time.Time) (food.Entry, error) {
	return t.logEntry(ctx, f, quantity, ts, SourceMatch)
}

// ManualEntry logs a food the user described by hand, stamped now.
func (t *Tracker) ManualEntry(ctx context.Context, f food.Food, quantity float64) (food.Entry, error) {
	return t.logEntry(ctx, f, quantity, time.Time{}, SourceManual)
}

func (t *Tracker) logEntry(ctx context.Context, f food.Food, quantity float64, ts time.Time, source string) (_ food.Entry, err error) {
	if ts.IsZero() {
		ts = t.now()
	}
	e, err := food.NewEntry(f, quantity, ts)
	if err != nil {
		return food.Entry{}, fmt.Errorf("tracker: log: %w", err)
	}

	ctx, span := observe.StartSpan(ctx, "tracker.LogEntry")
	defer func() { observe.EndSpan(span, err) }()

	e, err = t.store.AppendEntry(ctx, e)
	if err != nil {
		return food.Entry{}, fmt.Errorf("tracker: log: %w", err)
	}
	t.metrics.RecordEntryLogged(ctx, source)
	observe.Logger(ctx).Info("tracker: entry logged", "id", e.ID, "food", e.Food.Name, "quantity", e.Quantity, "source", source)
	return e, nil
}

// EditEntry changes the quantity of entry id. Out-of-range quantities fail
// with [food.ErrInvalidInput] before the store is touched.
func (t *Tracker) EditEntry(ctx context.Context, id int64, quantity float64) (food.Entry, error) {
	if err := food.ValidateQuantity(quantity); err != nil {
		return food.Entry{}, fmt.Errorf("tracker: edit entry %d: %w", id, err)
	}
	e, err := t.store.EditEntry(ctx, id, quantity)
	if err != nil {
		return food.Entry{}, fmt.Errorf("tracker: edit entry %d: %w", id, err)
	}
	return e, nil
}

// RemoveEntry deletes entry id.
func (t *Tracker) RemoveEntry(ctx context.Context, id int64) error {
	if err := t.store.RemoveEntry(ctx, id); err != nil {
		return fmt.Errorf("tracker: remove entry %d: %w", id, err)
	}
	return nil
}

// Entries returns every logged entry in log order.
func (t *Tracker) Entries(ctx context.Context) ([]food.Entry, error) {
	entries, err := t.store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracker: load entries: %w", err)
	}
	if entries == nil {
		entries = []food.Entry{}
	}
	return entries, nil
}

// ── Statistics ───────────────────────────────────────────────────────────────

// Today returns the current UTC day.
func (t *Tracker) Today() time.Time { return stats.Day(t.now()) }

// DaySummary returns the log of the UTC day containing day.
func (t *Tracker) DaySummary(ctx context.Context, day time.Time) (stats.DailyLog, error) {
	entries, err := t.Entries(ctx)
	if err != nil {
		return stats.DailyLog{}, err
	}
	return stats.ForDay(entries, day), nil
}

// DailySummaries returns one log per day that has entries, oldest first.
func (t *Tracker) DailySummaries(ctx context.Context) ([]stats.DailyLog, error) {
	entries, err := t.Entries(ctx)
	if err != nil {
		return nil, err
	}
	return stats.GroupByDay(entries), nil
}

// Progress measures the UTC day containing day against the goal.
func (t *Tracker) Progress(ctx context.Context, day time.Time) (stats.DayProgress, error) {
	entries, err := t.Entries(ctx)
	if err != nil {
		return stats.DayProgress{}, err
	}
	goal, err := t.Goals(ctx)
	if err != nil {
		return stats.DayProgress{}, err
	}
	return stats.Progress(entries, goal, day), nil
}

// Weekly summarises the last days days ending today. days must be in
// [1, stats.MaxDays].
func (t *Tracker) Weekly(ctx context.Context, days int) (stats.WeeklyOverview, error) {
	if days < 1 || days > stats.MaxDays {
		return stats.WeeklyOverview{}, fmt.Errorf("tracker: weekly: %w: days must be between 1 and %d, got %d",
			food.ErrInvalidInput, stats.MaxDays, days)
	}
	entries, err := t.Entries(ctx)
	if err != nil {
		return stats.WeeklyOverview{}, err
	}
	return stats.Weekly(entries, t.now(), days), nil
}

// Lifetime aggregates the whole log.
func (t *Tracker) Lifetime(ctx context.Context) (stats.LifetimeStats, error) {
	entries, err := t.Entries(ctx)
	if err != nil {
		return stats.LifetimeStats{}, err
	}
	return stats.Lifetime(entries), nil
}

// ── Goals ────────────────────────────────────────────────────────────────────

// Goals returns the stored goal.
func (t *Tracker) Goals(ctx context.Context) (food.Goal, error) {
	g, err := t.store.Goal(ctx)
	if err != nil {
		return food.Goal{}, fmt.Errorf("tracker: load goal: %w", err)
	}
	return g, nil
}

// UpdateGoals applies u to the stored goal and persists the result.
func (t *Tracker) UpdateGoals(ctx context.Context, u food.GoalUpdate) (food.Goal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, err := t.Goals(ctx)
	if err != nil {
		return food.Goal{}, err
	}
	next, err := u.Apply(current)
	if err != nil {
		return food.Goal{}, fmt.Errorf("tracker: update goal: %w", err)
	}
	if err := t.store.SetGoal(ctx, next); err != nil {
		return food.Goal{}, fmt.Errorf("tracker: update goal: %w", err)
	}
	return next, nil
}

// ── Corpus ───────────────────────────────────────────────────────────────────

// KnownFoods returns a copy of every food in the active index.
func (t *Tracker) KnownFoods() []food.Food { return t.index.Load().Foods() }

// CustomFoods returns a copy of the user-registered foods.
func (t *Tracker) CustomFoods() []food.Food {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]food.Food, len(t.custom))
	for i, f := range t.custom {
		out[i] = f.Clone()
	}
	return out
}

// RegisterCustomFood adds f to the corpus. The index is rebuilt in full and
// swapped in only when the build and the custom food save both succeed. A name
// that duplicates a known food fails with [food.ErrInvalidInput].
func (t *Tracker) RegisterCustomFood(ctx context.Context, f food.Food) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "tracker.RegisterCustomFood")
	defer func() { observe.EndSpan(span, err) }()

	f = f.Clone()
	foods := append(t.index.Load().Foods(), f)
	if err := corpus.ValidateFoods(foods); err != nil {
		return fmt.Errorf("tracker: register food: %w", err)
	}
	idx, err := corpus.Build(ctx, foods, t.provider, t.build)
	if err != nil {
		return fmt.Errorf("tracker: register food: %w", err)
	}

	custom := append(append([]food.Food(nil), t.custom...), f)
	if t.saver != nil {
		if err := t.saver.Save(ctx, custom); err != nil {
			return fmt.Errorf("tracker: register food: save custom foods: %w", err)
		}
	}
	t.custom = custom
	t.index.Store(idx)
	t.metrics.CorpusRows.Record(ctx, int64(len(idx.Rows())))

	if t.cache != nil {
		if err := t.cache.Save(ctx, idx.Snapshot()); err != nil {
			observe.Logger(ctx).Warn("tracker: corpus cache save failed", "error", err)
		}
	}
	observe.Logger(ctx).Info("tracker: custom food registered", "food", f.Name, "foods", idx.Len())
	return nil
}

// Close closes the entry store.
func (t *Tracker) Close() error { return t.store.Close() }
