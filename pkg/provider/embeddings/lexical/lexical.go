// Package lexical provides a dependency-free embeddings provider that hashes
// normalised text features into a fixed-size vector.
//
// The vector of a text is the signed feature-hashing sum of four feature
// families, L2-normalised:
//
//   - whole tokens (weight 1.0)
//   - adjacent token bigrams (weight 0.5)
//   - Double Metaphone codes of each token (weight 0.5), so "yoghurt" and
//     "yogurt" share mass
//   - padded character trigrams of each token (weight 0.25), so "apples" and
//     "apple" share mass
//
// Filler tokens (serving units such as "slice" or "cup", numbers and a few
// stop words) say how much was eaten rather than what, so every feature they
// contribute is scaled by 0.2. "apple slice" then lands next to Apple instead
// of the "pizza slice" alias.
//
// The provider needs no model or network and is a pure function of its input:
// equal text yields a bit-identical vector, which keeps corpus caches built
// with it valid across runs.
package lexical

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/foodtracker/pkg/food"
	"github.com/MrWong99/foodtracker/pkg/provider/embeddings"
)

// DefaultDimensions is the vector length used when no option overrides it.
const DefaultDimensions = 512

// ModelID is the identifier reported by every lexical provider. Bump the
// version suffix whenever the feature set changes so stale caches miss.
const ModelID = "lexical-v2"

const (
	weightToken    = 1.0
	weightBigram   = 0.5
	weightPhonetic = 0.5
	weightTrigram  = 0.25

	// fillerScale multiplies the weight of features from filler tokens.
	fillerScale = 0.2
)

var fillerWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "of": {}, "some": {}, "with": {},
	"bowl": {}, "bowls": {}, "cup": {}, "cups": {}, "glass": {}, "glasses": {},
	"handful": {}, "piece": {}, "pieces": {}, "plate": {}, "plates": {},
	"portion": {}, "scoop": {}, "scoops": {}, "serving": {}, "servings": {},
	"slice": {}, "slices": {}, "large": {}, "medium": {}, "small": {},
	"g": {}, "kg": {}, "ml": {}, "l": {}, "fl": {}, "oz": {}, "tbsp": {}, "tsp": {},
}

// tokenScale is fillerScale for filler tokens and 1 otherwise.
func tokenScale(tok string) float32 {
	if _, ok := fillerWords[tok]; ok {
		return fillerScale
	}
	if strings.IndexFunc(tok, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		return fillerScale
	}
	return 1
}

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider with feature hashing. The zero value
// is not usable; construct with New.
type Provider struct {
	dims int
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithDimensions sets the vector length. Values below 16 are rejected by New.
func WithDimensions(n int) Option {
	return func(p *Provider) {
		p.dims = n
	}
}

// New constructs a lexical Provider.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{dims: DefaultDimensions}
	for _, o := range opts {
		o(p)
	}
	if p.dims < 16 {
		return nil, fmt.Errorf("lexical embeddings: dimensions must be >= 16, got %d", p.dims)
	}
	return p, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, embeddings.Failure("lexical embeddings", err)
	}
	return p.vector(text)
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, embeddings.Failure("lexical embeddings", err)
		}
		v, err := p.vector(t)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.dims }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return ModelID }

func (p *Provider) vector(text string) ([]float32, error) {
	if err := embeddings.ValidateText(text); err != nil {
		return nil, fmt.Errorf("lexical %w", err)
	}
	tokens := Tokens(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("lexical embeddings: %w: text %q has no letters or digits", food.ErrInvalidInput, text)
	}

	v := make([]float32, p.dims)
	prevScale := float32(1)
	for i, tok := range tokens {
		scale := tokenScale(tok)
		p.add(v, "t:"+tok, weightToken*scale)
		if i > 0 {
			p.add(v, "b:"+tokens[i-1]+" "+tok, weightBigram*min(scale, prevScale))
		}
		primary, secondary := matchr.DoubleMetaphone(tok)
		if primary != "" {
			p.add(v, "p:"+primary, weightPhonetic*scale)
		}
		if secondary != "" && secondary != primary {
			p.add(v, "p:"+secondary, weightPhonetic*scale)
		}
		for _, tri := range trigrams(tok) {
			p.add(v, "c:"+tri, weightTrigram*scale)
		}
		prevScale = scale
	}
	return embeddings.Normalize(v), nil
}

// add hashes feature into a bucket and a sign and accumulates weight there.
func (p *Provider) add(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(p.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

// Tokens lower-cases text, treats every rune that is not a letter or digit as a
// separator and returns the remaining tokens.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// trigrams returns the character trigrams of "^tok$".
func trigrams(tok string) []string {
	r := []rune("^" + tok + "$")
	if len(r) < 3 {
		return nil
	}
	out := make([]string, 0, len(r)-2)
	for i := 0; i+3 <= len(r); i++ {
		out = append(out, string(r[i:i+3]))
	}
	return out
}
