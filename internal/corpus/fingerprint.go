package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/MrWong99/foodtracker/pkg/food"
)

// fingerprintVersion is bumped whenever the row layout or Describe template
// changes, invalidating every cached snapshot.
const fingerprintVersion = "foodtracker-corpus/1"

// Fingerprint hashes the provider identity together with the normalised row
// texts and nutrition values of foods. Two datasets share a fingerprint only
// when they would produce the same rows under the same provider.
func Fingerprint(foods []food.Food, providerID string) string {
	h := sha256.New()
	field := func(s string) {
		io.WriteString(h, s)
		h.Write([]byte{0})
	}
	num := func(f float64) { field(strconv.FormatFloat(f, 'g', -1, 64)) }

	field(fingerprintVersion)
	field(providerID)
	rows := RowsFor(foods)
	next := 0
	for i, f := range foods {
		field("food")
		for ; next < len(rows) && rows[next].Food == i; next++ {
			field(normalize(rows[next].Text))
		}
		num(f.Calories)
		keys := make([]string, 0, len(f.Macronutrients))
		for k := range f.Macronutrients {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			field(k)
			num(f.Macronutrients[k])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// normalize lower-cases s and collapses runs of whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
