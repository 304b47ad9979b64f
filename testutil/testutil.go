package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Float64 returns, as a float64, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Zipf returns a Zipfian-distributed value in [0, n).
// Uses Zipf's law: P(k) ∝ 1/k^s where s is the skew parameter.
// s=1.0 gives standard Zipf, s=1.5 gives heavy-tail (80/20 rule).
// This is how real-world group sizes are distributed (power law).
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

// zipfLocked is the internal implementation (caller must hold lock).
func (r *RNG) zipfLocked(n int, s float64) int {
	if n <= 1 {
		return 0
	}

	// Normalization constant (harmonic number with exponent s)
	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	// Inverse transform sampling
	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1 // 0-indexed
		}
	}

	return n - 1
}

// ZipfGroups generates n group assignments with Zipfian distribution.
// Returns a slice where ~20% of the groups hold ~80% of the documents
// (when s=1.5).
func (r *RNG) ZipfGroups(n, groupCount int, s float64) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	groups := make([]int, n)
	for i := range n {
		groups[i] = r.zipfLocked(groupCount, s)
	}

	return groups
}

// GroupNames returns n deterministic group values, zero-padded so their
// lexicographic order matches their numeric order.
func GroupNames(prefix string, n int) []string {
	names := make([]string, n)
	for i := range n {
		names[i] = fmt.Sprintf("%s-%03d", prefix, i)
	}
	return names
}

// Doc is one synthetic source document.
type Doc struct {
	ID  string
	Doc map[string]any
}

// DocSpec describes the shape of a synthetic dataset.
type DocSpec struct {
	// GroupField holds the group value, e.g. "department".
	GroupField string
	// Groups are the possible group values. Assignment is Zipf-skewed so a
	// few groups dominate, matching real-world data.
	Groups []string
	// Skew is the Zipf exponent of the group assignment. 0 defaults to 1.5.
	Skew float64

	// ValueField holds a numeric value drawn uniformly from
	// [MinValue, MaxValue).
	ValueField string
	MinValue   float64
	MaxValue   float64

	// MissingRate is the fraction of documents generated without the group
	// field. Such documents never land in any bucket.
	MissingRate float64
}

// Docs generates n documents per spec. IDs are deterministic for a given
// seed and spec.
func (r *RNG) Docs(n int, spec DocSpec) []Doc {
	r.mu.Lock()
	defer r.mu.Unlock()

	skew := spec.Skew
	if skew == 0 {
		skew = 1.5
	}
	span := spec.MaxValue - spec.MinValue

	docs := make([]Doc, n)
	for i := range n {
		doc := map[string]any{
			spec.ValueField: spec.MinValue + r.rand.Float64()*span,
		}
		if spec.MissingRate <= 0 || r.rand.Float64() >= spec.MissingRate {
			doc[spec.GroupField] = spec.Groups[r.zipfLocked(len(spec.Groups), skew)]
		}
		docs[i] = Doc{
			ID:  fmt.Sprintf("doc-%05d", i),
			Doc: doc,
		}
	}
	return docs
}

// ExpectedBucket is the ground-truth aggregate of one group.
type ExpectedBucket struct {
	Group    string
	DocCount int64
	Sum      float64
	Min      float64
	Max      float64
}

// ExpectedBuckets computes the exact aggregation of docs grouped by
// groupField over valueField, sorted by group value. Documents missing the
// group field are skipped; documents missing a numeric value still count
// into DocCount.
func ExpectedBuckets(docs []Doc, groupField, valueField string) []ExpectedBucket {
	byGroup := make(map[string]*ExpectedBucket)
	for _, d := range docs {
		g, ok := d.Doc[groupField].(string)
		if !ok {
			continue
		}

		b := byGroup[g]
		if b == nil {
			b = &ExpectedBucket{Group: g, Min: math.Inf(1), Max: math.Inf(-1)}
			byGroup[g] = b
		}
		b.DocCount++

		if v, ok := toFloat(d.Doc[valueField]); ok {
			b.Sum += v
			if v < b.Min {
				b.Min = v
			}
			if v > b.Max {
				b.Max = v
			}
		}
	}

	out := make([]ExpectedBucket, 0, len(byGroup))
	for _, b := range byGroup {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
