package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocs(t *testing.T) {
	rng := NewRNG(4711)

	docs := rng.Docs(200, DocSpec{
		GroupField: "department",
		Groups:     GroupNames("dept", 10),
		ValueField: "salary",
		MinValue:   40_000,
		MaxValue:   160_000,
	})

	assert.Equal(t, 200, len(docs))
	assert.Equal(t, "doc-00000", docs[0].ID)
	assert.Equal(t, "doc-00199", docs[199].ID)

	for _, d := range docs {
		v, ok := d.Doc["salary"].(float64)
		assert.True(t, ok)
		assert.GreaterOrEqual(t, v, 40_000.0)
		assert.Less(t, v, 160_000.0)

		g, ok := d.Doc["department"].(string)
		assert.True(t, ok)
		assert.Contains(t, GroupNames("dept", 10), g)
	}
}

func TestDocsMissingRate(t *testing.T) {
	rng := NewRNG(4711)

	docs := rng.Docs(1000, DocSpec{
		GroupField:  "department",
		Groups:      GroupNames("dept", 10),
		ValueField:  "salary",
		MinValue:    0,
		MaxValue:    1,
		MissingRate: 0.25,
	})

	missing := 0
	for _, d := range docs {
		if _, ok := d.Doc["department"]; !ok {
			missing++
		}
	}

	missingRatio := float64(missing) / float64(len(docs))
	assert.InDelta(t, 0.25, missingRatio, 0.05, "~25% of docs should miss the group field")
}

func TestZipfGroups(t *testing.T) {
	rng := NewRNG(42)
	n := 10000
	groupCount := 100

	groups := rng.ZipfGroups(n, groupCount, 1.5)

	assert.Equal(t, n, len(groups))

	counts := make(map[int]int)
	for _, g := range groups {
		assert.GreaterOrEqual(t, g, 0)
		assert.Less(t, g, groupCount)
		counts[g]++
	}

	// With s=1.5 the head group should dominate the tail
	assert.Greater(t, counts[0], counts[groupCount-1]*10, "head group should dominate tail")

	// Top 20% of groups should hold the bulk of the documents
	topCount := 0
	for g := 0; g < groupCount/5; g++ {
		topCount += counts[g]
	}
	topRatio := float64(topCount) / float64(n)
	assert.Greater(t, topRatio, 0.8, "top 20%% of groups should hold >80%% of docs")
}

func TestGroupNames(t *testing.T) {
	names := GroupNames("dept", 3)

	assert.Equal(t, []string{"dept-000", "dept-001", "dept-002"}, names)
}

func TestExpectedBuckets(t *testing.T) {
	docs := []Doc{
		{ID: "doc-00000", Doc: map[string]any{"department": "sales", "salary": 70_000.0}},
		{ID: "doc-00001", Doc: map[string]any{"department": "engineering", "salary": 120_000.0}},
		{ID: "doc-00002", Doc: map[string]any{"department": "engineering", "salary": 80_000.0}},
		{ID: "doc-00003", Doc: map[string]any{"salary": 999_999.0}},
		{ID: "doc-00004", Doc: map[string]any{"department": "engineering"}},
	}

	buckets := ExpectedBuckets(docs, "department", "salary")

	assert.Equal(t, 2, len(buckets))

	assert.Equal(t, "engineering", buckets[0].Group)
	assert.Equal(t, int64(3), buckets[0].DocCount)
	assert.Equal(t, 200_000.0, buckets[0].Sum)
	assert.Equal(t, 80_000.0, buckets[0].Min)
	assert.Equal(t, 120_000.0, buckets[0].Max)

	assert.Equal(t, "sales", buckets[1].Group)
	assert.Equal(t, int64(1), buckets[1].DocCount)
	assert.Equal(t, 70_000.0, buckets[1].Sum)
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	spec := DocSpec{
		GroupField: "department",
		Groups:     GroupNames("dept", 10),
		ValueField: "salary",
		MinValue:   0,
		MaxValue:   100,
	}
	d1 := rng.Docs(10, spec)

	rng.Reset()
	d2 := rng.Docs(10, spec)

	assert.Equal(t, d1, d2)
}
