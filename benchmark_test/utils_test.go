package benchmark_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hupe1980/pivotgo"
	"github.com/hupe1980/pivotgo/memsearch"
	"github.com/hupe1980/pivotgo/pivot"
	"github.com/hupe1980/pivotgo/testutil"
)

func formatCount(n int) string {
	if n >= 1000 && n%1000 == 0 {
		return fmt.Sprintf("%dK", n/1000)
	}
	return fmt.Sprintf("%d", n)
}

func benchDef() *pivot.Definition {
	return &pivot.Definition{
		GroupBy: []pivot.GroupBy{
			{Name: "dept", Type: pivot.GroupTerms, Field: "department"},
		},
		Aggs: []pivot.Agg{
			{Name: "total", Type: pivot.AggSum, Field: "salary"},
			{Name: "headcount", Type: pivot.AggValueCount, Field: "salary"},
		},
	}
}

// seedIndex fills a fresh in-memory source with n documents spread over
// groups using a skewed distribution, roughly what production group-by
// cardinality looks like.
func seedIndex(b *testing.B, n, groups int) *memsearch.Index {
	b.Helper()

	x, err := memsearch.NewIndex(benchDef())
	if err != nil {
		b.Fatal(err)
	}

	rng := testutil.NewRNG(1)
	docs := rng.Docs(n, testutil.DocSpec{
		GroupField: "department",
		Groups:     testutil.GroupNames("dept", groups),
		Skew:       1.2,
		ValueField: "salary",
		MinValue:   30_000,
		MaxValue:   180_000,
	})
	for _, d := range docs {
		x.Put(d.ID, d.Doc)
	}
	return x
}

// doneListener signals run completion so benchmarks can time full cycles.
type doneListener struct {
	pivotgo.NoopListener
	done chan struct{}
}

func newDoneListener() *doneListener {
	return &doneListener{done: make(chan struct{}, 1)}
}

func (l *doneListener) OnFinish(context.Context) { l.done <- struct{}{} }

func (l *doneListener) wait(b *testing.B) {
	b.Helper()
	select {
	case <-l.done:
	case <-time.After(30 * time.Second):
		b.Fatal("run did not finish")
	}
}
