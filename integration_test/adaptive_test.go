package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pivotgo"
	"github.com/hupe1980/pivotgo/checkpoint"
	"github.com/hupe1980/pivotgo/memsearch"
	"github.com/hupe1980/pivotgo/pivot"
	"github.com/hupe1980/pivotgo/prom"
)

// gatherValue returns the value of the first metric in family name whose
// labels include want.
func gatherValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}

			matched := true
			for k, v := range want {
				if labels[k] != v {
					matched = false
					break
				}
			}
			if !matched {
				continue
			}

			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
		}
	}

	t.Fatalf("metric %s%v not found", name, want)
	return 0
}

func TestE2E_PageSizeShrinksAndPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	def := deptDef()

	// A budget that refuses 1000 and 500 bucket windows but affords 250.
	src, err := memsearch.NewIndex(def, func(o *memsearch.Options) {
		o.MemoryBudget = 40_000
	})
	require.NoError(t, err)
	src.Put("1", map[string]any{"department": "engineering", "salary": 120000})
	src.Put("2", map[string]any{"department": "sales", "salary": 90000})

	tr, err := pivot.NewTransformer(def)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	collector, err := prom.NewCollector(func(o *prom.Options) {
		o.Registerer = registry
	})
	require.NoError(t, err)

	store, err := checkpoint.NewFileStore(dir)
	require.NoError(t, err)

	lst := newRunListener()
	idx, err := pivotgo.New(ctx, src, memsearch.NewTarget(), tr, store,
		pivotgo.WithListener(lst),
		pivotgo.WithInitialPageSize(1000),
		pivotgo.WithMetricsCollector(collector),
	)
	require.NoError(t, err)

	require.NoError(t, idx.Start(ctx))
	require.True(t, idx.TriggerCycle(ctx, time.Now()))
	wait(t, lst.done, "run under pressure")

	require.Equal(t, 250, idx.PageSize())
	require.Equal(t, 250, idx.LastCheckpoint().PageSize)

	// The collector followed the engine: the gauge tracks the settled page
	// size and exactly one trigger launched.
	require.Equal(t, float64(250), gatherValue(t, registry, "pivotgo_page_size", nil))
	require.Equal(t, float64(1), gatherValue(t, registry, "pivotgo_triggers_total", map[string]string{"result": "launched"}))

	require.NoError(t, idx.Close())

	// The adapted page size survives a restart.
	reopened, err := checkpoint.NewFileStore(dir)
	require.NoError(t, err)

	idx2, err := pivotgo.New(ctx, src, memsearch.NewTarget(), tr, reopened)
	require.NoError(t, err)
	defer idx2.Close()

	require.Equal(t, 250, idx2.PageSize())
}
