package pivotgo

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/pivotgo/model"
)

// Stats holds the live indexer counters. Document counters are committed only
// after a write batch succeeds, so a page retried under resource pressure is
// never counted twice. Timing and failure counters advance per attempt.
type Stats struct {
	triggers    atomic.Int64
	pages       atomic.Int64
	docsRead    atomic.Int64
	docsIndexed atomic.Int64
	docsUpdated atomic.Int64
	docsDeleted atomic.Int64
	docsFailed  atomic.Int64

	searchTotalNanos atomic.Int64
	writeTotalNanos  atomic.Int64
	searchFailures   atomic.Int64
	writeFailures    atomic.Int64
}

// statsDelta is the per-page staging area. It is accumulated while a page is
// in flight and folded into Stats only once the page's write succeeded.
type statsDelta struct {
	pages       int64
	docsRead    int64
	docsIndexed int64
	docsUpdated int64
	docsDeleted int64
	docsFailed  int64
}

func (s *Stats) incTriggers() { s.triggers.Add(1) }

func (s *Stats) recordSearch(took time.Duration, err error) {
	s.searchTotalNanos.Add(took.Nanoseconds())
	if err != nil {
		s.searchFailures.Add(1)
	}
}

func (s *Stats) recordWrite(took time.Duration, err error) {
	s.writeTotalNanos.Add(took.Nanoseconds())
	if err != nil {
		s.writeFailures.Add(1)
	}
}

// commit folds a completed page's staged counters into the live stats.
func (s *Stats) commit(d statsDelta) {
	s.pages.Add(d.pages)
	s.docsRead.Add(d.docsRead)
	s.docsIndexed.Add(d.docsIndexed)
	s.docsUpdated.Add(d.docsUpdated)
	s.docsDeleted.Add(d.docsDeleted)
	s.docsFailed.Add(d.docsFailed)
}

// restore primes the counters from a checkpoint snapshot.
func (s *Stats) restore(snap model.StatsSnapshot) {
	s.triggers.Store(snap.Triggers)
	s.pages.Store(snap.Pages)
	s.docsRead.Store(snap.DocsRead)
	s.docsIndexed.Store(snap.DocsIndexed)
	s.docsUpdated.Store(snap.DocsUpdated)
	s.docsDeleted.Store(snap.DocsDeleted)
	s.docsFailed.Store(snap.DocsFailed)
	s.searchTotalNanos.Store(snap.SearchTotalNanos)
	s.writeTotalNanos.Store(snap.WriteTotalNanos)
	s.searchFailures.Store(snap.SearchFailures)
	s.writeFailures.Store(snap.WriteFailures)
}

// Snapshot returns a consistent point-in-time copy of the counters.
func (s *Stats) Snapshot() model.StatsSnapshot {
	return model.StatsSnapshot{
		Triggers:         s.triggers.Load(),
		Pages:            s.pages.Load(),
		DocsRead:         s.docsRead.Load(),
		DocsIndexed:      s.docsIndexed.Load(),
		DocsUpdated:      s.docsUpdated.Load(),
		DocsDeleted:      s.docsDeleted.Load(),
		DocsFailed:       s.docsFailed.Load(),
		SearchTotalNanos: s.searchTotalNanos.Load(),
		WriteTotalNanos:  s.writeTotalNanos.Load(),
		SearchFailures:   s.searchFailures.Load(),
		WriteFailures:    s.writeFailures.Load(),
	}
}

// applyWriteResult stages the per-item outcomes of a write batch.
func (d *statsDelta) applyWriteResult(res *model.WriteResult) {
	if res == nil {
		return
	}
	for _, item := range res.Items {
		switch item.Outcome {
		case model.OutcomeCreated:
			d.docsIndexed++
		case model.OutcomeUpdated:
			d.docsUpdated++
		case model.OutcomeDeleted:
			d.docsDeleted++
		case model.OutcomeFailed:
			d.docsFailed++
		}
	}
}
