// Package scheduler turns wall-clock time into indexer triggers.
//
// The engine itself never owns a timer: something external calls
// TriggerCycle and the engine decides whether a cycle actually runs (it
// skips triggers while a run is in flight, while the source is unchanged,
// or while no run slot is available). Interval fires at a fixed period;
// Cron fires per a cron expression. Skipped triggers are logged at debug
// level and are otherwise free.
package scheduler
