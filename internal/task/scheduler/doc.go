// Package scheduler runs named jobs on cron or fixed-interval triggers.
//
// Jobs are plain data (name, schedule string, timeout, run func) so new jobs
// can be registered without touching the service. Each trigger is
// non-overlapping: if a run is still in flight when its trigger fires again,
// that firing is skipped. Different jobs may run concurrently; callers that
// share state serialize it themselves.
package scheduler
