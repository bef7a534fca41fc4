// Package task runs the background worker that drives persisted tasks
// through their step pipelines. The worker is a single loop: it claims one
// runnable task at a time, resumes it from its last successful step and
// records every step transition before moving on, so a restart never loses
// more than the step that was in flight.
package task
