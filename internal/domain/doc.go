// Package domain contains the core entities of the task pipeline: tasks,
// their ordered steps, the payload submitted by users and the history
// entries produced when a run completes. It is independent of any storage
// or delivery mechanism.
package domain
