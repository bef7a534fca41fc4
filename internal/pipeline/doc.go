// Package pipeline defines the ordered steps a task runs through and the
// typed state threaded between them.
//
// A Handler receives the task and the current State by value and returns an
// Outcome carrying the updated State and the metadata to persist with the
// step. Handlers are looked up through a closed Registry that is checked
// against the configured Pipelines at startup.
package pipeline
