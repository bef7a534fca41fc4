// Package events decouples task creation from whoever must react to it.
//
// The task service emits a TaskCreatedEvent after a task and its steps are
// committed. Handlers registered on the emitter wake the in-process worker
// or forward the event to other processes through redis.
package events
