// Package mocks provides shared test doubles for the store, inference and
// auth interfaces.
//
// MockTaskStore is a complete in-memory task store with the same status
// rules as the PostgreSQL one, plus hooks for injecting failures. The other
// mocks use function fields: set the field to customise a call, or leave it
// nil for the default behaviour.
//
//	store := mocks.NewMockTaskStore()
//	store.FailOn("MarkStepSuccess", errors.New("db down"))
package mocks
