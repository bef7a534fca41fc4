// Package service contains the application use cases behind the HTTP API.
//
// Services coordinate the domain types with the store interfaces from
// internal/store. They never depend on a concrete database, which keeps
// them testable against the in-memory implementations in internal/mocks.
//
// Key components:
//
//   - TaskService creates pipeline tasks and reports their progress.
//   - HistoryService pages through a user's completed analyses.
//   - UserService registers accounts and checks credentials.
package service
