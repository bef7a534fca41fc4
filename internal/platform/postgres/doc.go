// Package postgres provides PostgreSQL implementations of the store
// interfaces: tasks and their steps, users, credits and analysis history.
// Schema migrations are embedded and applied with goose.
package postgres
