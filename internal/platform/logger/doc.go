// Package logger provides structured logging for the application.
//
// It builds on log/slog with a JSON handler on stdout, and carries request
// scoped loggers through context.Context so stores and workers can log with
// the request or task identifiers already attached.
package logger
