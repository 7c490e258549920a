// Package logger provides structured logging with configurable log levels.
// It wraps the standard log/slog package, switching between text and JSON
// handlers based on the runtime environment.
package logger
