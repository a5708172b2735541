// Package logger builds the process-wide slog.Logger: text output while
// developing, JSON in production, with the environment and service name
// attached to every record.
package logger
