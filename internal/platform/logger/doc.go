// Package logger provides structured logging functionality for the emulator.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels, and tags records with the request trace ID carried
// in the context.
package logger
