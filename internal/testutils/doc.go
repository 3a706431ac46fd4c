// Package testutils provides helpers shared by package tests: an in-memory
// slog handler for asserting on log output and a logger constructor for
// quiet test runs.
package testutils
