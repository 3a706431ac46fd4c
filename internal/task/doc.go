// Package task implements the local task queue emulator: per-queue token
// buckets, retry with exponential backoff, bounded concurrent dispatch to an
// HTTP target, and the controller that drives every queue from a single
// adaptive poll loop.
package task
