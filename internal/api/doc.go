// Package api handles the emulator's HTTP front door: it decodes and
// validates REST requests for queues and tasks, translates them into
// controller calls, and formats the responses and errors.
package api
