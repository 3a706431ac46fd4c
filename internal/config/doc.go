// Package config loads emulator settings from environment variables and an
// optional YAML file, applies defaults and validates the result before any
// component is constructed.
package config
