// Package config loads and validates the TOML configuration for the
// transcript pipeline daemon and CLI.
//
// Defaults live in defaults.go; Validate enforces the invariants the
// pipeline depends on (usable proxy secret schema, positive timeouts,
// breaker thresholds). A validation failure is a configuration error and
// must abort startup rather than let jobs degrade silently.
package config
