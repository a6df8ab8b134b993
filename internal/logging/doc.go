// Package logging centralizes slog construction and the structured field
// vocabulary for the transcript pipeline.
//
// Every stage attempt and job summary record uses the Field* constants so
// downstream log processing can rely on stable keys. Credential-bearing
// values (proxy passwords, authenticated URLs, cookie values) must never be
// passed to a logger; callers log masked identities instead.
package logging
