// Package services defines the shared error taxonomy and context carriers
// used across pipeline stages.
//
// Sentinel errors tag failures for classification by the orchestrator:
// configuration errors fail the whole job, authentication errors trigger a
// proxy session rotation, everything else drives ordinary stage advancement.
// Expected upstream misbehavior (blocked or malformed responses) is not an
// error at all; those are content.Classification values.
package services
