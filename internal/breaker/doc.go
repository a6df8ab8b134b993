// Package breaker guards each pipeline stage with a circuit breaker.
//
// A stage that fails repeatedly across jobs stops being attempted for a
// recovery window; the orchestrator treats an open breaker as an immediate
// stage skip. Built on sony/gobreaker's two-step breaker so the consult
// (before the attempt) and the outcome report (after) are separate calls.
package breaker
