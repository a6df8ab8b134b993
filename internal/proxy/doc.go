// Package proxy manages sticky upstream proxy sessions for pipeline jobs.
//
// Each job owns at most one Session at a time; every stage of the job
// threads the same session through its network calls so requests appear to
// originate from one client. Rotation blacklists the old token and issues a
// fresh identity derived from the job id plus a monotonic counter.
//
// Credentials never leave this package in log-safe form: Session.URL embeds
// them and is handed only to HTTP transports and subprocess arguments,
// while Session.Masked is the only identity the rest of the system logs.
package proxy
