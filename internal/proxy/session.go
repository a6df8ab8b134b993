package proxy

import (
	"fmt"
	"time"
)

// Session is a sticky proxy identity owned by exactly one job. The URL
// embeds credentials and must never be logged; use Masked for telemetry.
type Session struct {
	ID           string
	JobID        string
	URL          string
	CreatedAt    time.Time
	LastUsedAt   time.Time
	FailureCount int

	customerID string
}

// Masked returns the log-safe identity: a customer prefix plus the session
// suffix, with no credentials or endpoint details.
func (s *Session) Masked() string {
	if s == nil {
		return "none"
	}
	customer := s.customerID
	if len(customer) > 4 {
		customer = customer[:4] + "…"
	}
	return fmt.Sprintf("%s/%s", customer, s.ID)
}

// Touch records that a stage just used the session.
func (s *Session) Touch(now time.Time) {
	if s != nil {
		s.LastUsedAt = now
	}
}
