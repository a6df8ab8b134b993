package proxy

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/iamadamzc/TLDW-sub001/internal/services"
)

// Secret is the raw credential schema supplied by the secrets provider.
// The password is stored unencoded; BuildURL percent-encodes exactly once.
type Secret struct {
	EndpointHost string
	Port         int
	CustomerID   string
	Password     string
	GeoEnabled   bool
	Country      string
}

var percentEscapePattern = regexp.MustCompile(`%[0-9A-Fa-f]{2}`)

// Validate rejects unusable secrets at startup. A password that already
// contains a percent-escape was encoded upstream; accepting it would make
// the pipeline double-encode and fail proxy auth on every request, which is
// far harder to diagnose downstream than an immediate refusal here.
func (s Secret) Validate() error {
	if strings.TrimSpace(s.EndpointHost) == "" {
		return services.Wrap(services.ErrConfiguration, "proxy", "validate secret", "endpoint_host is empty", nil)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return services.Wrap(services.ErrConfiguration, "proxy", "validate secret", fmt.Sprintf("port %d out of range", s.Port), nil)
	}
	if strings.TrimSpace(s.CustomerID) == "" {
		return services.Wrap(services.ErrConfiguration, "proxy", "validate secret", "customer_id is empty", nil)
	}
	if s.Password == "" {
		return services.Wrap(services.ErrConfiguration, "proxy", "validate secret", "password is empty", nil)
	}
	if percentEscapePattern.MatchString(s.Password) {
		return services.Wrap(services.ErrConfiguration, "proxy", "validate secret", "password appears pre-encoded; store it raw", nil)
	}
	if s.GeoEnabled && strings.TrimSpace(s.Country) == "" {
		return services.Wrap(services.ErrConfiguration, "proxy", "validate secret", "country required when geo is enabled", nil)
	}
	return nil
}

// username assembles the sticky-session proxy username for a session token.
func (s Secret) username(sessionID string) string {
	parts := []string{"customer-" + s.CustomerID}
	if s.GeoEnabled {
		parts = append(parts, "cc-"+strings.ToLower(strings.TrimSpace(s.Country)))
	}
	parts = append(parts, "sessid-"+sessionID)
	return strings.Join(parts, "-")
}

// BuildURL constructs the authenticated proxy endpoint URL for a session.
// net/url performs the single round of percent-encoding when the URL is
// rendered; callers must never log the result.
func (s Secret) BuildURL(sessionID string) string {
	u := url.URL{
		Scheme: "http",
		User:   url.UserPassword(s.username(sessionID), s.Password),
		Host:   fmt.Sprintf("%s:%d", s.EndpointHost, s.Port),
	}
	return u.String()
}
