package proxy

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

type identityTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *identityTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}

// NewHTTPClient builds an HTTP client that egresses through the session's
// proxy and applies the job's user agent to every request. The same user
// agent must be used across all stages of a job so the traffic presents one
// consistent client identity.
func NewHTTPClient(sess *Session, userAgent string, timeout time.Duration) (*http.Client, error) {
	if sess == nil {
		return nil, fmt.Errorf("proxy http client: nil session")
	}
	proxyURL, err := url.Parse(sess.URL)
	if err != nil {
		return nil, fmt.Errorf("proxy http client: parse endpoint: %w", err)
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyURL(proxyURL),
		MaxIdleConns:          4,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{
		Transport: &identityTransport{base: transport, userAgent: userAgent},
		Timeout:   timeout,
	}, nil
}
