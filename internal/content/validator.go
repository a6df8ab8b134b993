package content

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// Kind is the validator's verdict on a raw upstream response.
type Kind int

const (
	// Valid means the body parsed as the expected structured format.
	Valid Kind = iota
	// Blocked means the response is a blocking signal (rate limit, consent
	// wall, bot check). The caller should rotate the proxy session and retry
	// once before advancing.
	Blocked
	// Malformed means the body is not a recognized block but cannot be
	// parsed. The caller should advance to the next stage without rotating.
	Malformed
)

func (k Kind) String() string {
	switch k {
	case Valid:
		return "valid"
	case Blocked:
		return "blocked"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Format declares the structured payload a caller expects.
type Format int

const (
	ExpectXML Format = iota
	ExpectJSON
)

// Classification is the validator result. Reason is set for Blocked and
// Malformed; Payload carries the body for Valid.
type Classification struct {
	Kind    Kind
	Reason  string
	Payload []byte
}

// blockingMarkers are body substrings that identify a consent wall, bot
// check, or an HTML error page served in place of a structured payload. The
// list is a starting point tuned against observed traffic; extend it as new
// signatures appear rather than treating it as exhaustive.
var blockingMarkers = []string{
	"<html",
	"<!doctype html",
	"consent.youtube.com",
	"consent.google.com",
	"before you continue",
	"unusual traffic",
	"/sorry/index",
	"captcha",
	"sign in to confirm",
}

// Classify applies the validation rules in order: status, emptiness,
// blocking markers, content type, parseability. It never panics on hostile
// input; Blocked and Malformed are ordinary return values. Parsing is never
// attempted for non-200 statuses or empty bodies.
func Classify(statusCode int, contentType string, body []byte, expect Format) Classification {
	if statusCode != 200 {
		return Classification{Kind: Blocked, Reason: fmt.Sprintf("status=%d", statusCode)}
	}
	if len(body) == 0 {
		return Classification{Kind: Blocked, Reason: "empty_body"}
	}
	if matchesBlockingMarker(body) {
		return Classification{Kind: Blocked, Reason: "html_or_consent"}
	}
	if !contentTypeMatches(contentType, expect) {
		return Classification{Kind: Malformed, Reason: "bad_content_type"}
	}
	if !parses(body, expect) {
		return Classification{Kind: Malformed, Reason: "parse_error"}
	}
	return Classification{Kind: Valid, Payload: body}
}

func matchesBlockingMarker(body []byte) bool {
	// Markers cluster near the top of HTML documents; bounding the scan
	// keeps multi-megabyte bodies cheap to classify.
	probe := body
	if len(probe) > 4096 {
		probe = probe[:4096]
	}
	lowered := strings.ToLower(string(probe))
	for _, marker := range blockingMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func contentTypeMatches(contentType string, expect Format) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	switch expect {
	case ExpectXML:
		return strings.Contains(ct, "xml")
	case ExpectJSON:
		return strings.Contains(ct, "json")
	default:
		return false
	}
}

func parses(body []byte, expect Format) bool {
	switch expect {
	case ExpectJSON:
		return json.Valid(body)
	case ExpectXML:
		var probe struct{}
		err := xml.Unmarshal(body, &probe)
		// xml.Unmarshal into an empty struct succeeds for any well-formed
		// document; only syntax errors surface.
		return err == nil
	default:
		return false
	}
}
