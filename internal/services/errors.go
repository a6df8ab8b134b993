package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration marks failures caused by invalid or missing operator
	// configuration (bad proxy secret, missing external tool). Never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrAuth marks upstream authentication rejections (proxy 407/401,
	// downloader auth failures). Triggers a session rotation.
	ErrAuth = errors.New("authentication error")
	// ErrExternalTool marks subprocess or remote-service failures.
	ErrExternalTool = errors.New("external tool error")
	// ErrNotFound marks an absent resource (no captions for the language).
	ErrNotFound = errors.New("not found")
	// ErrTimeout marks a stage-local or watchdog deadline expiry.
	ErrTimeout = errors.New("timeout")
	// ErrTransient marks failures worth retrying on a later attempt.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsFatal reports whether the error must fail the whole job without being
// absorbed into any fallback path.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// Details strips the sentinel prefix from a wrapped error for display.
func Details(err error) string {
	if err == nil {
		return ""
	}
	message := err.Error()
	for _, marker := range []error{ErrConfiguration, ErrAuth, ErrExternalTool, ErrNotFound, ErrTimeout, ErrTransient} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(message, prefix) {
			return strings.TrimPrefix(message, prefix)
		}
	}
	return message
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
