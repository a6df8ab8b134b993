package pipeline

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ExtractVideoID accepts a bare 11-character video id or any of the common
// watch URL shapes and returns the canonical id.
func ExtractVideoID(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("video id required")
	}
	if videoIDPattern.MatchString(input) {
		return input, nil
	}

	parsed, err := url.Parse(input)
	if err != nil || parsed.Host == "" {
		return "", errors.New("not a video id or watch url")
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	path := strings.Trim(parsed.Path, "/")

	var candidate string
	switch host {
	case "youtu.be":
		candidate = path
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		switch {
		case path == "watch":
			candidate = parsed.Query().Get("v")
		case strings.HasPrefix(path, "shorts/"):
			candidate = strings.TrimPrefix(path, "shorts/")
		case strings.HasPrefix(path, "embed/"):
			candidate = strings.TrimPrefix(path, "embed/")
		case strings.HasPrefix(path, "live/"):
			candidate = strings.TrimPrefix(path, "live/")
		}
	}
	if idx := strings.IndexByte(candidate, '/'); idx >= 0 {
		candidate = candidate[:idx]
	}
	if !videoIDPattern.MatchString(candidate) {
		return "", errors.New("could not extract a video id")
	}
	return candidate, nil
}
