package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement defines an external dependency the pipeline relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements builds the dependency list for the given tool commands.
func Requirements(ytdlp, ffmpeg, ffprobe, chrome string) []Requirement {
	reqs := []Requirement{
		{Name: "yt-dlp", Command: ytdlp, Description: "Downloads audio for the ASR fallback"},
		{Name: "FFmpeg", Command: ffmpeg, Description: "Transcodes audio before transcription"},
		{Name: "FFprobe", Command: ffprobe, Description: "Validates downloaded media"},
	}
	chrome = strings.TrimSpace(chrome)
	if chrome == "" {
		// chromedp resolves its own default browser when unset.
		reqs = append(reqs, Requirement{Name: "Chrome", Command: "google-chrome", Description: "Headless browser for transcript capture", Optional: true})
	} else {
		reqs = append(reqs, Requirement{Name: "Chrome", Command: chrome, Description: "Headless browser for transcript capture"})
	}
	return reqs
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}
