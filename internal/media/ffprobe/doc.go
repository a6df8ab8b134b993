// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// The audio fallback stage uses it to validate a downloaded file before
// submitting it to the transcription service: the file must expose at least
// one audio stream and a sane duration, otherwise the download was a
// placeholder or an error page saved as media.
package ffprobe
