package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iamadamzc/TLDW-sub001/internal/config"
)

const defaultTranscriberTimeout = 120 * time.Second

// Transcriber wraps the remote speech-to-text API. Audio goes up as a
// multipart upload; the transcript comes back as JSON.
type Transcriber struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// TranscriberOption customizes the transcriber client.
type TranscriberOption func(*Transcriber)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) TranscriberOption {
	return func(t *Transcriber) {
		if client != nil {
			t.httpClient = client
		}
	}
}

// NewTranscriber constructs a speech-to-text client from configuration.
func NewTranscriber(cfg config.Transcriber, opts ...TranscriberOption) *Transcriber {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTranscriberTimeout
	}
	t := &Transcriber{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:      strings.TrimSpace(cfg.Model),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type transcriptionResponse struct {
	Text  string `json:"text"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Transcribe uploads the audio file and returns the recognized text.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if t.apiKey == "" {
		return "", errors.New("transcribe: api key required")
	}
	if t.baseURL == "" {
		return "", errors.New("transcribe: base url required")
	}

	file, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("transcribe: open audio: %w", err)
	}
	defer file.Close()

	var payload bytes.Buffer
	writer := multipart.NewWriter(&payload)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("transcribe: build form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("transcribe: copy audio: %w", err)
	}
	if t.model != "" {
		if err := writer.WriteField("model", t.model); err != nil {
			return "", fmt.Errorf("transcribe: write model field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("transcribe: finalize form: %w", err)
	}

	endpoint, err := url.JoinPath(t.baseURL, "/audio/transcriptions")
	if err != nil {
		return "", fmt.Errorf("transcribe: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &payload)
	if err != nil {
		return "", fmt.Errorf("transcribe: request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("transcribe: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("transcribe: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("transcribe: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("transcribe: api error: %s", strings.TrimSpace(parsed.Error.Message))
	}
	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		return "", errors.New("transcribe: empty transcript")
	}
	return text, nil
}
