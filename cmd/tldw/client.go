package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iamadamzc/TLDW-sub001/internal/daemon"
	"github.com/iamadamzc/TLDW-sub001/internal/pipeline"
)

// transcriptPayload mirrors the daemon's transcript response shape.
type transcriptPayload struct {
	pipeline.JobStatus
	Transcript string `json:"transcript,omitempty"`
}

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(server, token string) *apiClient {
	server = strings.TrimSpace(server)
	if server != "" && !strings.Contains(server, "://") {
		server = "http://" + server
	}
	return &apiClient{
		base:  strings.TrimRight(server, "/"),
		token: token,
		http:  &http.Client{Timeout: 6 * time.Minute},
	}
}

func (c *apiClient) submit(ctx context.Context, video string, languages []string, wait bool) (transcriptPayload, error) {
	body, err := json.Marshal(map[string]any{
		"video":     video,
		"languages": languages,
	})
	if err != nil {
		return transcriptPayload{}, err
	}
	endpoint := c.base + "/api/transcripts"
	if wait {
		endpoint += "?wait=1"
	}
	var payload transcriptPayload
	if err := c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(body), &payload); err != nil {
		return transcriptPayload{}, err
	}
	return payload, nil
}

func (c *apiClient) job(ctx context.Context, jobID string, wait bool) (transcriptPayload, error) {
	endpoint := c.base + "/api/transcripts/" + jobID
	if wait {
		endpoint += "?wait=1"
	}
	var payload transcriptPayload
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return transcriptPayload{}, err
	}
	return payload, nil
}

func (c *apiClient) status(ctx context.Context) (daemon.Status, error) {
	var status daemon.Status
	if err := c.do(ctx, http.MethodGet, c.base+"/api/status", nil, &status); err != nil {
		return daemon.Status{}, err
	}
	return status, nil
}

func (c *apiClient) do(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is tldwd running? %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon: http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
