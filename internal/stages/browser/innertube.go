package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/iamadamzc/TLDW-sub001/internal/pipeline"
	"github.com/iamadamzc/TLDW-sub001/internal/proxy"
	"github.com/iamadamzc/TLDW-sub001/internal/services"
)

const directAPITimeout = 15 * time.Second

type innerTubeRequest struct {
	Context innerTubeContext `json:"context"`
	Params  string           `json:"params"`
}

type innerTubeContext struct {
	Client innerTubeClient `json:"client"`
}

type innerTubeClient struct {
	ClientName    string `json:"clientName"`
	ClientVersion string `json:"clientVersion"`
	HL            string `json:"hl"`
}

// postGetTranscript replays the transcript API call outside the browser,
// reusing the page-extracted key and params so the request matches what the
// player itself would have sent.
func postGetTranscript(ctx context.Context, sess *proxy.Session, userAgent, apiKey, clientVersion, params string) ([]byte, error) {
	httpClient, err := proxy.NewHTTPClient(sess, userAgent, directAPITimeout)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, pipeline.StageBrowserCapture, "direct_api", "", err)
	}

	if clientVersion == "" {
		clientVersion = "2.20240101.00.00"
	}
	payload, err := json.Marshal(innerTubeRequest{
		Context: innerTubeContext{Client: innerTubeClient{
			ClientName:    "WEB",
			ClientVersion: clientVersion,
			HL:            "en",
		}},
		Params: params,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, pipeline.StageBrowserCapture, "direct_api", "encode request", err)
	}

	endpoint := "https://www.youtube.com/youtubei/v1/get_transcript?key=" + apiKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, pipeline.StageBrowserCapture, "direct_api", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://www.youtube.com")

	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTimeout, pipeline.StageBrowserCapture, "direct_api", "", err)
		}
		return nil, services.Wrap(services.ErrTransient, pipeline.StageBrowserCapture, "direct_api", "", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusProxyAuthRequired, http.StatusUnauthorized:
		return nil, services.Wrap(services.ErrAuth, pipeline.StageBrowserCapture, "direct_api", fmt.Sprintf("status %d", resp.StatusCode), nil)
	default:
		return nil, services.Wrap(services.ErrTransient, pipeline.StageBrowserCapture, "direct_api", fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInterceptBytes))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, pipeline.StageBrowserCapture, "direct_api", "read body", err)
	}
	return body, nil
}
