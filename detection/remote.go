package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"motionwatch/capture"
	"motionwatch/logging"
)

// NoTargetMessage is the detect endpoint's message when nothing was found.
const NoTargetMessage = "No human detected."

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// detectResponse carries either a label list or NoTargetMessage.
type detectResponse struct {
	Message json.RawMessage `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Remote asks a detect-serve style HTTP endpoint.
type Remote struct {
	endpoint *url.URL
	client   HTTPClient
	log      zerolog.Logger
}

// NewRemote builds a remote detector for GET <endpoint>?rtsp_url=<source>.
func NewRemote(endpoint string, client HTTPClient) (*Remote, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse detect endpoint: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Remote{endpoint: u, client: client, log: logging.Component("detect")}, nil
}

// Detect calls the endpoint. Any non-200 answer is a backend failure.
func (r *Remote) Detect(ctx context.Context, source string) ([]string, error) {
	u := *r.endpoint
	q := u.Query()
	q.Set("rtsp_url", source)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrBackend, err)
	}
	if resp.StatusCode != http.StatusOK {
		r.log.Warn().
			Int("status", resp.StatusCode).
			Str("source", capture.Redact(source)).
			Str("body", string(body)).
			Msg("Detect endpoint error")
		return nil, fmt.Errorf("%w: status %d", ErrBackend, resp.StatusCode)
	}

	return parseDetectResponse(body)
}

func parseDetectResponse(body []byte) ([]string, error) {
	var dr detectResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrBackend, err)
	}

	var labels []string
	if err := json.Unmarshal(dr.Message, &labels); err == nil {
		return labels, nil
	}
	var msg string
	if err := json.Unmarshal(dr.Message, &msg); err == nil {
		// Any plain message means no target.
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unexpected message %s", ErrBackend, dr.Message)
}
