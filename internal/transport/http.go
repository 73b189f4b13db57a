package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clachance14/pipetrak/internal/model"
)

// HTTPClient talks to the central server's REST API. Every request
// carries the client timeout as its upper bound; a timeout is handled
// the same as a network error by the retry path.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPClient) SubmitUpdate(ctx context.Context, milestoneID string, payload model.UpdateValue) (*model.Milestone, error) {
	var snapshot model.Milestone
	url := fmt.Sprintf("%s/api/milestones/%s", c.baseURL, milestoneID)
	if err := c.post(ctx, url, payload, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (c *HTTPClient) SubmitBulk(ctx context.Context, req model.BulkRequest) (*model.BulkResult, error) {
	var result model.BulkResult
	if err := c.post(ctx, c.baseURL+"/api/milestones/bulk", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) post(ctx context.Context, url string, payload, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Op: "post " + url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &TransientError{Op: "post " + url, Err: fmt.Errorf("server returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ValidationError{Msg: fmt.Sprintf("server rejected request (%d): %s", resp.StatusCode, body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
