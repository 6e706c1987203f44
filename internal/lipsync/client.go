package lipsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/glossalabs/glossa-core/internal/lang"
)

// Job states reported by the render service.
const (
	StateQueued    = "queued"
	StateRendering = "rendering"
	StateDone      = "done"
	StateFailed    = "failed"
)

// SubmitRequest describes one lip-sync render job: the translated speech
// audio plus the avatar and language it should be rendered for. Audio is raw
// PCM at the runtime's frame format; the service re-times mouth shapes from
// it.
type SubmitRequest struct {
	Room     string `json:"room"`
	Language string `json:"language"`
	Avatar   string `json:"avatar,omitempty"`
	Audio    []byte `json:"audio"`
}

// Status is a point-in-time view of a submitted job.
type Status struct {
	JobID    string  `json:"job_id"`
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error,omitempty"`
}

// Client talks to the asynchronous lip-sync render service. Rendering runs
// well behind real time, so jobs are submitted, polled, and fetched off the
// live delivery path.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{endpoint: endpoint, http: http.DefaultClient}
}

// Submit enqueues a render job and returns its id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if !lang.Supported(req.Language) {
		return "", lang.ErrUnsupported{Code: req.Language}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit lipsync job: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("lipsync service returned status %s", resp.Status)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if status.JobID == "" {
		return "", fmt.Errorf("lipsync service returned empty job id")
	}
	return status.JobID, nil
}

// Poll reports the current state of a job.
func (c *Client) Poll(ctx context.Context, jobID string) (Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return Status{}, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Status{}, fmt.Errorf("poll lipsync job: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Status{}, fmt.Errorf("lipsync service returned status %s", resp.Status)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return Status{}, fmt.Errorf("decode poll response: %w", err)
	}
	return status, nil
}

// Fetch downloads the rendered video for a completed job.
func (c *Client) Fetch(ctx context.Context, jobID string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/jobs/"+jobID+"/result", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch lipsync result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("lipsync service returned status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
