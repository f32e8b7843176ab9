package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// schedulerClient talks to the batch scheduler's REST front end. The
// scheduler is an opaque service: submit a job, read its state string,
// cancel it.
type schedulerClient struct {
	base   string
	httpc  *http.Client
	logger log.FieldLogger
}

func newSchedulerClient(baseURL string, logger log.FieldLogger) *schedulerClient {
	return &schedulerClient{
		base:   baseURL,
		httpc:  &http.Client{Timeout: 10 * time.Second},
		logger: logger.WithField("component", "scheduler"),
	}
}

type submitRequest struct {
	Name        string `json:"name"`
	Queue       string `json:"queue"`
	PayloadPath string `json:"payload_path"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type stateResponse struct {
	State string `json:"state"`
}

func (c *schedulerClient) submit(ctx context.Context, req submitRequest) (string, error) {
	var resp submitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/jobs", req, &resp); err != nil {
		return "", fmt.Errorf("failed to submit job %s: %v", req.Name, err)
	}

	c.logger.Infof("Submitted job %s as %s", req.Name, resp.JobID)
	return resp.JobID, nil
}

func (c *schedulerClient) state(ctx context.Context, name string) (State, error) {
	var resp stateResponse
	if err := c.doJSON(ctx, http.MethodGet, "/jobs/"+name+"/state", nil, &resp); err != nil {
		return StateUnknown, fmt.Errorf("failed to get state of job %s: %v", name, err)
	}
	return State(resp.State), nil
}

func (c *schedulerClient) cancel(ctx context.Context, name string) error {
	if err := c.doJSON(ctx, http.MethodPost, "/jobs/"+name+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("failed to cancel job %s: %v", name, err)
	}

	c.logger.Infof("Cancelled job %s", name)
	return nil
}

func (c *schedulerClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scheduler returned %s", resp.Status)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
