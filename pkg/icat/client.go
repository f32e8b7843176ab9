// Package icat pushes dataset metadata to the facility catalog. Entries are
// queued in memory and flushed in order; a failed flush keeps the queue so
// nothing is lost while the catalog is down.
package icat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Dataset describes one collected dataset to be catalogued.
type Dataset struct {
	Proposal   string
	Sample     string
	Beamline   string
	Directory  string
	Prefix     string
	RunNumber  int
	NumImages  int
	Exposure   float64
	Wavelength float64
	Resolution float64
	StartTime  time.Time
	EndTime    time.Time
}

type ingestRequest struct {
	Proposal string            `json:"proposal"`
	Location string            `json:"location"`
	Metadata map[string]string `json:"metadata"`
}

type Client struct {
	base   string
	httpc  *http.Client
	logger log.FieldLogger

	mu    sync.Mutex
	queue []Dataset
}

func NewClient(baseURL string, logger log.FieldLogger) *Client {
	return &Client{
		base:   baseURL,
		httpc:  &http.Client{Timeout: 10 * time.Second},
		logger: logger.WithField("component", "icat"),
	}
}

// Store queues a dataset for the next flush.
func (c *Client) Store(ds Dataset) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue = append(c.queue, ds)
	c.logger.Debugf("Queued dataset %s_%d, %d pending", ds.Prefix, ds.RunNumber, len(c.queue))
}

// Pending returns how many datasets await ingestion.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Flush sends all queued datasets to the catalog. On the first failure the
// remaining entries, the failed one included, stay queued.
func (c *Client) Flush(ctx context.Context) error {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	for i, ds := range pending {
		if err := c.ingest(ctx, ds); err != nil {
			c.mu.Lock()
			c.queue = append(pending[i:], c.queue...)
			c.mu.Unlock()

			c.logger.Errorf("Failed to ingest dataset %s_%d: %v", ds.Prefix, ds.RunNumber, err)
			return err
		}
	}

	if len(pending) > 0 {
		c.logger.Infof("Ingested %d datasets", len(pending))
	}
	return nil
}

func (c *Client) ingest(ctx context.Context, ds Dataset) error {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(ingestRequest{
		Proposal: ds.Proposal,
		Location: ds.Directory,
		Metadata: flatten(ds),
	}); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/ingest", &body)
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
		return fmt.Errorf("catalog returned %s", resp.Status)
	}
	return nil
}

// flatten turns a dataset into the flat string map the catalog ingests.
// Zero-valued optional fields are left out.
func flatten(ds Dataset) map[string]string {
	m := map[string]string{
		"proposal":  ds.Proposal,
		"beamline":  ds.Beamline,
		"directory": ds.Directory,
		"prefix":    ds.Prefix,
		"run":       strconv.Itoa(ds.RunNumber),
		"images":    strconv.Itoa(ds.NumImages),
	}

	if ds.Sample != "" {
		m["sample"] = ds.Sample
	}
	if ds.Exposure > 0 {
		m["exposure_time"] = strconv.FormatFloat(ds.Exposure, 'g', -1, 64)
	}
	if ds.Wavelength > 0 {
		m["wavelength"] = strconv.FormatFloat(ds.Wavelength, 'g', -1, 64)
	}
	if ds.Resolution > 0 {
		m["resolution"] = strconv.FormatFloat(ds.Resolution, 'g', -1, 64)
	}
	if !ds.StartTime.IsZero() {
		m["start_time"] = ds.StartTime.Format(time.RFC3339)
	}
	if !ds.EndTime.IsZero() {
		m["end_time"] = ds.EndTime.Format(time.RFC3339)
	}

	return m
}
