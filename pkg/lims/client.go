// Package lims talks to the experiment database over its REST front end.
// The schema behind the endpoints is opaque; this client only moves JSON.
package lims

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// Session identifies one scheduled experiment session.
type Session struct {
	SessionID      int    `json:"session_id"`
	ProposalCode   string `json:"proposal_code"`
	ProposalNumber string `json:"proposal_number"`
	Beamline       string `json:"beamline"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
}

// DataCollection is the record stored for each collection. Fields the
// database does not know are dropped server side.
type DataCollection struct {
	CollectionID int     `json:"collection_id,omitempty"`
	SessionID    int     `json:"session_id"`
	SampleName   string  `json:"sample_name,omitempty"`
	Directory    string  `json:"directory"`
	Prefix       string  `json:"prefix"`
	RunNumber    int     `json:"run_number"`
	NumImages    int     `json:"num_images"`
	Exposure     float64 `json:"exposure_time"`
	Wavelength   float64 `json:"wavelength"`
	Resolution   float64 `json:"resolution"`
	Transmission float64 `json:"transmission"`
	StartTime    string  `json:"start_time,omitempty"`
	EndTime      string  `json:"end_time,omitempty"`
	Status       string  `json:"status,omitempty"`
}

type Client struct {
	base   string
	token  string
	httpc  *http.Client
	logger log.FieldLogger
}

func NewClient(baseURL, token string, logger log.FieldLogger) *Client {
	return &Client{
		base:   baseURL,
		token:  token,
		httpc:  &http.Client{Timeout: 10 * time.Second},
		logger: logger.WithField("component", "lims"),
	}
}

// GetSession looks up the current session for a proposal.
func (c *Client) GetSession(ctx context.Context, code, number string) (Session, error) {
	var session Session
	path := fmt.Sprintf("/sessions/%s/%s", code, number)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &session); err != nil {
		c.logger.Errorf("Failed to fetch session for %s%s: %v", code, number, err)
		return Session{}, err
	}
	return session, nil
}

// StoreDataCollection registers a new collection and returns it with the
// database-assigned id filled in.
func (c *Client) StoreDataCollection(ctx context.Context, dc DataCollection) (DataCollection, error) {
	var stored DataCollection
	if err := c.doJSON(ctx, http.MethodPost, "/collections", dc, &stored); err != nil {
		c.logger.Errorf("Failed to store data collection %s_%d: %v", dc.Prefix, dc.RunNumber, err)
		return DataCollection{}, err
	}

	c.logger.Infof("Stored data collection %s_%d as %d", dc.Prefix, dc.RunNumber, stored.CollectionID)
	return stored, nil
}

// FinishDataCollection updates an existing collection with its end state.
func (c *Client) FinishDataCollection(ctx context.Context, dc DataCollection) error {
	if dc.CollectionID == 0 {
		return fmt.Errorf("data collection has no id")
	}

	path := fmt.Sprintf("/collections/%d", dc.CollectionID)
	if err := c.doJSON(ctx, http.MethodPut, path, dc, nil); err != nil {
		c.logger.Errorf("Failed to finish data collection %d: %v", dc.CollectionID, err)
		return err
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
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
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lims returned %s", resp.Status)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
