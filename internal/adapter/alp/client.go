// Package alp is the client for the ALP practice-management API. The vendor
// endpoints are not live yet, so the read methods return fixture data and
// PostTimeEntry logs the payload it would send; the request plumbing (base
// URL, bearer auth) is already in place for when they are.
package alp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"timebill/internal/ports"
)

// Client implements ports.PracticeClient.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(baseURL, apiKey string, log *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

func (c *Client) authHeader() (string, error) {
	if c.apiKey == "" {
		return "", errors.New("alp: missing api key")
	}
	return "Bearer " + c.apiKey, nil
}

// Matters lists the billing matters available to the configured key.
func (c *Client) Matters(ctx context.Context) ([]ports.Matter, error) {
	// GET {base}/matters with the bearer header once the vendor API is live.
	c.log.Debug("listing alp matters")
	return []ports.Matter{
		{ID: 1, Name: "Matter 001 - Corporate Restructuring"},
		{ID: 2, Name: "Matter 002 - IP Litigation"},
	}, nil
}

// MatterOutcomes lists the outcomes (phases) for one matter.
func (c *Client) MatterOutcomes(ctx context.Context, matterID int64) ([]ports.Outcome, error) {
	c.log.Debug("listing alp outcomes", slog.Int64("matter_id", matterID))
	return []ports.Outcome{
		{ID: 101, Name: "Phase 1: Discovery"},
		{ID: 102, Name: "Phase 2: Negotiation"},
	}, nil
}

// OutcomeComponents lists the billable components for one outcome.
func (c *Client) OutcomeComponents(ctx context.Context, outcomeID int64) ([]ports.Component, error) {
	c.log.Debug("listing alp components", slog.Int64("outcome_id", outcomeID))
	return []ports.Component{
		{ID: 1001, Name: "Initial client meeting"},
		{ID: 1002, Name: "Drafting discovery documents"},
	}, nil
}

// PostTimeEntry submits a finalized time entry.
func (c *Client) PostTimeEntry(ctx context.Context, entry ports.PracticeTimeEntry) error {
	if _, err := c.authHeader(); err != nil {
		return err
	}
	// POST {base}/time_entries with the JSON payload once the vendor API is
	// live; until then the submission is recorded locally only.
	c.log.Info("posting time entry to alp",
		slog.String("date", entry.Date),
		slog.Float64("units", entry.Units),
		slog.String("description", entry.Description))
	return nil
}

var _ ports.PracticeClient = (*Client)(nil)
