// Package rescuetime implements ports.ActivitySource against the RescueTime
// Analytic Data API.
package rescuetime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"timebill/internal/domain"
)

// Client fetches document-level telemetry for single dates.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(baseURL, apiKey string, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://www.rescuetime.com"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

// payload mirrors the Analytic Data API response. Row cells are positional
// and mixed-type; column positions are resolved from row_headers by name.
type payload struct {
	RowHeaders []string `json:"row_headers"`
	Rows       [][]any  `json:"rows"`
}

// Column names as the API reports them.
const (
	colSeconds      = "Time Spent (seconds)"
	colActivity     = "Activity"
	colCategory     = "Category"
	colProductivity = "Productivity"
	colDocument     = "Document"
)

// FetchDay pulls the most granular (document-level) rows for one date.
// Rows missing required cells are skipped, not fatal.
func (c *Client) FetchDay(ctx context.Context, date string) ([]domain.RawActivityRecord, error) {
	if c.apiKey == "" {
		return nil, errors.New("rescuetime: missing api key")
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = "/anapi/data"
	q := u.Query()
	q.Set("key", c.apiKey)
	q.Set("format", "json")
	q.Set("restrict_begin", date)
	q.Set("restrict_end", date)
	q.Set("perspective", "rank")
	q.Set("restrict_kind", "document")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rescuetime: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var p payload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("rescuetime: decoding response: %w", err)
	}

	idx, err := columnIndex(p.RowHeaders)
	if err != nil {
		return nil, err
	}

	out := make([]domain.RawActivityRecord, 0, len(p.Rows))
	skipped := 0
	for _, row := range p.Rows {
		rec, ok := convertRow(row, idx, date)
		if !ok {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	if skipped > 0 {
		c.log.Warn("skipped malformed telemetry rows",
			slog.String("date", date), slog.Int("count", skipped))
	}
	c.log.Debug("fetched telemetry", slog.String("date", date), slog.Int("rows", len(out)))
	return out, nil
}

type columns struct {
	seconds, activity, category, productivity, document int
}

func columnIndex(headers []string) (columns, error) {
	find := func(name string) (int, error) {
		for i, h := range headers {
			if h == name {
				return i, nil
			}
		}
		return 0, fmt.Errorf("rescuetime: missing column %q", name)
	}
	var idx columns
	var err error
	if idx.seconds, err = find(colSeconds); err != nil {
		return idx, err
	}
	if idx.activity, err = find(colActivity); err != nil {
		return idx, err
	}
	if idx.category, err = find(colCategory); err != nil {
		return idx, err
	}
	if idx.productivity, err = find(colProductivity); err != nil {
		return idx, err
	}
	if idx.document, err = find(colDocument); err != nil {
		return idx, err
	}
	return idx, nil
}

func convertRow(row []any, idx columns, date string) (domain.RawActivityRecord, bool) {
	max := idx.seconds
	for _, i := range []int{idx.activity, idx.category, idx.productivity, idx.document} {
		if i > max {
			max = i
		}
	}
	if len(row) <= max {
		return domain.RawActivityRecord{}, false
	}

	seconds, ok := asInt(row[idx.seconds])
	if !ok {
		return domain.RawActivityRecord{}, false
	}
	activity, ok := row[idx.activity].(string)
	if !ok || activity == "" {
		return domain.RawActivityRecord{}, false
	}
	document, ok := row[idx.document].(string)
	if !ok {
		return domain.RawActivityRecord{}, false
	}
	category, _ := row[idx.category].(string)
	productivity, _ := asInt(row[idx.productivity])

	return domain.RawActivityRecord{
		LogDate:         date,
		DurationSeconds: seconds,
		Activity:        activity,
		Category:        category,
		Productivity:    int(productivity),
		Document:        document,
	}, true
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
