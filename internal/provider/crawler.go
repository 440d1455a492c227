package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/vitalsync/vitalsync/internal/errors"
	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/models"
)

// maxPages bounds a single crawl. A provider bug that loops the cursor must
// not turn into an unbounded request storm against the daily quota.
const maxPages = 500

// Crawler walks the provider's cursor-paginated collections, concatenating
// pages in the order the server returns them.
type Crawler struct {
	client *Client
	logger *logging.Logger
}

// NewCrawler creates a crawler on top of the resilient client.
func NewCrawler(client *Client, logger *logging.Logger) *Crawler {
	return &Crawler{client: client, logger: logger}
}

// page is the provider's pagination envelope.
type page struct {
	Data      []models.RawRecord `json:"data"`
	NextToken string             `json:"nextToken"`
}

// Collect fetches every record of the resource within the range for the
// principal. Pagination stops when the envelope carries no nextToken, and
// defensively when a page arrives with a token but zero records. Each page
// fetch goes through the client's full protection stack, so a long crawl
// transparently absorbs token refreshes, rate-limit waits and retries.
func (c *Crawler) Collect(ctx context.Context, principalID string, resource models.Resource, rng models.DateRange) ([]models.RawRecord, error) {
	if !resource.Valid() {
		return nil, &errors.ErrProviderCall{Status: 0, Reason: fmt.Sprintf("unknown resource %q", resource)}
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	var (
		records   []models.RawRecord
		nextToken string
	)

	for pages := 0; ; pages++ {
		if pages >= maxPages {
			c.logger.ErrorWithContext(ctx, "pagination aborted at page cap",
				"principal_id", principalID, "resource", string(resource), "pages", pages)
			return nil, &errors.ErrProviderCall{Status: 0, Reason: fmt.Sprintf("pagination exceeded %d pages", maxPages)}
		}

		query := url.Values{
			"start": {rng.Start.UTC().Format(time.RFC3339)},
			"end":   {rng.End.UTC().Format(time.RFC3339)},
		}
		if nextToken != "" {
			query.Set("nextToken", nextToken)
		}

		resp, err := c.client.Get(ctx, principalID, resource.Path(), query)
		if err != nil {
			return nil, err
		}

		var p page
		if err := json.Unmarshal(resp.Body, &p); err != nil {
			return nil, &errors.ErrProviderCall{Status: resp.Status, Reason: fmt.Sprintf("malformed page envelope: %v", err)}
		}

		records = append(records, p.Data...)

		if p.NextToken == "" {
			break
		}
		if len(p.Data) == 0 {
			// A token with an empty page smells like a cursor loop. Take
			// what we have rather than spin.
			c.logger.WarnWithContext(ctx, "empty page with continuation token, stopping crawl",
				"principal_id", principalID, "resource", string(resource), "pages", pages+1)
			break
		}
		nextToken = p.NextToken
	}

	c.logger.DebugWithContext(ctx, "crawl complete",
		"principal_id", principalID, "resource", string(resource), "records", len(records))
	return records, nil
}
