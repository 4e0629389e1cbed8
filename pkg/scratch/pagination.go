package scratch

import (
	"context"
	"net/url"
	"strconv"
)

// getAllPages walks an offset-paginated REST listing to exhaustion. The
// API caps pages at pageLimit, so a short page terminates the walk.
func (c *Client) getAllPages(ctx context.Context, rawURL string, opts requestOptions) ([]Raw, error) {
	var results []Raw
	for offset := 0; ; offset += pageLimit {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(pageLimit))
		params.Set("offset", strconv.Itoa(offset))

		var page []Raw
		if err := c.getJSON(ctx, applyParams(rawURL, params), opts, &page); err != nil {
			return nil, err
		}
		results = append(results, page...)
		if len(page) < pageLimit {
			return results, nil
		}
	}
}

// getAllPagesDateLimited walks a listing whose pagination key is the
// datetime_created of the last record rather than an offset. Used for
// studio activity, which rejects offsets past a shallow limit.
func (c *Client) getAllPagesDateLimited(ctx context.Context, rawURL string, opts requestOptions) ([]Raw, error) {
	var results []Raw
	seen := make(map[string]bool)
	dateLimit := ""
	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(pageLimit))
		if dateLimit != "" {
			params.Set("dateLimit", dateLimit)
		}

		var page []Raw
		if err := c.getJSON(ctx, applyParams(rawURL, params), opts, &page); err != nil {
			return nil, err
		}

		added := 0
		for _, record := range page {
			id, _ := record["id"].(string)
			if id == "" {
				if n, ok := record["id"].(float64); ok {
					id = strconv.FormatFloat(n, 'f', -1, 64)
				}
			}
			if id != "" && seen[id] {
				continue
			}
			seen[id] = true
			results = append(results, record)
			added++
			if created, ok := record["datetime_created"].(string); ok {
				dateLimit = created
			}
		}
		// Pages overlap at the boundary record; stop once a page adds
		// nothing new or comes back short.
		if added == 0 || len(page) < pageLimit {
			return results, nil
		}
	}
}
