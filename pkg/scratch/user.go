package scratch

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// UserInfo fetches the public profile record for a username. A nil
// record with no error means the user does not exist (or is deleted).
func (c *Client) UserInfo(ctx context.Context, username string) (Raw, error) {
	return c.getRecord(ctx, fmt.Sprintf("%s/users/%s", apiBase, url.PathEscape(username)), requestOptions{})
}

// UserFavorites lists every project the user has favorited.
func (c *Client) UserFavorites(ctx context.Context, username string) ([]Raw, error) {
	return c.getAllPages(ctx, fmt.Sprintf("%s/users/%s/favorites", apiBase, url.PathEscape(username)), requestOptions{})
}

// UserFollowers lists every user following this user.
func (c *Client) UserFollowers(ctx context.Context, username string) ([]Raw, error) {
	return c.getAllPages(ctx, fmt.Sprintf("%s/users/%s/followers", apiBase, url.PathEscape(username)), requestOptions{})
}

// UserFollowing lists every user this user follows.
func (c *Client) UserFollowing(ctx context.Context, username string) ([]Raw, error) {
	return c.getAllPages(ctx, fmt.Sprintf("%s/users/%s/following", apiBase, url.PathEscape(username)), requestOptions{})
}

// UserCuratedStudios lists the studios the user curates.
func (c *Client) UserCuratedStudios(ctx context.Context, username string) ([]Raw, error) {
	return c.getAllPages(ctx, fmt.Sprintf("%s/users/%s/studios/curate", apiBase, url.PathEscape(username)), requestOptions{})
}

// UserSharedProjects lists the user's shared projects.
func (c *Client) UserSharedProjects(ctx context.Context, username string) ([]Raw, error) {
	return c.getAllPages(ctx, fmt.Sprintf("%s/users/%s/projects", apiBase, url.PathEscape(username)), requestOptions{})
}

// UserUnsharedProjects lists the logged-in user's unshared projects.
// Requires the session cookie of the account itself.
func (c *Client) UserUnsharedProjects(ctx context.Context, sessionID string) ([]Raw, error) {
	return c.getSiteAPIPages(ctx, siteBase+"/site-api/projects/notshared/", sessionID)
}

// UserTrashedProjects lists the logged-in user's trashed projects.
func (c *Client) UserTrashedProjects(ctx context.Context, sessionID string) ([]Raw, error) {
	return c.getSiteAPIPages(ctx, siteBase+"/site-api/projects/trashed/", sessionID)
}

// getSiteAPIPages walks the legacy site-api page-numbered listings.
// Records arrive as {pk, model, fields}; they are flattened so that pk
// becomes id and the fields become top-level keys, matching the shape
// of the REST API.
func (c *Client) getSiteAPIPages(ctx context.Context, rawURL, sessionID string) ([]Raw, error) {
	opts := requestOptions{headers: sessionHeaders(sessionID)}
	var results []Raw
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		params.Set("ascsort", "")
		params.Set("descsort", "")

		var records []Raw
		if err := c.getJSON(ctx, applyParams(rawURL, params), opts, &records); err != nil {
			return nil, err
		}
		for _, record := range records {
			results = append(results, flattenSiteRecord(record))
		}
		if len(records) == 0 {
			return results, nil
		}
	}
}

func flattenSiteRecord(record Raw) Raw {
	fields, ok := record["fields"].(map[string]interface{})
	if !ok {
		return record
	}
	flat := make(Raw, len(fields)+1)
	for key, value := range fields {
		flat[key] = value
	}
	if pk, ok := record["pk"]; ok {
		flat["id"] = pk
	}
	return flat
}

// sessionHeaders builds the cookie header attached to authenticated
// site requests. The headers participate in the cache fingerprint, so
// cached responses never leak across sessions.
func sessionHeaders(sessionID string) map[string]string {
	if sessionID == "" {
		return nil
	}
	return map[string]string{
		"Cookie":  "scratchsessionsid=" + sessionID + ";scratchcsrftoken=a;scratchlanguage=en;",
		"Referer": siteBase + "/",
	}
}

// tokenHeaders builds the x-token header used by the REST API for
// authorization-sensitive reads.
func tokenHeaders(xToken string) map[string]string {
	if xToken == "" {
		return nil
	}
	return map[string]string{"x-token": xToken}
}
