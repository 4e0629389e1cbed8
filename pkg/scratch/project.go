package scratch

import (
	"context"
	"fmt"
	"net/url"

	errs "scratcharchive/pkg/errors"
)

// ProjectInfo fetches a project record. Unshared projects are visible
// only with the owner's token; without it the API reports not-found and
// a nil record is returned.
func (c *Client) ProjectInfo(ctx context.Context, projectID int64, xToken string) (Raw, error) {
	return c.getRecord(ctx, fmt.Sprintf("%s/projects/%s", apiBase, fmtID(projectID)),
		requestOptions{headers: tokenHeaders(xToken)})
}

// ProjectRemixes lists the remixes of a project.
func (c *Client) ProjectRemixes(ctx context.Context, projectID int64, xToken string) ([]Raw, error) {
	return c.getAllPages(ctx, fmt.Sprintf("%s/projects/%s/remixes", apiBase, fmtID(projectID)),
		requestOptions{headers: tokenHeaders(xToken)})
}

// ProjectStudios lists the studios a project has been added to. The
// endpoint is scoped under the author's username, which must be known
// before the call can be issued.
func (c *Client) ProjectStudios(ctx context.Context, username string, projectID int64, xToken string) ([]Raw, error) {
	if username == "" {
		return nil, errs.New(errs.ErrorTypeUsernameUnknown,
			"studios listing for project %d needs the author's username", projectID)
	}
	return c.getAllPages(ctx,
		fmt.Sprintf("%s/users/%s/projects/%s/studios", apiBase, url.PathEscape(username), fmtID(projectID)),
		requestOptions{headers: tokenHeaders(xToken)})
}

// ProjectComments lists a project's comments with their reply threads
// attached under each comment's "replies" key.
func (c *Client) ProjectComments(ctx context.Context, username string, projectID int64, xToken string) ([]Raw, error) {
	if username == "" {
		return nil, errs.New(errs.ErrorTypeUsernameUnknown,
			"comments listing for project %d needs the author's username", projectID)
	}
	base := fmt.Sprintf("%s/users/%s/projects/%s/comments", apiBase, url.PathEscape(username), fmtID(projectID))
	return c.getCommentsWithReplies(ctx, base, requestOptions{headers: tokenHeaders(xToken)})
}

// getCommentsWithReplies paginates a comments listing and resolves each
// thread's replies from the per-comment replies endpoint.
func (c *Client) getCommentsWithReplies(ctx context.Context, baseURL string, opts requestOptions) ([]Raw, error) {
	comments, err := c.getAllPages(ctx, baseURL, opts)
	if err != nil {
		return nil, err
	}
	for _, comment := range comments {
		count, _ := comment["reply_count"].(float64)
		if count == 0 {
			comment["replies"] = []Raw{}
			continue
		}
		id, ok := comment["id"].(float64)
		if !ok {
			continue
		}
		replies, err := c.getAllPages(ctx, fmt.Sprintf("%s/%d/replies", baseURL, int64(id)), opts)
		if err != nil {
			return nil, err
		}
		comment["replies"] = replies
	}
	return comments, nil
}
