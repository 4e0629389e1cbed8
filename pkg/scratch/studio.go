package scratch

import (
	"context"
	"fmt"
)

// StudioInfo fetches a studio record by id.
func (c *Client) StudioInfo(ctx context.Context, studioID int64) (Raw, error) {
	return c.getRecord(ctx, fmt.Sprintf("%s/studios/%s", apiBase, fmtID(studioID)), requestOptions{})
}

// StudioActivity lists a studio's full activity feed. The endpoint
// rejects deep offsets, so pagination walks backwards through creation
// timestamps instead.
func (c *Client) StudioActivity(ctx context.Context, studioID int64) ([]Raw, error) {
	return c.getAllPagesDateLimited(ctx, fmt.Sprintf("%s/studios/%s/activity", apiBase, fmtID(studioID)), requestOptions{})
}

// StudioComments lists a studio's comments with reply threads attached.
func (c *Client) StudioComments(ctx context.Context, studioID int64) ([]Raw, error) {
	return c.getCommentsWithReplies(ctx, fmt.Sprintf("%s/studios/%s/comments", apiBase, fmtID(studioID)), requestOptions{})
}

// StudioCurators lists a studio's curators.
func (c *Client) StudioCurators(ctx context.Context, studioID int64) ([]Raw, error) {
	return c.getAllPages(ctx, fmt.Sprintf("%s/studios/%s/curators", apiBase, fmtID(studioID)), requestOptions{})
}

// StudioManagers lists a studio's managers, including its host.
func (c *Client) StudioManagers(ctx context.Context, studioID int64) ([]Raw, error) {
	return c.getAllPages(ctx, fmt.Sprintf("%s/studios/%s/managers", apiBase, fmtID(studioID)), requestOptions{})
}

// StudioProjects lists the projects in a studio.
func (c *Client) StudioProjects(ctx context.Context, studioID int64) ([]Raw, error) {
	return c.getAllPages(ctx, fmt.Sprintf("%s/studios/%s/projects", apiBase, fmtID(studioID)), requestOptions{})
}
