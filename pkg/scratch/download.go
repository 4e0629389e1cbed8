package scratch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	errs "scratcharchive/pkg/errors"
)

// ProjectBinary is a downloaded project file. Date is zero for a live
// download and the snapshot capture time for an archived one.
type ProjectBinary struct {
	Data   []byte
	Format string
	Date   time.Time
}

// DownloadProject fetches a project's current binary from the projects
// host. The download is gated by a short-lived project token, so the
// info record is re-fetched uncached to obtain a fresh one. A nil
// binary with no error means the project is not downloadable.
func (c *Client) DownloadProject(ctx context.Context, projectID int64, xToken string) (*ProjectBinary, error) {
	info, err := c.fetch(ctx, fmt.Sprintf("%s/projects/%s", apiBase, fmtID(projectID)),
		requestOptions{headers: tokenHeaders(xToken), shape: "json", noCache: true})
	if err != nil {
		return nil, err
	}
	record, err := decodeRecord(info)
	if err != nil || record == nil {
		return nil, err
	}
	projectToken, _ := record["project_token"].(string)

	binaryURL := fmt.Sprintf("%s/%s", projectsBase, fmtID(projectID))
	if projectToken != "" {
		binaryURL += "?token=" + url.QueryEscape(projectToken)
	}
	data, err := c.fetch(ctx, binaryURL, requestOptions{shape: "bytes", noCache: true})
	if err != nil || len(data) == 0 {
		return nil, err
	}
	return &ProjectBinary{Data: data, Format: detectFormat(data)}, nil
}

// DownloadProjectFromWayback looks up the closest Wayback Machine
// snapshot of a project's binary and fetches it. A non-zero olderThan
// bounds the search so the snapshot predates the project's current
// state; the availability API misbehaves without a timestamp, so an
// unbounded lookup sends timestamp zero. A nil binary with no error
// means no snapshot exists.
func (c *Client) DownloadProjectFromWayback(ctx context.Context, projectID int64, olderThan time.Time) (*ProjectBinary, error) {
	params := url.Values{}
	params.Set("url", fmt.Sprintf("projects.scratch.mit.edu/%s", fmtID(projectID)))
	params.Set("timestamp", waybackTimestamp(olderThan))

	var lookup struct {
		ArchivedSnapshots struct {
			Closest struct {
				Available bool   `json:"available"`
				URL       string `json:"url"`
				Timestamp string `json:"timestamp"`
			} `json:"closest"`
		} `json:"archived_snapshots"`
	}
	if err := c.getJSON(ctx, applyParams(waybackBase, params), requestOptions{}, &lookup); err != nil {
		return nil, err
	}
	closest := lookup.ArchivedSnapshots.Closest
	if !closest.Available || closest.URL == "" {
		return nil, nil
	}

	data, err := c.get(ctx, rawSnapshotURL(closest.URL, closest.Timestamp), requestOptions{shape: "bytes"})
	if err != nil || len(data) == 0 {
		return nil, err
	}
	date, _ := time.Parse("20060102150405", closest.Timestamp)
	return &ProjectBinary{Data: data, Format: detectFormat(data), Date: date}, nil
}

// waybackTimestamp renders the availability lookup's timestamp bound.
func waybackTimestamp(olderThan time.Time) string {
	if olderThan.IsZero() {
		return "0"
	}
	return olderThan.UTC().Format("20060102150405")
}

// rawSnapshotURL rewrites a snapshot URL into its id_ form, which
// serves the original bytes without the Wayback toolbar injected.
func rawSnapshotURL(snapshotURL, timestamp string) string {
	if timestamp == "" {
		return snapshotURL
	}
	return strings.Replace(snapshotURL, "/"+timestamp+"/", "/"+timestamp+"id_/", 1)
}

// DownloadImage fetches an image asset (avatar or thumbnail). Images
// bypass the request cache since they land directly in the archive.
func (c *Client) DownloadImage(ctx context.Context, imageURL string) ([]byte, error) {
	return c.fetch(ctx, imageURL, requestOptions{shape: "bytes", noCache: true})
}

// detectFormat classifies a project binary by its leading bytes: the
// pre-2.0 editor wrote a ScratchV header, 2.0 shipped zip archives,
// and 3.0 serves bare project JSON.
func detectFormat(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("ScratchV")):
		return "sb"
	case bytes.HasPrefix(data, []byte("PK")):
		return "sb2"
	default:
		return "sb3"
	}
}

func decodeRecord(data []byte) (Raw, error) {
	if len(data) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, nil
	}
	var record Raw
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errs.New(errs.ErrorTypeParsing, "decoding project record: %v", err)
	}
	return record, nil
}
