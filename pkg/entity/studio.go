package entity

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Studio is one studio, keyed by numeric id.
type Studio struct {
	base
}

func NewStudio(id int64, seed Raw) *Studio {
	s := &Studio{base: newBase(seed)}
	if id != 0 {
		s.set("id", id)
	}
	return s
}

func (s *Studio) Kind() Kind   { return KindStudio }
func (s *Studio) ID() int64    { return s.num("id") }
func (s *Studio) Name() string { return s.str("title") }

func (s *Studio) DisplayName() string {
	if title := s.Name(); title != "" {
		return title
	}
	return MissingStudioTitle
}

func (s *Studio) FolderSegment() string {
	if id := s.ID(); id != 0 {
		return fmt.Sprintf("%s {%d}", s.DisplayName(), id)
	}
	return s.DisplayName()
}

// Collect fetches the studio record and all five of its listings.
func (s *Studio) Collect(ctx context.Context, api API) error {
	id := s.ID()
	if id == 0 {
		return nil
	}

	var g errgroup.Group
	g.Go(func() error {
		info, err := api.StudioInfo(ctx, id)
		if err != nil {
			return err
		}
		s.MergeData(info)
		return nil
	})

	listings := []struct {
		key   string
		fetch func(context.Context, int64) ([]Raw, error)
	}{
		{"activity", api.StudioActivity},
		{"comments", api.StudioComments},
		{"curators", api.StudioCurators},
		{"managers", api.StudioManagers},
		{"projects", api.StudioProjects},
	}
	for _, listing := range listings {
		listing := listing
		g.Go(func() error {
			records, err := listing.fetch(ctx, id)
			if err != nil {
				return err
			}
			s.set(listing.key, records)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	s.SetCollected(true)
	return nil
}

// Gather mines the host, curators, managers, comment and activity
// actors, the member projects and their creators, and activity project
// references.
func (s *Studio) Gather() []Stub {
	level := s.Level()
	defer s.SetGathered(true)
	if level != nil && *level == 0 {
		return nil
	}
	return s.references(childLevel(level))
}

// References is Gather without the level gate or the gathered mark.
func (s *Studio) References() []Stub { return s.references(nil) }

func (s *Studio) references(child *int) []Stub {
	var stubs []Stub
	data := s.Snapshot()
	// The host arrives as a bare numeric user id on the studio record.
	if hostID := toID(data["host"]); hostID != 0 {
		stubs = append(stubs, Stub{Kind: KindUser, ID: hostID, Level: child})
	}
	for _, key := range []string{"curators", "managers"} {
		for _, rec := range asRecords(data[key]) {
			stubs = appendUserStub(stubs, rec, child)
		}
	}
	for _, comment := range asRecords(data["comments"]) {
		stubs = appendCommentAuthors(stubs, comment, child)
	}
	for _, rec := range asRecords(data["projects"]) {
		stubs = appendProjectStub(stubs, rec, child)
		if username, _ := rec["username"].(string); username != "" {
			stubs = append(stubs, Stub{Kind: KindUser, Username: username, Level: child})
		}
	}
	for _, event := range asRecords(data["activity"]) {
		if actor, _ := event["actor_username"].(string); actor != "" {
			stubs = append(stubs, Stub{Kind: KindUser, Username: actor, Level: child})
		}
		if projectID := toID(event["project_id"]); projectID != 0 {
			seed := Raw{"id": projectID}
			if title, _ := event["project_title"].(string); title != "" {
				seed["title"] = title
			}
			stubs = append(stubs, Stub{Kind: KindProject, ID: projectID, Level: child, Data: seed})
		}
	}
	return stubs
}
