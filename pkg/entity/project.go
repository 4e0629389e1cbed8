package entity

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Project is one project, keyed by numeric id. The author's username
// is needed for the studios and comments endpoints; when it is unknown
// the info fetch runs first and those calls follow once it resolves.
type Project struct {
	base
}

func NewProject(id int64, seed Raw) *Project {
	p := &Project{base: newBase(seed)}
	if id != 0 {
		p.set("id", id)
	}
	return p
}

func (p *Project) Kind() Kind   { return KindProject }
func (p *Project) ID() int64    { return p.num("id") }
func (p *Project) Name() string { return p.str("title") }

// AuthorUsername reads the author's username out of the merged data.
func (p *Project) AuthorUsername() string {
	if author := record(p.Snapshot()["author"]); author != nil {
		if username, _ := author["username"].(string); username != "" {
			return username
		}
	}
	// Site-api listings flatten the author to a bare username field.
	return p.str("creator")
}

// LastModified reads the project's last-modified time out of its
// history record. Zero while the record is unknown.
func (p *Project) LastModified() time.Time {
	if history := record(p.Snapshot()["history"]); history != nil {
		if modified, _ := history["modified"].(string); modified != "" {
			if t, err := time.Parse(time.RFC3339, modified); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func (p *Project) DisplayName() string {
	if title := p.Name(); title != "" {
		return title
	}
	return MissingProjectTitle
}

func (p *Project) FolderSegment() string {
	if id := p.ID(); id != 0 {
		return fmt.Sprintf("%s {%d}", p.DisplayName(), id)
	}
	return p.DisplayName()
}

// Collect fetches the project record and its remixes, then the
// author-scoped listings once the author is known. Unshared projects
// need the owner's token to be visible at all.
func (p *Project) Collect(ctx context.Context, api API) error {
	id := p.ID()
	if id == 0 {
		return nil
	}
	_, xToken := p.Authorization()

	info, err := api.ProjectInfo(ctx, id, xToken)
	if err != nil {
		return err
	}
	p.MergeData(info)

	var g errgroup.Group
	g.Go(func() error {
		remixes, err := api.ProjectRemixes(ctx, id, xToken)
		if err != nil {
			return err
		}
		p.set("remixes", remixes)
		return nil
	})

	if username := p.AuthorUsername(); username != "" {
		g.Go(func() error {
			studios, err := api.ProjectStudios(ctx, username, id, xToken)
			if err != nil {
				return err
			}
			p.set("studios", studios)
			return nil
		})
		g.Go(func() error {
			comments, err := api.ProjectComments(ctx, username, id, xToken)
			if err != nil {
				return err
			}
			p.set("comments", comments)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	p.SetCollected(true)
	return nil
}

// Gather mines the author, comment and reply authors, remixes and the
// remix ancestry, and the studios the project belongs to.
func (p *Project) Gather() []Stub {
	level := p.Level()
	defer p.SetGathered(true)
	if level != nil && *level == 0 {
		return nil
	}
	return p.references(childLevel(level))
}

// References is Gather without the level gate or the gathered mark.
func (p *Project) References() []Stub { return p.references(nil) }

func (p *Project) references(child *int) []Stub {
	var stubs []Stub
	data := p.Snapshot()
	if author := record(data["author"]); author != nil {
		stubs = appendUserStub(stubs, author, child)
	} else if username, _ := data["creator"].(string); username != "" {
		stubs = append(stubs, Stub{Kind: KindUser, Username: username, Level: child})
	}
	for _, comment := range asRecords(data["comments"]) {
		stubs = appendCommentAuthors(stubs, comment, child)
	}
	for _, remix := range asRecords(data["remixes"]) {
		stubs = appendProjectStub(stubs, remix, child)
	}
	if remix := record(data["remix"]); remix != nil {
		for _, key := range []string{"parent", "root"} {
			if id := toID(remix[key]); id != 0 && id != p.ID() {
				stubs = append(stubs, Stub{Kind: KindProject, ID: id, Level: child})
			}
		}
	}
	for _, studio := range asRecords(data["studios"]) {
		stubs = appendStudioStub(stubs, studio, child)
	}
	return stubs
}
