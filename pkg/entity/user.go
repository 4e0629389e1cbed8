package entity

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// User is a platform account. Username is the natural key; the numeric
// id becomes known once the profile is fetched. A user discovered only
// by id (a studio host record) stays uncollectable until the id
// resolves to a username.
type User struct {
	base
}

// NewUser creates a user from whatever identity is known. Either
// username or id may be zero-valued, not both.
func NewUser(username string, id int64, seed Raw) *User {
	u := &User{base: newBase(seed)}
	if username != "" {
		u.set("username", username)
	}
	if id != 0 {
		u.set("id", id)
	}
	return u
}

func (u *User) Kind() Kind   { return KindUser }
func (u *User) ID() int64    { return u.num("id") }
func (u *User) Name() string { return u.str("username") }

func (u *User) DisplayName() string {
	if name := u.Name(); name != "" {
		return name
	}
	return MissingUsername
}

func (u *User) FolderSegment() string {
	if id := u.ID(); id != 0 {
		return fmt.Sprintf("%s {%d}", u.DisplayName(), id)
	}
	return u.DisplayName()
}

// Collect fetches the user's profile and every listing hanging off it.
// Unshared and trashed projects are only visible with the account's own
// session and are skipped without one.
func (u *User) Collect(ctx context.Context, api API) error {
	username := u.Name()
	if username == "" {
		// Known only by id; nothing is fetchable yet.
		return nil
	}
	sessionID, _ := u.Authorization()

	var g errgroup.Group
	g.Go(func() error {
		info, err := api.UserInfo(ctx, username)
		if err != nil {
			return err
		}
		u.MergeData(info)
		return nil
	})

	listings := []struct {
		key   string
		fetch func(context.Context, string) ([]Raw, error)
	}{
		{"favorites", api.UserFavorites},
		{"followers", api.UserFollowers},
		{"following", api.UserFollowing},
		{"curatedStudios", api.UserCuratedStudios},
		{"sharedProjects", api.UserSharedProjects},
		{"profileComments", api.UserProfileComments},
		{"followedStudios", api.UserFollowedStudios},
		{"activity", api.UserActivity},
	}
	for _, listing := range listings {
		listing := listing
		g.Go(func() error {
			records, err := listing.fetch(ctx, username)
			if err != nil {
				return err
			}
			u.set(listing.key, records)
			return nil
		})
	}

	if sessionID != "" {
		elevated := []struct {
			key   string
			fetch func(context.Context, string) ([]Raw, error)
		}{
			{"unsharedProjects", api.UserUnsharedProjects},
			{"trashedProjects", api.UserTrashedProjects},
		}
		for _, listing := range elevated {
			listing := listing
			g.Go(func() error {
				records, err := listing.fetch(ctx, sessionID)
				if err != nil {
					return err
				}
				u.set(listing.key, records)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	u.SetCollected(true)
	return nil
}

// Gather mines references: followed and following users, comment and
// reply authors, activity links, the user's projects in every listing,
// and the studios they curate or follow.
func (u *User) Gather() []Stub {
	level := u.Level()
	defer u.SetGathered(true)
	if level != nil && *level == 0 {
		return nil
	}
	return u.references(childLevel(level))
}

// References is Gather without the level gate or the gathered mark;
// the id-to-title resolution walks it.
func (u *User) References() []Stub { return u.references(nil) }

func (u *User) references(child *int) []Stub {
	var stubs []Stub
	for _, key := range []string{"followers", "following"} {
		for _, rec := range u.records(key) {
			stubs = appendUserStub(stubs, rec, child)
		}
	}
	for _, comment := range u.records("profileComments") {
		stubs = appendCommentAuthors(stubs, comment, child)
	}
	for _, key := range []string{"favorites", "sharedProjects", "unsharedProjects", "trashedProjects"} {
		for _, rec := range u.records(key) {
			stubs = appendProjectStub(stubs, rec, child)
		}
	}
	for _, key := range []string{"curatedStudios", "followedStudios"} {
		for _, rec := range u.records(key) {
			stubs = appendStudioStub(stubs, rec, child)
		}
	}
	stubs = append(stubs, stubsFromActivity(u.records("activity"), child)...)
	return stubs
}

// appendUserStub adds a user reference from a record carrying a
// username (follower and following listings, author records).
func appendUserStub(stubs []Stub, rec Raw, level *int) []Stub {
	username, _ := rec["username"].(string)
	if username == "" {
		return stubs
	}
	return append(stubs, Stub{Kind: KindUser, Username: username, Level: level, Data: rec})
}

func appendProjectStub(stubs []Stub, rec Raw, level *int) []Stub {
	id := toID(rec["id"])
	if id == 0 {
		return stubs
	}
	return append(stubs, Stub{Kind: KindProject, ID: id, Level: level, Data: rec})
}

func appendStudioStub(stubs []Stub, rec Raw, level *int) []Stub {
	id := toID(rec["id"])
	if id == 0 {
		return stubs
	}
	return append(stubs, Stub{Kind: KindStudio, ID: id, Level: level, Data: rec})
}

// appendCommentAuthors adds the comment's author and every reply
// author.
func appendCommentAuthors(stubs []Stub, comment Raw, level *int) []Stub {
	if author := record(comment["author"]); author != nil {
		stubs = appendUserStub(stubs, author, level)
	}
	for _, reply := range asRecords(comment["replies"]) {
		if author := record(reply["author"]); author != nil {
			stubs = appendUserStub(stubs, author, level)
		}
	}
	return stubs
}

// stubsFromActivity mines the scraped activity feed's links for user,
// project, and studio references.
func stubsFromActivity(entries []Raw, level *int) []Stub {
	var stubs []Stub
	for _, entry := range entries {
		for _, link := range asRecords(entry["links"]) {
			href, _ := link["href"].(string)
			text, _ := link["text"].(string)
			switch kind, name, id := classifyLink(href); kind {
			case KindUser:
				stubs = append(stubs, Stub{Kind: KindUser, Username: name, Level: level})
			case KindProject:
				stubs = append(stubs, Stub{Kind: KindProject, ID: id, Level: level, Data: Raw{"id": id, "title": text}})
			case KindStudio:
				stubs = append(stubs, Stub{Kind: KindStudio, ID: id, Level: level, Data: Raw{"id": id, "title": text}})
			}
		}
	}
	return stubs
}

// classifyLink maps a site href to the entity it names.
func classifyLink(href string) (Kind, string, int64) {
	href = strings.TrimPrefix(href, "https://scratch.mit.edu")
	parts := strings.Split(strings.Trim(href, "/"), "/")
	if len(parts) != 2 {
		return "", "", 0
	}
	switch parts[0] {
	case "users":
		return KindUser, parts[1], 0
	case "projects":
		if id, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			return KindProject, "", id
		}
	case "studios":
		if id, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			return KindStudio, "", id
		}
	}
	return "", "", 0
}
