// Package entity models the three archivable things on the platform:
// users, projects, and studios. An entity accumulates raw platform
// records merged field by field, knows how to collect its own data from
// the platform, and can mine its collected data for references to
// other entities.
package entity

import (
	"context"
	"strings"
	"sync"
)

// Raw is an untyped platform record. Kept untyped so every field the
// platform returns survives into the archive unchanged.
type Raw = map[string]interface{}

// Kind tags the entity variants.
type Kind string

const (
	KindUser    Kind = "user"
	KindProject Kind = "project"
	KindStudio  Kind = "studio"
)

// Reserved raw-data keys. Keys with a leading underscore are archiver
// state, not platform data; storage excludes them from snapshots.
const (
	keyLevel     = "_level"
	keyCollected = "_collected"
	keyGathered  = "_gathered"
	keySessionID = "_sessionID"
	keyXToken    = "_xToken"
)

// Placeholder names used while an entity's real name is still unknown.
const (
	MissingUsername     = "-Unable to Acquire Username-"
	MissingProjectTitle = "-Unable to Acquire Project Title-"
	MissingStudioTitle  = "-Unable to Acquire Studio Title-"
	MissingOwner        = "-Unable to Identify User-"
)

// Stub is a reference to an entity discovered while gathering: enough
// identity to create or merge the entity, plus the seed fields the
// listing happened to include. HasLevel distinguishes an explicit
// level (nil Level meaning unlimited) from no level at all, which is
// how snapshots loaded from disk arrive.
type Stub struct {
	Kind     Kind
	Username string
	ID       int64
	Level    *int
	HasLevel bool
	Data     Raw
}

// UserAPI, ProjectAPI, and StudioAPI are the platform calls each
// variant's collect needs. The scratch client satisfies all three.
type UserAPI interface {
	UserInfo(ctx context.Context, username string) (Raw, error)
	UserFavorites(ctx context.Context, username string) ([]Raw, error)
	UserFollowers(ctx context.Context, username string) ([]Raw, error)
	UserFollowing(ctx context.Context, username string) ([]Raw, error)
	UserCuratedStudios(ctx context.Context, username string) ([]Raw, error)
	UserSharedProjects(ctx context.Context, username string) ([]Raw, error)
	UserUnsharedProjects(ctx context.Context, sessionID string) ([]Raw, error)
	UserTrashedProjects(ctx context.Context, sessionID string) ([]Raw, error)
	UserProfileComments(ctx context.Context, username string) ([]Raw, error)
	UserFollowedStudios(ctx context.Context, username string) ([]Raw, error)
	UserActivity(ctx context.Context, username string) ([]Raw, error)
}

type ProjectAPI interface {
	ProjectInfo(ctx context.Context, projectID int64, xToken string) (Raw, error)
	ProjectRemixes(ctx context.Context, projectID int64, xToken string) ([]Raw, error)
	ProjectStudios(ctx context.Context, username string, projectID int64, xToken string) ([]Raw, error)
	ProjectComments(ctx context.Context, username string, projectID int64, xToken string) ([]Raw, error)
}

type StudioAPI interface {
	StudioInfo(ctx context.Context, studioID int64) (Raw, error)
	StudioActivity(ctx context.Context, studioID int64) ([]Raw, error)
	StudioComments(ctx context.Context, studioID int64) ([]Raw, error)
	StudioCurators(ctx context.Context, studioID int64) ([]Raw, error)
	StudioManagers(ctx context.Context, studioID int64) ([]Raw, error)
	StudioProjects(ctx context.Context, studioID int64) ([]Raw, error)
}

// API is the full platform surface collect fans out over.
type API interface {
	UserAPI
	ProjectAPI
	StudioAPI
}

// Entity is one archivable thing. Implementations are safe for
// concurrent use; Collect's internal fan-out and the engine's
// cross-entity fan-out both touch the raw data.
type Entity interface {
	Kind() Kind
	ID() int64
	// Name is the username for users and the title for projects and
	// studios; empty while unresolved.
	Name() string

	Level() *int
	// SetLevel merges a level under the max-wins rule; it never lowers
	// an entity's level once one is set.
	SetLevel(level *int)
	// HasLevel distinguishes "unlimited" from "never assigned".
	HasLevel() bool
	Collected() bool
	Gathered() bool
	SetCollected(collected bool)
	SetGathered(gathered bool)

	// Snapshot returns a deep-enough copy of the raw data for
	// serialization; the caller may not mutate nested values.
	Snapshot() Raw
	// MergeData merges a platform record field by field; nil fragments
	// (not-found responses) are rejected.
	MergeData(fragment Raw)
	// SetAuthorization attaches credentials, reporting whether they
	// changed. A change invalidates collected and gathered.
	SetAuthorization(sessionID, xToken string) bool
	Authorization() (sessionID, xToken string)

	// Collect fetches this variant's full fetch set and merges the
	// results. Elevated calls silently no-op without credentials.
	Collect(ctx context.Context, api API) error
	// Gather mines collected data for references to other entities,
	// stamped one level below this entity's. Level zero gathers
	// nothing. Gather marks the entity gathered.
	Gather() []Stub
	// References is the same mining with no level gate and no state
	// change; name resolution walks it.
	References() []Stub

	// DisplayName is Name or the variant's missing-name placeholder.
	DisplayName() string
	// FolderSegment is the unsanitized archive folder name, with the
	// " {id}" suffix once the id is known.
	FolderSegment() string
}

// base carries the raw-data bag and the accessors shared by all three
// variants.
type base struct {
	mu   sync.Mutex
	data Raw
}

func newBase(seed Raw) base {
	data := Raw{}
	b := base{data: data}
	if seed != nil {
		b.mergeLocked(seed)
	}
	return b
}

func (b *base) Level() *int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return levelOf(b.data)
}

func (b *base) SetLevel(level *int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[keyLevel]; !ok {
		storeLevel(b.data, level)
		return
	}
	storeLevel(b.data, MergeLevel(levelOf(b.data), level))
}

func (b *base) Collected() bool { return b.flag(keyCollected) }
func (b *base) Gathered() bool  { return b.flag(keyGathered) }

func (b *base) flag(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, _ := b.data[key].(bool)
	return v
}

func (b *base) setFlag(key string, value bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
}

func (b *base) Snapshot() Raw {
	b.mu.Lock()
	defer b.mu.Unlock()
	snapshot := make(Raw, len(b.data))
	for key, value := range b.data {
		snapshot[key] = value
	}
	return snapshot
}

func (b *base) MergeData(fragment Raw) {
	if fragment == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mergeLocked(fragment)
}

func (b *base) SetAuthorization(sessionID, xToken string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	current, _ := b.data[keySessionID].(string)
	currentToken, _ := b.data[keyXToken].(string)
	if current == sessionID && currentToken == xToken {
		return false
	}
	b.data[keySessionID] = sessionID
	b.data[keyXToken] = xToken
	// Credentials change what the platform shows, so everything already
	// fetched is suspect.
	b.data[keyCollected] = false
	b.data[keyGathered] = false
	return true
}

func (b *base) Authorization() (string, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sessionID, _ := b.data[keySessionID].(string)
	xToken, _ := b.data[keyXToken].(string)
	return sessionID, xToken
}

// str reads a string field under the lock.
func (b *base) str(key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, _ := b.data[key].(string)
	return s
}

// num reads a numeric field under the lock. JSON round-trips render
// every number as float64; int64 covers values set directly.
func (b *base) num(key string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return toID(b.data[key])
}

func (b *base) set(key string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
}

// records reads a list field and coerces it to []Raw, handling both
// freshly fetched ([]Raw) and JSON-loaded ([]interface{}) shapes.
func (b *base) records(key string) []Raw {
	b.mu.Lock()
	defer b.mu.Unlock()
	return asRecords(b.data[key])
}

func asRecords(value interface{}) []Raw {
	switch list := value.(type) {
	case []Raw:
		return list
	case []interface{}:
		records := make([]Raw, 0, len(list))
		for _, item := range list {
			if record, ok := item.(Raw); ok {
				records = append(records, record)
			}
		}
		return records
	default:
		return nil
	}
}

// toID coerces the numeric shapes an id can arrive in.
func toID(value interface{}) int64 {
	switch n := value.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// record digs a nested record out of a raw value.
func record(value interface{}) Raw {
	r, _ := value.(Raw)
	return r
}

// NormalizeUsername is the canonical map key for usernames, which the
// platform treats case-insensitively.
func NormalizeUsername(username string) string {
	return strings.ToLower(username)
}
