package archive

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scratcharchive/pkg/entity"
)

func intPtr(v int) *int { return &v }

// worldAPI serves a tiny scripted platform: alice follows bob and has
// one shared project. Everything else is empty.
type worldAPI struct {
	mu           sync.Mutex
	infoFetches  map[string]int
	projectFetch int
}

func newWorldAPI() *worldAPI {
	return &worldAPI{infoFetches: map[string]int{}}
}

func (w *worldAPI) UserInfo(ctx context.Context, username string) (entity.Raw, error) {
	w.mu.Lock()
	w.infoFetches[entity.NormalizeUsername(username)]++
	w.mu.Unlock()
	switch entity.NormalizeUsername(username) {
	case "alice":
		return entity.Raw{"id": float64(1), "username": "alice"}, nil
	case "bob":
		return entity.Raw{"id": float64(2), "username": "bob"}, nil
	}
	return nil, nil
}

func (w *worldAPI) UserFollowers(ctx context.Context, username string) ([]entity.Raw, error) {
	if entity.NormalizeUsername(username) == "alice" {
		return []entity.Raw{{"id": float64(2), "username": "bob"}}, nil
	}
	return nil, nil
}

func (w *worldAPI) UserSharedProjects(ctx context.Context, username string) ([]entity.Raw, error) {
	if entity.NormalizeUsername(username) == "alice" {
		return []entity.Raw{{"id": float64(100), "title": "Maze Game"}}, nil
	}
	return nil, nil
}

func (w *worldAPI) UserFavorites(ctx context.Context, username string) ([]entity.Raw, error) {
	return nil, nil
}

func (w *worldAPI) UserFollowing(ctx context.Context, username string) ([]entity.Raw, error) {
	return nil, nil
}

func (w *worldAPI) UserCuratedStudios(ctx context.Context, username string) ([]entity.Raw, error) {
	return nil, nil
}

func (w *worldAPI) UserUnsharedProjects(ctx context.Context, sessionID string) ([]entity.Raw, error) {
	return nil, nil
}

func (w *worldAPI) UserTrashedProjects(ctx context.Context, sessionID string) ([]entity.Raw, error) {
	return nil, nil
}

func (w *worldAPI) UserProfileComments(ctx context.Context, username string) ([]entity.Raw, error) {
	return nil, nil
}

func (w *worldAPI) UserFollowedStudios(ctx context.Context, username string) ([]entity.Raw, error) {
	return nil, nil
}

func (w *worldAPI) UserActivity(ctx context.Context, username string) ([]entity.Raw, error) {
	return nil, nil
}

func (w *worldAPI) ProjectInfo(ctx context.Context, projectID int64, xToken string) (entity.Raw, error) {
	w.mu.Lock()
	w.projectFetch++
	w.mu.Unlock()
	if projectID == 100 {
		return entity.Raw{
			"id":     float64(100),
			"title":  "Maze Game",
			"author": entity.Raw{"id": float64(1), "username": "alice"},
		}, nil
	}
	return nil, nil
}

func (w *worldAPI) ProjectRemixes(ctx context.Context, projectID int64, xToken string) ([]entity.Raw, error) {
	return nil, nil
}

func (w *worldAPI) ProjectStudios(ctx context.Context, username string, projectID int64, xToken string) ([]entity.Raw, error) {
	return nil, nil
}

func (w *worldAPI) ProjectComments(ctx context.Context, username string, projectID int64, xToken string) ([]entity.Raw, error) {
	return nil, nil
}

func (w *worldAPI) StudioInfo(ctx context.Context, studioID int64) (entity.Raw, error) {
	return entity.Raw{"id": float64(studioID)}, nil
}

func (w *worldAPI) StudioActivity(ctx context.Context, studioID int64) ([]entity.Raw, error) {
	return nil, nil
}

func (w *worldAPI) StudioComments(ctx context.Context, studioID int64) ([]entity.Raw, error) {
	return nil, nil
}

func (w *worldAPI) StudioCurators(ctx context.Context, studioID int64) ([]entity.Raw, error) {
	return nil, nil
}

func (w *worldAPI) StudioManagers(ctx context.Context, studioID int64) ([]entity.Raw, error) {
	return nil, nil
}

func (w *worldAPI) StudioProjects(ctx context.Context, studioID int64) ([]entity.Raw, error) {
	return nil, nil
}

func TestAddOrMergeEntityIdentityIsStable(t *testing.T) {
	e := NewEngine(newWorldAPI(), nil)

	first := e.AddOrMergeEntity(entity.Stub{Kind: entity.KindUser, Username: "Alice"})
	second := e.AddOrMergeEntity(entity.Stub{Kind: entity.KindUser, Username: "alice"})
	assert.Same(t, first, second, "usernames are case-insensitive identities")

	p1 := e.AddOrMergeEntity(entity.Stub{Kind: entity.KindProject, ID: 100})
	p2 := e.AddOrMergeEntity(entity.Stub{Kind: entity.KindProject, ID: 100, Data: entity.Raw{"title": "Maze Game"}})
	assert.Same(t, p1, p2)
	assert.Equal(t, "Maze Game", p1.Name())

	assert.Nil(t, e.AddOrMergeEntity(entity.Stub{Kind: entity.KindProject, ID: 0}))
	assert.Nil(t, e.AddOrMergeEntity(entity.Stub{Kind: entity.KindUser}))
}

func TestAddOrMergeEntityLevelMerge(t *testing.T) {
	e := NewEngine(newWorldAPI(), nil)

	e.AddOrMergeEntity(entity.Stub{Kind: entity.KindUser, Username: "alice", Level: intPtr(1), HasLevel: true})
	ent := e.AddOrMergeEntity(entity.Stub{Kind: entity.KindUser, Username: "alice", Level: intPtr(3), HasLevel: true})
	require.NotNil(t, ent.Level())
	assert.Equal(t, 3, *ent.Level())

	// A stub without a level leaves the existing one alone.
	ent = e.AddOrMergeEntity(entity.Stub{Kind: entity.KindUser, Username: "alice"})
	require.NotNil(t, ent.Level())
	assert.Equal(t, 3, *ent.Level())
}

func TestAddOrMergeAbsorbsIDOnlyDuplicate(t *testing.T) {
	e := NewEngine(newWorldAPI(), nil)

	// A studio host record knows the user only by id.
	byID := e.AddOrMergeEntity(entity.Stub{Kind: entity.KindUser, ID: 1, Level: intPtr(2), HasLevel: true})
	require.NotNil(t, byID)

	named := e.AddOrMergeEntity(entity.Stub{Kind: entity.KindUser, Username: "alice", ID: 1})
	require.NotNil(t, named)
	assert.Equal(t, "alice", named.Name())
	require.NotNil(t, named.Level())
	assert.Equal(t, 2, *named.Level(), "the duplicate's level survives the fold")
}

func TestCompleteSweepsTerminates(t *testing.T) {
	api := newWorldAPI()
	e := NewEngine(api, nil)
	_, err := e.Seed(entity.Stub{Kind: entity.KindUser, Username: "alice", Level: intPtr(1), HasLevel: true})
	require.NoError(t, err)

	require.NoError(t, e.CompleteSweeps(context.Background(), 0))

	alice := e.UserByUsername("alice")
	require.NotNil(t, alice)
	assert.True(t, alice.Collected())
	assert.True(t, alice.Gathered())

	// bob and the project were gathered at level 0 and collected in the
	// terminal round, but never expanded.
	bob := e.UserByUsername("bob")
	require.NotNil(t, bob, "followers become entities")
	assert.True(t, bob.Collected())
	assert.False(t, bob.Gathered())
	require.NotNil(t, bob.Level())
	assert.Equal(t, 0, *bob.Level())

	projects := e.Projects()
	require.Len(t, projects, 1)
	assert.True(t, projects[0].Collected())
	assert.False(t, projects[0].Gathered())

	assert.Equal(t, 1, api.infoFetches["alice"], "collected entities are not refetched")
	assert.Equal(t, 1, api.infoFetches["bob"])
	assert.Equal(t, 1, api.projectFetch)
}

func TestDefaultSweeps(t *testing.T) {
	e := NewEngine(newWorldAPI(), nil)
	assert.Equal(t, 1, e.defaultSweeps(), "an empty engine still runs one round")

	e.AddOrMergeEntity(entity.Stub{Kind: entity.KindUser, Username: "alice", Level: intPtr(2), HasLevel: true})
	assert.Equal(t, 3, e.defaultSweeps(), "a level-N seed needs N+1 collect rounds")

	// Unlimited levels do not widen the default; the caller picks.
	e.AddOrMergeEntity(entity.Stub{Kind: entity.KindUser, Username: "bob", Level: nil, HasLevel: true})
	assert.Equal(t, 3, e.defaultSweeps())
}

func TestRunSweepSkipsCollectedEntities(t *testing.T) {
	api := newWorldAPI()
	e := NewEngine(api, nil)
	alice, err := e.Seed(entity.Stub{Kind: entity.KindUser, Username: "alice", Level: intPtr(0), HasLevel: true})
	require.NoError(t, err)
	alice.SetCollected(true)

	require.NoError(t, e.RunSweep(context.Background()))
	assert.Zero(t, api.infoFetches["alice"])
}

func TestExpandFrontierMarksGathered(t *testing.T) {
	e := NewEngine(newWorldAPI(), nil)
	alice, err := e.Seed(entity.Stub{Kind: entity.KindUser, Username: "alice", Level: intPtr(1), HasLevel: true})
	require.NoError(t, err)

	require.NoError(t, e.RunSweep(context.Background()))
	require.NoError(t, e.ExpandFrontier(context.Background()))
	assert.True(t, alice.Gathered())

	// A second expand has nothing left to gather.
	before := len(e.Users())
	require.NoError(t, e.ExpandFrontier(context.Background()))
	assert.Equal(t, before, len(e.Users()))
}

func TestOnCollectedHook(t *testing.T) {
	e := NewEngine(newWorldAPI(), nil)
	var mu sync.Mutex
	var seen []string
	e.SetOnCollected(func(ent entity.Entity) {
		mu.Lock()
		seen = append(seen, ent.DisplayName())
		mu.Unlock()
	})
	_, err := e.Seed(entity.Stub{Kind: entity.KindUser, Username: "alice", Level: intPtr(0), HasLevel: true})
	require.NoError(t, err)

	require.NoError(t, e.RunSweep(context.Background()))
	assert.Equal(t, []string{"alice"}, seen)
}

func TestSetAuthorizationPropagates(t *testing.T) {
	e := NewEngine(newWorldAPI(), nil)
	alice := e.AddOrMergeEntity(entity.Stub{Kind: entity.KindUser, Username: "alice"})
	project := e.AddOrMergeEntity(entity.Stub{Kind: entity.KindProject, ID: 100, Data: entity.Raw{"author": entity.Raw{"username": "Alice"}}})

	e.SetAuthorization("alice", Authorization{SessionID: "sess", XToken: "tok"})

	sessionID, xToken := alice.Authorization()
	assert.Equal(t, "sess", sessionID)
	assert.Equal(t, "tok", xToken)

	sessionID, xToken = project.Authorization()
	assert.Empty(t, sessionID, "projects only carry the token")
	assert.Equal(t, "tok", xToken)

	// Entities added after the fact pick the credentials up too.
	late := e.AddOrMergeEntity(entity.Stub{Kind: entity.KindUser, Username: "ALICE"})
	sessionID, _ = late.Authorization()
	assert.Equal(t, "sess", sessionID)
}

func TestApplyIdentityToNameConversions(t *testing.T) {
	e := NewEngine(newWorldAPI(), nil)

	// A studio names its host only by id; a collected user record
	// elsewhere supplies the username.
	e.AddOrMergeEntity(entity.Stub{Kind: entity.KindUser, ID: 7})
	e.AddOrMergeEntity(entity.Stub{Kind: entity.KindUser, Username: "carol", Data: entity.Raw{"id": float64(7)}})
	e.AddOrMergeEntity(entity.Stub{Kind: entity.KindStudio, ID: 300})
	e.AddOrMergeEntity(entity.Stub{
		Kind: entity.KindUser, Username: "dan",
		Data: entity.Raw{"curatedStudios": []entity.Raw{{"id": float64(300), "title": "Art Club"}}},
	})

	e.ApplyIdentityToNameConversions()

	carol := e.UserByUsername("carol")
	require.NotNil(t, carol)
	assert.Equal(t, int64(7), carol.ID())
	assert.Len(t, e.Users(), 2, "the id-only stub folded into the named user")

	assert.Equal(t, "carol", e.ResolvedName(entity.KindUser, 7))
	assert.Equal(t, "Art Club", e.ResolvedName(entity.KindStudio, 300))

	studios := e.Studios()
	require.Len(t, studios, 1)
	assert.Equal(t, "Art Club", studios[0].Name(), "reference titles backfill untitled entities")
}

func TestResolvedOwnerSegment(t *testing.T) {
	e := NewEngine(newWorldAPI(), nil)
	e.AddOrMergeEntity(entity.Stub{
		Kind: entity.KindProject, ID: 100,
		Data: entity.Raw{"author": entity.Raw{"id": float64(1), "username": "alice"}},
	})
	e.AddOrMergeEntity(entity.Stub{Kind: entity.KindUser, Username: "alice", ID: 1})
	e.ResolveIdentityToTitleTable()

	assert.Equal(t, "alice {1}", e.ResolvedOwnerSegment(100))
	assert.Empty(t, e.ResolvedOwnerSegment(999))
}

func TestMetadataRoundTrip(t *testing.T) {
	e := NewEngine(newWorldAPI(), nil)
	e.SetAuthorization("alice", Authorization{SessionID: "sess", XToken: "tok"})
	alice, err := e.Seed(entity.Stub{Kind: entity.KindUser, Username: "alice", ID: 1, Level: intPtr(2), HasLevel: true})
	require.NoError(t, err)
	alice.SetCollected(true)
	alice.SetGathered(true)
	_, err = e.Seed(entity.Stub{Kind: entity.KindProject, ID: 100, Data: entity.Raw{"title": "Maze Game"}})
	require.NoError(t, err)

	data, err := e.BuildMetadata().Encode()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sess", "secrets never reach the metadata file")
	assert.NotContains(t, string(data), "tok")

	meta, err := DecodeMetadata(data)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.True(t, meta.Authorizations["alice"].HasSessionID)

	restored := NewEngine(newWorldAPI(), nil)
	restored.SetAuthorization("alice", Authorization{SessionID: "sess2", XToken: "tok2"})
	missing := restored.ApplyMetadata(meta)
	assert.Empty(t, missing)

	again := restored.UserByUsername("alice")
	require.NotNil(t, again)
	assert.True(t, again.Collected())
	assert.True(t, again.Gathered())
	require.NotNil(t, again.Level())
	assert.Equal(t, 2, *again.Level())

	projects := restored.Projects()
	require.Len(t, projects, 1)
	assert.False(t, projects[0].HasLevel(), "an unleveled entity stays unleveled across the round trip")
}

func TestApplyMetadataMissingAuthInvalidates(t *testing.T) {
	e := NewEngine(newWorldAPI(), nil)
	meta := &Metadata{
		Authorizations: map[string]AuthRecord{"alice": {HasSessionID: true, HasXToken: true}},
		Users: []EntityState{
			{Username: "alice", Collected: true, Gathered: true},
			{Username: "bob", Collected: true},
		},
		Projects: []EntityState{{ID: 100, Collected: true}},
	}

	missing := e.ApplyMetadata(meta)
	assert.Equal(t, []string{"alice"}, missing)

	alice := e.UserByUsername("alice")
	require.NotNil(t, alice)
	assert.False(t, alice.Collected(), "data fetched with lost credentials is refetched")
	assert.False(t, alice.Gathered())

	bob := e.UserByUsername("bob")
	require.NotNil(t, bob)
	assert.True(t, bob.Collected())
}

func TestDecodeMetadataEmpty(t *testing.T) {
	meta, err := DecodeMetadata(nil)
	require.NoError(t, err)
	assert.Nil(t, meta)

	_, err = DecodeMetadata([]byte("{not json"))
	assert.Error(t, err)
}

func TestApplyLevelToEntitiesWithoutLevels(t *testing.T) {
	e := NewEngine(newWorldAPI(), nil)
	leveled := e.AddOrMergeEntity(entity.Stub{Kind: entity.KindUser, Username: "alice", Level: intPtr(3), HasLevel: true})
	bare := e.AddOrMergeEntity(entity.Stub{Kind: entity.KindUser, Username: "bob"})

	e.ApplyLevelToEntitiesWithoutLevels(intPtr(1))

	require.NotNil(t, leveled.Level())
	assert.Equal(t, 3, *leveled.Level(), "already-leveled entities are untouched")
	require.NotNil(t, bare.Level())
	assert.Equal(t, 1, *bare.Level())
}

func TestEngineConcurrentExpandAndResolve(t *testing.T) {
	// Expand rounds fan out and interleave with title resolution; the
	// engine's mutex is the only thing keeping the maps and the title
	// table consistent.
	e := NewEngine(newWorldAPI(), nil)
	_, err := e.Seed(entity.Stub{Kind: entity.KindUser, Username: "alice", Level: intPtr(2), HasLevel: true})
	require.NoError(t, err)
	require.NoError(t, e.RunSweep(context.Background()))

	expandErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		expandErr <- e.ExpandFrontier(context.Background())
	}()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.ResolveIdentityToTitleTable()
			_ = e.ResolvedName(entity.KindUser, 1)
			_ = e.AddOrMergeEntity(entity.Stub{Kind: entity.KindUser, Username: "bob"})
		}()
	}
	wg.Wait()
	require.NoError(t, <-expandErr)

	e.ResolveIdentityToTitleTable()
	assert.Equal(t, "alice", e.ResolvedName(entity.KindUser, 1))
	assert.NotNil(t, e.UserByUsername("bob"))
	assert.Len(t, e.Projects(), 1, "the expand round merged alice's shared project")
}
