// Package archive orchestrates the crawl: the engine owns the entity
// collections and the sweep loop, the Archive façade ties the engine to
// storage, credentials, and the binary downloader.
package archive

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"scratcharchive/pkg/entity"
	errs "scratcharchive/pkg/errors"
	"scratcharchive/pkg/logger"
)

// Authorization is one username's platform credentials as the engine
// tracks them.
type Authorization struct {
	SessionID string
	XToken    string
}

// Engine holds the three identity-keyed collections and runs the
// collect and gather rounds over them. The mutex guards the maps and
// the authorization table; entities guard their own data.
type Engine struct {
	mu        sync.Mutex
	users     map[string]*entity.User // keyed by normalized username
	usersByID map[int64]*entity.User  // users known only by numeric id
	projects  map[int64]*entity.Project
	studios   map[int64]*entity.Studio
	auths     map[string]Authorization

	titles     titleTable
	titleDirty bool

	api entity.API
	log logger.Logger

	// onCollected fires after each successful collect; the façade uses
	// it for store-as-you-go.
	onCollected func(e entity.Entity)
}

// titleTable is the resolved id-to-name mapping built from everything
// the engine has seen, including references inside collected data.
type titleTable struct {
	usernames     map[int64]string
	projectTitles map[int64]string
	studioTitles  map[int64]string
	projectOwners map[int64]string // project id -> author username
}

func NewEngine(api entity.API, log logger.Logger) *Engine {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Engine{
		users:     map[string]*entity.User{},
		usersByID: map[int64]*entity.User{},
		projects:  map[int64]*entity.Project{},
		studios:   map[int64]*entity.Studio{},
		auths:     map[string]Authorization{},
		api:       api,
		log:       log,
	}
}

// SetOnCollected registers the store-as-you-go hook.
func (e *Engine) SetOnCollected(fn func(entity.Entity)) { e.onCollected = fn }

// SetAuthorization records credentials for a username and pushes them
// into the matching user and that user's projects.
func (e *Engine) SetAuthorization(username string, auth Authorization) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := entity.NormalizeUsername(username)
	e.auths[key] = auth
	e.propagateAuthLocked(key, auth)
}

func (e *Engine) propagateAuthLocked(key string, auth Authorization) {
	if user, ok := e.users[key]; ok {
		if user.SetAuthorization(auth.SessionID, auth.XToken) {
			e.log.DebugWithFields("authorization attached, entity invalidated", map[string]interface{}{
				"username": key,
			})
		}
	}
	// Projects only need the API token; the owning account's token
	// makes its unshared projects visible.
	for _, project := range e.projects {
		if entity.NormalizeUsername(project.AuthorUsername()) == key {
			project.SetAuthorization("", auth.XToken)
		}
	}
}

// Authorizations returns a copy of the authorization table.
func (e *Engine) Authorizations() map[string]Authorization {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]Authorization, len(e.auths))
	for username, auth := range e.auths {
		out[username] = auth
	}
	return out
}

// AddOrMergeEntity inserts a stub or merges it into the entity it
// already names. Identity never changes once assigned: the returned
// entity is the same instance for every stub naming the same thing.
func (e *Engine) AddOrMergeEntity(stub entity.Stub) entity.Entity {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.titleDirty = true

	switch stub.Kind {
	case entity.KindUser:
		return e.addUserLocked(stub)
	case entity.KindProject:
		return e.addProjectLocked(stub)
	case entity.KindStudio:
		return e.addStudioLocked(stub)
	default:
		e.log.ErrorWithFields("ignoring stub of unknown kind", map[string]interface{}{
			"kind": string(stub.Kind),
		})
		return nil
	}
}

func (e *Engine) addUserLocked(stub entity.Stub) entity.Entity {
	key := entity.NormalizeUsername(stub.Username)
	if stub.Username != "" {
		user, ok := e.users[key]
		if !ok {
			user = entity.NewUser(stub.Username, stub.ID, nil)
			e.users[key] = user
		}
		e.mergeStubInto(user, stub)
		if auth, ok := e.auths[key]; ok {
			user.SetAuthorization(auth.SessionID, auth.XToken)
		}
		if id := user.ID(); id != 0 {
			// Absorb an id-only duplicate if one exists.
			if dup, ok := e.usersByID[id]; ok && dup != user {
				user.MergeData(dup.Snapshot())
				if dup.HasLevel() {
					user.SetLevel(dup.Level())
				}
			}
			e.usersByID[id] = user
		}
		return user
	}
	if stub.ID == 0 {
		return nil
	}
	user, ok := e.usersByID[stub.ID]
	if !ok {
		user = entity.NewUser("", stub.ID, nil)
		e.usersByID[stub.ID] = user
	}
	e.mergeStubInto(user, stub)
	return user
}

func (e *Engine) addProjectLocked(stub entity.Stub) entity.Entity {
	if stub.ID == 0 {
		return nil
	}
	project, ok := e.projects[stub.ID]
	if !ok {
		project = entity.NewProject(stub.ID, nil)
		e.projects[stub.ID] = project
	}
	e.mergeStubInto(project, stub)
	owner := entity.NormalizeUsername(project.AuthorUsername())
	if auth, ok := e.auths[owner]; ok && owner != "" {
		project.SetAuthorization("", auth.XToken)
	}
	return project
}

func (e *Engine) addStudioLocked(stub entity.Stub) entity.Entity {
	if stub.ID == 0 {
		return nil
	}
	studio, ok := e.studios[stub.ID]
	if !ok {
		studio = entity.NewStudio(stub.ID, nil)
		e.studios[stub.ID] = studio
	}
	e.mergeStubInto(studio, stub)
	return studio
}

func (e *Engine) mergeStubInto(ent entity.Entity, stub entity.Stub) {
	if stub.Data != nil {
		ent.MergeData(stub.Data)
	}
	if stub.HasLevel {
		ent.SetLevel(stub.Level)
	}
}

// Users returns the named users; UsersByID the id-only stubs not yet
// resolved to a name.
func (e *Engine) Users() []*entity.User {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*entity.User, 0, len(e.users))
	for _, user := range e.users {
		out = append(out, user)
	}
	return out
}

func (e *Engine) Projects() []*entity.Project {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*entity.Project, 0, len(e.projects))
	for _, project := range e.projects {
		out = append(out, project)
	}
	return out
}

func (e *Engine) Studios() []*entity.Studio {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*entity.Studio, 0, len(e.studios))
	for _, studio := range e.studios {
		out = append(out, studio)
	}
	return out
}

// UserByUsername looks a user up by name.
func (e *Engine) UserByUsername(username string) *entity.User {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.users[entity.NormalizeUsername(username)]
}

// allEntities snapshots every entity across the collections.
func (e *Engine) allEntities() []entity.Entity {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]entity.Entity, 0, len(e.users)+len(e.usersByID)+len(e.projects)+len(e.studios))
	for _, user := range e.users {
		out = append(out, user)
	}
	for _, user := range e.usersByID {
		// Named users appear in both indexes; only emit the id-only ones.
		if user.Name() == "" {
			out = append(out, user)
		}
	}
	for _, project := range e.projects {
		out = append(out, project)
	}
	for _, studio := range e.studios {
		out = append(out, studio)
	}
	return out
}

// RunSweep collects every uncollected entity, fanning out across the
// whole frontier at once; the rate limiter is the concurrency brake.
// Per-entity failures are logged and skipped so one bad entity never
// aborts the sweep; context cancellation does.
func (e *Engine) RunSweep(ctx context.Context) error {
	frontier := e.uncollected()
	if len(frontier) == 0 {
		return nil
	}
	e.log.InfoWithFields("collect round started", map[string]interface{}{
		"entities": len(frontier),
	})

	var g errgroup.Group
	for _, ent := range frontier {
		ent := ent
		g.Go(func() error {
			if err := ent.Collect(ctx, e.api); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.log.ErrorWithFields("collect failed", map[string]interface{}{
					"kind":  string(ent.Kind()),
					"name":  ent.DisplayName(),
					"id":    ent.ID(),
					"error": err.Error(),
				})
				return nil
			}
			e.reindexUser(ent)
			e.markTitleDirty()
			if e.onCollected != nil {
				e.onCollected(ent)
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) markTitleDirty() {
	e.mu.Lock()
	e.titleDirty = true
	e.mu.Unlock()
}

// reindexUser records a user's numeric id once its profile fetch
// resolved it.
func (e *Engine) reindexUser(ent entity.Entity) {
	user, ok := ent.(*entity.User)
	if !ok {
		return
	}
	id := user.ID()
	if id == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.usersByID[id]; !ok || existing.Name() == "" {
		e.usersByID[id] = user
	}
}

func (e *Engine) uncollected() []entity.Entity {
	var frontier []entity.Entity
	for _, ent := range e.allEntities() {
		if !ent.Collected() {
			frontier = append(frontier, ent)
		}
	}
	return frontier
}

// ExpandFrontier gathers references out of every collected-but-not-yet
// gathered entity, fanning out like a collect round, and merges the
// resulting stubs into the collections through the engine's mutex.
func (e *Engine) ExpandFrontier(ctx context.Context) error {
	var pending []entity.Entity
	for _, ent := range e.allEntities() {
		if ent.Collected() && !ent.Gathered() {
			pending = append(pending, ent)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	var added atomic.Int64
	var g errgroup.Group
	for _, ent := range pending {
		ent := ent
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, stub := range ent.Gather() {
				// Gathered stubs always carry a level, one below their
				// parent's.
				stub.HasLevel = true
				if e.AddOrMergeEntity(stub) != nil {
					added.Add(1)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	e.log.InfoWithFields("expand round finished", map[string]interface{}{
		"gathered_from": len(pending),
		"stubs_merged":  added.Load(),
	})
	return nil
}

// CompleteSweeps runs numSweeps collect rounds with an expand round
// between each pair; the final round is always a collect, so the last
// gather's frontier is left uncollected. numSweeps of zero defaults to
// one more than the highest finite level across the collections,
// minimum one.
func (e *Engine) CompleteSweeps(ctx context.Context, numSweeps int) error {
	if numSweeps <= 0 {
		numSweeps = e.defaultSweeps()
	}
	e.log.InfoWithFields("starting sweeps", map[string]interface{}{"sweeps": numSweeps})
	for round := 0; round < numSweeps; round++ {
		if err := e.RunSweep(ctx); err != nil {
			return err
		}
		if round == numSweeps-1 {
			break
		}
		if err := e.ExpandFrontier(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) defaultSweeps() int {
	sweeps := 1
	for _, ent := range e.allEntities() {
		if level := ent.Level(); level != nil && *level+1 > sweeps {
			// A level-N seed needs N+1 collect rounds to reach its
			// leaves.
			sweeps = *level + 1
		}
	}
	return sweeps
}

// ApplyLevelToEntitiesWithoutLevels assigns a level to entities loaded
// from an archive that predates level tracking.
func (e *Engine) ApplyLevelToEntitiesWithoutLevels(level *int) {
	for _, ent := range e.allEntities() {
		if !ent.HasLevel() {
			ent.SetLevel(level)
		}
	}
}

// Seed is AddOrMergeEntity for the CLI's entry points; it errors on
// unusable identities instead of silently dropping them.
func (e *Engine) Seed(stub entity.Stub) (entity.Entity, error) {
	ent := e.AddOrMergeEntity(stub)
	if ent == nil {
		return nil, errs.New(errs.ErrorTypeFatal, "seed has no usable identity")
	}
	return ent, nil
}
