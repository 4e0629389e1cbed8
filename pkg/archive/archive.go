package archive

import (
	"context"
	"strings"

	"scratcharchive/internal/downloader"
	"scratcharchive/pkg/auth"
	"scratcharchive/pkg/config"
	"scratcharchive/pkg/entity"
	errs "scratcharchive/pkg/errors"
	"scratcharchive/pkg/logger"
	"scratcharchive/pkg/scratch"
	"scratcharchive/pkg/storage"
)

// Archive ties the engine to the platform client, the storage layer,
// and the binary download pool. It is the surface the CLI drives.
type Archive struct {
	cfg    *config.Config
	engine *Engine
	client *scratch.Client
	store  *storage.Manager
	log    logger.Logger
}

func New(cfg *config.Config, client *scratch.Client, store *storage.Manager, log logger.Logger) *Archive {
	if log == nil {
		log = logger.GetLogger()
	}
	a := &Archive{
		cfg:    cfg,
		engine: NewEngine(client, log),
		client: client,
		store:  store,
		log:    log,
	}
	// The config is consulted per collect, not captured here, so flag
	// overrides applied after construction still take effect.
	a.engine.SetOnCollected(func(ent entity.Entity) {
		if !a.cfg.Archive.StoreAsYouGo {
			return
		}
		if err := a.storeEntity(ent); err != nil {
			log.WarnWithFields("store-as-you-go failed", map[string]interface{}{
				"kind": string(ent.Kind()), "name": ent.DisplayName(), "error": err.Error(),
			})
		}
	})
	return a
}

// Engine exposes the engine for tests and the CLI's status output.
func (a *Archive) Engine() *Engine { return a.engine }

// Login resolves an account to a full authorization: a password logs
// in, a bare session id is exchanged for a token, and a token is used
// as-is. The resolved credentials register with the engine and are
// returned so the caller can persist them.
func (a *Archive) Login(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	switch {
	case account.Password != "":
		session, err := a.client.Login(ctx, account.Username, account.Password)
		if err != nil {
			return nil, err
		}
		account.SessionID = session.SessionID
		account.XToken = session.XToken
	case account.SessionID != "" && account.XToken == "":
		xToken, err := a.client.XTokenFromSession(ctx, account.SessionID)
		if err != nil {
			return nil, err
		}
		account.XToken = xToken
	case account.XToken != "":
		// Token pass-through.
	default:
		return nil, errs.New(errs.ErrorTypeAuthMissing, "account %q has no credentials", account.Username)
	}

	a.engine.SetAuthorization(account.Username, Authorization{
		SessionID: account.SessionID,
		XToken:    account.XToken,
	})
	return account, nil
}

// SeedUser, SeedProject, and SeedStudio add starting points for the
// sweeps. A nil level means unlimited depth.
func (a *Archive) SeedUser(username string, level *int) error {
	_, err := a.engine.Seed(entity.Stub{Kind: entity.KindUser, Username: username, Level: level, HasLevel: true})
	return err
}

func (a *Archive) SeedProject(id int64, level *int) error {
	_, err := a.engine.Seed(entity.Stub{Kind: entity.KindProject, ID: id, Level: level, HasLevel: true})
	return err
}

func (a *Archive) SeedStudio(id int64, level *int) error {
	_, err := a.engine.Seed(entity.Stub{Kind: entity.KindStudio, ID: id, Level: level, HasLevel: true})
	return err
}

// Run drives a complete archival: the sweep rounds, name backfill,
// snapshot and binary persistence, metadata, and the rename pass.
func (a *Archive) Run(ctx context.Context, numSweeps int) error {
	if err := a.engine.CompleteSweeps(ctx, numSweeps); err != nil {
		return err
	}
	return a.Finalize(ctx)
}

// Finalize persists everything the engine holds.
func (a *Archive) Finalize(ctx context.Context) error {
	a.engine.ApplyIdentityToNameConversions()
	if err := a.StoreAll(ctx); err != nil {
		return err
	}
	if err := a.SaveMetadata(); err != nil {
		return err
	}
	return a.Cleanup()
}

// StoreAll writes every entity snapshot and image, then downloads the
// project binaries through the bounded pool.
func (a *Archive) StoreAll(ctx context.Context) error {
	a.engine.ResolveIdentityToTitleTable()

	for _, ent := range a.engine.allEntities() {
		if err := a.storeEntity(ent); err != nil {
			a.log.WarnWithFields("storing entity failed", map[string]interface{}{
				"kind": string(ent.Kind()), "name": ent.DisplayName(), "error": err.Error(),
			})
		}
		a.storeImages(ctx, ent)
	}

	if !a.cfg.Archive.BinaryDownloads || a.client == nil {
		return nil
	}
	var jobs []downloader.Job
	for _, project := range a.engine.Projects() {
		if project.ID() == 0 {
			continue
		}
		jobs = append(jobs, downloader.Job{Project: project, Dir: a.entityDir(project)})
	}
	pool := downloader.NewPool(a.cfg.Archive.DownloadWorkers, a.client, a.store, a.log)
	for _, result := range pool.Run(ctx, jobs) {
		if result.Err != nil {
			a.log.WarnWithFields("binary download failed", map[string]interface{}{
				"project": result.Job.Project.ID(), "error": result.Err.Error(),
			})
			continue
		}
		a.log.DebugWithFields("binary handled", map[string]interface{}{
			"project": result.Job.Project.ID(), "source": result.Source,
		})
	}
	return nil
}

// storeEntity writes one entity's JSON snapshot into its directory.
func (a *Archive) storeEntity(ent entity.Entity) error {
	dir := a.entityDir(ent)
	return a.store.WriteSnapshot(dir, ent.DisplayName(), ent.Snapshot())
}

// entityDir derives the on-disk directory for an entity: users at the
// root, projects and studios under their owner.
func (a *Archive) entityDir(ent entity.Entity) string {
	switch ent := ent.(type) {
	case *entity.User:
		return a.store.UserDir(ent.FolderSegment())
	case *entity.Project:
		return a.store.ProjectDir(a.engine.ownerSegmentFor(ent.AuthorUsername()), ent.FolderSegment())
	case *entity.Studio:
		return a.store.StudioDir(a.studioOwnerSegment(ent), ent.FolderSegment())
	}
	return a.store.Root()
}

// studioOwnerSegment resolves a studio's host id to a user folder.
func (a *Archive) studioOwnerSegment(studio *entity.Studio) string {
	var hostID int64
	switch v := studio.Snapshot()["host"].(type) {
	case float64:
		hostID = int64(v)
	case int64:
		hostID = v
	case int:
		hostID = int64(v)
	}
	if hostID == 0 {
		return ""
	}
	username := a.engine.ResolvedName(entity.KindUser, hostID)
	return a.engine.ownerSegmentFor(username)
}

// storeImages downloads the entity's avatar or thumbnail next to its
// snapshot. Failures only cost the image.
func (a *Archive) storeImages(ctx context.Context, ent entity.Entity) {
	if a.client == nil {
		return
	}
	for name, url := range imageURLs(ent) {
		data, err := a.client.DownloadImage(ctx, url)
		if err != nil || len(data) == 0 {
			continue
		}
		if err := a.store.WriteImage(a.entityDir(ent), name, data); err != nil {
			a.log.DebugWithFields("image write failed", map[string]interface{}{
				"name": name, "error": err.Error(),
			})
		}
	}
}

// imageURLs picks the image references worth persisting from an
// entity's collected data.
func imageURLs(ent entity.Entity) map[string]string {
	urls := map[string]string{}
	data := ent.Snapshot()
	switch ent.(type) {
	case *entity.User:
		if profile, ok := data["profile"].(map[string]interface{}); ok {
			if images, ok := profile["images"].(map[string]interface{}); ok {
				if url, _ := images["90x90"].(string); url != "" {
					urls["avatar.png"] = url
				}
			}
		}
	default:
		if url, _ := data["image"].(string); url != "" {
			urls["thumbnail"+imageExt(url)] = url
		}
	}
	return urls
}

func imageExt(url string) string {
	if idx := strings.LastIndex(url, "."); idx >= 0 && len(url)-idx <= 5 {
		return url[idx:]
	}
	return ".png"
}

// SaveMetadata persists the resume state.
func (a *Archive) SaveMetadata() error {
	encoded, err := a.engine.BuildMetadata().Encode()
	if err != nil {
		return err
	}
	return a.store.WriteMetadata(encoded)
}

// Load reads an existing archive tree back into the engine: every
// snapshot first, then the metadata overlay. It returns the usernames
// whose authorization the saved run used but this run lacks.
func (a *Archive) Load() ([]string, error) {
	snapshots, err := a.store.ReadSnapshots()
	if err != nil {
		return nil, err
	}
	for _, snap := range snapshots {
		stub := entity.Stub{Kind: snap.Kind, Data: snap.Data, ID: recID(snap.Data)}
		if snap.Kind == entity.KindUser {
			stub.Username, _ = snap.Data["username"].(string)
		}
		a.engine.AddOrMergeEntity(stub)
	}
	a.log.InfoWithFields("archive loaded", map[string]interface{}{
		"snapshots": len(snapshots),
	})

	raw, err := a.store.ReadMetadata()
	if err != nil {
		return nil, err
	}
	meta, err := DecodeMetadata(raw)
	if err != nil {
		return nil, err
	}
	missing := a.engine.ApplyMetadata(meta)
	for _, username := range missing {
		a.log.WarnWithFields("authorization from previous run not configured", map[string]interface{}{
			"username": username,
		})
	}
	return missing, nil
}

// Cleanup runs the rename pass with the engine's resolution tables.
func (a *Archive) Cleanup() error {
	a.engine.ResolveIdentityToTitleTable()
	return a.store.Cleanup(storage.Resolver{
		Name:         a.engine.ResolvedName,
		OwnerSegment: a.engine.ResolvedOwnerSegment,
	})
}
