package archive

import (
	"encoding/json"
	"time"

	"scratcharchive/pkg/entity"
	errs "scratcharchive/pkg/errors"
)

// Metadata is the resume state written to Archive_Metadata.json: which
// authorizations were in play (redacted to presence flags; the secrets
// themselves live in the credential stores) and each entity's identity
// and traversal state.
type Metadata struct {
	SavedAt        time.Time             `json:"saved_at"`
	Authorizations map[string]AuthRecord `json:"authorizations"`
	Users          []EntityState         `json:"users"`
	Projects       []EntityState         `json:"projects"`
	Studios        []EntityState         `json:"studios"`
}

// AuthRecord is a redacted authorization entry.
type AuthRecord struct {
	HasSessionID bool `json:"has_session_id"`
	HasXToken    bool `json:"has_x_token"`
}

// EntityState is one entity's resume state.
type EntityState struct {
	Username  string `json:"username,omitempty"`
	ID        int64  `json:"id,omitempty"`
	Title     string `json:"title,omitempty"`
	Level     *int   `json:"level,omitempty"`
	HasLevel  bool   `json:"has_level"`
	Collected bool   `json:"collected"`
	Gathered  bool   `json:"gathered"`
}

// BuildMetadata captures the engine's current state.
func (e *Engine) BuildMetadata() *Metadata {
	meta := &Metadata{
		SavedAt:        time.Now().UTC(),
		Authorizations: map[string]AuthRecord{},
	}
	for username, auth := range e.Authorizations() {
		meta.Authorizations[username] = AuthRecord{
			HasSessionID: auth.SessionID != "",
			HasXToken:    auth.XToken != "",
		}
	}
	for _, ent := range e.allEntities() {
		state := EntityState{
			ID:        ent.ID(),
			Level:     ent.Level(),
			HasLevel:  ent.HasLevel(),
			Collected: ent.Collected(),
			Gathered:  ent.Gathered(),
		}
		switch ent.Kind() {
		case entity.KindUser:
			state.Username = ent.Name()
			meta.Users = append(meta.Users, state)
		case entity.KindProject:
			state.Title = ent.Name()
			meta.Projects = append(meta.Projects, state)
		case entity.KindStudio:
			state.Title = ent.Name()
			meta.Studios = append(meta.Studios, state)
		}
	}
	return meta
}

// Encode renders the metadata for the storage layer.
func (m *Metadata) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, errs.New(errs.ErrorTypeFatal, "encoding metadata: %v", err)
	}
	return data, nil
}

// DecodeMetadata parses a metadata file; nil input (no file) yields
// nil metadata.
func DecodeMetadata(data []byte) (*Metadata, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errs.New(errs.ErrorTypeParsing, "decoding metadata: %v", err)
	}
	return &meta, nil
}

// ApplyMetadata overlays resume state onto the collections, creating
// entities the metadata names that the snapshot walk did not find. It
// returns the usernames whose authorization the saved run had but the
// current one does not; entities of those users are left uncollected
// so the next sweep refetches what the missing credentials change.
func (e *Engine) ApplyMetadata(meta *Metadata) []string {
	if meta == nil {
		return nil
	}

	var missingAuths []string
	current := e.Authorizations()
	for username, saved := range meta.Authorizations {
		if !saved.HasSessionID && !saved.HasXToken {
			continue
		}
		if _, ok := current[entity.NormalizeUsername(username)]; !ok {
			missingAuths = append(missingAuths, username)
		}
	}

	for _, state := range meta.Users {
		e.applyEntityState(entity.Stub{Kind: entity.KindUser, Username: state.Username, ID: state.ID}, state, missingAuths)
	}
	for _, state := range meta.Projects {
		e.applyEntityState(entity.Stub{Kind: entity.KindProject, ID: state.ID}, state, missingAuths)
	}
	for _, state := range meta.Studios {
		e.applyEntityState(entity.Stub{Kind: entity.KindStudio, ID: state.ID}, state, missingAuths)
	}
	return missingAuths
}

func (e *Engine) applyEntityState(stub entity.Stub, state EntityState, missingAuths []string) {
	if state.HasLevel {
		stub.Level = state.Level
		stub.HasLevel = true
	}
	ent := e.AddOrMergeEntity(stub)
	if ent == nil {
		return
	}
	if state.Title != "" && ent.Name() == "" {
		ent.MergeData(entity.Raw{"title": state.Title})
	}
	collected, gathered := state.Collected, state.Gathered
	if authMissingFor(ent, missingAuths) {
		collected, gathered = false, false
	}
	if collected {
		ent.SetCollected(true)
	}
	if gathered {
		ent.SetGathered(true)
	}
}

// authMissingFor reports whether the entity's data was collected under
// an authorization this run no longer has.
func authMissingFor(ent entity.Entity, missingAuths []string) bool {
	if len(missingAuths) == 0 {
		return false
	}
	var owner string
	switch ent := ent.(type) {
	case *entity.User:
		owner = ent.Name()
	case *entity.Project:
		owner = ent.AuthorUsername()
	default:
		return false
	}
	for _, username := range missingAuths {
		if entity.NormalizeUsername(owner) == entity.NormalizeUsername(username) {
			return true
		}
	}
	return false
}
