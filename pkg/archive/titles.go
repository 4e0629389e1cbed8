package archive

import (
	"scratcharchive/pkg/entity"
)

// ResolveIdentityToTitleTable rebuilds the id-to-name table from every
// entity and every reference inside their collected data. A dirty flag
// makes repeated calls free until something changes.
func (e *Engine) ResolveIdentityToTitleTable() {
	e.mu.Lock()
	fresh := !e.titleDirty && e.titles.usernames != nil
	e.mu.Unlock()
	if fresh {
		return
	}

	titles := titleTable{
		usernames:     map[int64]string{},
		projectTitles: map[int64]string{},
		studioTitles:  map[int64]string{},
		projectOwners: map[int64]string{},
	}

	entities := e.allEntities()
	for _, ent := range entities {
		switch ent := ent.(type) {
		case *entity.User:
			if id, name := ent.ID(), ent.Name(); id != 0 && name != "" {
				titles.usernames[id] = name
			}
		case *entity.Project:
			if id := ent.ID(); id != 0 {
				if title := ent.Name(); title != "" {
					titles.projectTitles[id] = title
				}
				if owner := ent.AuthorUsername(); owner != "" {
					titles.projectOwners[id] = owner
				}
			}
		case *entity.Studio:
			if id, title := ent.ID(), ent.Name(); id != 0 && title != "" {
				titles.studioTitles[id] = title
			}
		}
	}

	// References carry names the entities themselves may not have yet:
	// a listing record names the project it points at.
	for _, ent := range entities {
		for _, stub := range ent.References() {
			absorbStub(&titles, stub)
		}
	}

	e.mu.Lock()
	e.titles = titles
	e.titleDirty = false
	e.mu.Unlock()
}

func absorbStub(titles *titleTable, stub entity.Stub) {
	switch stub.Kind {
	case entity.KindUser:
		if stub.Username != "" {
			if id := recID(stub.Data); id != 0 {
				titles.usernames[id] = stub.Username
			}
		}
	case entity.KindProject:
		if stub.ID == 0 {
			return
		}
		if title, _ := stub.Data["title"].(string); title != "" {
			if _, known := titles.projectTitles[stub.ID]; !known {
				titles.projectTitles[stub.ID] = title
			}
		}
		if author, ok := stub.Data["author"].(map[string]interface{}); ok {
			if username, _ := author["username"].(string); username != "" {
				if _, known := titles.projectOwners[stub.ID]; !known {
					titles.projectOwners[stub.ID] = username
				}
			}
		}
	case entity.KindStudio:
		if stub.ID == 0 {
			return
		}
		if title, _ := stub.Data["title"].(string); title != "" {
			if _, known := titles.studioTitles[stub.ID]; !known {
				titles.studioTitles[stub.ID] = title
			}
		}
	}
}

func recID(data entity.Raw) int64 {
	if data == nil {
		return 0
	}
	switch n := data["id"].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

// ApplyIdentityToNameConversions backfills names the table resolved
// after an entity was created: id-only users get their username (and
// move into the named index), and untitled projects and studios get
// their titles. Runs the resolution first if the table is stale.
func (e *Engine) ApplyIdentityToNameConversions() {
	e.ResolveIdentityToTitleTable()

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, user := range e.usersByID {
		if user.Name() != "" {
			continue
		}
		username, ok := e.titles.usernames[id]
		if !ok {
			continue
		}
		key := entity.NormalizeUsername(username)
		if named, exists := e.users[key]; exists {
			// The same user was tracked twice; fold the stub in.
			named.MergeData(user.Snapshot())
			if user.HasLevel() {
				named.SetLevel(user.Level())
			}
			e.usersByID[id] = named
		} else {
			user.MergeData(entity.Raw{"username": username})
			e.users[key] = user
		}
		e.titleDirty = true
	}
	for id, project := range e.projects {
		if project.Name() == "" {
			if title, ok := e.titles.projectTitles[id]; ok {
				project.MergeData(entity.Raw{"title": title})
			}
		}
	}
	for id, studio := range e.studios {
		if studio.Name() == "" {
			if title, ok := e.titles.studioTitles[id]; ok {
				studio.MergeData(entity.Raw{"title": title})
			}
		}
	}
}

// ResolvedName answers the rename pass: the display name an id
// resolved to, or "" while unknown.
func (e *Engine) ResolvedName(kind entity.Kind, id int64) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch kind {
	case entity.KindUser:
		return e.titles.usernames[id]
	case entity.KindProject:
		return e.titles.projectTitles[id]
	case entity.KindStudio:
		return e.titles.studioTitles[id]
	}
	return ""
}

// ResolvedOwnerSegment answers the orphan relocation: the owner folder
// segment for a project whose author has since been identified.
func (e *Engine) ResolvedOwnerSegment(projectID int64) string {
	e.mu.Lock()
	username, ok := e.titles.projectOwners[projectID]
	e.mu.Unlock()
	if !ok || username == "" {
		return ""
	}
	if user := e.UserByUsername(username); user != nil && user.ID() != 0 {
		return user.FolderSegment()
	}
	return username
}

// ownerSegmentFor derives the folder segment a project or studio files
// under.
func (e *Engine) ownerSegmentFor(username string) string {
	if username == "" {
		return ""
	}
	if user := e.UserByUsername(username); user != nil {
		return user.FolderSegment()
	}
	return username
}
