package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"scratcharchive/pkg/entity"
	errs "scratcharchive/pkg/errors"
	"scratcharchive/pkg/logger"
)

// Manager owns the archive tree under a single root directory.
type Manager struct {
	root   string
	logger logger.Logger
}

// MetadataFileName is the archive's resume state at the tree root.
const MetadataFileName = "Archive_Metadata.json"

func NewManager(root string, log logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeFatal, "resolving archive root: %v", err)
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, errs.New(errs.ErrorTypeFatal, "creating archive root: %v", err)
	}
	return &Manager{root: absRoot, logger: log}, nil
}

func (m *Manager) Root() string { return m.root }

// UserDir is `<root>/<username {id}>`.
func (m *Manager) UserDir(folderSegment string) string {
	return filepath.Join(m.root, Sanitize(folderSegment))
}

// ProjectDir is `<owner dir>/projects/<title {id}>`. An empty owner
// segment files the project under the unknown-owner folder.
func (m *Manager) ProjectDir(ownerSegment, projectSegment string) string {
	return filepath.Join(m.ownerDir(ownerSegment), "projects", Sanitize(projectSegment))
}

// StudioDir is `<host dir>/studios/<title {id}>`.
func (m *Manager) StudioDir(ownerSegment, studioSegment string) string {
	return filepath.Join(m.ownerDir(ownerSegment), "studios", Sanitize(studioSegment))
}

func (m *Manager) ownerDir(ownerSegment string) string {
	if ownerSegment == "" {
		ownerSegment = entity.MissingOwner
	}
	return filepath.Join(m.root, Sanitize(ownerSegment))
}

// WriteSnapshot writes an entity's JSON snapshot as `<name>.json` in
// dir, excluding internal keys (leading underscore). Writes are atomic.
func (m *Manager) WriteSnapshot(dir, name string, data map[string]interface{}) error {
	snapshot := make(map[string]interface{}, len(data))
	for key, value := range data {
		if strings.HasPrefix(key, "_") {
			continue
		}
		snapshot[key] = value
	}
	encoded, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errs.New(errs.ErrorTypeFatal, "encoding snapshot %s: %v", name, err)
	}
	return m.writeFile(dir, Sanitize(name)+".json", encoded)
}

// HasBinary reports whether dir already holds the live project file
// `<title>.<sb|sb2|sb3>`.
func (m *Manager) HasBinary(dir, title string) bool {
	return m.hasBinary(dir, title, false)
}

// HasTimestampedBinary reports whether dir holds a dated historical
// copy `<title> <date>.<sb|sb2|sb3>`.
func (m *Manager) HasTimestampedBinary(dir, title string) bool {
	return m.hasBinary(dir, title, true)
}

func (m *Manager) hasBinary(dir, title string, timestamped bool) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	want := Sanitize(title)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, _, ext := ParseSegment(entry.Name())
		if ext == "" {
			continue
		}
		switch ext {
		case ".sb", ".sb2", ".sb3":
		default:
			continue
		}
		if timestamped {
			if strings.HasPrefix(name, want+" ") {
				return true
			}
		} else if name == want {
			return true
		}
	}
	return false
}

// WriteBinary persists a project binary as `<title>.<format>`, or as
// `<title> <date>.<format>` when a snapshot date is supplied (wayback
// copies keep their capture date in the name).
func (m *Manager) WriteBinary(dir, title, format, date string, data []byte) error {
	name := Sanitize(title)
	if date != "" {
		name += " " + date
	}
	return m.writeFile(dir, name+"."+format, data)
}

// WriteImage persists an avatar or thumbnail next to the snapshot,
// skipping when the file already exists.
func (m *Manager) WriteImage(dir, name string, data []byte) error {
	path := filepath.Join(dir, Sanitize(name))
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return m.writeFile(dir, Sanitize(name), data)
}

// writeFile creates dir and writes the file through a temp name in the
// same directory so a crash never leaves a half-written file behind.
func (m *Manager) writeFile(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.New(errs.ErrorTypeFatal, "creating %s: %v", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errs.New(errs.ErrorTypeFatal, "creating temp file in %s: %v", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.New(errs.ErrorTypeFatal, "writing %s: %v", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errs.New(errs.ErrorTypeFatal, "closing %s: %v", name, err)
	}
	final := filepath.Join(dir, name)
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return errs.New(errs.ErrorTypeFatal, "renaming into place: %v", err)
	}
	m.logger.DebugWithFields("wrote file", map[string]interface{}{
		"path": final,
		"size": len(data),
	})
	return nil
}

// ReadSnapshots walks the archive tree and yields every entity
// snapshot found, so a fresh run can resume from disk.
func (m *Manager) ReadSnapshots() ([]Snapshot, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeFatal, "reading archive root: %v", err)
	}
	var snapshots []Snapshot
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		userDir := filepath.Join(m.root, entry.Name())
		if snap, ok := m.readSnapshotIn(userDir, entity.KindUser); ok {
			snapshots = append(snapshots, snap)
		}
		for _, sub := range []struct {
			dir  string
			kind entity.Kind
		}{{"projects", entity.KindProject}, {"studios", entity.KindStudio}} {
			subEntries, err := os.ReadDir(filepath.Join(userDir, sub.dir))
			if err != nil {
				continue
			}
			for _, child := range subEntries {
				if !child.IsDir() {
					continue
				}
				if snap, ok := m.readSnapshotIn(filepath.Join(userDir, sub.dir, child.Name()), sub.kind); ok {
					snapshots = append(snapshots, snap)
				}
			}
		}
	}
	return snapshots, nil
}

// Snapshot is one entity's JSON read back from disk.
type Snapshot struct {
	Kind entity.Kind
	Dir  string
	Data map[string]interface{}
}

// readSnapshotIn finds the single .json file in an entity directory.
func (m *Manager) readSnapshotIn(dir string, kind entity.Kind) (Snapshot, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Snapshot{}, false
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var data map[string]interface{}
		if err := json.Unmarshal(raw, &data); err != nil {
			m.logger.WarnWithFields("skipping unreadable snapshot", map[string]interface{}{
				"path":  filepath.Join(dir, entry.Name()),
				"error": err.Error(),
			})
			continue
		}
		return Snapshot{Kind: kind, Dir: dir, Data: data}, true
	}
	return Snapshot{}, false
}

// MetadataPath is the full path of the archive metadata file.
func (m *Manager) MetadataPath() string {
	return filepath.Join(m.root, MetadataFileName)
}

// WriteMetadata atomically persists the resume metadata.
func (m *Manager) WriteMetadata(data []byte) error {
	return m.writeFile(m.root, MetadataFileName, data)
}

// ReadMetadata loads the resume metadata; a missing file yields nil.
func (m *Manager) ReadMetadata() ([]byte, error) {
	data, err := os.ReadFile(m.MetadataPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.ErrorTypeFatal, "reading %s: %v", MetadataFileName, err)
	}
	return data, nil
}
