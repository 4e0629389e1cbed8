package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"scratcharchive/pkg/entity"
	errs "scratcharchive/pkg/errors"
)

// Resolver answers the questions the rename pass cannot answer from
// the filesystem alone: what an id's name turned out to be, and which
// user a project belongs to.
type Resolver struct {
	// Name returns the resolved display name for an id, or "" when the
	// id is still unresolved.
	Name func(kind entity.Kind, id int64) string
	// OwnerSegment returns the resolved owner folder segment for a
	// project id, or "" when the owner is still unknown.
	OwnerSegment func(projectID int64) string
}

// Cleanup walks the archive and fixes names that resolved after their
// files were written: placeholder-named folders and files are renamed
// to the real name, and projects filed under the unknown-owner folder
// move to their owner once that owner is known. Failures on individual
// entries are logged and skipped; one bad name never stops the pass.
func (m *Manager) Cleanup(resolve Resolver) error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return errs.New(errs.ErrorTypeFatal, "reading archive root: %v", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		userDir := filepath.Join(m.root, entry.Name())
		if entry.Name() == Sanitize(entity.MissingOwner) {
			m.relocateOrphans(userDir, resolve)
			continue
		}
		m.cleanupUserDir(userDir, resolve)
	}
	// Orphans may have been relocated into folders that themselves
	// still need renaming, so user folders are processed after the
	// relocation completes.
	entries, err = os.ReadDir(m.root)
	if err != nil {
		return errs.New(errs.ErrorTypeFatal, "re-reading archive root: %v", err)
	}
	for _, entry := range entries {
		if entry.IsDir() && entry.Name() != Sanitize(entity.MissingOwner) {
			m.cleanupUserDir(filepath.Join(m.root, entry.Name()), resolve)
		}
	}
	return nil
}

// cleanupUserDir renames the user's own files and folder, then recurses
// into the projects and studios beneath it. Children rename before the
// parent folder so their paths stay valid.
func (m *Manager) cleanupUserDir(userDir string, resolve Resolver) {
	for _, sub := range []struct {
		dir  string
		kind entity.Kind
	}{{"projects", entity.KindProject}, {"studios", entity.KindStudio}} {
		subDir := filepath.Join(userDir, sub.dir)
		children, err := os.ReadDir(subDir)
		if err != nil {
			continue
		}
		for _, child := range children {
			if !child.IsDir() {
				continue
			}
			childDir := filepath.Join(subDir, child.Name())
			m.renameEntriesIn(childDir, sub.kind, resolve)
			m.renameSegment(childDir, sub.kind, resolve)
		}
	}
	m.renameEntriesIn(userDir, entity.KindUser, resolve)
	m.renameSegment(userDir, entity.KindUser, resolve)
}

// renameEntriesIn renames placeholder-named files inside one entity
// directory: the snapshot JSON and any binaries, including the
// timestamped wayback copies whose date sits between title and
// extension.
func (m *Manager) renameEntriesIn(dir string, kind entity.Kind, resolve Resolver) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	// The directory name carries the id the files were written under.
	_, dirID, _ := ParseSegment(filepath.Base(dir))
	placeholder := placeholderFor(kind)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		_, _, ext := ParseSegment(entry.Name())
		stem := strings.TrimSuffix(entry.Name(), ext)
		if stem != placeholder && !strings.HasPrefix(stem, placeholder+" ") {
			continue
		}
		resolved := m.resolvedName(placeholder, kind, dirID, resolve)
		if resolved == "" {
			continue
		}
		newName := Sanitize(resolved) + stem[len(placeholder):] + ext
		m.rename(filepath.Join(dir, entry.Name()), filepath.Join(dir, newName))
	}
}

func placeholderFor(kind entity.Kind) string {
	switch kind {
	case entity.KindUser:
		return entity.MissingUsername
	case entity.KindProject:
		return entity.MissingProjectTitle
	default:
		return entity.MissingStudioTitle
	}
}

// renameSegment renames one entity directory when its placeholder name
// has since resolved.
func (m *Manager) renameSegment(dir string, kind entity.Kind, resolve Resolver) {
	name, id, _ := ParseSegment(filepath.Base(dir))
	resolved := m.resolvedName(name, kind, id, resolve)
	if resolved == "" {
		return
	}
	newBase := fmt.Sprintf("%s {%d}", Sanitize(resolved), id)
	m.rename(dir, filepath.Join(filepath.Dir(dir), newBase))
}

// resolvedName returns the replacement name when the current name is a
// placeholder and the resolver knows better.
func (m *Manager) resolvedName(current string, kind entity.Kind, id int64, resolve Resolver) string {
	if !isPlaceholder(current) || id == 0 || resolve.Name == nil {
		return ""
	}
	resolved := resolve.Name(kind, id)
	if resolved == "" || resolved == current {
		return ""
	}
	return resolved
}

func isPlaceholder(name string) bool {
	switch name {
	case entity.MissingUsername, entity.MissingProjectTitle, entity.MissingStudioTitle:
		return true
	}
	return false
}

// relocateOrphans moves projects filed under the unknown-owner folder
// to their resolved owner's folder.
func (m *Manager) relocateOrphans(orphanDir string, resolve Resolver) {
	projectsDir := filepath.Join(orphanDir, "projects")
	children, err := os.ReadDir(projectsDir)
	if err != nil {
		return
	}
	for _, child := range children {
		if !child.IsDir() {
			continue
		}
		_, id, _ := ParseSegment(child.Name())
		if id == 0 || resolve.OwnerSegment == nil {
			continue
		}
		owner := resolve.OwnerSegment(id)
		if owner == "" {
			continue
		}
		src := filepath.Join(projectsDir, child.Name())
		dst := filepath.Join(m.root, Sanitize(owner), "projects", child.Name())
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			m.logger.WarnWithFields("relocation failed", map[string]interface{}{
				"project": child.Name(), "error": err.Error(),
			})
			continue
		}
		m.move(src, dst)
	}
	// Drop the unknown-owner tree once nothing is left in it.
	if remaining, err := os.ReadDir(projectsDir); err == nil && len(remaining) == 0 {
		os.Remove(projectsDir)
		os.Remove(orphanDir)
	}
}

func (m *Manager) rename(oldPath, newPath string) {
	if oldPath == newPath {
		return
	}
	if _, err := os.Stat(newPath); err == nil {
		m.logger.WarnWithFields("rename target exists, skipping", map[string]interface{}{
			"from": oldPath, "to": newPath,
		})
		return
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		m.logger.WarnWithFields("rename failed", map[string]interface{}{
			"from": oldPath, "to": newPath, "error": err.Error(),
		})
		return
	}
	m.logger.InfoWithFields("renamed", map[string]interface{}{
		"from": filepath.Base(oldPath), "to": filepath.Base(newPath),
	})
}

// move renames across directories, falling back to copy-and-remove for
// filesystems where rename cannot cross boundaries.
func (m *Manager) move(src, dst string) {
	if err := os.Rename(src, dst); err == nil {
		m.logger.InfoWithFields("relocated", map[string]interface{}{"from": src, "to": dst})
		return
	}
	if err := copyTree(src, dst); err != nil {
		m.logger.WarnWithFields("relocation failed", map[string]interface{}{
			"from": src, "to": dst, "error": err.Error(),
		})
		return
	}
	os.RemoveAll(src)
	m.logger.InfoWithFields("relocated", map[string]interface{}{"from": src, "to": dst})
}

func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst)
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := copyTree(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
