package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scratcharchive/pkg/entity"
)

// fixedResolver answers from in-memory tables.
type fixedResolver struct {
	names  map[entity.Kind]map[int64]string
	owners map[int64]string
}

func (r fixedResolver) resolver() Resolver {
	return Resolver{
		Name: func(kind entity.Kind, id int64) string {
			return r.names[kind][id]
		},
		OwnerSegment: func(projectID int64) string {
			return r.owners[projectID]
		},
	}
}

func TestCleanupRenamesResolvedPlaceholders(t *testing.T) {
	m := newTestManager(t)

	userSegment := entity.MissingUsername + " {1}"
	userDir := m.UserDir(userSegment)
	require.NoError(t, m.WriteSnapshot(userDir, userSegment, map[string]interface{}{"id": float64(1)}))

	projectSegment := entity.MissingProjectTitle + " {104}"
	projectDir := m.ProjectDir(userSegment, projectSegment)
	require.NoError(t, m.WriteSnapshot(projectDir, projectSegment, map[string]interface{}{"id": float64(104)}))
	require.NoError(t, m.WriteBinary(projectDir, entity.MissingProjectTitle, "sb3", "", []byte("live")))
	require.NoError(t, m.WriteBinary(projectDir, entity.MissingProjectTitle, "sb2", "2019-04-01", []byte("wayback")))

	resolve := fixedResolver{
		names: map[entity.Kind]map[int64]string{
			entity.KindUser:    {1: "alice"},
			entity.KindProject: {104: "Maze Game"},
		},
	}
	require.NoError(t, m.Cleanup(resolve.resolver()))

	newProjectDir := filepath.Join(m.Root(), "alice {1}", "projects", "Maze Game {104}")
	assert.DirExists(t, newProjectDir)
	assert.FileExists(t, filepath.Join(newProjectDir, "Maze Game {104}.json"))
	assert.FileExists(t, filepath.Join(newProjectDir, "Maze Game.sb3"))
	assert.FileExists(t, filepath.Join(newProjectDir, "Maze Game 2019-04-01.sb2"))
	assert.FileExists(t, filepath.Join(m.Root(), "alice {1}", "alice {1}.json"))
	assert.NoDirExists(t, userDir)
}

func TestCleanupLeavesUnresolvedNamesAlone(t *testing.T) {
	m := newTestManager(t)
	userSegment := entity.MissingUsername + " {1}"
	userDir := m.UserDir(userSegment)
	require.NoError(t, m.WriteSnapshot(userDir, userSegment, map[string]interface{}{"id": float64(1)}))

	require.NoError(t, m.Cleanup(fixedResolver{}.resolver()))
	assert.DirExists(t, userDir)
	assert.FileExists(t, filepath.Join(userDir, Sanitize(userSegment)+".json"))
}

func TestCleanupDoesNotTouchRealNames(t *testing.T) {
	m := newTestManager(t)
	userDir := m.UserDir("alice {1}")
	require.NoError(t, m.WriteSnapshot(userDir, "alice {1}", map[string]interface{}{"id": float64(1)}))

	resolve := fixedResolver{
		names: map[entity.Kind]map[int64]string{entity.KindUser: {1: "renamed"}},
	}
	require.NoError(t, m.Cleanup(resolve.resolver()))
	assert.DirExists(t, userDir, "only placeholder names are rewritten")
}

func TestCleanupRelocatesOrphanProjects(t *testing.T) {
	m := newTestManager(t)

	projectDir := m.ProjectDir("", "Maze Game {104}")
	require.NoError(t, m.WriteSnapshot(projectDir, "Maze Game {104}", map[string]interface{}{"id": float64(104)}))

	resolve := fixedResolver{owners: map[int64]string{104: "alice {1}"}}
	require.NoError(t, m.Cleanup(resolve.resolver()))

	assert.DirExists(t, filepath.Join(m.Root(), "alice {1}", "projects", "Maze Game {104}"))
	assert.NoDirExists(t, filepath.Join(m.Root(), Sanitize(entity.MissingOwner)),
		"the unknown-owner tree goes away once empty")
}

func TestCleanupKeepsUnresolvedOrphans(t *testing.T) {
	m := newTestManager(t)
	projectDir := m.ProjectDir("", "Maze Game {104}")
	require.NoError(t, m.WriteSnapshot(projectDir, "Maze Game {104}", map[string]interface{}{"id": float64(104)}))

	require.NoError(t, m.Cleanup(fixedResolver{}.resolver()))
	assert.DirExists(t, projectDir)
}

func TestCleanupSkipsExistingTarget(t *testing.T) {
	// When a folder with the resolved name already exists, the
	// placeholder folder stays put rather than clobbering it.
	m := newTestManager(t)
	placeholderDir := m.UserDir(entity.MissingUsername + " {1}")
	require.NoError(t, m.WriteSnapshot(placeholderDir, entity.MissingUsername+" {1}", map[string]interface{}{"id": float64(1)}))
	existingDir := m.UserDir("alice {1}")
	require.NoError(t, m.WriteSnapshot(existingDir, "alice {1}", map[string]interface{}{"id": float64(1)}))

	resolve := fixedResolver{
		names: map[entity.Kind]map[int64]string{entity.KindUser: {1: "alice"}},
	}
	require.NoError(t, m.Cleanup(resolve.resolver()))

	assert.DirExists(t, placeholderDir)
	assert.DirExists(t, existingDir)
}

func TestMoveFallsBackToCopy(t *testing.T) {
	m := newTestManager(t)
	src := filepath.Join(m.Root(), "src")
	require.NoError(t, os.MkdirAll(src, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "file.txt"), []byte("payload"), 0644))

	dst := filepath.Join(m.Root(), "dst")
	m.move(src, dst)

	assert.FileExists(t, filepath.Join(dst, "file.txt"))
	assert.NoDirExists(t, src)
}
