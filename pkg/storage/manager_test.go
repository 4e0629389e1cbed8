package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scratcharchive/pkg/entity"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), nil)
	require.NoError(t, err)
	return m
}

func TestWriteSnapshotExcludesInternalKeys(t *testing.T) {
	m := newTestManager(t)
	dir := m.UserDir("alice {1}")

	err := m.WriteSnapshot(dir, "alice {1}", map[string]interface{}{
		"username":   "alice",
		"id":         float64(1),
		"_level":     2,
		"_collected": true,
		"_sessionID": "secret",
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "alice {1}.json"))
	require.NoError(t, err)
	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, "alice", data["username"])
	assert.NotContains(t, data, "_level")
	assert.NotContains(t, data, "_collected")
	assert.NotContains(t, data, "_sessionID")
}

func TestWriteSnapshotLeavesNoTempFiles(t *testing.T) {
	m := newTestManager(t)
	dir := m.UserDir("alice {1}")
	require.NoError(t, m.WriteSnapshot(dir, "alice {1}", map[string]interface{}{"username": "alice"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice {1}.json", entries[0].Name())
}

func TestEntityDirs(t *testing.T) {
	m := newTestManager(t)
	assert.Equal(t, filepath.Join(m.Root(), "alice {1}"), m.UserDir("alice {1}"))
	assert.Equal(t,
		filepath.Join(m.Root(), "alice {1}", "projects", "Maze Game {104}"),
		m.ProjectDir("alice {1}", "Maze Game {104}"))
	assert.Equal(t,
		filepath.Join(m.Root(), "alice {1}", "studios", "Art Club {300}"),
		m.StudioDir("alice {1}", "Art Club {300}"))

	// Projects without a known owner file under the unknown-owner folder.
	assert.Equal(t,
		filepath.Join(m.Root(), entity.MissingOwner, "projects", "Maze Game {104}"),
		m.ProjectDir("", "Maze Game {104}"))
}

func TestHasBinary(t *testing.T) {
	m := newTestManager(t)
	dir := m.ProjectDir("alice {1}", "Maze Game {104}")

	assert.False(t, m.HasBinary(dir, "Maze Game"))

	require.NoError(t, m.WriteBinary(dir, "Maze Game", "sb3", "", []byte("data")))
	assert.True(t, m.HasBinary(dir, "Maze Game"))
	assert.False(t, m.HasBinary(dir, "Other Game"))
}

func TestHasTimestampedBinary(t *testing.T) {
	// Wayback copies carry their capture date between title and
	// extension; they are tracked separately from the live file.
	m := newTestManager(t)
	dir := m.ProjectDir("alice {1}", "Maze Game {104}")
	require.NoError(t, m.WriteBinary(dir, "Maze Game", "sb2", "2019-04-01", []byte("data")))

	assert.True(t, m.HasTimestampedBinary(dir, "Maze Game"))
	assert.False(t, m.HasBinary(dir, "Maze Game"))
	assert.False(t, m.HasTimestampedBinary(dir, "Other Game"))

	require.NoError(t, m.WriteBinary(dir, "Maze Game", "sb3", "", []byte("data")))
	assert.True(t, m.HasBinary(dir, "Maze Game"))
}

func TestHasBinaryIgnoresOtherFiles(t *testing.T) {
	m := newTestManager(t)
	dir := m.ProjectDir("alice {1}", "Maze Game {104}")
	require.NoError(t, m.WriteSnapshot(dir, "Maze Game {104}", map[string]interface{}{"id": 104}))
	require.NoError(t, m.WriteImage(dir, "thumbnail.png", []byte("png")))

	assert.False(t, m.HasBinary(dir, "Maze Game"))
}

func TestWriteImageSkipsExisting(t *testing.T) {
	m := newTestManager(t)
	dir := m.UserDir("alice {1}")
	require.NoError(t, m.WriteImage(dir, "avatar.png", []byte("first")))
	require.NoError(t, m.WriteImage(dir, "avatar.png", []byte("second")))

	data, err := os.ReadFile(filepath.Join(dir, "avatar.png"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestReadSnapshots(t *testing.T) {
	m := newTestManager(t)
	userDir := m.UserDir("alice {1}")
	require.NoError(t, m.WriteSnapshot(userDir, "alice {1}", map[string]interface{}{
		"username": "alice", "id": float64(1),
	}))
	projectDir := m.ProjectDir("alice {1}", "Maze Game {104}")
	require.NoError(t, m.WriteSnapshot(projectDir, "Maze Game {104}", map[string]interface{}{
		"id": float64(104), "title": "Maze Game",
	}))
	studioDir := m.StudioDir("alice {1}", "Art Club {300}")
	require.NoError(t, m.WriteSnapshot(studioDir, "Art Club {300}", map[string]interface{}{
		"id": float64(300), "title": "Art Club",
	}))

	snapshots, err := m.ReadSnapshots()
	require.NoError(t, err)
	require.Len(t, snapshots, 3)

	kinds := map[entity.Kind]int{}
	for _, snap := range snapshots {
		kinds[snap.Kind]++
		assert.NotEmpty(t, snap.Data)
	}
	assert.Equal(t, map[entity.Kind]int{
		entity.KindUser:    1,
		entity.KindProject: 1,
		entity.KindStudio:  1,
	}, kinds)
}

func TestReadSnapshotsEmptyRoot(t *testing.T) {
	m := newTestManager(t)
	snapshots, err := m.ReadSnapshots()
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

func TestMetadataRoundTrip(t *testing.T) {
	m := newTestManager(t)

	data, err := m.ReadMetadata()
	require.NoError(t, err)
	assert.Nil(t, data, "a missing metadata file is not an error")

	require.NoError(t, m.WriteMetadata([]byte(`{"saved_at":"2026-01-01T00:00:00Z"}`)))
	data, err = m.ReadMetadata()
	require.NoError(t, err)
	assert.Contains(t, string(data), "saved_at")
	assert.Equal(t, filepath.Join(m.Root(), MetadataFileName), m.MetadataPath())
}
