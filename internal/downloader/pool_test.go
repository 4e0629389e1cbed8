package downloader

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scratcharchive/pkg/entity"
	"scratcharchive/pkg/scratch"
	"scratcharchive/pkg/storage"
)

// mockFetcher serves scripted binaries and tracks concurrency.
type mockFetcher struct {
	live    map[int64]*scratch.ProjectBinary
	wayback map[int64]*scratch.ProjectBinary
	liveErr error

	delay      time.Duration
	active     atomic.Int32
	peakActive atomic.Int32
	liveCalls  atomic.Int32

	mu         sync.Mutex
	olderThans map[int64]time.Time
}

func (m *mockFetcher) DownloadProject(ctx context.Context, projectID int64, xToken string) (*scratch.ProjectBinary, error) {
	m.liveCalls.Add(1)
	active := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		peak := m.peakActive.Load()
		if active <= peak || m.peakActive.CompareAndSwap(peak, active) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.liveErr != nil {
		return nil, m.liveErr
	}
	return m.live[projectID], nil
}

func (m *mockFetcher) DownloadProjectFromWayback(ctx context.Context, projectID int64, olderThan time.Time) (*scratch.ProjectBinary, error) {
	m.mu.Lock()
	if m.olderThans == nil {
		m.olderThans = map[int64]time.Time{}
	}
	m.olderThans[projectID] = olderThan
	m.mu.Unlock()
	return m.wayback[projectID], nil
}

func (m *mockFetcher) olderThanFor(projectID int64) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	olderThan, ok := m.olderThans[projectID]
	return olderThan, ok
}

func newTestStore(t *testing.T) *storage.Manager {
	t.Helper()
	store, err := storage.NewManager(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

func job(store *storage.Manager, id int64, title string) Job {
	project := entity.NewProject(id, entity.Raw{"title": title})
	return Job{
		Project: project,
		Dir:     store.ProjectDir("alice {1}", project.FolderSegment()),
	}
}

func jobWithHistory(store *storage.Manager, id int64, title, modified string) Job {
	project := entity.NewProject(id, entity.Raw{
		"title":   title,
		"history": map[string]interface{}{"modified": modified},
	})
	return Job{
		Project: project,
		Dir:     store.ProjectDir("alice {1}", project.FolderSegment()),
	}
}

func sourceByID(results []Result) map[int64]string {
	out := make(map[int64]string, len(results))
	for _, r := range results {
		out[r.Job.Project.ID()] = r.Source
	}
	return out
}

func TestPoolDownloadsLive(t *testing.T) {
	store := newTestStore(t)
	fetcher := &mockFetcher{
		live: map[int64]*scratch.ProjectBinary{
			100: {Data: []byte("bin-100"), Format: "sb3"},
			101: {Data: []byte("bin-101"), Format: "sb2"},
		},
	}
	pool := NewPool(2, fetcher, store, nil)

	jobs := []Job{job(store, 100, "First"), job(store, 101, "Second")}
	results := pool.Run(context.Background(), jobs)
	require.Len(t, results, 2)

	sources := sourceByID(results)
	assert.Equal(t, "live", sources[100])
	assert.Equal(t, "live", sources[101])
	assert.FileExists(t, filepath.Join(jobs[0].Dir, "First.sb3"))
	assert.FileExists(t, filepath.Join(jobs[1].Dir, "Second.sb2"))

	// Without a history record there is no date to bound a historical
	// lookup under, so none is attempted.
	_, looked := fetcher.olderThanFor(100)
	assert.False(t, looked)
}

func TestPoolWritesHistoricalCopyAlongsideLive(t *testing.T) {
	store := newTestStore(t)
	capture := time.Date(2019, 4, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &mockFetcher{
		live: map[int64]*scratch.ProjectBinary{
			100: {Data: []byte("now"), Format: "sb3"},
		},
		wayback: map[int64]*scratch.ProjectBinary{
			100: {Data: []byte("then"), Format: "sb2", Date: capture},
		},
	}
	pool := NewPool(1, fetcher, store, nil)

	j := jobWithHistory(store, 100, "Maze", "2020-05-01T00:00:00Z")
	results := pool.Run(context.Background(), []Job{j})
	require.Len(t, results, 1)
	assert.Equal(t, "live", results[0].Source)

	assert.FileExists(t, filepath.Join(j.Dir, "Maze.sb3"))
	assert.FileExists(t, filepath.Join(j.Dir, "Maze 2019-04-01.sb2"),
		"a dated historical snapshot is kept alongside the live binary")

	olderThan, looked := fetcher.olderThanFor(100)
	require.True(t, looked)
	assert.Equal(t, time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC), olderThan.UTC(),
		"the lookup is bounded by the project's last-modified time")
}

func TestPoolBackfillsHistoricalCopyForExistingLive(t *testing.T) {
	store := newTestStore(t)
	capture := time.Date(2019, 4, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &mockFetcher{
		wayback: map[int64]*scratch.ProjectBinary{
			100: {Data: []byte("then"), Format: "sb2", Date: capture},
		},
	}
	pool := NewPool(1, fetcher, store, nil)

	j := jobWithHistory(store, 100, "Maze", "2020-05-01T00:00:00Z")
	require.NoError(t, store.WriteBinary(j.Dir, "Maze", "sb3", "", []byte("now")))

	results := pool.Run(context.Background(), []Job{j})
	require.Len(t, results, 1)
	assert.Equal(t, "wayback", results[0].Source)
	assert.Zero(t, fetcher.liveCalls.Load())
	assert.FileExists(t, filepath.Join(j.Dir, "Maze 2019-04-01.sb2"))
}

func TestPoolFallsBackToWayback(t *testing.T) {
	store := newTestStore(t)
	capture := time.Date(2019, 4, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &mockFetcher{
		wayback: map[int64]*scratch.ProjectBinary{
			100: {Data: []byte("old"), Format: "sb2", Date: capture},
		},
	}
	pool := NewPool(1, fetcher, store, nil)

	j := job(store, 100, "Gone")
	results := pool.Run(context.Background(), []Job{j})
	require.Len(t, results, 1)
	assert.Equal(t, "wayback", results[0].Source)
	assert.FileExists(t, filepath.Join(j.Dir, "Gone 2019-04-01.sb2"),
		"archived copies keep their capture date in the name")

	// A vanished project is looked up without a date bound.
	olderThan, looked := fetcher.olderThanFor(100)
	require.True(t, looked)
	assert.True(t, olderThan.IsZero())
}

func TestPoolReportsMissing(t *testing.T) {
	store := newTestStore(t)
	pool := NewPool(1, &mockFetcher{}, store, nil)

	results := pool.Run(context.Background(), []Job{job(store, 100, "Nowhere")})
	require.Len(t, results, 1)
	assert.Equal(t, "missing", results[0].Source)
	assert.NoError(t, results[0].Err)
}

func TestPoolSkipsExistingBinaries(t *testing.T) {
	store := newTestStore(t)
	fetcher := &mockFetcher{
		live: map[int64]*scratch.ProjectBinary{100: {Data: []byte("bin"), Format: "sb3"}},
	}
	pool := NewPool(1, fetcher, store, nil)

	j := job(store, 100, "Kept")
	require.NoError(t, store.WriteBinary(j.Dir, "Kept", "sb3", "", []byte("already here")))

	results := pool.Run(context.Background(), []Job{j})
	require.Len(t, results, 1)
	assert.Equal(t, "skipped", results[0].Source)
	assert.Zero(t, fetcher.liveCalls.Load())
}

func TestPoolSkipsWhenBothCopiesExist(t *testing.T) {
	store := newTestStore(t)
	fetcher := &mockFetcher{}
	pool := NewPool(1, fetcher, store, nil)

	j := jobWithHistory(store, 100, "Kept", "2020-05-01T00:00:00Z")
	require.NoError(t, store.WriteBinary(j.Dir, "Kept", "sb3", "", []byte("now")))
	require.NoError(t, store.WriteBinary(j.Dir, "Kept", "sb2", "2019-04-01", []byte("then")))

	results := pool.Run(context.Background(), []Job{j})
	require.Len(t, results, 1)
	assert.Equal(t, "skipped", results[0].Source)
	assert.Zero(t, fetcher.liveCalls.Load())
	_, looked := fetcher.olderThanFor(100)
	assert.False(t, looked)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	store := newTestStore(t)
	fetcher := &mockFetcher{delay: 20 * time.Millisecond}
	pool := NewPool(2, fetcher, store, nil)

	var jobs []Job
	for i := int64(1); i <= 8; i++ {
		jobs = append(jobs, job(store, 100+i, "Title"))
	}
	results := pool.Run(context.Background(), jobs)
	assert.Len(t, results, 8)
	assert.LessOrEqual(t, fetcher.peakActive.Load(), int32(2),
		"no more downloads in flight than workers")
}

func TestPoolRunConcurrentSafety(t *testing.T) {
	// Two pools over the same store must not trip each other up.
	store := newTestStore(t)
	fetcher := &mockFetcher{
		live: map[int64]*scratch.ProjectBinary{100: {Data: []byte("bin"), Format: "sb3"}},
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			NewPool(2, fetcher, store, nil).Run(context.Background(), []Job{job(store, 100, "Shared")})
		}()
	}
	wg.Wait()

	assert.FileExists(t, filepath.Join(store.ProjectDir("alice {1}", "Shared {100}"), "Shared.sb3"))
}
