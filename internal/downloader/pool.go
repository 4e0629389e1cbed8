// Package downloader runs project binary downloads through a bounded
// worker pool. Snapshots and listings fan out unbounded behind the
// rate limiter, but binaries are large; the pool keeps memory flat.
package downloader

import (
	"context"
	"sync"
	"time"

	"scratcharchive/pkg/entity"
	"scratcharchive/pkg/logger"
	"scratcharchive/pkg/scratch"
	"scratcharchive/pkg/storage"
)

const defaultWorkers = 3

// Job is one project whose binary should land in Dir.
type Job struct {
	Project *entity.Project
	Dir     string
}

// Result reports one job's outcome. Source is "live", "wayback",
// "skipped" (already on disk), or "missing" (nowhere to get it). A
// live result may additionally have written a dated historical copy.
type Result struct {
	Job    Job
	Source string
	Err    error
}

// BinaryFetcher is the slice of the platform client the pool needs.
type BinaryFetcher interface {
	DownloadProject(ctx context.Context, projectID int64, xToken string) (*scratch.ProjectBinary, error)
	DownloadProjectFromWayback(ctx context.Context, projectID int64, olderThan time.Time) (*scratch.ProjectBinary, error)
}

// Pool downloads project binaries with a fixed worker count, trying
// the live platform first and falling back to the Wayback Machine.
type Pool struct {
	workers int
	client  BinaryFetcher
	store   *storage.Manager
	log     logger.Logger
}

func NewPool(workers int, client BinaryFetcher, store *storage.Manager, log logger.Logger) *Pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Pool{workers: workers, client: client, store: store, log: log}
}

// Run processes all jobs and returns their results once every worker
// has drained the queue.
func (p *Pool) Run(ctx context.Context, jobs []Job) []Result {
	jobCh := make(chan Job)
	resultCh := make(chan Result, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				resultCh <- p.process(ctx, job)
			}
		}()
	}

	for _, job := range jobs {
		select {
		case jobCh <- job:
		case <-ctx.Done():
		}
	}
	close(jobCh)
	wg.Wait()
	close(resultCh)

	results := make([]Result, 0, len(jobs))
	for result := range resultCh {
		results = append(results, result)
	}
	return results
}

func (p *Pool) process(ctx context.Context, job Job) Result {
	title := job.Project.DisplayName()
	id := job.Project.ID()
	if err := ctx.Err(); err != nil {
		return Result{Job: job, Err: err}
	}

	haveLive := p.store.HasBinary(job.Dir, title)
	haveDated := p.store.HasTimestampedBinary(job.Dir, title)
	if haveLive && haveDated {
		return Result{Job: job, Source: "skipped"}
	}

	var live *scratch.ProjectBinary
	if !haveLive {
		_, xToken := job.Project.Authorization()
		binary, err := p.client.DownloadProject(ctx, id, xToken)
		if err != nil {
			p.log.WarnWithFields("live download failed", map[string]interface{}{
				"project": id, "error": err.Error(),
			})
		}
		if binary != nil {
			if err := p.store.WriteBinary(job.Dir, title, binary.Format, "", binary.Data); err != nil {
				return Result{Job: job, Err: err}
			}
			live = binary
		}
	}

	// A dated historical copy is kept alongside the live file. When the
	// live binary exists the lookup is bounded by the project's
	// last-modified time so the snapshot predates the current state; a
	// project with no history record gets no bound to search under, and
	// a vanished project is looked up unbounded.
	olderThan := time.Time{}
	wantDated := !haveDated
	if wantDated && (haveLive || live != nil) {
		olderThan = job.Project.LastModified()
		wantDated = !olderThan.IsZero()
	}

	var dated *scratch.ProjectBinary
	if wantDated {
		binary, err := p.client.DownloadProjectFromWayback(ctx, id, olderThan)
		switch {
		case err != nil && live == nil && !haveLive:
			return Result{Job: job, Err: err}
		case err != nil:
			p.log.WarnWithFields("historical snapshot fetch failed", map[string]interface{}{
				"project": id, "error": err.Error(),
			})
		case binary != nil:
			date := ""
			if !binary.Date.IsZero() {
				date = binary.Date.Format("2006-01-02")
			}
			if date == "" && (haveLive || live != nil) {
				// An undated copy would overwrite the live file.
				break
			}
			if err := p.store.WriteBinary(job.Dir, title, binary.Format, date, binary.Data); err != nil {
				return Result{Job: job, Err: err}
			}
			dated = binary
		}
	}

	switch {
	case live != nil:
		return Result{Job: job, Source: "live"}
	case dated != nil:
		return Result{Job: job, Source: "wayback"}
	case haveLive || haveDated:
		return Result{Job: job, Source: "skipped"}
	default:
		return Result{Job: job, Source: "missing"}
	}
}
