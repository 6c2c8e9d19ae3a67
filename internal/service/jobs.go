package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/mindstream/internal/ingest"
)

// JobStatus represents the state of a background job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one background ingestion run.
type Job struct {
	ID          string         `json:"id"`
	Path        string         `json:"path"`
	Status      JobStatus      `json:"status"`
	Progress    int            `json:"progress"`
	Total       int            `json:"total"`
	Result      *ingest.Result `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`

	mu sync.RWMutex
}

// IngestFunc runs one ingestion. Engine.Ingest satisfies it.
type IngestFunc func(ctx context.Context, path string, progress ingest.ProgressFunc) (ingest.Result, error)

// JobManager runs ingestion jobs in the background and tracks their state.
// At most concurrency jobs run at once; the rest wait as pending.
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	sem    chan struct{}
	run    IngestFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewJobManager creates a job manager around run.
func NewJobManager(concurrency int, run IngestFunc, logger *slog.Logger) *JobManager {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobManager{
		jobs:   make(map[string]*Job),
		sem:    make(chan struct{}, concurrency),
		run:    run,
		logger: logger,
	}
}

// Concurrency returns the configured concurrency level.
func (m *JobManager) Concurrency() int {
	return cap(m.sem)
}

// Start registers a pending job for path and runs it in the background.
// The job is detached from ctx's cancellation but keeps its values.
func (m *JobManager) Start(ctx context.Context, path string) *Job {
	job := &Job{
		ID:        uuid.New().String()[:8],
		Path:      path,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.logger.Info("job created", "job_id", job.ID, "path", path)

	bgCtx := context.WithoutCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("job goroutine panicked", "job_id", job.ID, "panic", r)
				m.Fail(job, fmt.Errorf("internal panic: %v", r))
			}
		}()

		m.sem <- struct{}{}
		defer func() { <-m.sem }()

		m.SetRunning(job)
		res, err := m.run(bgCtx, path, func(done, total int) {
			m.UpdateProgress(job, done, total)
		})
		if err != nil {
			m.Fail(job, err)
			return
		}
		m.Complete(job, res)
	}()

	return job
}

// Wait blocks until every started job has finished.
func (m *JobManager) Wait() {
	m.wg.Wait()
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ListJobs returns all jobs, most recent first.
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	slices.SortFunc(jobs, func(a, b *Job) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return jobs
}

// UpdateProgress records progress on a job.
func (m *JobManager) UpdateProgress(job *Job, current, total int) {
	job.mu.Lock()
	defer job.mu.Unlock()
	job.Progress = current
	job.Total = total
	if job.Status == JobStatusPending {
		job.Status = JobStatusRunning
	}
}

// SetRunning marks job as running.
func (m *JobManager) SetRunning(job *Job) {
	job.mu.Lock()
	job.Status = JobStatusRunning
	job.mu.Unlock()
}

// Complete marks job as completed with result.
func (m *JobManager) Complete(job *Job, result ingest.Result) {
	job.mu.Lock()
	job.Status = JobStatusCompleted
	job.Result = &result
	now := time.Now()
	job.CompletedAt = &now
	job.mu.Unlock()

	m.logger.Info("job completed", "job_id", job.ID,
		"added", result.Added, "deleted", result.Deleted, "skipped", result.Skipped)
}

// Fail marks job as failed with error.
func (m *JobManager) Fail(job *Job, err error) {
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Error = err.Error()
	now := time.Now()
	job.CompletedAt = &now
	job.mu.Unlock()

	m.logger.Error("job failed", "job_id", job.ID, "error", err)
}

// Snapshot returns a thread-safe copy of job state.
func (j *Job) Snapshot() Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Job{
		ID:          j.ID,
		Path:        j.Path,
		Status:      j.Status,
		Progress:    j.Progress,
		Total:       j.Total,
		Result:      j.Result,
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// Done reports whether the job reached a terminal status.
func (s JobStatus) Done() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}
