package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/shashin/internal/indexer"
)

// Job states.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// IndexJob is the externally visible state of a background bulk-index run.
type IndexJob struct {
	ID         string           `json:"job_id"`
	State      string           `json:"state"`
	Progress   indexer.Progress `json:"progress"`
	Indexed    int              `json:"indexed"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

func (j IndexJob) done() bool {
	return j.State != JobRunning
}

type jobEntry struct {
	mu      sync.Mutex
	job     IndexJob
	changed chan struct{} // closed and replaced on every update
	cancel  context.CancelFunc
}

func (e *jobEntry) snapshot() (IndexJob, <-chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job, e.changed
}

func (e *jobEntry) update(fn func(*IndexJob)) {
	e.mu.Lock()
	fn(&e.job)
	close(e.changed)
	e.changed = make(chan struct{})
	e.mu.Unlock()
}

// maxRetainedJobs bounds how many finished jobs stay queryable.
const maxRetainedJobs = 32

// jobRegistry tracks index jobs. At most one job runs at a time.
type jobRegistry struct {
	mu      sync.Mutex
	jobs    map[string]*jobEntry
	order   []string // job IDs, oldest first
	running string
	limit   int
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{jobs: make(map[string]*jobEntry), limit: maxRetainedJobs}
}

// start launches run in the background unless a job is already running, in which case
// the running job is returned with started=false.
func (r *jobRegistry) start(run func(ctx context.Context, progress func(indexer.Progress)) (int, error)) (IndexJob, bool) {
	r.mu.Lock()
	if r.running != "" {
		job, _ := r.jobs[r.running].snapshot()
		r.mu.Unlock()
		return job, false
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &jobEntry{
		job: IndexJob{
			ID:        uuid.New().String(),
			State:     JobRunning,
			StartedAt: time.Now().UTC(),
		},
		changed: make(chan struct{}),
		cancel:  cancel,
	}
	r.jobs[e.job.ID] = e
	r.order = append(r.order, e.job.ID)
	r.running = e.job.ID
	job := e.job
	r.mu.Unlock()

	go func() {
		defer cancel()
		n, err := run(ctx, func(p indexer.Progress) {
			e.update(func(j *IndexJob) {
				j.Progress = p
				j.Indexed = p.Indexed
			})
		})
		e.update(func(j *IndexJob) {
			now := time.Now().UTC()
			j.FinishedAt = &now
			j.Indexed = n
			if err != nil {
				j.State = JobFailed
				j.Error = err.Error()
				return
			}
			j.State = JobCompleted
		})
		// Only after the terminal state is visible may another job start.
		r.finish(job.ID)
	}()
	return job, true
}

// finish clears the running job and drops the oldest finished jobs beyond the limit.
func (r *jobRegistry) finish(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running == id {
		r.running = ""
	}
	for len(r.order) > r.limit {
		oldest := r.order[0]
		if oldest == r.running {
			break
		}
		r.order = r.order[1:]
		delete(r.jobs, oldest)
	}
}

func (r *jobRegistry) get(id string) (*jobEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	return e, ok
}

func (r *jobRegistry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.jobs {
		e.cancel()
	}
}

func (r *jobRegistry) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running != ""
}
