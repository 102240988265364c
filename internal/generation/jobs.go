package generation

import (
	"sync"
	"time"

	"github.com/satindergrewal/layerdaw/internal/project"
)

// JobStatus tracks one generation attempt.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobGenerating JobStatus = "generating"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobError      JobStatus = "error"
)

// Job is the record of one clip generation attempt.
type Job struct {
	ID        string            `json:"id"`
	ClipID    string            `json:"clipId"`
	TrackName project.TrackKind `json:"trackName"`
	Status    JobStatus         `json:"status"`
	Progress  string            `json:"progress"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Finished reports whether the job has reached a terminal status.
func (j Job) Finished() bool {
	return j.Status == JobDone || j.Status == JobError
}

// Jobs is the list of generation attempts, oldest first.
type Jobs struct {
	mu        sync.RWMutex
	jobs      []Job
	listeners []func(Job)
}

func NewJobs() *Jobs {
	return &Jobs{}
}

// OnChange registers fn to receive every added or updated job.
func (j *Jobs) OnChange(fn func(Job)) {
	j.mu.Lock()
	j.listeners = append(j.listeners, fn)
	j.mu.Unlock()
}

func (j *Jobs) Add(job Job) {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	j.mu.Lock()
	j.jobs = append(j.jobs, job)
	listeners := j.listeners
	j.mu.Unlock()
	for _, fn := range listeners {
		fn(job)
	}
}

// Update applies fn to the job with the given id. Unknown ids are ignored.
func (j *Jobs) Update(id string, fn func(*Job)) {
	j.mu.Lock()
	var updated *Job
	for i := range j.jobs {
		if j.jobs[i].ID == id {
			fn(&j.jobs[i])
			cp := j.jobs[i]
			updated = &cp
			break
		}
	}
	listeners := j.listeners
	j.mu.Unlock()

	if updated == nil {
		return
	}
	for _, fn := range listeners {
		fn(*updated)
	}
}

func (j *Jobs) Get(id string) (Job, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, job := range j.jobs {
		if job.ID == id {
			return job, true
		}
	}
	return Job{}, false
}

func (j *Jobs) List() []Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Job, len(j.jobs))
	copy(out, j.jobs)
	return out
}

// Remove drops one job.
func (j *Jobs) Remove(id string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.jobs {
		if j.jobs[i].ID == id {
			j.jobs = append(j.jobs[:i], j.jobs[i+1:]...)
			return
		}
	}
}

// ClearCompleted drops every finished job and returns how many went.
func (j *Jobs) ClearCompleted() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	kept := j.jobs[:0]
	for _, job := range j.jobs {
		if !job.Finished() {
			kept = append(kept, job)
		}
	}
	removed := len(j.jobs) - len(kept)
	j.jobs = kept
	return removed
}
