package jobtracker

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status is the lifecycle state of an asynchronous job.
type Status string

const (
	StatusPending            Status = "pending"
	StatusRunning            Status = "running"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusCancelled          Status = "cancelled"

	// StatusUnknown is never stored; consumers report it when a job id
	// cannot be resolved, instead of assuming the work finished.
	StatusUnknown Status = "unknown"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartiallyCompleted, StatusCancelled:
		return true
	}
	return false
}

// Job is a generic unit of asynchronous work. It carries no firmware
// domain knowledge; metadata makes it self-describing to any consumer.
type Job struct {
	ID        string
	Type      string
	Status    Status
	Progress  int
	Message   string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tracker owns job records. It is constructed explicitly and passed to
// consumers; there is no process-wide registry. All mutations are visible
// immediately to subsequent reads. When a Store is attached, every
// mutation is flushed to it best-effort: a flush failure is logged and
// never surfaced to the caller.
type Tracker struct {
	log   zerolog.Logger
	store *Store

	mu   sync.RWMutex
	jobs map[string]*Job
}

func New(log zerolog.Logger, store *Store) *Tracker {
	return &Tracker{
		log:   log,
		store: store,
		jobs:  make(map[string]*Job),
	}
}

// Load restores jobs from the attached store so ids issued before a
// restart stay resolvable. Missing store or empty file is not an error.
func (t *Tracker) Load() error {
	if t.store == nil {
		return nil
	}
	jobs, err := t.store.LoadAll()
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range jobs {
		j := jobs[i]
		t.jobs[j.ID] = &j
	}
	return nil
}

// Create allocates a pending job with progress 0 and returns its id.
func (t *Tracker) Create(jobType string, metadata map[string]any) string {
	now := time.Now().UTC()
	j := &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    StatusPending,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.mu.Lock()
	t.jobs[j.ID] = j
	snapshot := *j
	t.mu.Unlock()

	t.flush(snapshot)
	return j.ID
}

// SetStatus transitions a job's status. Transitions out of a terminal
// status are refused and logged; unknown ids are logged and ignored.
func (t *Tracker) SetStatus(id string, status Status) {
	t.mu.Lock()
	j, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		t.log.Warn().Str("job_id", id).Str("status", string(status)).Msg("set status on unknown job")
		return
	}
	if j.Status.Terminal() {
		prev := j.Status
		t.mu.Unlock()
		t.log.Warn().
			Str("job_id", id).
			Str("status", string(prev)).
			Str("requested", string(status)).
			Msg("refusing status transition out of terminal state")
		return
	}
	j.Status = status
	if status == StatusCompleted {
		j.Progress = 100
	}
	j.UpdatedAt = time.Now().UTC()
	snapshot := *j
	t.mu.Unlock()

	t.flush(snapshot)
}

// SetProgress records 0-100 progress and an optional message. Progress is
// clamped and never regresses; updates after a terminal status are ignored.
func (t *Tracker) SetProgress(id string, pct int, message string) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	t.mu.Lock()
	j, ok := t.jobs[id]
	if !ok || j.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	if pct > j.Progress {
		j.Progress = pct
	}
	if message != "" {
		j.Message = message
	}
	j.UpdatedAt = time.Now().UTC()
	snapshot := *j
	t.mu.Unlock()

	t.flush(snapshot)
}

// Get returns the job record, or false when the id is unknown.
func (t *Tracker) Get(id string) (Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Snapshot returns a copy of every tracked job.
func (t *Tracker) Snapshot() []Job {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, *j)
	}
	return out
}

func (t *Tracker) flush(j Job) {
	if t.store == nil {
		return
	}
	if err := t.store.Save(j); err != nil {
		t.log.Error().Err(err).Str("job_id", j.ID).Msg("job store flush failed")
	}
}

// Close releases the attached store, if any.
func (t *Tracker) Close() error {
	if t.store == nil {
		return nil
	}
	return t.store.Close()
}
