package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KKami91/zonos-worker/internal/job"
)

// Status is the lifecycle state of a job submitted over HTTP.
type Status string

// Job statuses.
const (
	StatusInQueue    Status = "IN_QUEUE"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// ErrDuplicateJob indicates a job id that is already tracked.
var ErrDuplicateJob = errors.New("job id already exists")

// Record is what /status reports for a job.
type Record struct {
	ID         string      `json:"id"`
	Status     Status      `json:"status"`
	Output     *job.Output `json:"output,omitempty"`
	CreatedAt  time.Time   `json:"-"`
	FinishedAt time.Time   `json:"-"`
}

// JobStore tracks submitted jobs in memory. Finished jobs are forgotten once
// they are older than the ttl.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Record
	ttl  time.Duration
	now  func() time.Time
}

// NewJobStore creates an empty store.
func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Record),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Create registers a queued job. An id that is still tracked is rejected so
// one job cannot overwrite the status or stored audio of another.
func (s *JobStore) Create(id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	if _, exists := s.jobs[id]; exists {
		return Record{}, fmt.Errorf("%w: '%s'", ErrDuplicateJob, id)
	}

	record := &Record{ID: id, Status: StatusInQueue, CreatedAt: s.now()}
	s.jobs[id] = record

	return *record, nil
}

// Start marks a job as running.
func (s *JobStore) Start(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.jobs[id]; ok {
		record.Status = StatusInProgress
	}
}

// Finish stores the output. A job whose output carries an error is FAILED.
func (s *JobStore) Finish(id string, output job.Output) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.jobs[id]
	if !ok {
		record = &Record{ID: id, CreatedAt: s.now()}
		s.jobs[id] = record
	}

	record.Status = StatusCompleted
	if output.Failed() {
		record.Status = StatusFailed
	}

	record.Output = &output
	record.FinishedAt = s.now()

	return *record
}

// Get returns a copy of the job record.
func (s *JobStore) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.jobs[id]
	if !ok || s.expired(record) {
		return Record{}, false
	}

	return *record, true
}

// Counts returns the number of known jobs per status.
func (s *JobStore) Counts() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[Status]int{
		StatusInQueue:    0,
		StatusInProgress: 0,
		StatusCompleted:  0,
		StatusFailed:     0,
	}

	for _, record := range s.jobs {
		if !s.expired(record) {
			counts[record.Status]++
		}
	}

	return counts
}

func (s *JobStore) expired(record *Record) bool {
	if s.ttl <= 0 || record.FinishedAt.IsZero() {
		return false
	}

	return s.now().Sub(record.FinishedAt) > s.ttl
}

func (s *JobStore) sweepLocked() {
	for id, record := range s.jobs {
		if s.expired(record) {
			delete(s.jobs, id)
		}
	}
}
