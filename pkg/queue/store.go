// Package queue implements the in-memory job store for the acquisition
// pipeline.
//
// Jobs are kept in insertion order and never re-sorted. A single mutex guards
// every read and write, so callers always observe consistent snapshots. The
// lock is held only for the duration of one call and never across engine
// execution.
package queue

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrJobNotFound indicates the id is not (or no longer) in the store.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition indicates a status change that would break the
	// Pending -> Downloading -> terminal order.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is a concurrency-safe FIFO collection of jobs.
type Store struct {
	mu   sync.Mutex
	jobs []*Job
	byID map[string]*Job

	now   func() time.Time
	newID func() string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byID:  make(map[string]*Job),
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
	}
}

// Enqueue appends a Pending job at the tail and returns its id.
func (s *Store) Enqueue(ref SourceRef, name string) (string, error) {
	if ref.ContentID == "" {
		return "", fmt.Errorf("%w: content id is required", ErrInvalidSourceRef)
	}

	job := &Job{
		ID:        s.newID(),
		SourceRef: ref,
		Name:      name,
		Status:    Pending(),
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = append(s.jobs, job)
	s.byID[job.ID] = job
	return job.ID, nil
}

// List returns a point-in-time copy of every job in insertion order.
func (s *Store) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

// Get returns a snapshot of a single job.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byID[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// ClaimNextPending moves the oldest Pending job to Downloading(0) and returns
// the post-transition snapshot. It returns false when nothing is pending.
func (s *Store) ClaimNextPending() (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.Status.State != StatePending {
			continue
		}
		j.Status = Downloading(0)
		return *j, true
	}
	return Job{}, false
}

// UpdateProgress records progress for a Downloading job.
//
// Progress arriving after the job reached a terminal state is ignored; the
// job is never resurrected. Non-finite values are ignored as well.
func (s *Store) UpdateProgress(id string, percent float64) error {
	if math.IsNaN(percent) || math.IsInf(percent, 0) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if j.Status.State != StateDownloading {
		return nil
	}
	j.Status = Downloading(percent)
	return nil
}

// Finalize writes the terminal outcome for a Downloading job.
//
// On CompletedOutcome the install path is set. Unknown ids return
// ErrJobNotFound and jobs that are not Downloading return
// ErrInvalidTransition; callers are expected to log both.
func (s *Store) Finalize(id string, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if j.Status.State != StateDownloading {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, j.Status.State)
	}

	switch o := outcome.(type) {
	case CompletedOutcome:
		j.Status = Completed()
		j.InstallPath = o.Path
	case FailedOutcome:
		j.Status = Failed(o.Reason)
	default:
		return fmt.Errorf("%w: unsupported outcome %T", ErrInvalidTransition, outcome)
	}
	return nil
}

// Len returns the number of jobs in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Counts returns the number of jobs per state.
func (s *Store) Counts() map[State]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[State]int, 4)
	for _, j := range s.jobs {
		out[j.Status.State]++
	}
	return out
}
