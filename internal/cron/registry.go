package cron

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Job is one unit of scheduled work run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type entry struct {
	job     Job
	every   time.Duration
	lastRun time.Time
}

// Registry holds jobs in the order they run and remembers when each last ran.
type Registry struct {
	mu      sync.Mutex
	entries []*entry
	names   map[string]*entry
}

// NewRegistry builds a registry of jobs that run on every cycle, skipping nils.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		_ = registry.Register(job, 0)
	}
	return registry
}

// Register adds job to run at most once per every; zero means every cycle.
// Names must be unique since leases and metrics are keyed by them.
func (r *Registry) Register(job Job, every time.Duration) error {
	if job == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names == nil {
		r.names = map[string]*entry{}
	}
	if _, dup := r.names[job.Name()]; dup {
		return fmt.Errorf("cron job %q already registered", job.Name())
	}
	e := &entry{job: job, every: every}
	r.names[job.Name()] = e
	r.entries = append(r.entries, e)
	return nil
}

// Jobs returns every registered job in registration order.
func (r *Registry) Jobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]Job, 0, len(r.entries))
	for _, e := range r.entries {
		jobs = append(jobs, e.job)
	}
	return jobs
}

// Due returns the jobs whose interval has elapsed at now.
func (r *Registry) Due(now time.Time) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []Job
	for _, e := range r.entries {
		if e.lastRun.IsZero() || now.Sub(e.lastRun) >= e.every {
			due = append(due, e.job)
		}
	}
	return due
}

// MarkRan records that name finished a run at the given time.
func (r *Registry) MarkRan(name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.names[name]; ok {
		e.lastRun = at
	}
}
