// Package payment implements the payment-gated half of the job lifecycle:
// announcing payment requirements, tracking pending jobs, and matching
// inbound e-cash payloads to them.
package payment

import (
	"sync"
	"time"

	"github.com/varchive/dvm/internal/dvm"
)

// Entry pairs a pending job with the time its payment request was issued.
type Entry struct {
	Job         *dvm.Job
	RequestedAt time.Time
}

// PendingSet is the single-owner store of jobs awaiting payment, keyed by
// job id. It is mutated only by the gate and the matcher; the mutex
// serializes them.
type PendingSet struct {
	mu      sync.Mutex
	entries map[string]Entry

	now func() time.Time
}

// NewPendingSet creates an empty pending set.
func NewPendingSet() *PendingSet {
	return &PendingSet{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Add records the job as pending from now.
func (s *PendingSet) Add(job *dvm.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[job.ID()] = Entry{Job: job, RequestedAt: s.now()}
}

// Take removes and returns the entry for the job id. A taken job can only
// re-enter via Restore, which keeps matching at-most-once.
func (s *PendingSet) Take(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	return entry, ok
}

// Restore puts a taken entry back, preserving its original request time.
// Used when redemption of a candidate payment fails and the job should keep
// waiting for a later valid payment.
func (s *PendingSet) Restore(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Job.ID()] = entry
}

// Len reports the number of pending jobs.
func (s *PendingSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot returns a copy of all pending entries for introspection.
func (s *PendingSet) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	return out
}

// EvictOlderThan drops entries whose payment request is older than ttl and
// returns the evicted job ids. An unpaid job older than the DM look-back
// window can no longer be paid for, since the payment would not be replayed.
func (s *PendingSet) EvictOlderThan(ttl time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-ttl)
	var evicted []string
	for id, entry := range s.entries {
		if entry.RequestedAt.Before(cutoff) {
			delete(s.entries, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}
