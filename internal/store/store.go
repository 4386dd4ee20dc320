// Package store implements C1: the per-user bounded sample window and
// the active-set snapshot the Aggregator reads once per second. A
// single exclusive lock guards all structural mutation, mirroring the
// teacher's session_registry.go registry pattern but with a plain
// mutex instead of sync.Map since writes as well as reads need to
// evict and reslice — a sync.Map buys nothing here.
package store

import (
	"sync"

	"github.com/Mizuir0/live-reaction-system/internal/types"
)

// userWindow is the bounded, time-ordered deque of Samples for one user.
type userWindow struct {
	samples       []types.Sample // oldest first, len <= types.WindowSize
	lastArrivalMS int64
	group         types.ExperimentGroup
}

// Store owns every UserWindow for the life of the process. Store never
// discards a window on disconnect (spec.md §3 "Ownership & lifecycle");
// the user simply falls out of the active set once stale.
type Store struct {
	mu      sync.Mutex
	windows map[string]*userWindow
}

// New returns an empty Store.
func New() *Store {
	return &Store{windows: make(map[string]*userWindow)}
}

// EnsureUser registers a first-seen user id with its experiment group.
// Calling it again for an existing id is a no-op (idempotent).
func (s *Store) EnsureUser(userID string, group types.ExperimentGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.windows[userID]; ok {
		return
	}
	s.windows[userID] = &userWindow{group: group}
}

// Append adds a sample to the user's window, evicting the oldest entry
// once the window holds WindowSize samples (invariant I1). O(1) amortized.
func (s *Store) Append(sample types.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[sample.UserID]
	if !ok {
		w = &userWindow{group: types.DefaultExperimentGroup}
		s.windows[sample.UserID] = w
	}

	w.samples = append(w.samples, sample)
	if len(w.samples) > types.WindowSize {
		// Drop the oldest in place; avoids re-allocating every append.
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:types.WindowSize]
	}
	w.lastArrivalMS = sample.ServerReceiveMS
}

// ActiveUser is one entry of a snapshot_active result: an immutable
// copy of a user's current window, safe to read without the store lock.
type ActiveUser struct {
	UserID        string
	Samples       []types.Sample
	LastArrivalMS int64
}

// SnapshotActive returns every user whose window is non-empty and whose
// last arrival is within ActiveWindowMS of nowMS (spec.md §3 "active").
// The copy is shallow per-user so the Aggregator never blocks ingress
// while it computes (spec.md §4.1).
func (s *Store) SnapshotActive(nowMS int64) map[string]ActiveUser {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]ActiveUser)
	for userID, w := range s.windows {
		if len(w.samples) == 0 {
			continue
		}
		if nowMS-w.lastArrivalMS > types.ActiveWindowMS {
			continue
		}
		samples := make([]types.Sample, len(w.samples))
		copy(samples, w.samples)
		out[userID] = ActiveUser{
			UserID:        userID,
			Samples:       samples,
			LastArrivalMS: w.lastArrivalMS,
		}
	}
	return out
}

// WindowLen reports the current number of retained samples for a user,
// for tests asserting invariant I1. Returns 0 for an unknown user.
func (s *Store) WindowLen(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[userID]
	if !ok {
		return 0
	}
	return len(w.samples)
}
