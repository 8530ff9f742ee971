package pin

import (
	"sync"
	"time"
)

// Store is the keyed record store, injected into the Verifier at
// construction. All access is guarded by one mutex so a sweep can never
// remove a record between a verify lookup and its code comparison.
type Store struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{records: make(map[string]Record)}
}

// Put stores the record for its email, overwriting any prior one
func (s *Store) Put(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Email] = rec
}

// Get returns the record for an email, if present
func (s *Store) Get(email string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[email]
	return rec, ok
}

// Delete removes the record for an email
func (s *Store) Delete(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, email)
}

// Len returns the number of stored records
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// verifyAndMark performs the lookup, expiry check, and code comparison as
// one critical section. On success the record transitions to Verified; on
// mismatch nothing is mutated; on expiry the record is marked Expired
// (lazy expiry) before the sweep collects it.
func (s *Store) verifyAndMark(email, code string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[email]
	if !ok || rec.State == StateExpired {
		if !ok {
			return ErrNotFound
		}
		return ErrExpired
	}

	if now.After(rec.ExpiresAt) {
		rec.State = StateExpired
		s.records[email] = rec
		return ErrExpired
	}

	if rec.Code != code {
		return ErrMismatch
	}

	rec.State = StateVerified
	s.records[email] = rec
	return nil
}

// sweep removes records whose expiry is strictly before now and returns
// the number removed. Unexpired records are untouched.
func (s *Store) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for email, rec := range s.records {
		if rec.ExpiresAt.Before(now) {
			delete(s.records, email)
			removed++
		}
	}
	return removed
}
