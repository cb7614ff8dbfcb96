package editor

import "sync"

// Store holds one Draft per user identity. Structural map changes are
// guarded by the outer mutex; every draft has its own lock so all
// mutations for one user are linearized while distinct users never
// contend. Drafts live for the whole process: a reset empties the
// content but keeps the identity.
type Store struct {
	mu     sync.RWMutex
	drafts map[int64]*slot
}

type slot struct {
	mu    sync.Mutex
	draft Draft
}

func NewStore() *Store {
	return &Store{drafts: map[int64]*slot{}}
}

func (s *Store) get(userID int64) *slot {
	s.mu.RLock()
	e := s.drafts[userID]
	s.mu.RUnlock()
	if e != nil {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e = s.drafts[userID]; e == nil {
		e = &slot{}
		s.drafts[userID] = e
	}
	return e
}

// Update runs fn against the user's draft under its lock.
func (s *Store) Update(userID int64, fn func(*Draft)) {
	e := s.get(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.draft)
}

// Snapshot returns a deep copy of the user's current draft.
func (s *Store) Snapshot(userID int64) Draft {
	e := s.get(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft.Clone()
}

// Reset replaces the user's draft with a fresh empty one.
func (s *Store) Reset(userID int64) {
	e := s.get(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft = Draft{}
}
