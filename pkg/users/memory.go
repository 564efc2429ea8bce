package users

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for dev mode and tests. Transactions
// are serialized and rolled back by restoring a snapshot.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]User
	professionals map[string]Professional
	patients      map[string]Patient
	care          map[[2]string]struct{}
	now           func() time.Time
}

// NewMemoryStore creates an empty in-memory user store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]User),
		professionals: make(map[string]Professional),
		patients:      make(map[string]Patient),
		care:          make(map[[2]string]struct{}),
		now:           time.Now,
	}
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memTx{s: s}).GetByID(ctx, id)
}

func (s *MemoryStore) GetProfessional(ctx context.Context, userID string) (*Professional, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memTx{s: s}).GetProfessional(ctx, userID)
}

// WithTx holds the write lock for the whole of fn. Tx methods must not call
// back into the store.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	defer func() {
		if r := recover(); r != nil {
			s.restore(snap)
			panic(r)
		}
		if err != nil {
			s.restore(snap)
		}
	}()

	return fn(&memTx{s: s})
}

func (s *MemoryStore) HasCareRelationship(ctx context.Context, professionalID, patientID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.care[[2]string{professionalID, patientID}]
	return ok, nil
}

func (s *MemoryStore) AddCareRelationship(ctx context.Context, professionalID, patientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.care[[2]string{professionalID, patientID}] = struct{}{}
	return nil
}

// Counts returns the number of user, professional and patient rows
func (s *MemoryStore) Counts() (users, professionals, patients int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), len(s.professionals), len(s.patients)
}

type memSnapshot struct {
	users         map[string]User
	professionals map[string]Professional
	patients      map[string]Patient
	care          map[[2]string]struct{}
}

func (s *MemoryStore) snapshot() memSnapshot {
	snap := memSnapshot{
		users:         make(map[string]User, len(s.users)),
		professionals: make(map[string]Professional, len(s.professionals)),
		patients:      make(map[string]Patient, len(s.patients)),
		care:          make(map[[2]string]struct{}, len(s.care)),
	}
	for k, v := range s.users {
		snap.users[k] = v
	}
	for k, v := range s.professionals {
		snap.professionals[k] = v
	}
	for k, v := range s.patients {
		snap.patients[k] = v
	}
	for k := range s.care {
		snap.care[k] = struct{}{}
	}
	return snap
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.users = snap.users
	s.professionals = snap.professionals
	s.patients = snap.patients
	s.care = snap.care
}

// memTx operates on the store maps; the caller holds the lock
type memTx struct {
	s *MemoryStore
}

func (t *memTx) GetByID(_ context.Context, id string) (*User, error) {
	u, ok := t.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (t *memTx) InsertUser(_ context.Context, u *User) (bool, error) {
	if _, exists := t.s.users[u.ID]; exists {
		return false, nil
	}
	now := t.s.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	t.s.users[u.ID] = *u
	return true, nil
}

func (t *memTx) UpdateIdentity(_ context.Context, id, email, displayName string) error {
	u, ok := t.s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Email, u.DisplayName, u.UpdatedAt = email, displayName, t.s.now().UTC()
	t.s.users[id] = u
	return nil
}

func (t *memTx) UpdateRoleStatus(_ context.Context, id string, role Role, status Status) error {
	u, ok := t.s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Role, u.Status, u.UpdatedAt = role, status, t.s.now().UTC()
	t.s.users[id] = u
	return nil
}

func (t *memTx) InsertProfessional(_ context.Context, p *Professional) error {
	if _, exists := t.s.professionals[p.UserID]; exists {
		return nil
	}
	now := t.s.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	t.s.professionals[p.UserID] = *p
	return nil
}

func (t *memTx) InsertPatient(_ context.Context, p *Patient) error {
	if _, exists := t.s.patients[p.UserID]; exists {
		return nil
	}
	p.CreatedAt = t.s.now().UTC()
	t.s.patients[p.UserID] = *p
	return nil
}

func (t *memTx) DeleteProfessional(_ context.Context, userID string) error {
	delete(t.s.professionals, userID)
	return nil
}

func (t *memTx) DeletePatient(_ context.Context, userID string) error {
	delete(t.s.patients, userID)
	return nil
}

func (t *memTx) GetProfessional(_ context.Context, userID string) (*Professional, error) {
	p, ok := t.s.professionals[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (t *memTx) DeleteUser(_ context.Context, id string) (bool, error) {
	if _, ok := t.s.users[id]; !ok {
		return false, nil
	}
	delete(t.s.users, id)
	delete(t.s.professionals, id)
	delete(t.s.patients, id)
	for k := range t.s.care {
		if k[0] == id || k[1] == id {
			delete(t.s.care, k)
		}
	}
	return true, nil
}
