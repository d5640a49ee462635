package principal

import (
	"context"
	"maps"
	"sync"

	"warden/pkg/platform/sentinel"
)

// InMemoryStore keeps principals, groups and membership rows in maps. It is
// the default store for tests and single-process deployments; the postgres
// store mirrors its semantics.
type InMemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]*Principal
	byLogin    map[string]string            // login -> id
	byExternal map[string]string            // external id -> id
	groups     map[string]Group
	members    map[string]map[string]struct{} // group -> set of logins
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:       make(map[string]*Principal),
		byLogin:    make(map[string]string),
		byExternal: make(map[string]string),
		groups:     make(map[string]Group),
		members:    make(map[string]map[string]struct{}),
	}
}

func clone(p *Principal) *Principal {
	cp := *p
	cp.Attrs = maps.Clone(p.Attrs)
	if p.LastLogin != nil {
		t := *p.LastLogin
		cp.LastLogin = &t
	}
	return &cp
}

func (s *InMemoryStore) Create(_ context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byLogin[p.Login]; exists {
		return sentinel.ErrConflict
	}
	cp := clone(p)
	s.byID[cp.ID.String()] = cp
	s.byLogin[cp.Login] = cp.ID.String()
	if cp.ExternalID != "" {
		s.byExternal[cp.ExternalID] = cp.ID.String()
	}
	return nil
}

func (s *InMemoryStore) ByID(_ context.Context, id string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.byID[id]; ok {
		return clone(p), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) ByLogin(_ context.Context, login string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byLogin[login]; ok {
		return clone(s.byID[id]), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) ByExternalID(_ context.Context, externalID string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byExternal[externalID]; ok {
		return clone(s.byID[id]), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) Update(_ context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byID[p.ID.String()]
	if !ok {
		return sentinel.ErrNotFound
	}
	if old.Login != p.Login {
		if _, taken := s.byLogin[p.Login]; taken {
			return sentinel.ErrConflict
		}
		delete(s.byLogin, old.Login)
	}
	cp := clone(p)
	s.byID[cp.ID.String()] = cp
	s.byLogin[cp.Login] = cp.ID.String()
	if cp.ExternalID != "" {
		s.byExternal[cp.ExternalID] = cp.ID.String()
	}
	return nil
}

func (s *InMemoryStore) ListBySource(_ context.Context, source string) ([]*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Principal
	for _, p := range s.byID {
		if p.Source == source {
			out = append(out, clone(p))
		}
	}
	return out, nil
}

func (s *InMemoryStore) CreateGroup(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.groups[name]; exists {
		return sentinel.ErrConflict
	}
	s.groups[name] = Group{Name: name}
	s.members[name] = make(map[string]struct{})
	return nil
}

func (s *InMemoryStore) GroupExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.groups[name]
	return ok, nil
}

func (s *InMemoryStore) Members(_ context.Context, group string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.members[group]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := make([]string, 0, len(set))
	for login := range set {
		out = append(out, login)
	}
	return out, nil
}

func (s *InMemoryStore) AddMember(_ context.Context, group, login string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.members[group]
	if !ok {
		return sentinel.ErrNotFound
	}
	set[login] = struct{}{}
	return nil
}

func (s *InMemoryStore) RemoveMember(_ context.Context, group, login string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.members[group]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(set, login)
	return nil
}

func (s *InMemoryStore) GroupsOf(_ context.Context, login string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for group, set := range s.members {
		if _, ok := set[login]; ok {
			out = append(out, group)
		}
	}
	return out, nil
}
