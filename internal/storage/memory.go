package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memState struct {
	NextID    int64      `json:"next_id"`
	Templates []Template `json:"templates"`
}

// memStore keeps templates in a map. Mutations copy-then-swap under mu so
// readers never observe a half-applied patch. The file backend reuses it
// with a persist hook that runs before the swap becomes visible.
type memStore struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]Template
	now     func() time.Time
	persist func(memState) error
}

func NewMemory() Store { return newMemStore(nil) }

func newMemStore(persist func(memState) error) *memStore {
	return &memStore{
		nextID:  1,
		byID:    map[int64]Template{},
		now:     time.Now,
		persist: persist,
	}
}

func (s *memStore) load(st memState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[int64]Template, len(st.Templates))
	s.nextID = max(st.NextID, 1)
	for _, t := range st.Templates {
		s.byID[t.ID] = t
		if t.ID >= s.nextID {
			s.nextID = t.ID + 1
		}
	}
}

// commitLocked persists next (if a hook is set) and installs it.
func (s *memStore) commitLocked(next map[int64]Template, nextID int64) error {
	if s.persist != nil {
		if err := s.persist(snapshotOf(next, nextID)); err != nil {
			return err
		}
	}
	s.byID = next
	s.nextID = nextID
	return nil
}

func (s *memStore) cloneLocked() map[int64]Template {
	cp := make(map[int64]Template, len(s.byID)+1)
	for k, v := range s.byID {
		cp[k] = v
	}
	return cp
}

func (s *memStore) findNameLocked(name string) (Template, bool) {
	for _, t := range s.byID {
		if t.Name == name {
			return t, true
		}
	}
	return Template{}, false
}

func (s *memStore) Create(ctx context.Context, n NewTemplate) (Template, error) {
	if err := ctx.Err(); err != nil {
		return Template{}, err
	}
	t := n.template(s.now().UTC())
	if err := t.validate(); err != nil {
		return Template{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.findNameLocked(t.Name); ok {
		return Template{}, ErrDuplicateName
	}
	t.ID = s.nextID
	next := s.cloneLocked()
	next[t.ID] = t
	if err := s.commitLocked(next, s.nextID+1); err != nil {
		return Template{}, err
	}
	return t, nil
}

func (s *memStore) GetByID(ctx context.Context, id int64) (Template, error) {
	if err := ctx.Err(); err != nil {
		return Template{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return Template{}, ErrNotFound
	}
	return t, nil
}

func (s *memStore) GetByName(ctx context.Context, name string) (Template, error) {
	if err := ctx.Err(); err != nil {
		return Template{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.findNameLocked(name)
	if !ok {
		return Template{}, ErrNotFound
	}
	return t, nil
}

func (s *memStore) Update(ctx context.Context, id int64, p Patch) (Template, error) {
	if err := ctx.Err(); err != nil {
		return Template{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[id]
	if !ok {
		return Template{}, ErrNotFound
	}
	upd := p.Apply(cur)
	if err := upd.validate(); err != nil {
		return Template{}, err
	}
	upd.UpdatedAt = s.now().UTC()
	next := s.cloneLocked()
	next[id] = upd
	if err := s.commitLocked(next, s.nextID); err != nil {
		return Template{}, err
	}
	return upd, nil
}

func (s *memStore) Delete(ctx context.Context, id int64) (Template, error) {
	if err := ctx.Err(); err != nil {
		return Template{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[id]
	if !ok {
		return Template{}, ErrNotFound
	}
	next := s.cloneLocked()
	delete(next, id)
	if err := s.commitLocked(next, s.nextID); err != nil {
		return Template{}, err
	}
	return cur, nil
}

func (s *memStore) List(ctx context.Context) ([]Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotOf(s.byID, s.nextID).Templates, nil
}

func (s *memStore) Close() error { return nil }

func snapshotOf(m map[int64]Template, nextID int64) memState {
	out := make([]Template, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return memState{NextID: nextID, Templates: out}
}
