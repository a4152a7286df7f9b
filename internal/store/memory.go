package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"taskfabric.dev/internal/task"
)

// MemoryStore is an in-process TaskStore backed by a mutex-guarded map. It
// implements the exact same CAS contract as CouchDBStore (fence mismatch ->
// ErrConflict, missing id -> ErrNotFound) so the broker's retry loop and
// assignOne's contention behavior can be exercised in tests without a live
// CouchDB, the same role queue/amqp_mock.go plays for RabbitMQ in the
// reference codebase.
type MemoryStore struct {
	mu     sync.Mutex
	docs   map[string]*task.Task
	fences map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]*task.Task),
		fences: make(map[string]string),
	}
}

func (s *MemoryStore) nextFence() string {
	return uuid.NewString()
}

func (s *MemoryStore) FindOne(_ context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := doc.Clone()
	cp.Fence = s.fences[id]
	return cp, nil
}

func (s *MemoryStore) InsertIfAbsent(_ context.Context, t *task.Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[t.ID]; ok {
		return "", ErrConflict
	}
	fence := s.nextFence()
	cp := t.Clone()
	s.docs[t.ID] = cp
	s.fences[t.ID] = fence
	return fence, nil
}

func (s *MemoryStore) ReplaceIfMatch(_ context.Context, t *task.Task, fence string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.fences[t.ID]
	if ok && current != fence {
		return "", ErrConflict
	}
	if !ok && fence != "" {
		return "", ErrConflict
	}
	newFence := s.nextFence()
	cp := t.Clone()
	s.docs[t.ID] = cp
	s.fences[t.ID] = newFence
	return newFence, nil
}

func (s *MemoryStore) DeleteIfMatch(_ context.Context, id string, fence string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.fences[id]
	if !ok {
		return ErrNotFound
	}
	if current != fence {
		return ErrConflict
	}
	delete(s.docs, id)
	delete(s.fences, id)
	return nil
}

func (s *MemoryStore) FindMany(_ context.Context, q Query) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []*task.Task
	for id, doc := range s.docs {
		if q.Status != "" && doc.Status != q.Status {
			continue
		}
		if q.TaskName != "" && doc.TaskName != q.TaskName {
			continue
		}
		cp := doc.Clone()
		cp.Fence = s.fences[id]
		matches = append(matches, cp)
	}

	sort.Slice(matches, func(i, j int) bool {
		for _, sk := range q.Sort {
			vi, vj := fieldValue(matches[i], sk.Field), fieldValue(matches[j], sk.Field)
			if vi == vj {
				continue
			}
			if sk.Descending {
				return vi > vj
			}
			return vi < vj
		}
		return false
	})

	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, nil
}

func fieldValue(t *task.Task, field string) int64 {
	switch field {
	case "priority":
		return int64(t.Priority)
	case "ldt":
		return t.LDT
	default:
		return 0
	}
}
