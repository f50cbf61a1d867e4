// Package memory provides an in-process document store. It backs tests and
// single-instance deployments; the Redis store covers everything else.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"quest-party-service/internal/docstore"
)

// Store is an in-memory implementation of docstore.Store.
type Store struct {
	mu   sync.RWMutex
	docs map[string]docstore.Fields
	subs map[*subscriber]struct{}
}

type subscriber struct {
	prefix string
	ch     chan docstore.Snapshot
}

func NewStore() *Store {
	return &Store{
		docs: make(map[string]docstore.Fields),
		subs: make(map[*subscriber]struct{}),
	}
}

func (s *Store) Get(_ context.Context, path string) (docstore.Fields, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[path]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *Store) Set(_ context.Context, path string, fields docstore.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(path, fields)
	return nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(path)
	return nil
}

func (s *Store) List(_ context.Context, prefix string) (map[string]docstore.Fields, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(prefix), nil
}

func (s *Store) Increment(_ context.Context, path, field string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[path]
	if !ok {
		doc = docstore.Fields{}
		s.docs[path] = doc
	}
	doc[field] = int64(doc.Int(field)) + delta
	s.notifyLocked(docstore.Snapshot{Path: path, Fields: doc.Clone()})
	return nil
}

// RunTransaction stages writes and applies them in order under the store lock
// once fn returns nil. A non-nil error discards every staged write.
func (s *Store) RunTransaction(_ context.Context, fn func(tx docstore.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}

	for _, op := range tx.ops {
		if op.delete {
			s.deleteLocked(op.path)
		} else {
			s.setLocked(op.path, op.fields)
		}
	}
	return nil
}

func (s *Store) Subscribe(_ context.Context, prefix string) (<-chan docstore.Snapshot, func(), error) {
	s.mu.Lock()
	// Push current state on attach, in stable path order. The channel is
	// sized to hold the whole initial listing so these sends cannot block
	// while the store lock is held.
	initial := s.listLocked(prefix)
	paths := make([]string, 0, len(initial))
	for p := range initial {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	sub := &subscriber{prefix: prefix, ch: make(chan docstore.Snapshot, len(initial)+16)}
	for _, p := range paths {
		sub.ch <- docstore.Snapshot{Path: p, Fields: initial[p]}
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, sub)
			close(sub.ch)
			s.mu.Unlock()
		})
	}
	return sub.ch, cancel, nil
}

func (s *Store) setLocked(path string, fields docstore.Fields) {
	doc, ok := s.docs[path]
	if !ok {
		doc = docstore.Fields{}
		s.docs[path] = doc
	}
	doc.Merge(fields)
	s.notifyLocked(docstore.Snapshot{Path: path, Fields: doc.Clone()})
}

func (s *Store) deleteLocked(path string) {
	if _, ok := s.docs[path]; !ok {
		return
	}
	delete(s.docs, path)
	s.notifyLocked(docstore.Snapshot{Path: path, Deleted: true})
}

func (s *Store) listLocked(prefix string) map[string]docstore.Fields {
	out := make(map[string]docstore.Fields)
	for path, doc := range s.docs {
		if strings.HasPrefix(path, prefix) {
			out[path] = doc.Clone()
		}
	}
	return out
}

func (s *Store) notifyLocked(snap docstore.Snapshot) {
	for sub := range s.subs {
		if !strings.HasPrefix(snap.Path, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- snap:
		default:
			// Drop the oldest pending snapshot so a slow subscriber never
			// blocks writers; it will catch up from the newer one.
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- snap
		}
	}
}

type txOp struct {
	path   string
	fields docstore.Fields
	delete bool
}

// memTx reads through to the store while overlaying its own staged writes.
type memTx struct {
	store *Store
	ops   []txOp
}

func (t *memTx) Get(path string) (docstore.Fields, error) {
	doc, ok := t.staged(path)
	if ok {
		if doc == nil {
			return nil, docstore.ErrNotFound
		}
		return doc.Clone(), nil
	}
	base, ok := t.store.docs[path]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return base.Clone(), nil
}

func (t *memTx) List(prefix string) (map[string]docstore.Fields, error) {
	out := t.store.listLocked(prefix)
	for _, op := range t.ops {
		if !strings.HasPrefix(op.path, prefix) {
			continue
		}
		if op.delete {
			delete(out, op.path)
			continue
		}
		doc, ok := out[op.path]
		if !ok {
			doc = docstore.Fields{}
			out[op.path] = doc
		}
		doc.Merge(op.fields)
	}
	return out, nil
}

func (t *memTx) Set(path string, fields docstore.Fields) {
	t.ops = append(t.ops, txOp{path: path, fields: fields.Clone()})
}

func (t *memTx) Delete(path string) {
	t.ops = append(t.ops, txOp{path: path, delete: true})
}

// staged returns the overlay view of path: (nil, true) means deleted, merged
// fields if any staged set touched it.
func (t *memTx) staged(path string) (docstore.Fields, bool) {
	var doc docstore.Fields
	touched, deleted := false, false
	for _, op := range t.ops {
		if op.path != path {
			continue
		}
		touched = true
		if op.delete {
			doc, deleted = nil, true
			continue
		}
		if doc == nil {
			if base, ok := t.store.docs[path]; ok && !deleted {
				doc = base.Clone()
			} else {
				doc = docstore.Fields{}
			}
		}
		doc.Merge(op.fields)
	}
	return doc, touched
}
