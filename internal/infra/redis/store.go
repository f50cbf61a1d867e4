// Package redis implements the document store on Redis: one hash per
// document, pub/sub for snapshot subscriptions, HINCRBY for atomic counters.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"quest-party-service/internal/docstore"
)

const (
	docKeyPrefix  = "doc:"
	subKeyPrefix  = "docsub:"
	lockKey       = "doc:txlock"
	lockTTL       = 5 * time.Second
	lockRetryWait = 10 * time.Millisecond
)

// Store is a Redis-backed implementation of docstore.Store.
//
// Field values are JSON-encoded inside the hash so that integers stay plain
// digits and HINCRBY keeps working on them. Transactions serialize through a
// coarse store-wide lock; contention is a handful of clients per session, so
// lock granularity is not worth more machinery here.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, path string) (docstore.Fields, error) {
	raw, err := s.client.HGetAll(ctx, docKeyPrefix+path).Result()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, docstore.ErrNotFound
	}
	return decodeFields(raw), nil
}

func (s *Store) Set(ctx context.Context, path string, fields docstore.Fields) error {
	enc, err := encodeFields(fields)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	if err := s.client.HSet(ctx, docKeyPrefix+path, enc).Err(); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	s.publish(ctx, path, false)
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.client.Del(ctx, docKeyPrefix+path).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	s.publish(ctx, path, true)
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) (map[string]docstore.Fields, error) {
	out := make(map[string]docstore.Fields)
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, docKeyPrefix+prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, key := range keys {
			raw, err := s.client.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", prefix, err)
			}
			if len(raw) == 0 {
				continue
			}
			out[strings.TrimPrefix(key, docKeyPrefix)] = decodeFields(raw)
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func (s *Store) Increment(ctx context.Context, path, field string, delta int64) error {
	if err := s.client.HIncrBy(ctx, docKeyPrefix+path, field, delta).Err(); err != nil {
		return fmt.Errorf("increment %s.%s: %w", path, field, err)
	}
	s.publish(ctx, path, false)
	return nil
}

// RunTransaction serializes against other transactions via a lock key, stages
// writes in memory, and flushes them through a single MULTI/EXEC pipeline so
// readers never observe a partial commit.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx docstore.Tx) error) error {
	if err := s.acquireLock(ctx); err != nil {
		return err
	}
	defer s.client.Del(context.WithoutCancel(ctx), lockKey)

	tx := &redisTx{ctx: ctx, store: s}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.ops) == 0 {
		return nil
	}

	// Snapshots are computed from the staged overlay before the flush, so
	// intermediate states within one transaction still reach subscribers in
	// order (a kick flag published before its tombstone, for instance).
	snaps, err := s.stagedSnapshots(ctx, tx.ops)
	if err != nil {
		return fmt.Errorf("transaction: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, op := range tx.ops {
		if op.delete {
			pipe.Del(ctx, docKeyPrefix+op.path)
			continue
		}
		enc, err := encodeFields(op.fields)
		if err != nil {
			return fmt.Errorf("transaction: %w", err)
		}
		pipe.HSet(ctx, docKeyPrefix+op.path, enc)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("transaction: %w", err)
	}
	for _, snap := range snaps {
		s.publishSnapshot(ctx, snap)
	}
	return nil
}

// stagedSnapshots replays the staged ops over the current documents and
// records the state after each one.
func (s *Store) stagedSnapshots(ctx context.Context, ops []txOp) ([]docstore.Snapshot, error) {
	state := make(map[string]docstore.Fields)
	seen := make(map[string]bool)
	snaps := make([]docstore.Snapshot, 0, len(ops))

	for _, op := range ops {
		doc := state[op.path]
		if !seen[op.path] {
			base, err := s.Get(ctx, op.path)
			if err != nil && !errors.Is(err, docstore.ErrNotFound) {
				return nil, err
			}
			doc = base
			seen[op.path] = true
		}

		if op.delete {
			state[op.path] = nil
			snaps = append(snaps, docstore.Snapshot{Path: op.path, Deleted: true})
			continue
		}
		if doc == nil {
			doc = docstore.Fields{}
		}
		doc.Merge(op.fields)
		state[op.path] = doc
		snaps = append(snaps, docstore.Snapshot{Path: op.path, Fields: doc.Clone()})
	}
	return snaps, nil
}

// Subscribe bridges Redis pub/sub into the snapshot channel contract. Current
// documents under the prefix are pushed first, then live changes until cancel.
func (s *Store) Subscribe(ctx context.Context, prefix string) (<-chan docstore.Snapshot, func(), error) {
	pubsub := s.client.PSubscribe(ctx, subKeyPrefix+prefix+"*")
	// Force the subscription onto the wire before the initial listing so no
	// change between the two is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", prefix, err)
	}

	out := make(chan docstore.Snapshot, 16)

	initial, err := s.List(ctx, prefix)
	if err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	go func() {
		defer close(out)
		for path, fields := range initial {
			out <- docstore.Snapshot{Path: path, Fields: fields}
		}
		for msg := range pubsub.Channel() {
			var snap docstore.Snapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("docstore: dropping malformed snapshot")
				continue
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = pubsub.Close() }
	return out, cancel, nil
}

func (s *Store) acquireLock(ctx context.Context) error {
	for {
		ok, err := s.client.SetNX(ctx, lockKey, "1", lockTTL).Result()
		if err != nil {
			return fmt.Errorf("transaction lock: %w", err)
		}
		if ok {
			return nil
		}
		select {
		case <-time.After(lockRetryWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// publish pushes the document's current state (or a tombstone) to prefix
// subscribers. Best effort: a failed publish only degrades liveness, the
// write itself already committed.
func (s *Store) publish(ctx context.Context, path string, deleted bool) {
	snap := docstore.Snapshot{Path: path, Deleted: deleted}
	if !deleted {
		fields, err := s.Get(ctx, path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("docstore: snapshot read after write failed")
			return
		}
		snap.Fields = fields
	}
	s.publishSnapshot(ctx, snap)
}

func (s *Store) publishSnapshot(ctx context.Context, snap docstore.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		log.Warn().Err(err).Str("path", snap.Path).Msg("docstore: marshal snapshot failed")
		return
	}
	if err := s.client.Publish(ctx, subKeyPrefix+snap.Path, payload).Err(); err != nil {
		log.Warn().Err(err).Str("path", snap.Path).Msg("docstore: publish snapshot failed")
	}
}

type txOp struct {
	path   string
	fields docstore.Fields
	delete bool
}

// redisTx overlays staged writes on reads issued inside the transaction.
type redisTx struct {
	ctx   context.Context
	store *Store
	ops   []txOp
}

func (t *redisTx) Get(path string) (docstore.Fields, error) {
	base, err := t.store.Get(t.ctx, path)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return nil, err
	}
	doc, deleted := overlay(base, t.ops, path)
	if doc == nil || deleted {
		return nil, docstore.ErrNotFound
	}
	return doc, nil
}

func (t *redisTx) List(prefix string) (map[string]docstore.Fields, error) {
	out, err := t.store.List(t.ctx, prefix)
	if err != nil {
		return nil, err
	}
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

func (t *redisTx) Set(path string, fields docstore.Fields) {
	t.ops = append(t.ops, txOp{path: path, fields: fields.Clone()})
}

func (t *redisTx) Delete(path string) {
	t.ops = append(t.ops, txOp{path: path, delete: true})
}

func overlay(base docstore.Fields, ops []txOp, path string) (docstore.Fields, bool) {
	doc := base
	if doc != nil {
		doc = doc.Clone()
	}
	deleted := false
	for _, op := range ops {
		if op.path != path {
			continue
		}
		if op.delete {
			doc, deleted = nil, true
			continue
		}
		deleted = false
		if doc == nil {
			doc = docstore.Fields{}
		}
		doc.Merge(op.fields)
	}
	return doc, deleted
}

func encodeFields(fields docstore.Fields) (map[string]any, error) {
	enc := make(map[string]any, len(fields))
	for k, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}
		enc[k] = string(b)
	}
	return enc, nil
}

func decodeFields(raw map[string]string) docstore.Fields {
	fields := make(docstore.Fields, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			// HINCRBY can leave bare integers that are valid JSON anyway;
			// anything else unparseable is kept as the raw string.
			val = v
		}
		fields[k] = val
	}
	return fields
}
