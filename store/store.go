package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vatpac-currency/watchtower/errs"
	"github.com/vatpac-currency/watchtower/obs"
)

// Document is the single JSON object backing every key the system
// persists. Values are kept as json.RawMessage so the façade never needs
// to know the shape of a given key's payload; typed accessors (Get/Set)
// marshal into and out of the raw form per call, matching the "tagged
// variant schema per key prefix" redesign in spec.md §9.
type Document map[string]json.RawMessage

func cloneDocument(d Document) Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Store is the in-memory, invocation-scoped façade over one Document. It
// is created fresh at the start of every tick or API request and
// discarded at the end, per spec.md §4.A's "explicit Store value" design
// note (replacing the source's ambient module-level cache).
type Store struct {
	backend ContentStore
	path    string

	loadGroup singleflight.Group

	loaded  bool
	sha     string
	doc     Document
	dirty   bool
	deleted map[string]bool

	metrics *obs.Metrics
}

// SetMetrics attaches a Metrics instance Flush reports conflict/fatal
// counts to. Optional; a Store with no metrics set simply skips those
// counters, which is what every test fixture in this tree does.
func (s *Store) SetMetrics(metrics *obs.Metrics) {
	s.metrics = metrics
}

// New constructs a Store bound to one document path on backend. Call
// Load before any Get/Set/Del/Flush.
func New(backend ContentStore, path string) *Store {
	return &Store{
		backend: backend,
		path:    path,
		doc:     Document{},
	}
}

type loadResult struct {
	doc Document
	sha string
}

// Load fetches the document and its version sha on first call; later
// calls within the same Store are no-ops, per spec.md §4.A's "idempotent
// within an invocation" contract. Concurrent calls (e.g. several HTTP
// handlers racing on the same request-scoped Store) are coalesced via
// singleflight so only one fetch hits the backend.
func (s *Store) Load(ctx context.Context) error {
	if s.loaded {
		return nil
	}

	v, err, _ := s.loadGroup.Do("load", func() (interface{}, error) {
		data, sha, err := s.backend.Get(ctx, s.path)
		if err != nil {
			return nil, fmt.Errorf("store: load: %w", err)
		}
		doc := Document{}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &doc); err != nil {
				return nil, fmt.Errorf("store: load: decoding document: %w", err)
			}
		}
		return loadResult{doc: doc, sha: sha}, nil
	})
	if err != nil {
		return err
	}

	res := v.(loadResult)
	s.doc = res.doc
	s.sha = res.sha
	s.loaded = true
	return nil
}

// Get decodes the value stored at key into out. It reports whether key
// was present; absence is not an error.
func (s *Store) Get(key string, out interface{}) (bool, error) {
	raw, ok := s.doc[key]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("store: get %q: %w", key, err)
	}
	return true, nil
}

// GetDefault decodes key into out, leaving out untouched (at whatever
// zero/default value the caller set) when key is absent.
func (s *Store) GetDefault(key string, out interface{}) error {
	_, err := s.Get(key, out)
	return err
}

// Set marshals value and stores it at key, marking the document dirty.
func (s *Store) Set(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: set %q: %w", key, err)
	}
	s.doc[key] = raw
	s.dirty = true
	delete(s.deleted, key)
	return nil
}

// Del removes key, marking the document dirty if it was present. The
// deletion is also recorded so Flush's conflict-merge path applies it
// against a concurrently-written remote document instead of silently
// reintroducing the stale remote value for key.
func (s *Store) Del(key string) {
	if _, ok := s.doc[key]; ok {
		delete(s.doc, key)
		s.dirty = true
		if s.deleted == nil {
			s.deleted = make(map[string]bool)
		}
		s.deleted[key] = true
	}
}

// Has reports whether key is present without decoding it.
func (s *Store) Has(key string) bool {
	_, ok := s.doc[key]
	return ok
}

// Keys returns every key currently in the document, in no particular
// order. Used by cleanup's prefix sweep.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.doc))
	for k := range s.doc {
		keys = append(keys, k)
	}
	return keys
}

// cacheEnvelope is the subset of fields cacheGet/cachePut need to reason
// about relative-TTL freshness; any additional fields on the stored value
// survive because the payload is re-decoded by the caller separately.
type cacheEnvelope struct {
	CachedAt int64 `json:"cached_at"`
}

// CacheGet returns the entry at key into out iff its cached_at is within
// maxAge of now. A stale or absent entry reports found=false.
func (s *Store) CacheGet(key string, maxAge time.Duration, out interface{}) (found bool, err error) {
	raw, ok := s.doc[key]
	if !ok {
		return false, nil
	}
	var env cacheEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, fmt.Errorf("store: cacheGet %q: %w", key, err)
	}
	if time.Since(time.Unix(env.CachedAt, 0)) > maxAge {
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return false, fmt.Errorf("store: cacheGet %q: %w", key, err)
		}
	}
	return true, nil
}

// CachePut marshals obj, stamps it with the current time as cached_at,
// and stores it at key.
func (s *Store) CachePut(key string, obj interface{}) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("store: cachePut %q: %w", key, err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("store: cachePut %q: %w", key, err)
	}
	m["cached_at"] = time.Now().Unix()
	return s.Set(key, m)
}

// Dirty reports whether any Set/Del has happened since the last
// successful Flush.
func (s *Store) Dirty() bool {
	return s.dirty
}

// Flush writes the document back if dirty. On a 409 conflict it re-fetches
// the remote document, shallow-merges the local edits on top (local
// wins), applies any local deletions, and retries once — the collision
// policy spec.md §4.A calls correct because distinct endpoints normally
// touch disjoint keys. A persistent failure surfaces as
// errs.ErrStoreConflict (still a 409 after the retry) or
// errs.ErrStoreFatal (any other write failure).
func (s *Store) Flush(ctx context.Context, message string) error {
	if !s.dirty {
		return nil
	}

	data, err := json.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("store: flush: encoding document: %w", err)
	}

	newSHA, err := s.backend.Put(ctx, s.path, data, s.sha, message)
	if err == nil {
		s.sha = newSHA
		s.dirty = false
		s.deleted = nil
		return nil
	}
	if !isConflict(err) {
		s.countFatal()
		return fmt.Errorf("%w: %v", errs.ErrStoreFatal, err)
	}
	s.countConflict()

	remoteData, remoteSHA, gerr := s.backend.Get(ctx, s.path)
	if gerr != nil {
		s.countFatal()
		return fmt.Errorf("%w: conflict recovery fetch: %v", errs.ErrStoreFatal, gerr)
	}
	remoteDoc := Document{}
	if len(remoteData) > 0 {
		if uerr := json.Unmarshal(remoteData, &remoteDoc); uerr != nil {
			s.countFatal()
			return fmt.Errorf("%w: conflict recovery decode: %v", errs.ErrStoreFatal, uerr)
		}
	}

	merged := cloneDocument(remoteDoc)
	for k, v := range s.doc {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

	mergedData, merr := json.Marshal(merged)
	if merr != nil {
		return fmt.Errorf("store: flush: encoding merged document: %w", merr)
	}

	retrySHA, rerr := s.backend.Put(ctx, s.path, mergedData, remoteSHA, message)
	if rerr != nil {
		if isConflict(rerr) {
			s.countConflict()
			return errs.ErrStoreConflict
		}
		s.countFatal()
		return fmt.Errorf("%w: %v", errs.ErrStoreFatal, rerr)
	}

	s.doc = merged
	s.sha = retrySHA
	s.dirty = false
	s.deleted = nil
	return nil
}

func isConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func (s *Store) countConflict() {
	if s.metrics != nil {
		s.metrics.StoreFlushConflicts.Inc()
	}
}

func (s *Store) countFatal() {
	if s.metrics != nil {
		s.metrics.StoreFlushFatal.Inc()
	}
}
