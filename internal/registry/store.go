// Package registry implements the service registry: a bbolt-backed table of
// registered service entries, keyed by URL, with a most-recent-registration-
// wins dispatch policy and a reverse-proxy handler built on top of it.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket is the single bbolt bucket all entries live in.
const Bucket = "services"

// Entry is one registration: a named service instance reachable at URL,
// carrying an arbitrary info blob (credentials, health endpoint, capability
// tags - whatever the registering service chose to send).
type Entry struct {
	Name         string                 `json:"name"`
	URL          string                 `json:"url"`
	RegisteredAt int64                  `json:"registeredAt"`
	Info         map[string]interface{} `json:"info"`
}

// Store persists entries in a single bbolt database.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bbolt database at path and ensures
// its bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(Bucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Register upserts entry, keyed by its URL (re-registering the same URL
// simply refreshes RegisteredAt and Info).
func (s *Store) Register(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("registry: marshal entry: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(Bucket))
		return b.Put([]byte(entry.URL), data)
	})
}

// Unregister removes the entry at url, if any.
func (s *Store) Unregister(url string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(Bucket))
		return b.Delete([]byte(url))
	})
}

// List returns every entry registered under name, most recent first.
func (s *Store) List(name string) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(Bucket))
		return b.ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return nil // skip malformed entries rather than fail the whole scan
			}
			if e.Name == name {
				entries = append(entries, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RegisteredAt > entries[j].RegisteredAt })
	return entries, nil
}

// ListAll returns every entry, grouped by name.
func (s *Store) ListAll() (map[string][]Entry, error) {
	out := make(map[string][]Entry)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(Bucket))
		return b.ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return nil
			}
			out[e.Name] = append(out[e.Name], e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for name := range out {
		entries := out[name]
		sort.Slice(entries, func(i, j int) bool { return entries[i].RegisteredAt > entries[j].RegisteredAt })
		out[name] = entries
	}
	return out, nil
}

// ErrNoEntry is returned by Pick when name has no live registration.
type ErrNoEntry struct {
	Name string
}

func (e *ErrNoEntry) Error() string {
	return fmt.Sprintf("registry: no live entry for %q", e.Name)
}

// Pick returns the most-recently-registered live entry for name, excluding
// entries older than ttl (a zero ttl disables expiry). Dispatch picks the
// newest registration rather than round-robin across instances.
func (s *Store) Pick(name string, ttl time.Duration, now time.Time) (*Entry, error) {
	entries, err := s.List(name)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if ttl > 0 {
			age := now.Sub(time.Unix(0, entries[i].RegisteredAt))
			if age > ttl {
				continue
			}
		}
		return &entries[i], nil
	}
	return nil, &ErrNoEntry{Name: name}
}
