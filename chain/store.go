package chain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// Header is the slice of a block header the tracker cares about. Headers are
// content-addressed by hash but cached by height; a reorg replaces the entry
// at a height, so linkage is re-checked on every read path.
type Header struct {
	Height   uint32 `json:"height"`
	Hash     string `json:"hash"`
	PrevHash string `json:"prevHash"`
	Time     uint64 `json:"time"`
}

// Connects reports whether child extends h.
func (h Header) Connects(child Header) bool {
	return child.Height == h.Height+1 && child.PrevHash == h.Hash
}

// HeaderStore caches headers by height so median time queries do not refetch
// the same window on every poll. Implementations must be safe for concurrent
// use.
type HeaderStore interface {
	// PutHeader stores h, replacing any header previously cached at the same
	// height, and advances the tip when h is the highest header seen.
	PutHeader(h Header) error
	// HeaderAt returns the cached header at height. The bool is false when the
	// height has not been cached; that is not an error.
	HeaderAt(height uint32) (Header, bool, error)
	// Tip returns the highest header ever stored. The bool is false on an
	// empty store.
	Tip() (Header, bool, error)
	Close() error
}

// --- In-memory store (tests and short-lived tools) ---

type MemHeaderStore struct {
	mu      sync.RWMutex
	headers map[uint32]Header
	tip     Header
	hasTip  bool
}

func NewMemHeaderStore() *MemHeaderStore {
	return &MemHeaderStore{headers: make(map[uint32]Header)}
}

func (s *MemHeaderStore) PutHeader(h Header) error {
	if h.Hash == "" {
		return fmt.Errorf("header store: empty hash at height %d", h.Height)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers[h.Height] = h
	if !s.hasTip || h.Height >= s.tip.Height {
		s.tip = h
		s.hasTip = true
	}
	return nil
}

func (s *MemHeaderStore) HeaderAt(height uint32) (Header, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.headers[height]
	return h, ok, nil
}

func (s *MemHeaderStore) Tip() (Header, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tip, s.hasTip, nil
}

func (s *MemHeaderStore) Close() error { return nil }

// --- Persistent store (watcher daemons) ---

var (
	headerKeyPrefix = []byte("hdr/")
	tipKey          = []byte("hdr!tip")
)

func headerKey(height uint32) []byte {
	key := make([]byte, len(headerKeyPrefix)+4)
	copy(key, headerKeyPrefix)
	binary.BigEndian.PutUint32(key[len(headerKeyPrefix):], height)
	return key
}

// LevelHeaderStore persists headers in a LevelDB database so a restarted
// watcher resumes from its last window instead of refetching history.
type LevelHeaderStore struct {
	db *leveldb.DB
}

// OpenLevelHeaderStore creates or opens the header database at path.
func OpenLevelHeaderStore(path string) (*LevelHeaderStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("header store: open %s: %w", path, err)
	}
	return &LevelHeaderStore{db: db}, nil
}

func (s *LevelHeaderStore) PutHeader(h Header) error {
	if h.Hash == "" {
		return fmt.Errorf("header store: empty hash at height %d", h.Height)
	}
	value, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("header store: encode header %d: %w", h.Height, err)
	}
	if err := s.db.Put(headerKey(h.Height), value, nil); err != nil {
		return fmt.Errorf("header store: put header %d: %w", h.Height, err)
	}
	tip, ok, err := s.Tip()
	if err != nil {
		return err
	}
	if ok && h.Height < tip.Height {
		return nil
	}
	if err := s.db.Put(tipKey, value, nil); err != nil {
		return fmt.Errorf("header store: put tip: %w", err)
	}
	return nil
}

func (s *LevelHeaderStore) HeaderAt(height uint32) (Header, bool, error) {
	return s.get(headerKey(height))
}

func (s *LevelHeaderStore) Tip() (Header, bool, error) {
	return s.get(tipKey)
}

func (s *LevelHeaderStore) get(key []byte) (Header, bool, error) {
	value, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return Header{}, false, nil
	}
	if err != nil {
		return Header{}, false, fmt.Errorf("header store: get: %w", err)
	}
	var h Header
	if err := json.Unmarshal(value, &h); err != nil {
		return Header{}, false, fmt.Errorf("header store: decode header: %w", err)
	}
	return h, true, nil
}

func (s *LevelHeaderStore) Close() error {
	return s.db.Close()
}
