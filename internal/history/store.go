// Package history persists synchronized conversation snapshots
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"study-chat/internal/conversation"
	"study-chat/internal/storage"
)

// Key is the store key holding the history array
const Key = "history"

// ErrEmpty is returned when asked to persist a conversation with no interactions
var ErrEmpty = errors.New("conversation has no interactions")

// Store holds the ordered history (most recently updated first) and persists
// it as one JSON array.
type Store struct {
	kv      storage.KeyValueStore
	logger  *zap.Logger
	maxSize int

	// writeMu serializes read-modify-write cycles, mu guards the slice swap
	writeMu       sync.Mutex
	mu            sync.RWMutex
	conversations []conversation.Conversation
	version       uint64
}

// NewStore creates a history store; maxSize <= 0 keeps everything
func NewStore(kv storage.KeyValueStore, maxSize int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		kv:            kv,
		logger:        logger.Named("history"),
		maxSize:       maxSize,
		conversations: []conversation.Conversation{},
	}
}

// Load reads history from the backing store. Missing or corrupt data yields
// an empty history; corrupt data is discarded.
func (s *Store) Load(ctx context.Context) []conversation.Conversation {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	loaded := s.read(ctx)
	s.swap(loaded)
	return s.List()
}

func (s *Store) read(ctx context.Context) []conversation.Conversation {
	data, err := s.kv.Get(ctx, Key)
	if errors.Is(err, storage.ErrNotFound) {
		return []conversation.Conversation{}
	}
	if err != nil {
		s.logger.Warn("failed to read history", zap.Error(err))
		return []conversation.Conversation{}
	}

	records, err := decode(data)
	if err != nil {
		s.logger.Warn("discarding corrupt history", zap.Error(err))
		if err := s.kv.Delete(ctx, Key); err != nil {
			s.logger.Warn("failed to clear corrupt history", zap.Error(err))
		}
		return []conversation.Conversation{}
	}
	return records
}

// decode parses the history array, dropping records that fail shape checks
func decode(data []byte) ([]conversation.Conversation, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errors.New("history is not a JSON array")
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse history: %w", err)
	}

	out := make([]conversation.Conversation, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		var c conversation.Conversation
		if err := json.Unmarshal(r, &c); err != nil {
			continue
		}
		if strings.TrimSpace(c.ID) == "" || len(c.Interactions) == 0 || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		if c.Tags == nil {
			c.Tags = []string{}
		}
		for i := range c.Interactions {
			c.Interactions[i].IsLoading = false
		}
		out = append(out, c)
	}
	sortByUpdated(out)
	return out, nil
}

// List returns a copy of the history, most recently updated first
func (s *Store) List() []conversation.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]conversation.Conversation, len(s.conversations))
	for i := range s.conversations {
		out[i] = s.conversations[i].Clone()
	}
	return out
}

// Get returns the snapshot with the given id
func (s *Store) Get(id string) (conversation.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return s.conversations[i].Clone(), true
		}
	}
	return conversation.Conversation{}, false
}

// Version increments on every change to the history
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Upsert replaces the record with the same id, or prepends it as newest, and
// persists the merged history. The in-memory history is updated even when
// the write fails.
func (s *Store) Upsert(ctx context.Context, snapshot conversation.Conversation) error {
	if len(snapshot.Interactions) == 0 {
		return ErrEmpty
	}
	snap := snapshot.Clone()
	snap.Interrupt()
	if err := snap.Validate(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.List()
	replaced := false
	for i := range next {
		if next[i].ID == snap.ID {
			next[i] = snap
			replaced = true
			break
		}
	}
	if !replaced {
		next = append([]conversation.Conversation{snap}, next...)
	}
	sortByUpdated(next)
	if s.maxSize > 0 && len(next) > s.maxSize {
		next = next[:s.maxSize]
	}

	s.swap(next)
	return s.persist(ctx, next)
}

// Delete removes the record with the given id and persists the result
func (s *Store) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.List()
	next := current[:0]
	for _, c := range current {
		if c.ID != id {
			next = append(next, c)
		}
	}
	s.swap(next)
	return s.persist(ctx, next)
}

func (s *Store) swap(next []conversation.Conversation) {
	s.mu.Lock()
	s.conversations = next
	s.version++
	s.mu.Unlock()
}

func (s *Store) persist(ctx context.Context, records []conversation.Conversation) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := s.kv.Set(ctx, Key, data); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

func sortByUpdated(list []conversation.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].UpdatedAtUnixMs > list[j].UpdatedAtUnixMs
	})
}
