// Package profile keeps the student's profile and persists it next to the
// conversation history
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"study-chat/internal/storage"
)

// Key is the store key of the profile record
const Key = "profile"

// User is the student's profile
type User struct {
	Name                   string `json:"name"`
	Class                  string `json:"class"`
	Goal                   string `json:"goal"`
	ProfileImageURL        string `json:"profileImageUrl,omitempty"`
	IsInitialSetupComplete bool   `json:"isInitialSetupComplete"`
}

// Patch lists the fields to change. Nil fields are left alone.
type Patch struct {
	Name                   *string
	Class                  *string
	Goal                   *string
	ProfileImageURL        *string
	IsInitialSetupComplete *bool
}

func (p Patch) apply(u User) User {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Class != nil {
		u.Class = *p.Class
	}
	if p.Goal != nil {
		u.Goal = *p.Goal
	}
	if p.ProfileImageURL != nil {
		u.ProfileImageURL = *p.ProfileImageURL
	}
	if p.IsInitialSetupComplete != nil {
		u.IsInitialSetupComplete = *p.IsInitialSetupComplete
	}
	return u
}

// Store owns the current profile
type Store struct {
	kv     storage.KeyValueStore
	logger *zap.Logger

	mu        sync.Mutex
	user      User
	observers map[int]func(User)
	nextObs   int
}

// NewStore creates a store holding an empty profile until Load is called
func NewStore(kv storage.KeyValueStore, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		kv:        kv,
		logger:    logger.Named("profile"),
		observers: make(map[int]func(User)),
	}
}

// Load reads the stored profile. A missing or unreadable record leaves the
// empty default profile in place.
func (s *Store) Load(ctx context.Context) User {
	u, err := s.read(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("failed to load profile", zap.Error(err))
	}
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
	return u
}

func (s *Store) read(ctx context.Context) (User, error) {
	data, err := s.kv.Get(ctx, Key)
	if err != nil {
		return User{}, err
	}
	var raw struct {
		User
		SetupComplete *bool `json:"isInitialSetupComplete"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return User{}, fmt.Errorf("failed to parse profile: %w", err)
	}
	u := raw.User
	if raw.SetupComplete == nil {
		// Records written before the flag existed
		u.IsInitialSetupComplete = u.Name != "" && u.Class != "" && u.Goal != ""
	} else {
		u.IsInitialSetupComplete = *raw.SetupComplete
	}
	return u, nil
}

// Get returns a copy of the current profile
func (s *Store) Get() User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Update merges p into the profile, saves it and notifies subscribers. A
// save failure is logged and the merged profile still becomes current.
func (s *Store) Update(ctx context.Context, p Patch) User {
	s.mu.Lock()
	s.user = p.apply(s.user)
	u := s.user
	observers := make([]func(User), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	if data, err := json.Marshal(u); err != nil {
		s.logger.Error("failed to encode profile", zap.Error(err))
	} else if err := s.kv.Set(ctx, Key, data); err != nil {
		s.logger.Error("failed to save profile", zap.Error(err))
	}

	for _, fn := range observers {
		fn(u)
	}
	return u
}

// Subscribe registers fn for profile changes and returns its cancel function
func (s *Store) Subscribe(fn func(User)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}
