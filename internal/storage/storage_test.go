package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// StoreSuite runs the same contract against every backend
type StoreSuite struct {
	suite.Suite
	open  func(t *testing.T) KeyValueStore
	store KeyValueStore
}

func (s *StoreSuite) SetupTest() {
	s.store = s.open(s.T())
}

func (s *StoreSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *StoreSuite) TestGetMissing() {
	_, err := s.store.Get(context.Background(), "history")
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestSetGetOverwrite() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, "history", []byte(`[1]`)))
	s.Require().NoError(s.store.Set(ctx, "history", []byte(`[1,2]`)))

	got, err := s.store.Get(ctx, "history")
	s.Require().NoError(err)
	s.Equal(`[1,2]`, string(got))
}

func (s *StoreSuite) TestKeysAreIndependent() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, "history", []byte(`[]`)))
	s.Require().NoError(s.store.Set(ctx, "profile", []byte(`{}`)))

	s.Require().NoError(s.store.Delete(ctx, "history"))
	_, err := s.store.Get(ctx, "history")
	s.ErrorIs(err, ErrNotFound)

	got, err := s.store.Get(ctx, "profile")
	s.Require().NoError(err)
	s.Equal(`{}`, string(got))
}

func (s *StoreSuite) TestDeleteMissingIsNoop() {
	s.NoError(s.store.Delete(context.Background(), "nothing"))
}

func (s *StoreSuite) TestConcurrentWritesNeverTear() {
	ctx := context.Background()
	values := []string{`["a","a","a"]`, `["b","b","b"]`, `["c","c","c"]`}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			s.NoError(s.store.Set(ctx, "history", []byte(v)))
		}(values[i%len(values)])
	}
	wg.Wait()

	got, err := s.store.Get(ctx, "history")
	s.Require().NoError(err)
	s.Contains(values, string(got))
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(*testing.T) KeyValueStore { return NewMemoryStore() }})
}

func TestFileStore(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(t *testing.T) KeyValueStore {
		s, err := NewFileStore(t.TempDir())
		require.NoError(t, err)
		return s
	}})
}

func TestBoltStore(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(t *testing.T) KeyValueStore {
		s, err := OpenBolt(filepath.Join(t.TempDir(), "studychat.bolt"))
		require.NoError(t, err)
		return s
	}})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(t *testing.T) KeyValueStore {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "studychat.sqlite"))
		require.NoError(t, err)
		return s
	}})
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("STUDYCHAT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("STUDYCHAT_TEST_REDIS_URL not set")
	}
	suite.Run(t, &StoreSuite{open: func(t *testing.T) KeyValueStore {
		s, err := OpenRedis(url)
		require.NoError(t, err)
		require.NoError(t, s.Delete(context.Background(), "history"))
		require.NoError(t, s.Delete(context.Background(), "profile"))
		return s
	}})
}

func TestFileStoreRejectsPathKeys(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.Error(t, s.Set(context.Background(), "../escape", []byte("x")))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(Options{Backend: "tape"})
	require.Error(t, err)
}
