package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
	"golang.org/x/oauth2"

	"github.com/dellavolpe/rnc-front/internal/crypto"
	"github.com/dellavolpe/rnc-front/internal/idp"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.DeriveKey([]byte("0123456789abcdef0123456789abcdef"), crypto.PurposeSession)
	require.NoError(t, err)
	return key
}

func authenticated(t *testing.T, ttl time.Duration) *Session {
	t.Helper()
	s, err := New(ttl)
	require.NoError(t, err)
	s.Token = &oauth2.Token{AccessToken: "access", TokenType: "Bearer"}
	s.GrantedScopes = []string{"User.Read"}
	s.User = &idp.UserInfo{ProviderType: "azure", Email: "ana@dellavolpe.com.br", Name: "Ana"}
	return s
}

func TestNew(t *testing.T) {
	a, err := New(time.Hour)
	require.NoError(t, err)
	b, err := New(time.Hour)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Expired(time.Now()))
	assert.True(t, a.Expired(time.Now().Add(2*time.Hour)))
	assert.Nil(t, a.User)
	assert.Nil(t, a.Token)
}

func TestSession_ResetAndFlash(t *testing.T) {
	s := authenticated(t, time.Hour)
	s.Pending = &PendingLogin{Nonce: "n"}
	s.Flash = "Registro salvo"

	assert.Equal(t, "Registro salvo", s.TakeFlash())
	assert.Empty(t, s.TakeFlash())

	s.RestartLogin = true
	assert.True(t, s.TakeRestartLogin())
	assert.False(t, s.TakeRestartLogin())

	s.Reset()
	assert.Nil(t, s.Token)
	assert.Nil(t, s.User)
	assert.Nil(t, s.Pending)
	assert.Empty(t, s.GrantedScopes)
}

func TestSession_Clone(t *testing.T) {
	s := authenticated(t, time.Hour)
	c := s.Clone()

	c.User.Email = "other@dellavolpe.com.br"
	c.Token.AccessToken = "changed"
	c.GrantedScopes[0] = "changed"

	assert.Equal(t, "ana@dellavolpe.com.br", s.User.Email)
	assert.Equal(t, "access", s.Token.AccessToken)
	assert.Equal(t, "User.Read", s.GrantedScopes[0])
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	s, err := New(time.Hour)
	require.NoError(t, err)
	got, ok := FromContext(WithSession(context.Background(), s))
	require.True(t, ok)
	assert.Same(t, s, got)
}

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	bolt, err := NewBoltStore(filepath.Join(t.TempDir(), "sessions.db"), testKey(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"bolt":   bolt,
	}
}

func TestStores(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("missing", func(t *testing.T) {
				_, err := store.Get(ctx, "nope")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("round trip", func(t *testing.T) {
				s := authenticated(t, time.Hour)
				require.NoError(t, store.Save(ctx, s))

				got, err := store.Get(ctx, s.ID)
				require.NoError(t, err)
				assert.Equal(t, s.ID, got.ID)
				assert.Equal(t, "ana@dellavolpe.com.br", got.User.Email)
				assert.Equal(t, "access", got.Token.AccessToken)
				assert.Equal(t, []string{"User.Read"}, got.GrantedScopes)
			})

			t.Run("caller mutations do not leak", func(t *testing.T) {
				s := authenticated(t, time.Hour)
				require.NoError(t, store.Save(ctx, s))
				s.User.Email = "mutated@dellavolpe.com.br"

				got, err := store.Get(ctx, s.ID)
				require.NoError(t, err)
				assert.Equal(t, "ana@dellavolpe.com.br", got.User.Email)
			})

			t.Run("sessions are isolated", func(t *testing.T) {
				a := authenticated(t, time.Hour)
				b, err := New(time.Hour)
				require.NoError(t, err)
				require.NoError(t, store.Save(ctx, a))
				require.NoError(t, store.Save(ctx, b))

				got, err := store.Get(ctx, b.ID)
				require.NoError(t, err)
				assert.Nil(t, got.User)
			})

			t.Run("delete", func(t *testing.T) {
				s := authenticated(t, time.Hour)
				require.NoError(t, store.Save(ctx, s))
				require.NoError(t, store.Delete(ctx, s.ID))
				require.NoError(t, store.Delete(ctx, s.ID))

				_, err := store.Get(ctx, s.ID)
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("expired", func(t *testing.T) {
				s := authenticated(t, -time.Minute)
				require.NoError(t, store.Save(ctx, s))

				_, err := store.Get(ctx, s.ID)
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("delete expired", func(t *testing.T) {
				live := authenticated(t, time.Hour)
				stale := authenticated(t, time.Hour)
				stale.ExpiresAt = time.Now().Add(-time.Second)
				require.NoError(t, store.Save(ctx, live))
				require.NoError(t, store.Save(ctx, stale))

				n, err := store.DeleteExpired(ctx, time.Now())
				require.NoError(t, err)
				assert.GreaterOrEqual(t, n, 1)

				_, err = store.Get(ctx, live.ID)
				assert.NoError(t, err)
			})
		})
	}
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	key := testKey(t)
	ctx := context.Background()

	store, err := NewBoltStore(path, key)
	require.NoError(t, err)
	s := authenticated(t, time.Hour)
	require.NoError(t, store.Save(ctx, s))
	require.NoError(t, store.Close())

	store, err = NewBoltStore(path, key)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "ana@dellavolpe.com.br", got.User.Email)
}

func TestBoltStore_WrongKeyDiscards(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store, err := NewBoltStore(path, testKey(t))
	require.NoError(t, err)
	s := authenticated(t, time.Hour)
	require.NoError(t, store.Save(ctx, s))
	require.NoError(t, store.Close())

	other, err := crypto.DeriveKey([]byte("ffffffffffffffffffffffffffffffff"), crypto.PurposeSession)
	require.NoError(t, err)
	store, err = NewBoltStore(path, other)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStore_ValueIsSealed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store, err := NewBoltStore(path, testKey(t))
	require.NoError(t, err)
	s := authenticated(t, time.Hour)
	require.NoError(t, store.Save(ctx, s))

	var raw []byte
	require.NoError(t, store.db.View(func(tx *bbolt.Tx) error {
		raw = append([]byte(nil), tx.Bucket(sessionsBucket).Get([]byte(s.ID))...)
		return nil
	}))
	require.NoError(t, store.Close())

	assert.NotContains(t, string(raw), "ana@dellavolpe.com.br")
	assert.NotContains(t, string(raw), "access")
}

type countingStore struct {
	*MemoryStore
	calls chan struct{}
	err   error
}

func (c *countingStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	select {
	case c.calls <- struct{}{}:
	default:
	}
	if c.err != nil {
		return 0, c.err
	}
	return c.MemoryStore.DeleteExpired(ctx, now)
}

func TestCleanupManager(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore(), calls: make(chan struct{}, 10)}
	stale := authenticated(t, time.Hour)
	stale.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, store.Save(context.Background(), stale))

	cm := NewCleanupManager(store, 10*time.Millisecond)
	cm.Start(context.Background())

	select {
	case <-store.calls:
	case <-time.After(time.Second):
		t.Fatal("cleanup never ran")
	}
	cm.Stop()
	cm.Stop()

	assert.Equal(t, 0, store.Len())
}

func TestCleanupManager_ErrorKeepsRunning(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore(), calls: make(chan struct{}, 10), err: errors.New("boom")}

	ctx, cancel := context.WithCancel(context.Background())
	cm := NewCleanupManager(store, 5*time.Millisecond)
	cm.Start(ctx)

	for range 2 {
		select {
		case <-store.calls:
		case <-time.After(time.Second):
			t.Fatal("cleanup stopped after an error")
		}
	}
	cancel()
	cm.Stop()
}
