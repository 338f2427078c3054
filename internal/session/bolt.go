package session

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"github.com/dellavolpe/rnc-front/internal/crypto"
	"github.com/dellavolpe/rnc-front/internal/log"
)

var sessionsBucket = []byte("sessions")

var _ Store = (*BoltStore)(nil)

// BoltStore persists sessions in a bbolt file so they survive restarts.
// Each value is an 8-byte big-endian expiry followed by the sealed JSON
// session; the expiry and ID are bound as additional data.
type BoltStore struct {
	db     *bbolt.DB
	sealer *crypto.Sealer
}

// NewBoltStore opens (or creates) the database at path. key must be
// crypto.KeyLength bytes.
func NewBoltStore(path string, key []byte) (*BoltStore, error) {
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating sessions bucket: %w", err)
	}
	return &BoltStore{db: db, sealer: sealer}, nil
}

func aad(id string, expiresUnix int64) []byte {
	return []byte("session:" + id + ":" + strconv.FormatInt(expiresUnix, 10))
}

func (b *BoltStore) Get(_ context.Context, id string) (*Session, error) {
	var raw []byte
	if err := b.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(sessionsBucket).Get([]byte(id)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	if len(raw) < 8 {
		return nil, ErrNotFound
	}

	expires := int64(binary.BigEndian.Uint64(raw[:8]))
	if !time.Now().Before(time.Unix(expires, 0)) {
		_ = b.Delete(context.Background(), id)
		return nil, ErrNotFound
	}

	plaintext, err := b.sealer.Open(raw[8:], aad(id, expires))
	if err != nil {
		log.LogWarnWithFields("session", "Discarding session that failed to open", map[string]any{
			"error": err.Error(),
		})
		_ = b.Delete(context.Background(), id)
		return nil, ErrNotFound
	}

	var s Session
	if err := json.Unmarshal(plaintext, &s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &s, nil
}

func (b *BoltStore) Save(_ context.Context, s *Session) error {
	plaintext, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	expires := s.ExpiresAt.Unix()
	sealed, err := b.sealer.Seal(plaintext, aad(s.ID, expires))
	if err != nil {
		return fmt.Errorf("sealing session: %w", err)
	}

	value := make([]byte, 8, 8+len(sealed))
	binary.BigEndian.PutUint64(value, uint64(expires))
	value = append(value, sealed...)

	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(s.ID), value)
	})
}

func (b *BoltStore) Delete(_ context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(id))
	})
}

func (b *BoltStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	count := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(sessionsBucket)
		var expired [][]byte
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(v) < 8 || !now.Before(time.Unix(int64(binary.BigEndian.Uint64(v[:8])), 0)) {
				expired = append(expired, append([]byte(nil), k...))
			}
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		count = len(expired)
		return nil
	})
	return count, err
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}
