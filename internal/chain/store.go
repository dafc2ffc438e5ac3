package chain

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	blocksBucket = []byte("blocks")
	metaBucket   = []byte("meta")
	headKey      = []byte("head")
)

// ErrBlockNotFound is returned for block numbers above the head.
var ErrBlockNotFound = errors.New("block not found")

// Store persists blocks in a bbolt database. Blocks are keyed by big-endian
// number so that cursor order is chain order.
type Store struct {
	db   *bolt.DB
	path string
}

// OpenStore opens (or creates) the database at path. Another process holding
// the file lock makes OpenStore fail after a short timeout.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %q: %w", dir, err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open chain database %q: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(blocksBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

func numberKey(n uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], n)
	return k[:]
}

// Head returns the number of the stored head block; ok is false for an empty database.
func (s *Store) Head() (n uint64, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(headKey)
		if v == nil {
			return nil
		}
		if len(v) != 8 {
			return fmt.Errorf("corrupt head record (%d bytes)", len(v))
		}
		n, ok = binary.BigEndian.Uint64(v), true
		return nil
	})
	return n, ok, err
}

// Put stores b and makes it the head in one transaction.
func (s *Store) Put(b *Block) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode block %d: %w", b.Number, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		key := numberKey(b.Number)
		if err := tx.Bucket(blocksBucket).Put(key, data); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Put(headKey, key)
	})
}

// Get loads block n.
func (s *Store) Get(n uint64) (*Block, error) {
	var b *Block
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blocksBucket).Get(numberKey(n))
		if v == nil {
			return ErrBlockNotFound
		}
		b = &Block{}
		return json.Unmarshal(v, b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}
