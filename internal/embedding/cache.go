package embedding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/dgraph-io/badger/v4"
)

// VectorCache stores embeddings by text hash.
type VectorCache interface {
	Get(key string) ([]float32, bool)
	Put(key string, values []float32) error
}

// BadgerCache is a persistent VectorCache. Keys are namespaced by model so a
// model change never serves stale vectors.
type BadgerCache struct {
	db     *badger.DB
	prefix string
}

// OpenBadgerCache opens (or creates) a cache in dir. An empty dir keeps the cache in memory.
func OpenBadgerCache(dir, model string) (*BadgerCache, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerCache{db: db, prefix: "emb:" + model + ":"}, nil
}

// Get returns the cached vector for key.
func (c *BadgerCache) Get(key string) ([]float32, bool) {
	var values []float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(c.prefix + key))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		values, err = decodeVector(raw)
		return err
	})
	if err != nil {
		return nil, false
	}
	return values, true
}

// Put stores values under key.
func (c *BadgerCache) Put(key string, values []float32) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(c.prefix+key), encodeVector(values))
	})
}

// Close releases the database.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}

// encodeVector writes little-endian float32 bits.
func encodeVector(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, errors.New("corrupt vector encoding")
	}
	values := make([]float32, len(raw)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return values, nil
}
