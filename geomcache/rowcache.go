package geomcache

import (
	"bytes"
	"encoding/gob"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var bucketRows = []byte("rows")

// RowCache memoises Requestor.RequestRow results keyed by
// "query\x00offset" so that repeated clicks on the same tile don't
// re-issue an OFFSET/LIMIT 1 query against the backend: one bbolt
// file, one bucket, Put/Get by byte key.
type RowCache struct {
	db *bolt.DB
}

// OpenRowCache opens (creating if absent) a bbolt-backed row cache at path.
func OpenRowCache(path string) (*RowCache, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("geomcache: open row cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRows)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &RowCache{db: db}, nil
}

// Close releases the underlying bbolt file.
func (rc *RowCache) Close() error { return rc.db.Close() }

func rowKey(query string, offset int64) []byte {
	key := make([]byte, 0, len(query)+1+8)
	key = append(key, query...)
	key = append(key, 0)
	for i := 7; i >= 0; i-- {
		key = append(key, byte(offset>>(8*i)))
	}
	return key
}

// Row is one attribute row: ordered column name/value pairs, matching
// the {attrs: [[k, v]...]} shape the HTTP surface returns.
type Row [][2]string

// Get returns a cached row, or ok=false on a miss.
func (rc *RowCache) Get(query string, offset int64) (row Row, ok bool, err error) {
	key := rowKey(query, offset)
	err = rc.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRows).Get(key)
		if v == nil {
			return nil
		}
		ok = true
		return gob.NewDecoder(bytes.NewReader(v)).Decode(&row)
	})
	return row, ok, err
}

// Put stores a row fetched from the backend.
func (rc *RowCache) Put(query string, offset int64, row Row) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(row); err != nil {
		return err
	}
	key := rowKey(query, offset)
	return rc.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRows).Put(key, buf.Bytes())
	})
}
