package cache

import (
	"bytes"
	"encoding/gob"
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var entryPrefix = []byte("e:")

// LevelDBCache keeps entries in a leveldb database, gob encoded under "e:<key>".
type LevelDBCache struct {
	db *leveldb.DB
}

func NewLevelDBCache(path string) (*LevelDBCache, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBCache{db: db}, nil
}

func (l *LevelDBCache) Get(key string) (CacheEntry, bool, error) {
	b, err := l.db.Get(entryKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	var ce CacheEntry
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&ce); err != nil {
		return CacheEntry{}, false, err
	}
	return ce, true, nil
}

func (l *LevelDBCache) Put(ce CacheEntry) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ce); err != nil {
		return err
	}
	return l.db.Put(entryKey(ce.Key), buf.Bytes(), nil)
}

func (l *LevelDBCache) Purge(key string) error {
	return l.db.Delete(entryKey(key), nil)
}

func (l *LevelDBCache) Clear() (int, error) {
	it := l.db.NewIterator(util.BytesPrefix(entryPrefix), nil)
	batch := new(leveldb.Batch)
	for it.Next() {
		// the iterator reuses its key buffer
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return 0, err
	}
	if err := l.db.Write(batch, nil); err != nil {
		return 0, err
	}
	return batch.Len(), nil
}

func (l *LevelDBCache) Keys(cb func(string)) error {
	it := l.db.NewIterator(util.BytesPrefix(entryPrefix), nil)
	defer it.Release()
	for it.Next() {
		cb(string(bytes.TrimPrefix(it.Key(), entryPrefix)))
	}
	return it.Error()
}

func (l *LevelDBCache) Close() error {
	return l.db.Close()
}

func entryKey(key string) []byte {
	return append(append([]byte(nil), entryPrefix...), key...)
}
