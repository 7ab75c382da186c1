package cache

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		created_at INTEGER,
		bytes BLOB
	)`)
	if err != nil {
		db.Close()
		return SQLiteCache{}, err
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return SQLiteCache{}, err
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Get(key string) (CacheEntry, bool, error) {
	var createdAt int64
	var bytes []byte
	err := s.db.QueryRow("SELECT created_at, bytes FROM cache WHERE key = ?", key).Scan(&createdAt, &bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	return CacheEntry{
		Key:       key,
		CreatedAt: time.Unix(0, createdAt),
		Bytes:     bytes,
	}, true, nil
}

func (s SQLiteCache) Put(ce CacheEntry) error {
	createdAt := ce.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR REPLACE INTO cache (key, created_at, bytes) VALUES (?, ?, ?)",
		ce.Key, createdAt.UnixNano(), ce.Bytes)
	return err
}

func (s SQLiteCache) Purge(key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE key = ?", key)
	return err
}

func (s SQLiteCache) Clear() (int, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	result, err := s.db.Exec("DELETE FROM cache")
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func (s SQLiteCache) Keys(cb func(string)) error {
	rows, err := s.db.Query("SELECT key FROM cache")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		cb(key)
	}
	return rows.Err()
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}
