package cache

import (
	"sync"
)

type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]CacheEntry
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]CacheEntry),
	}
}

func (m MemCache) Get(key string) (CacheEntry, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[key]
	return entry, ok, nil
}

func (m MemCache) Put(ce CacheEntry) error {
	bytes := make([]byte, len(ce.Bytes))
	copy(bytes, ce.Bytes)
	ce.Bytes = bytes
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[ce.Key] = ce
	return nil
}

func (m MemCache) Purge(key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
	return nil
}

func (m MemCache) Clear() (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	removed := len(m.db)
	for key := range m.db {
		delete(m.db, key)
	}
	return removed, nil
}

func (m MemCache) Keys(cb func(string)) error {
	m.mutex.RLock()
	keys := make([]string, 0, len(m.db))
	for key := range m.db {
		keys = append(keys, key)
	}
	m.mutex.RUnlock()
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (m MemCache) Close() error {
	return nil
}
