package blockstore

import (
	"context"
	"fmt"
	"sync"
)

type cacheKey struct {
	BlockId string
	Name    string
}

var globalLock = &sync.Mutex{}
var blockstoreCache = make(map[cacheKey]*CacheEntry)

func getCacheEntry(blockId string, name string) (*CacheEntry, bool) {
	globalLock.Lock()
	defer globalLock.Unlock()
	entry, found := blockstoreCache[cacheKey{BlockId: blockId, Name: name}]
	return entry, found
}

// setCacheEntry installs entry unless another goroutine won the race.
func setCacheEntry(key cacheKey, entry *CacheEntry) {
	globalLock.Lock()
	defer globalLock.Unlock()
	if _, found := blockstoreCache[key]; found {
		return
	}
	blockstoreCache[key] = entry
}

func deleteCacheEntry(blockId string, name string) {
	globalLock.Lock()
	defer globalLock.Unlock()
	delete(blockstoreCache, cacheKey{BlockId: blockId, Name: name})
}

func deleteBlockFromCache(blockId string) {
	globalLock.Lock()
	defer globalLock.Unlock()
	for key := range blockstoreCache {
		if key.BlockId == blockId {
			delete(blockstoreCache, key)
		}
	}
}

func getAllCacheEntries() []*CacheEntry {
	globalLock.Lock()
	defer globalLock.Unlock()
	rtn := make([]*CacheEntry, 0, len(blockstoreCache))
	for _, entry := range blockstoreCache {
		rtn = append(rtn, entry)
	}
	return rtn
}

func getCacheEntryOrPopulate(ctx context.Context, blockId string, name string) (*CacheEntry, error) {
	if entry, found := getCacheEntry(blockId, name); found {
		return entry, nil
	}
	if _, err := Stat(ctx, blockId, name); err != nil {
		return nil, err
	}
	if entry, found := getCacheEntry(blockId, name); found {
		return entry, nil
	}
	return nil, fmt.Errorf("cannot populate cache entry for %s:%s", blockId, name)
}

// clearCache resets the global cache (tests only).
func clearCache() {
	globalLock.Lock()
	defer globalLock.Unlock()
	blockstoreCache = make(map[cacheKey]*CacheEntry)
}
