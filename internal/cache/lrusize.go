// Package cache provides a generic size-bounded LRU cache with
// lock/unlock pinning, adapted from the teacher's
// lib/cache.LRUSizeCache. internal/manifest uses it to bound how much
// tool-manifest file content is held in memory at once.
package cache

import (
	"container/list"
	"sync"

	"github.com/InSimo/fastbuild/internal/logger"
)

type valueHolder[TValue any] struct {
	value *TValue
	err   error

	lockCount     uint64
	size          uint64
	loadingStatus *sync.WaitGroup
	listPosition  *list.Element
}

// LRUSizeCache accepts a size bound on cached values. The getter is
// called on a cache miss to load the value and report its size; the
// remover, if given, is called just before a successfully loaded value
// is evicted. Lock/Unlock pin a key against eviction while in use.
type LRUSizeCache[TKey comparable, TValue any] struct {
	mu      sync.Mutex
	holders map[TKey]*valueHolder[TValue]

	getter  func(TKey) (*TValue, error, uint64)
	remover func(TKey, *TValue)

	sizeBound uint64
	totalSize uint64

	recentRank *list.List
}

// New creates a cache bounded to sizeBound units of whatever scale the
// getter reports (the core uses bytes).
func New[TKey comparable, TValue any](
	sizeBound uint64,
	getter func(TKey) (*TValue, error, uint64),
	remover func(TKey, *TValue),
) *LRUSizeCache[TKey, TValue] {
	return &LRUSizeCache[TKey, TValue]{
		holders:    make(map[TKey]*valueHolder[TValue]),
		getter:     getter,
		remover:    remover,
		sizeBound:  sizeBound,
		recentRank: list.New(),
	}
}

// Put inserts value directly under key, bypassing the getter. Used by
// write-through callers that already have the value in hand (e.g. a
// compile cache committing a build result). Returns ErrItemAlreadyExists
// if key is already present.
func (c *LRUSizeCache[TKey, TValue]) Put(key TKey, value *TValue, size uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.holders[key]; ok {
		return &ErrItemAlreadyExists[TKey]{Key: key}
	}
	h := &valueHolder[TValue]{value: value, size: size}
	c.holders[key] = h
	c.totalSize += size
	c.itemUsed(key, h)
	c.removeItemsIfNeeded()
	return nil
}

// Get returns the cached value for key, loading it via the getter on a
// miss and blocking until any concurrent load for the same key
// completes.
func (c *LRUSizeCache[TKey, TValue]) Get(key TKey) (*TValue, error) {
	c.mu.Lock()
	h := c.lockAndGetHolder(key)
	if h.loadingStatus == nil {
		h.lockCount--
		c.itemUsed(key, h)
		c.mu.Unlock()
		return h.value, h.err
	}
	loading := h.loadingStatus
	c.mu.Unlock()

	loading.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	h = c.holders[key]
	h.lockCount--
	c.itemUsed(key, h)
	return h.value, h.err
}

// Lock pins key against eviction, loading it in the background if
// absent. Each Lock call must be matched by an Unlock call.
func (c *LRUSizeCache[TKey, TValue]) Lock(key TKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.lockAndGetHolder(key)
	if h.loadingStatus == nil {
		c.itemUsed(key, h)
	}
}

// Unlock releases one pin placed by Lock.
func (c *LRUSizeCache[TKey, TValue]) Unlock(key TKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.holders[key]
	if !ok {
		return &ErrItemNotFound[TKey]{Key: key}
	}
	if h.lockCount == 0 {
		return &ErrItemNotLocked[TKey]{Key: key}
	}
	h.lockCount--
	c.removeItemsIfNeeded()
	return nil
}

// Remove evicts key immediately. Returns ErrItemLocked if key is
// currently pinned; a missing key is not an error.
func (c *LRUSizeCache[TKey, TValue]) Remove(key TKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.holders[key]
	if !ok {
		return nil
	}
	if h.lockCount > 0 {
		return &ErrItemLocked[TKey]{Key: key}
	}
	c.removeSingleItem(key)
	return nil
}

func (c *LRUSizeCache[TKey, TValue]) lockAndGetHolder(key TKey) *valueHolder[TValue] {
	h, ok := c.holders[key]
	if ok {
		h.lockCount++
		return h
	}
	h = &valueHolder[TValue]{
		loadingStatus: &sync.WaitGroup{},
		lockCount:     1,
	}
	h.loadingStatus.Add(1)
	c.holders[key] = h

	go c.loadAbsentValue(key)
	return h
}

func (c *LRUSizeCache[TKey, TValue]) loadAbsentValue(key TKey) {
	value, err, size := c.getter(key)

	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.holders[key]
	if h.value != nil || h.err != nil {
		logger.Panic("cache: loadAbsentValue called for already loaded key %v", key)
	}
	h.value = value
	h.err = err
	c.totalSize += size
	h.size = size
	h.loadingStatus.Done()
	h.loadingStatus = nil

	c.itemUsed(key, h)
	c.removeItemsIfNeeded()
}

func (c *LRUSizeCache[TKey, TValue]) itemUsed(key TKey, h *valueHolder[TValue]) {
	if h.listPosition != nil {
		c.recentRank.MoveToBack(h.listPosition)
	} else {
		h.listPosition = c.recentRank.PushBack(key)
	}
}

func (c *LRUSizeCache[TKey, TValue]) removeItemsIfNeeded() {
	elem := c.recentRank.Front()
	for c.totalSize > c.sizeBound && elem != nil {
		key := elem.Value.(TKey)
		h := c.holders[key]
		elem = elem.Next()
		if h.lockCount == 0 {
			c.removeSingleItem(key)
		}
	}
}

func (c *LRUSizeCache[TKey, TValue]) removeSingleItem(key TKey) {
	h := c.holders[key]
	if h.lockCount != 0 {
		logger.Panic("cache: removing key with non-zero lock count %v", key)
	}
	if c.remover != nil && h.err == nil {
		c.remover(key, h.value)
	}
	delete(c.holders, key)
	c.totalSize -= h.size
	c.recentRank.Remove(h.listPosition)
}
