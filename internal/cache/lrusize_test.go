package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xorcare/pointer"
)

func TestGetLoadsOnMiss(t *testing.T) {
	counter := 0
	load := func(key int) (*int, error, uint64) {
		counter++
		return pointer.Int(key * 2), nil, 1
	}
	c := New[int, int](10, load, nil)

	val, err := c.Get(5)
	require.NoError(t, err)
	require.Equal(t, 10, *val)
	require.Equal(t, 1, counter)

	val, err = c.Get(5)
	require.NoError(t, err)
	require.Equal(t, 10, *val)
	require.Equal(t, 1, counter, "second Get should hit the cache, not reload")
}

func TestGetPropagatesLoaderError(t *testing.T) {
	load := func(key int) (*int, error, uint64) {
		return nil, fmt.Errorf("key is %d", key), 1
	}
	c := New[int, int](10, load, nil)

	val, err := c.Get(-1)
	require.Nil(t, val)
	require.EqualError(t, err, "key is -1")
}

func TestEvictsLeastRecentlyUsedWhenOverBound(t *testing.T) {
	var removed []int
	load := func(key int) (*int, error, uint64) {
		return pointer.Int(key), nil, 1
	}
	remove := func(key int, val *int) {
		removed = append(removed, key)
	}
	c := New[int, int](2, load, remove)

	_, _ = c.Get(1)
	_, _ = c.Get(2)
	_, _ = c.Get(3) // evicts 1, the least recently used

	require.Equal(t, []int{1}, removed)
}

func TestLockPreventsEviction(t *testing.T) {
	var removed []int
	load := func(key int) (*int, error, uint64) {
		return pointer.Int(key), nil, 1
	}
	remove := func(key int, val *int) {
		removed = append(removed, key)
	}
	c := New[int, int](1, load, remove)

	c.Lock(1)
	_, _ = c.Get(2) // would evict 1, but it's locked

	require.Empty(t, removed)
	require.NoError(t, c.Unlock(1))
	_, _ = c.Get(3) // Unlock(1) already evicted 1; loading 3 then evicts 2
	require.Equal(t, []int{1, 2}, removed)
}

func TestUnlockUnknownKeyErrors(t *testing.T) {
	c := New[int, int](10, func(int) (*int, error, uint64) { return pointer.Int(0), nil, 1 }, nil)
	err := c.Unlock(42)
	require.Error(t, err)
	var notFound *ErrItemNotFound[int]
	require.ErrorAs(t, err, &notFound)
}

func TestUnlockWithoutLockErrors(t *testing.T) {
	c := New[int, int](10, func(key int) (*int, error, uint64) { return pointer.Int(key), nil, 1 }, nil)
	_, _ = c.Get(1)
	err := c.Unlock(1)
	require.Error(t, err)
	var notLocked *ErrItemNotLocked[int]
	require.ErrorAs(t, err, &notLocked)
}

func TestPutThenGetHitsWithoutLoading(t *testing.T) {
	counter := 0
	load := func(key int) (*int, error, uint64) {
		counter++
		return pointer.Int(key), nil, 1
	}
	c := New[int, int](10, load, nil)

	require.NoError(t, c.Put(7, pointer.Int(700), 1))
	val, err := c.Get(7)
	require.NoError(t, err)
	require.Equal(t, 700, *val)
	require.Equal(t, 0, counter, "Put value should not trigger the loader")
}

func TestPutDuplicateKeyErrors(t *testing.T) {
	c := New[int, int](10, func(key int) (*int, error, uint64) { return pointer.Int(key), nil, 1 }, nil)
	require.NoError(t, c.Put(1, pointer.Int(1), 1))
	err := c.Put(1, pointer.Int(2), 1)
	require.Error(t, err)
	var exists *ErrItemAlreadyExists[int]
	require.ErrorAs(t, err, &exists)
}

func TestRemoveLockedItemErrors(t *testing.T) {
	c := New[int, int](10, func(key int) (*int, error, uint64) { return pointer.Int(key), nil, 1 }, nil)
	c.Lock(1)
	err := c.Remove(1)
	require.Error(t, err)
	var locked *ErrItemLocked[int]
	require.ErrorAs(t, err, &locked)
}
