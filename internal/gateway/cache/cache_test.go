package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetOrLoadCachesValue(t *testing.T) {
	c := New(time.Minute)
	var calls int32
	load := func() ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("derived"), nil
	}

	first, err := c.GetOrLoad("user-1", load)
	require.NoError(t, err)
	second, err := c.GetOrLoad("user-1", load)
	require.NoError(t, err)

	assert.Equal(t, []byte("derived"), first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCache_ReturnsCopies(t *testing.T) {
	c := New(time.Minute)
	load := func() ([]byte, error) { return []byte{1, 2, 3}, nil }

	got, err := c.GetOrLoad("user-1", load)
	require.NoError(t, err)
	got[0] = 9

	again, err := c.GetOrLoad("user-1", load)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, again)
}

func TestCache_Disabled(t *testing.T) {
	c := New(0)

	var calls int32
	load := func() ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("k"), nil
	}
	for i := 0; i < 3; i++ {
		_, err := c.GetOrLoad("user-1", load)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCache_LoaderErrorNotCached(t *testing.T) {
	c := New(time.Minute)
	boom := errors.New("boom")

	_, err := c.GetOrLoad("user-1", func() ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	got, err := c.GetOrLoad("user-1", func() ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), got)
}

func TestCache_ConcurrentMissesShareLoad(t *testing.T) {
	c := New(time.Minute)
	var calls int32
	release := make(chan struct{})
	load := func() ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte("k"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrLoad("user-1", load)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCache_InvalidateAndFlush(t *testing.T) {
	c := New(time.Minute)
	loads := map[string]int{}
	loader := func(id string) Loader {
		return func() ([]byte, error) {
			loads[id]++
			return []byte("k"), nil
		}
	}

	_, _ = c.GetOrLoad("a", loader("a"))
	_, _ = c.GetOrLoad("b", loader("b"))

	c.Invalidate("a")
	_, _ = c.GetOrLoad("a", loader("a"))
	_, _ = c.GetOrLoad("b", loader("b"))
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, loads)

	c.Flush()
	_, _ = c.GetOrLoad("a", loader("a"))
	_, _ = c.GetOrLoad("b", loader("b"))
	assert.Equal(t, map[string]int{"a": 3, "b": 2}, loads)
}
