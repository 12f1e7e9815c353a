package pull

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	calls int
	path  string
}

func (f *countingFetcher) Fetch(ref string) (string, error) {
	f.calls++
	return f.path + "/" + ref, nil
}

func TestResolveCachesByReference(t *testing.T) {
	fetcher := &countingFetcher{path: "/var/cache/images"}
	cache, err := New(fetcher, 4)
	require.NoError(t, err)

	p1, err := cache.Resolve("alpine:3.19")
	require.NoError(t, err)
	p2, err := cache.Resolve("alpine:3.19")
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, fetcher.calls, "second resolve must hit the cache, not the fetcher")
}

func TestEvictForcesRefetch(t *testing.T) {
	fetcher := &countingFetcher{path: "/var/cache/images"}
	cache, err := New(fetcher, 4)
	require.NoError(t, err)

	_, err = cache.Resolve("alpine:3.19")
	require.NoError(t, err)
	cache.Evict("alpine:3.19")
	_, err = cache.Resolve("alpine:3.19")
	require.NoError(t, err)

	assert.Equal(t, 2, fetcher.calls)
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	_, err := New(&countingFetcher{}, 0)
	assert.Error(t, err)
}
