package pagecache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitsfs-go/bitsfs"
	"github.com/bitsfs-go/bitsfs/pagecache"
)

func newTestCache(t *testing.T, pages int64) (*pagecache.Cache, map[int64][]byte) {
	t.Helper()
	backing := make(map[int64][]byte)
	fetch := func(index int64, buf []byte) error {
		if data, ok := backing[index]; ok {
			copy(buf, data)
		}
		return nil
	}
	flush := func(index int64, buf []byte) error {
		stored := make([]byte, len(buf))
		copy(stored, buf)
		backing[index] = stored
		return nil
	}
	return pagecache.New(bitsfs.BlockSize, pages, fetch, flush), backing
}

func TestCachePrepareCommitRoundTrip(t *testing.T) {
	c, backing := newTestCache(t, 4)

	buf, err := c.PrepareChunk(1)
	require.NoError(t, err)
	buf[0] = 0x42
	require.NoError(t, c.CommitChunk(1))
	require.Equal(t, byte(0x42), backing[1][0])

	buf2, err := c.PrepareChunk(1)
	require.NoError(t, err)
	require.Equal(t, byte(0x42), buf2[0])
	c.ReleaseChunk(1)
}

func TestCacheReleaseChunkDoesNotFlush(t *testing.T) {
	c, backing := newTestCache(t, 4)

	buf, err := c.PrepareChunk(2)
	require.NoError(t, err)
	buf[0] = 0x99
	c.ReleaseChunk(2)

	require.Nil(t, backing[2])
}

func TestCacheEvictForcesRefetch(t *testing.T) {
	c, backing := newTestCache(t, 4)
	backing[0] = make([]byte, bitsfs.BlockSize)
	backing[0][10] = 7

	buf, err := c.PrepareChunk(0)
	require.NoError(t, err)
	require.Equal(t, byte(7), buf[10])
	c.ReleaseChunk(0)

	backing[0][10] = 9
	require.NoError(t, c.Evict(0))

	buf2, err := c.PrepareChunk(0)
	require.NoError(t, err)
	require.Equal(t, byte(9), buf2[10])
	c.ReleaseChunk(0)
}

func TestCacheOutOfBoundsChunk(t *testing.T) {
	c, _ := newTestCache(t, 4)
	_, err := c.PrepareChunk(4)
	require.ErrorIs(t, err, bitsfs.ErrInvalidArgument)
	require.ErrorIs(t, c.CommitChunk(-1), bitsfs.ErrInvalidArgument)
}
