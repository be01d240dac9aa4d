package store

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cascadedb/cascade/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func newTestShard(t *testing.T) *Shard {
	t.Helper()
	s, err := NewShard(Config{
		ShardID:    "shard-0",
		NodeID:     "node-0",
		BindAddr:   freeAddr(t),
		DataDir:    t.TempDir(),
		Persistent: true,
		Bootstrap:  true,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.raft.State() == raft.Leader
	}, 5*time.Second, 10*time.Millisecond, "shard never became leader")
	return s
}

func TestPutThenGet(t *testing.T) {
	s := newTestShard(t)
	ctx := context.Background()

	res, err := s.Put(ctx, "/pool/a", []byte("hello"), types.InvalidVersion, types.InvalidVersion, 0)
	require.NoError(t, err)
	require.False(t, res.Rejected)
	v1 := res.Version

	obj, err := s.Get(ctx, "/pool/a", CurrentVersion, false)
	require.NoError(t, err)
	require.Equal(t, "hello", string(obj.Blob))
	require.Equal(t, v1, obj.Version)
	require.Equal(t, types.InvalidVersion, obj.PreviousVersionByKey)
}

func TestOverwriteAndHistoricalRead(t *testing.T) {
	s := newTestShard(t)
	ctx := context.Background()

	r1, err := s.Put(ctx, "/pool/a", []byte("hello"), types.InvalidVersion, types.InvalidVersion, 0)
	require.NoError(t, err)

	r2, err := s.Put(ctx, "/pool/a", []byte("world"), r1.Version, r1.Version, 0)
	require.NoError(t, err)
	require.Greater(t, r2.Version, r1.Version)

	old, err := s.Get(ctx, "/pool/a", r1.Version, false)
	require.NoError(t, err)
	require.Equal(t, "hello", string(old.Blob))

	cur, err := s.Get(ctx, "/pool/a", r2.Version, false)
	require.NoError(t, err)
	require.Equal(t, "world", string(cur.Blob))
	require.Equal(t, r1.Version, cur.PreviousVersionByKey)
}

func TestRejectedWriteLeavesStateUnchanged(t *testing.T) {
	s := newTestShard(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "/pool/a", []byte("hello"), types.InvalidVersion, types.InvalidVersion, 0)
	require.NoError(t, err)

	res, err := s.Put(ctx, "/pool/a", []byte("stale"), 9999, 9999, 0)
	require.NoError(t, err)
	require.True(t, res.Rejected)
	require.Equal(t, types.InvalidVersion, res.Version)

	obj, err := s.Get(ctx, "/pool/a", CurrentVersion, false)
	require.NoError(t, err)
	require.Equal(t, "hello", string(obj.Blob))
}

func TestRemoveThenListKeys(t *testing.T) {
	s := newTestShard(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "/pool/a", []byte("hello"), types.InvalidVersion, types.InvalidVersion, 0)
	require.NoError(t, err)
	r2, err := s.Put(ctx, "/pool/b", []byte("x"), types.InvalidVersion, types.InvalidVersion, 0)
	require.NoError(t, err)

	_, err = s.Remove(ctx, "/pool/a")
	require.NoError(t, err)

	keys, err := s.ListKeys(ctx, CurrentVersion, false)
	require.NoError(t, err)
	require.Equal(t, []string{"/pool/b"}, keys)

	// the removed key is still readable at its last live version
	old, err := s.Get(ctx, "/pool/a", r2.Version, false)
	require.NoError(t, err)
	require.Equal(t, "hello", string(old.Blob))

	removed, err := s.Get(ctx, "/pool/a", CurrentVersion, false)
	require.NoError(t, err)
	require.True(t, removed.Blob == nil || len(removed.Blob) == 0)
}

func TestGetByTime(t *testing.T) {
	s := newTestShard(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "/pool/a", []byte("hello"), types.InvalidVersion, types.InvalidVersion, 0)
	require.NoError(t, err)
	future := uint64(time.Now().Add(time.Hour).UnixMicro())

	obj, err := s.GetByTime(ctx, "/pool/a", future, false)
	require.NoError(t, err)
	require.Equal(t, "hello", string(obj.Blob))
}

func TestVersionTruncatedBeforeHistory(t *testing.T) {
	s := newTestShard(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "/pool/a", []byte("hello"), types.InvalidVersion, types.InvalidVersion, 0)
	require.NoError(t, err)

	_, err = s.Get(ctx, "/pool/a", -100, false)
	require.Error(t, err)
}

func TestMultiGetIsOrdered(t *testing.T) {
	s := newTestShard(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "/pool/a", []byte("hello"), types.InvalidVersion, types.InvalidVersion, 0)
	require.NoError(t, err)

	obj, err := s.MultiGet(ctx, "/pool/a")
	require.NoError(t, err)
	require.Equal(t, "hello", string(obj.Blob))
}
