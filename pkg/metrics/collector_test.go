package metrics

import (
	"net"
	"testing"
	"time"

	"github.com/cascadedb/cascade/pkg/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
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

func newTestShard(t *testing.T) *store.Shard {
	t.Helper()
	s, err := store.NewShard(store.Config{
		ShardID:    "collector-test-shard",
		NodeID:     "node-0",
		BindAddr:   freeAddr(t),
		DataDir:    t.TempDir(),
		Persistent: true,
		Bootstrap:  true,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.IsLeader()
	}, 5*time.Second, 10*time.Millisecond, "shard never became leader")
	return s
}

func TestCollectorSamplesRegisteredShards(t *testing.T) {
	s := newTestShard(t)

	c := NewCollector()
	c.AddShard(s)
	defer c.RemoveShard(s.ShardID())

	c.collect()

	require.Equal(t, float64(1), testutil.ToFloat64(ShardsTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(RaftLeader.WithLabelValues(s.ShardID())))
	require.Equal(t, float64(-1), testutil.ToFloat64(CurrentVersion.WithLabelValues(s.ShardID())))
}
