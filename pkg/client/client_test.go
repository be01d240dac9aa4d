package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cascadedb/cascade/pkg/pooldir"
	"github.com/cascadedb/cascade/pkg/rpc"
	"github.com/cascadedb/cascade/pkg/store"
	"github.com/cascadedb/cascade/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func newLeaderShard(t *testing.T, shardID string) *store.Shard {
	t.Helper()
	s, err := store.NewShard(store.Config{
		ShardID:    shardID,
		NodeID:     "node-0",
		BindAddr:   freeAddr(t),
		DataDir:    t.TempDir(),
		Persistent: true,
		Bootstrap:  true,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.IsLeader() }, 5*time.Second, 10*time.Millisecond, "shard never became leader")
	return s
}

func serveShard(t *testing.T, shards map[string]*store.Shard, dir *pooldir.Directory) string {
	t.Helper()
	addr := freeAddr(t)
	lis, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	srv := grpc.NewServer()
	rpc.RegisterService(srv, rpc.NewCascadeServer(shards, nil, dir))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return addr
}

func TestClientPutGetRoundTripThroughDirectory(t *testing.T) {
	metaShard := newLeaderShard(t, "meta-0")
	dir := pooldir.NewDirectory(metaShard)
	directoryAddr := serveShard(t, map[string]*store.Shard{"meta-0": metaShard}, dir)

	dataShard := newLeaderShard(t, "data-0")
	dataAddr := serveShard(t, map[string]*store.Shard{"data-0": dataShard}, nil)

	ctx := context.Background()
	c, err := New(Config{
		DirectoryAddr: directoryAddr,
		Topology: Topology{
			"/pool/a": {
				{ShardID: "data-0", Members: []raft.Server{{ID: "node-0", Address: raft.ServerAddress(dataAddr)}}},
			},
		},
	})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.CreateObjectPool(ctx, "/pool/a", 0, 0, types.ShardingHash, nil)
	require.NoError(t, err)

	putResp, err := c.Put(ctx, "/pool/a", "/pool/a/key1", []byte("hello"), store.CurrentVersion, store.CurrentVersion)
	require.NoError(t, err)
	require.False(t, putResp.Rejected)

	obj, err := c.Get(ctx, "/pool/a", "/pool/a/key1", store.CurrentVersion, false)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), obj.Blob)
}

func TestClientResolveFailsWithoutTopology(t *testing.T) {
	metaShard := newLeaderShard(t, "meta-0")
	dir := pooldir.NewDirectory(metaShard)
	directoryAddr := serveShard(t, map[string]*store.Shard{"meta-0": metaShard}, dir)

	ctx := context.Background()
	c, err := New(Config{DirectoryAddr: directoryAddr, Topology: Topology{}})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.CreateObjectPool(ctx, "/pool/b", 0, 0, types.ShardingHash, nil)
	require.NoError(t, err)

	_, err = c.Get(ctx, "/pool/b", "/pool/b/key1", store.CurrentVersion, false)
	require.Error(t, err)
}
