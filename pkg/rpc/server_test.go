package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cascadedb/cascade/pkg/pooldir"
	"github.com/cascadedb/cascade/pkg/store"
	"github.com/cascadedb/cascade/pkg/types"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
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

// dialServer wires a CascadeServer over a bufconn listener, the standard
// grpc-go pattern for in-process client/server tests without a real
// socket.
func dialServer(t *testing.T, impl Service) (*grpc.ClientConn, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	RegisterService(srv, impl)
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	require.NoError(t, err)
	return conn, func() {
		_ = conn.Close()
		srv.Stop()
	}
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, req, resp interface{}) error {
	return conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp)
}

func TestServerPutAndGetRoundTrip(t *testing.T) {
	shard := newLeaderShard(t, "shard-0")
	impl := NewCascadeServer(map[string]*store.Shard{"shard-0": shard}, nil, nil)
	conn, closer := dialServer(t, impl)
	defer closer()

	ctx := context.Background()
	putResp := new(PutResponse)
	require.NoError(t, invoke(ctx, conn, "Put", &PutRequest{
		ShardID:         "shard-0",
		Key:             "/a/b",
		Blob:            []byte("hello"),
		PreviousVersion: store.CurrentVersion,
	}, putResp))
	require.False(t, putResp.Rejected)
	require.GreaterOrEqual(t, putResp.Version, int64(0))

	getResp := new(ObjectResponse)
	require.NoError(t, invoke(ctx, conn, "Get", &GetRequest{
		ShardID: "shard-0",
		Key:     "/a/b",
		Version: store.CurrentVersion,
	}, getResp))
	require.Equal(t, []byte("hello"), getResp.Object.Blob)
}

func TestServerUnknownShardReturnsError(t *testing.T) {
	impl := NewCascadeServer(map[string]*store.Shard{}, nil, nil)
	conn, closer := dialServer(t, impl)
	defer closer()

	err := invoke(context.Background(), conn, "Get", &GetRequest{ShardID: "missing", Key: "/a"}, new(ObjectResponse))
	require.Error(t, err)
}

func TestServerFindObjectPoolUsesDirectory(t *testing.T) {
	shard := newLeaderShard(t, "meta-0")
	dir := pooldir.NewDirectory(shard)
	impl := NewCascadeServer(map[string]*store.Shard{"meta-0": shard}, nil, dir)
	conn, closer := dialServer(t, impl)
	defer closer()

	ctx := context.Background()
	createResp := new(ObjectPoolResponse)
	require.NoError(t, invoke(ctx, conn, "CreateObjectPool", &CreateObjectPoolRequest{
		Pathname:      "/pool/a",
		SubgroupType:  0,
		SubgroupIndex: 0,
		Policy:        types.ShardingHash,
		Locations:     map[string]int{"shard-0": 1},
	}, createResp))
	require.Equal(t, "/pool/a", createResp.Metadata.Pathname)

	findResp := new(ObjectPoolResponse)
	require.NoError(t, invoke(ctx, conn, "FindObjectPool", &FindObjectPoolRequest{Pathname: "/pool/a"}, findResp))
	require.Equal(t, "/pool/a", findResp.Metadata.Pathname)
}
