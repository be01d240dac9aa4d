package ocdpo

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cascadedb/cascade/pkg/store"
	"github.com/cascadedb/cascade/pkg/types"
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

func newLeaderShard(t *testing.T, shardID, pathname string) *store.Shard {
	t.Helper()
	s, err := store.NewShard(store.Config{
		ShardID:    shardID,
		NodeID:     "node-0",
		BindAddr:   freeAddr(t),
		DataDir:    t.TempDir(),
		Persistent: true,
		Pathname:   pathname,
		Bootstrap:  true,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.IsLeader() }, 5*time.Second, 10*time.Millisecond, "shard never became leader")
	return s
}

func obj(key string, version int64) *types.Object {
	return &types.Object{Key: key, Version: version, Blob: []byte("v")}
}

func TestDispatchInvokesRegisteredObserver(t *testing.T) {
	d := NewDispatcher(2, time.Second)
	defer d.Close()

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{}, 1)

	d.RegisterObserver("/pool/a", DefaultClass, func(ctx context.Context, pathname, key string, o *types.Object, emit EmitFunc) {
		mu.Lock()
		seen = append(seen, key)
		mu.Unlock()
		done <- struct{}{}
	})

	d.OnCommit(nil, "/pool/a/widget", obj("/pool/a/widget", 0))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("observer was never invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"/pool/a/widget"}, seen)
}

func TestUnregisteredPrefixNeverInvokesObserver(t *testing.T) {
	d := NewDispatcher(1, time.Second)
	defer d.Close()

	called := make(chan struct{}, 1)
	d.RegisterObserver("/pool/a", DefaultClass, func(ctx context.Context, pathname, key string, o *types.Object, emit EmitFunc) {
		called <- struct{}{}
	})

	d.OnCommit(nil, "/pool/b/widget", obj("/pool/b/widget", 0))

	select {
	case <-called:
		t.Fatal("observer under /pool/a should not fire for /pool/b commits")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPerKeyOrderingWithinAClass(t *testing.T) {
	d := NewDispatcher(4, time.Second)
	defer d.Close()

	var mu sync.Mutex
	var order []int64
	const n = 50
	doneCh := make(chan struct{})

	d.RegisterObserver("/pool/a", DefaultClass, func(ctx context.Context, pathname, key string, o *types.Object, emit EmitFunc) {
		mu.Lock()
		order = append(order, o.Version)
		if len(order) == n {
			close(doneCh)
		}
		mu.Unlock()
	})

	for i := int64(0); i < n; i++ {
		d.OnCommit(nil, "/pool/a/same-key", obj("/pool/a/same-key", i))
	}

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("did not observe all commits")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		require.Equal(t, int64(i), v, "commits for a single key must be observed in commit order")
	}
}

func TestThreadAffineClassGetsExactlyOneWorker(t *testing.T) {
	d := NewDispatcher(4, time.Second)
	defer d.Close()

	d.RegisterObserver("/pool/a", AffinityClass("python"), func(ctx context.Context, pathname, key string, o *types.Object, emit EmitFunc) {})
	d.RegisterObserver("/pool/a", AffinityClass("python"), func(ctx context.Context, pathname, key string, o *types.Object, emit EmitFunc) {})

	require.Len(t, d.class[AffinityClass("python")], 1)
}

func TestObserverPanicIsRecoveredAndDoesNotHaltDispatch(t *testing.T) {
	d := NewDispatcher(1, time.Second)
	defer d.Close()

	done := make(chan struct{}, 1)
	d.RegisterObserver("/pool/a", DefaultClass, func(ctx context.Context, pathname, key string, o *types.Object, emit EmitFunc) {
		panic("boom")
	})
	d.RegisterObserver("/pool/a", DefaultClass, func(ctx context.Context, pathname, key string, o *types.Object, emit EmitFunc) {
		done <- struct{}{}
	})

	d.OnCommit(nil, "/pool/a/widget", obj("/pool/a/widget", 0))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second observer should still run after the first panics")
	}
}

func TestCloseWaitsForInFlightWork(t *testing.T) {
	d := NewDispatcher(1, 2*time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	d.RegisterObserver("/pool/a", DefaultClass, func(ctx context.Context, pathname, key string, o *types.Object, emit EmitFunc) {
		close(started)
		<-release
	})

	d.OnCommit(nil, "/pool/a/widget", obj("/pool/a/widget", 0))
	<-started
	close(release)

	require.NoError(t, d.Close())
}

func TestEmitRoundTripsIntoTheOriginatingShard(t *testing.T) {
	shard := newLeaderShard(t, "shard-0", "/pool/a")

	d := NewDispatcher(1, time.Second)
	defer d.Close()

	done := make(chan struct{}, 1)
	d.RegisterObserver("/pool/a", DefaultClass, func(ctx context.Context, pathname, key string, o *types.Object, emit EmitFunc) {
		require.NoError(t, emit(ctx, "derived", store.CurrentVersion, types.InvalidVersion, types.InvalidVersion, []byte("derived-value")))
		done <- struct{}{}
	})

	shard.AddObserver(d)
	_, err := shard.Put(context.Background(), "/pool/a/widget", []byte("v"), types.InvalidVersion, types.InvalidVersion, 0)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("observer was never invoked")
	}

	require.Eventually(t, func() bool {
		got, err := shard.Get(context.Background(), "derived", store.CurrentVersion, false)
		return err == nil && got != nil && string(got.Blob) == "derived-value"
	}, time.Second, 10*time.Millisecond, "emit never committed the derived write back to the shard")
}

func TestEmitWithExplicitVersionTriggersPutWithoutCommitting(t *testing.T) {
	shard := newLeaderShard(t, "shard-0", "/pool/a")

	d := NewDispatcher(1, time.Second)
	defer d.Close()

	done := make(chan struct{}, 1)
	d.RegisterObserver("/pool/a", DefaultClass, func(ctx context.Context, pathname, key string, o *types.Object, emit EmitFunc) {
		require.NoError(t, emit(ctx, "triggered", 7, types.InvalidVersion, types.InvalidVersion, []byte("transient")))
		done <- struct{}{}
	})

	shard.AddObserver(d)
	_, err := shard.Put(context.Background(), "/pool/a/widget", []byte("v"), types.InvalidVersion, types.InvalidVersion, 0)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("observer was never invoked")
	}

	got, err := shard.Get(context.Background(), "triggered", store.CurrentVersion, false)
	require.NoError(t, err)
	require.True(t, got.Version == types.InvalidVersion, "trigger_put must never land in the shard's committed current map")
}
