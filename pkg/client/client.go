// Package client is a thin Go SDK over pkg/rpc: it resolves a pathname/key
// to a shard and replica via pkg/pooldir, then invokes the corresponding
// §6.4 RPC against the chosen node.
package client

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cascadedb/cascade/pkg/metrics"
	"github.com/cascadedb/cascade/pkg/pooldir"
	"github.com/cascadedb/cascade/pkg/rpc"
	"github.com/cascadedb/cascade/pkg/types"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// ShardSpec names one shard index of a pool: its logical ShardID (sent in
// every RPC so the server can find the right local store.Shard) and the
// replica set that hosts it. Address is reused purely as the dial target a
// pooldir.Router member-selection policy resolves to; it does not need to
// match the replica's raft transport bind address.
type ShardSpec struct {
	ShardID string
	Members []raft.Server
}

// Topology is the client's static view of how pools map to shards. A real
// deployment would refresh this from cluster membership; nothing in §6
// defines that discovery mechanism, so callers supply it directly (typically
// sourced from the same pkg/config used to start the nodes).
type Topology map[string][]ShardSpec

// Config configures a Client.
type Config struct {
	DirectoryAddr string
	Topology      Topology
	MemberPolicy  pooldir.MemberPolicy
	UserID        raft.ServerID
	DialOptions   []grpc.DialOption
}

// Client is a Cascade client bound to one directory shard and a static
// topology of data/signed shards.
type Client struct {
	cfg    Config
	router *pooldir.Router

	mu      sync.Mutex
	conns   map[string]*grpc.ClientConn
	configured map[string]bool
}

// New dials the directory shard and returns a ready Client.
func New(cfg Config) (*Client, error) {
	if cfg.MemberPolicy == "" {
		cfg.MemberPolicy = pooldir.FirstMember
	}
	c := &Client{
		cfg:        cfg,
		router:     pooldir.NewRouter(),
		conns:      make(map[string]*grpc.ClientConn),
		configured: make(map[string]bool),
	}
	if _, err := c.dial(cfg.DirectoryAddr); err != nil {
		return nil, fmt.Errorf("client: dial directory: %w", err)
	}
	return c, nil
}

// Close tears down every pooled connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Client) dial(addr string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	}, c.cfg.DialOptions...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	c.conns[addr] = conn
	return conn, nil
}

func (c *Client) directoryConn() *grpc.ClientConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conns[c.cfg.DirectoryAddr]
}

// findPool looks up a pool's metadata by exact pathname or longest ancestor
// prefix, mirroring pkg/pooldir.Directory.FindObjectPool server-side.
func (c *Client) findPool(ctx context.Context, pathname string) (*types.ObjectPoolMetadata, error) {
	resp := new(rpc.ObjectPoolResponse)
	if err := c.directoryConn().Invoke(ctx, "/cascade.Store/FindObjectPool", &rpc.FindObjectPoolRequest{Pathname: pathname}, resp); err != nil {
		return nil, err
	}
	return resp.Metadata, nil
}

// CreateObjectPool registers a new pool via the directory shard.
func (c *Client) CreateObjectPool(ctx context.Context, pathname string, subgroupType, subgroupIndex int, policy types.ShardingPolicy, locations map[string]int) (*types.ObjectPoolMetadata, error) {
	resp := new(rpc.ObjectPoolResponse)
	req := &rpc.CreateObjectPoolRequest{Pathname: pathname, SubgroupType: subgroupType, SubgroupIndex: subgroupIndex, Policy: policy, Locations: locations}
	if err := c.directoryConn().Invoke(ctx, "/cascade.Store/CreateObjectPool", req, resp); err != nil {
		return nil, err
	}
	return resp.Metadata, nil
}

// resolveShard finds the pool owning key under pathname and picks its
// shard index via pooldir.ResolveShard, registering the shard's replica
// set with the router on first sight. It does not itself pick a member;
// invoke retries member selection independently on RPC failure.
func (c *Client) resolveShard(ctx context.Context, pathname, key string) (ShardSpec, error) {
	meta, err := c.findPool(ctx, pathname)
	if err != nil {
		metrics.RouterResolutionsTotal.WithLabelValues(string(c.cfg.MemberPolicy), "pool_not_found").Inc()
		return ShardSpec{}, err
	}
	specs, ok := c.cfg.Topology[meta.Pathname]
	if !ok || len(specs) == 0 {
		metrics.RouterResolutionsTotal.WithLabelValues(string(c.cfg.MemberPolicy), "no_topology").Inc()
		return ShardSpec{}, fmt.Errorf("client: no topology registered for pool %q", meta.Pathname)
	}
	idx, err := pooldir.ResolveShard(meta, key, len(specs))
	if err != nil {
		metrics.RouterResolutionsTotal.WithLabelValues(string(c.cfg.MemberPolicy), "resolve_error").Inc()
		return ShardSpec{}, err
	}
	spec := specs[idx]

	c.mu.Lock()
	if !c.configured[spec.ShardID] {
		c.router.SetConfiguration(spec.ShardID, raft.Configuration{Servers: spec.Members})
		c.configured[spec.ShardID] = true
	}
	c.mu.Unlock()

	return spec, nil
}

// invoke selects a replica of spec via the router, dials it, and issues
// method. Per §4.4, a member that turns out to be unreachable is added to
// a down-set and the router re-selects, skipping it, until either a call
// succeeds or the shard is exhausted (router.Select returns
// cascadeerr.ErrNoMemberAvailable).
func (c *Client) invoke(ctx context.Context, spec ShardSpec, key, method string, req, resp interface{}) error {
	down := make(map[raft.ServerID]bool)
	for {
		addr, err := c.router.Select(spec.ShardID, c.cfg.MemberPolicy, key, c.cfg.UserID, down)
		if err != nil {
			metrics.RouterResolutionsTotal.WithLabelValues(string(c.cfg.MemberPolicy), "no_member").Inc()
			return err
		}
		memberID := memberIDForAddr(spec, addr)

		conn, err := c.dial(string(addr))
		if err != nil {
			metrics.RouterResolutionsTotal.WithLabelValues(string(c.cfg.MemberPolicy), "dial_error").Inc()
			return err
		}

		err = conn.Invoke(ctx, method, req, resp)
		if err == nil {
			metrics.RouterResolutionsTotal.WithLabelValues(string(c.cfg.MemberPolicy), "ok").Inc()
			return nil
		}
		if status.Code(err) != codes.Unavailable {
			return err
		}
		metrics.RouterResolutionsTotal.WithLabelValues(string(c.cfg.MemberPolicy), "member_unreachable").Inc()
		down[memberID] = true
	}
}

// memberIDForAddr recovers the raft.ServerID behind a resolved dial
// address so a failed member can be added to the down-set by ID, which is
// what pooldir.Router.Select's down map is keyed on.
func memberIDForAddr(spec ShardSpec, addr raft.ServerAddress) raft.ServerID {
	for _, m := range spec.Members {
		if m.Address == addr {
			return m.ID
		}
	}
	return ""
}

// newMessageID generates a caller-side trace ID for a write, threaded
// through to the committed Object (§6.1's message_id) and to any OCDPO
// observer that later emits a follow-on write derived from it. A random
// v4 UUID collapses to a uint64 by keeping its first 8 bytes, since the
// wire format has no room for a full 128-bit identifier.
func newMessageID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

// Put writes a new version of key, subject to the optimistic-concurrency
// checks described by §4.2. Pass store.CurrentVersion for either previous
// version argument to skip that check.
func (c *Client) Put(ctx context.Context, pathname, key string, blob []byte, previousVersion, previousVersionByKey int64) (*rpc.PutResponse, error) {
	spec, err := c.resolveShard(ctx, pathname, key)
	if err != nil {
		return nil, err
	}
	resp := new(rpc.PutResponse)
	req := &rpc.PutRequest{ShardID: spec.ShardID, Key: key, Blob: blob, PreviousVersion: previousVersion, PreviousVersionByKey: previousVersionByKey, MessageID: newMessageID()}
	if err := c.invoke(ctx, spec, key, "/cascade.Store/Put", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Get fetches key at version (store.CurrentVersion for latest); stable
// requests the globally-stable read per §4.3.
func (c *Client) Get(ctx context.Context, pathname, key string, version int64, stable bool) (*types.Object, error) {
	spec, err := c.resolveShard(ctx, pathname, key)
	if err != nil {
		return nil, err
	}
	resp := new(rpc.ObjectResponse)
	req := &rpc.GetRequest{ShardID: spec.ShardID, Key: key, Version: version, Stable: stable}
	if err := c.invoke(ctx, spec, key, "/cascade.Store/Get", req, resp); err != nil {
		return nil, err
	}
	return resp.Object, nil
}

// Remove deletes key by writing a tombstone (§4.1).
func (c *Client) Remove(ctx context.Context, pathname, key string) (*rpc.PutResponse, error) {
	spec, err := c.resolveShard(ctx, pathname, key)
	if err != nil {
		return nil, err
	}
	resp := new(rpc.PutResponse)
	req := &rpc.RemoveRequest{ShardID: spec.ShardID, Key: key}
	if err := c.invoke(ctx, spec, key, "/cascade.Store/Remove", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetSignature fetches the signature log entry covering dataVersion of key,
// for clients that verify a signed pool's chain (pkg/signedstore).
func (c *Client) GetSignature(ctx context.Context, pathname, key string, dataVersion int64) (*rpc.SignatureResponse, error) {
	spec, err := c.resolveShard(ctx, pathname, key)
	if err != nil {
		return nil, err
	}
	resp := new(rpc.SignatureResponse)
	req := &rpc.GetSignatureRequest{ShardID: spec.ShardID, Key: key, DataVersion: dataVersion}
	if err := c.invoke(ctx, spec, key, "/cascade.Store/GetSignature", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
