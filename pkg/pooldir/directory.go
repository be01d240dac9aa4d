package pooldir

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/cascadedb/cascade/pkg/cascadeerr"
	"github.com/cascadedb/cascade/pkg/store"
	"github.com/cascadedb/cascade/pkg/types"
)

// Directory is the meta-subgroup shard holding every pool's
// ObjectPoolMetadata, marshaled as JSON into each entry's blob.
type Directory struct {
	shard *store.Shard
}

// NewDirectory wraps an already-constructed meta-subgroup shard.
func NewDirectory(shard *store.Shard) *Directory {
	return &Directory{shard: shard}
}

// CreateObjectPool atomically inserts metadata for a new pool; duplicates
// fail with ErrPoolAlreadyExists.
func (d *Directory) CreateObjectPool(ctx context.Context, pathname string, subgroupType, subgroupIndex int, policy types.ShardingPolicy, locations map[string]int) (*types.ObjectPoolMetadata, error) {
	existing, err := d.find(ctx, pathname, false)
	if err == nil && existing != nil && !existing.Deleted {
		return nil, cascadeerr.ErrPoolAlreadyExists
	}

	meta := &types.ObjectPoolMetadata{
		Pathname:          pathname,
		SubgroupTypeIndex: subgroupType,
		SubgroupIndex:     subgroupIndex,
		ShardingPolicy:    policy,
		ObjectLocations:   locations,
	}
	blob, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("pooldir: marshal metadata: %w", err)
	}

	res, err := d.shard.Put(ctx, pathname, blob, types.InvalidVersion, types.InvalidVersion, 0)
	if err != nil {
		return nil, err
	}
	if res.Rejected {
		return nil, cascadeerr.ErrPoolAlreadyExists
	}
	meta.Version = res.Version
	meta.TimestampUs = res.TimestampUs
	return meta, nil
}

// FindObjectPool walks pathname from longest prefix downward, per §4.4,
// returning the first live (non-deleted) match.
func (d *Directory) FindObjectPool(ctx context.Context, pathname string) (*types.ObjectPoolMetadata, error) {
	for prefix := pathname; prefix != ""; prefix = parentPrefix(prefix) {
		meta, err := d.find(ctx, prefix, true)
		if err == nil && meta != nil && !meta.Deleted {
			return meta, nil
		}
	}
	return nil, cascadeerr.ErrNoSuchPool
}

func (d *Directory) find(ctx context.Context, pathname string, stable bool) (*types.ObjectPoolMetadata, error) {
	obj, err := d.shard.Get(ctx, pathname, store.CurrentVersion, stable)
	if err != nil {
		return nil, err
	}
	if len(obj.Blob) == 0 {
		return nil, cascadeerr.ErrNoSuchPool
	}
	var meta types.ObjectPoolMetadata
	if err := json.Unmarshal(obj.Blob, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", cascadeerr.ErrDeserialization, err)
	}
	meta.Version = obj.Version
	meta.TimestampUs = obj.TimestampUs
	return &meta, nil
}

// RemoveObjectPool marks a pool deleted without physically removing its
// metadata (§3.3: pools are never physically removed).
func (d *Directory) RemoveObjectPool(ctx context.Context, pathname string) error {
	meta, err := d.find(ctx, pathname, false)
	if err != nil {
		return err
	}
	meta.Deleted = true
	blob, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("pooldir: marshal metadata: %w", err)
	}
	_, err = d.shard.Put(ctx, pathname, blob, meta.Version, meta.Version, 0)
	return err
}

func parentPrefix(pathname string) string {
	for i := len(pathname) - 1; i >= 0; i-- {
		if pathname[i] == '/' {
			return pathname[:i]
		}
	}
	return ""
}

// ResolveShard maps a key to a shard index within a pool of N shards, per
// §4.4: an explicit object_locations override wins, then HASH or RANGE.
func ResolveShard(meta *types.ObjectPoolMetadata, key string, shardCount int) (int, error) {
	if shardCount <= 0 {
		return 0, fmt.Errorf("pooldir: pool %s has no shards", meta.Pathname)
	}
	if idx, ok := meta.ObjectLocations[key]; ok {
		return idx, nil
	}
	switch meta.ShardingPolicy {
	case types.ShardingRange:
		return resolveRange(meta.RangeBoundaries, key), nil
	default:
		return int(fnv1a64(key) % uint64(shardCount)), nil
	}
}

// resolveRange performs the binary search over half-open lexicographic
// intervals described by boundaries[i] <= key < boundaries[i+1].
func resolveRange(boundaries []string, key string) int {
	idx := sort.Search(len(boundaries), func(i int) bool {
		return boundaries[i] > key
	})
	if idx == 0 {
		return 0
	}
	return idx - 1
}

func fnv1a64(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}
