package metrics

import (
	"sync"
	"time"

	"github.com/cascadedb/cascade/pkg/store"
)

// Collector periodically samples every registered shard's raft and
// delta-log watermarks into the package's gauges.
type Collector struct {
	mu     sync.RWMutex
	shards map[string]*store.Shard
	stopCh chan struct{}
}

// NewCollector creates an empty collector; the node registers each shard
// via AddShard as it is brought up, so the collector never needs a
// reference to a central registry.
func NewCollector() *Collector {
	return &Collector{
		shards: make(map[string]*store.Shard),
		stopCh: make(chan struct{}),
	}
}

// AddShard registers a shard for periodic sampling.
func (c *Collector) AddShard(s *store.Shard) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shards[s.ShardID()] = s
}

// RemoveShard unregisters a shard, e.g. after it's closed.
func (c *Collector) RemoveShard(shardID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.shards, shardID)
}

// Start begins the sampling loop on a 15 second interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the sampling loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.mu.RLock()
	shards := make([]*store.Shard, 0, len(c.shards))
	for _, s := range c.shards {
		shards = append(shards, s)
	}
	c.mu.RUnlock()

	ShardsTotal.Set(float64(len(shards)))
	for _, s := range shards {
		id := s.ShardID()
		CurrentVersion.WithLabelValues(id).Set(float64(s.LastVersion()))
		PersistedVersion.WithLabelValues(id).Set(float64(s.PersistedVersion()))
		RaftAppliedIndex.WithLabelValues(id).Set(float64(s.AppliedIndex()))
		if s.IsLeader() {
			RaftLeader.WithLabelValues(id).Set(1)
		} else {
			RaftLeader.WithLabelValues(id).Set(0)
		}
	}
}
