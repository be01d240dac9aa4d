package pooldir

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/cascadedb/cascade/pkg/cascadeerr"
	"github.com/hashicorp/raft"
)

// MemberPolicy selects a responder within a shard's Raft membership, per
// §4.4's member-selection table.
type MemberPolicy string

const (
	FirstMember   MemberPolicy = "first_member"
	LastMember    MemberPolicy = "last_member"
	Random        MemberPolicy = "random"
	FixedRandom   MemberPolicy = "fixed_random"
	RoundRobin    MemberPolicy = "round_robin"
	KeyHashing    MemberPolicy = "key_hashing"
	UserSpecified MemberPolicy = "user_specified"
)

// Router resolves (subgroup_type, subgroup_index, shard_index) keys to a
// raft.Configuration and applies a MemberPolicy to pick a responder,
// skipping members the caller has already found unreachable.
type Router struct {
	mu            sync.Mutex
	configs       map[string]raft.Configuration
	fixedRandom   map[string]raft.ServerID
	roundRobinPos map[string]int
}

// NewRouter constructs an empty router; shard configurations are
// registered as shards come up via SetConfiguration.
func NewRouter() *Router {
	return &Router{
		configs:       make(map[string]raft.Configuration),
		fixedRandom:   make(map[string]raft.ServerID),
		roundRobinPos: make(map[string]int),
	}
}

// SetConfiguration registers or refreshes the known membership of a shard.
func (r *Router) SetConfiguration(shardKey string, cfg raft.Configuration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[shardKey] = cfg
}

// Select picks a member of shardKey under policy, excluding down. userID is
// only consulted for UserSpecified; key is only consulted for KeyHashing.
func (r *Router) Select(shardKey string, policy MemberPolicy, key string, userID raft.ServerID, down map[raft.ServerID]bool) (raft.ServerAddress, error) {
	r.mu.Lock()
	cfg, ok := r.configs[shardKey]
	r.mu.Unlock()
	if !ok {
		return "", cascadeerr.ErrNoMemberAvailable
	}

	members := liveServers(cfg, down)
	if len(members) == 0 {
		return "", cascadeerr.ErrNoMemberAvailable
	}

	switch policy {
	case FirstMember:
		return sortedByID(members)[0].Address, nil
	case LastMember:
		sorted := sortedByID(members)
		return sorted[len(sorted)-1].Address, nil
	case Random:
		return members[rand.Intn(len(members))].Address, nil
	case FixedRandom:
		return r.fixedRandomPick(shardKey, members)
	case RoundRobin:
		return r.roundRobinPick(shardKey, members)
	case KeyHashing:
		idx := int(fnv1a64(key) % uint64(len(members)))
		sorted := sortedByID(members)
		return sorted[idx].Address, nil
	case UserSpecified:
		for _, m := range members {
			if m.ID == userID {
				return m.Address, nil
			}
		}
		return "", cascadeerr.ErrNoMemberAvailable
	default:
		return "", cascadeerr.ErrNoMemberAvailable
	}
}

func (r *Router) fixedRandomPick(shardKey string, members []raft.Server) (raft.ServerAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.fixedRandom[shardKey]; ok {
		for _, m := range members {
			if m.ID == id {
				return m.Address, nil
			}
		}
		// the cached pick is no longer live; fall through and re-pick
	}
	chosen := members[rand.Intn(len(members))]
	r.fixedRandom[shardKey] = chosen.ID
	return chosen.Address, nil
}

func (r *Router) roundRobinPick(shardKey string, members []raft.Server) (raft.ServerAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sorted := sortedByID(members)
	pos := r.roundRobinPos[shardKey] % len(sorted)
	r.roundRobinPos[shardKey] = pos + 1
	return sorted[pos].Address, nil
}

func liveServers(cfg raft.Configuration, down map[raft.ServerID]bool) []raft.Server {
	live := make([]raft.Server, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		if down != nil && down[s.ID] {
			continue
		}
		live = append(live, s)
	}
	return live
}

func sortedByID(members []raft.Server) []raft.Server {
	sorted := append([]raft.Server(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return sorted
}
