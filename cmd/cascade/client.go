package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cascadedb/cascade/pkg/client"
	"github.com/cascadedb/cascade/pkg/pooldir"
	"github.com/hashicorp/raft"
)

// topologyFile is the on-disk shape of a client-side shard topology, since
// §6's architecture leaves shard discovery to the deployment rather than
// defining a gossip protocol. Each CLI invocation loads one alongside the
// directory address.
type topologyFile struct {
	DirectoryAddr string `json:"directoryAddr"`
	Pools         map[string][]struct {
		ShardID string `json:"shardId"`
		Addr    string `json:"addr"`
	} `json:"pools"`
}

func newClientFromFile(path string) (*client.Client, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology file %s: %w", path, err)
	}
	var tf topologyFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse topology file %s: %w", path, err)
	}

	topo := make(client.Topology, len(tf.Pools))
	for pathname, specs := range tf.Pools {
		for _, s := range specs {
			topo[pathname] = append(topo[pathname], client.ShardSpec{
				ShardID: s.ShardID,
				Members: []raft.Server{{ID: raft.ServerID(s.ShardID), Address: raft.ServerAddress(s.Addr)}},
			})
		}
	}

	return client.New(client.Config{
		DirectoryAddr: tf.DirectoryAddr,
		Topology:      topo,
		MemberPolicy:  pooldir.FirstMember,
	})
}
