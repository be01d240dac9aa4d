package main

import (
	"context"
	"fmt"

	"github.com/cascadedb/cascade/pkg/types"
	"github.com/spf13/cobra"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Manage object pools",
}

var poolCreateCmd = &cobra.Command{
	Use:   "create <pathname>",
	Short: "Register a new object pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topology, _ := cmd.Flags().GetString("topology")
		policy, _ := cmd.Flags().GetString("policy")

		c, err := newClientFromFile(topology)
		if err != nil {
			return err
		}
		defer c.Close()

		meta, err := c.CreateObjectPool(context.Background(), args[0], 0, 0, types.ShardingPolicy(policy), nil)
		if err != nil {
			return err
		}
		fmt.Printf("created pool %s (version=%d)\n", meta.Pathname, meta.Version)
		return nil
	},
}

func init() {
	poolCmd.AddCommand(poolCreateCmd)
	poolCreateCmd.Flags().String("topology", "topology.json", "Path to the client topology file")
	poolCreateCmd.Flags().String("policy", string(types.ShardingHash), "Sharding policy: HASH or RANGE")
}
