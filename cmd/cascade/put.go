package main

import (
	"context"
	"fmt"

	"github.com/cascadedb/cascade/pkg/store"
	"github.com/spf13/cobra"
)

var putCmd = &cobra.Command{
	Use:   "put <pool> <key> <value>",
	Short: "Write a new version of a key",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		topology, _ := cmd.Flags().GetString("topology")
		c, err := newClientFromFile(topology)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.Put(context.Background(), args[0], args[1], []byte(args[2]), store.CurrentVersion, store.CurrentVersion)
		if err != nil {
			return err
		}
		fmt.Printf("version=%d timestamp_us=%d rejected=%v\n", resp.Version, resp.TimestampUs, resp.Rejected)
		return nil
	},
}

func init() {
	putCmd.Flags().String("topology", "topology.json", "Path to the client topology file")
}
