package main

import (
	"context"
	"fmt"

	"github.com/cascadedb/cascade/pkg/store"
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <pool> <key>",
	Short: "Read the current (or a specific) version of a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		topology, _ := cmd.Flags().GetString("topology")
		version, _ := cmd.Flags().GetInt64("version")
		stable, _ := cmd.Flags().GetBool("stable")

		c, err := newClientFromFile(topology)
		if err != nil {
			return err
		}
		defer c.Close()

		obj, err := c.Get(context.Background(), args[0], args[1], version, stable)
		if err != nil {
			return err
		}
		fmt.Printf("version=%d timestamp_us=%d blob=%q\n", obj.Version, obj.TimestampUs, string(obj.Blob))
		return nil
	},
}

func init() {
	getCmd.Flags().String("topology", "topology.json", "Path to the client topology file")
	getCmd.Flags().Int64("version", store.CurrentVersion, "Version to read (defaults to current)")
	getCmd.Flags().Bool("stable", false, "Require a globally-stable read")
}
