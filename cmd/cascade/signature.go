package main

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"
)

var signatureCmd = &cobra.Command{
	Use:   "signature <pool> <key> <data-version>",
	Short: "Fetch the signature log entry covering a key's data version",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		topology, _ := cmd.Flags().GetString("topology")
		c, err := newClientFromFile(topology)
		if err != nil {
			return err
		}
		defer c.Close()

		var dataVersion int64
		if _, err := fmt.Sscanf(args[2], "%d", &dataVersion); err != nil {
			return fmt.Errorf("invalid data version %q: %w", args[2], err)
		}

		resp, err := c.GetSignature(context.Background(), args[0], args[1], dataVersion)
		if err != nil {
			return err
		}
		fmt.Printf("signature=%s previous_signed_version=%d\n", base64.StdEncoding.EncodeToString(resp.Signature), resp.PreviousSignedVersion)
		return nil
	},
}

func init() {
	signatureCmd.Flags().String("topology", "topology.json", "Path to the client topology file")
}
