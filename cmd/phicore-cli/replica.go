package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"phicore/internal/replica"
)

func openReplica(cmd *cobra.Command) (*replica.Replica, error) {
	masterKey, err := envMasterKey()
	if err != nil {
		return nil, err
	}
	return replica.Open(cfg.Replica.Dir, masterKey, cfg.Server.NodeID)
}

func replicaCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "replica", Short: "inspect the local encrypted replica"}
	cmd.AddCommand(replicaStatusCmd(), replicaPendingCmd())
	return cmd
}

func replicaStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print the replica's current vector-clock counter",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReplica(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "node_id=%d counter=%d\n", cfg.Server.NodeID, r.CurrentCounter())
			return nil
		},
	}
}

func replicaPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "list operations queued for sync but not yet marked synced",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			r, err := openReplica(cmd)
			if err != nil {
				return err
			}
			entries, err := r.Pending(cmd.Context(), limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		},
	}
	cmd.Flags().Int("limit", 0, "maximum entries to list, 0 for no limit")
	return cmd
}
