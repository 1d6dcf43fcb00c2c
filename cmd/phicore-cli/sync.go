package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"phicore/internal/crdt"
	"phicore/internal/syncproto"
)

func syncClient() *syncproto.Client {
	backoff := syncproto.Backoff{
		Base: time.Duration(cfg.Sync.BackoffBaseMS) * time.Millisecond,
		Max:  time.Duration(cfg.Sync.BackoffMaxMS) * time.Millisecond,
	}
	return syncproto.NewClient(syncEndpoint, syncToken, nil, backoff, cfg.Sync.MaxRetries)
}

var (
	syncEndpoint string
	syncToken    string
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sync", Short: "exercise the sync protocol against a remote peer"}
	cmd.PersistentFlags().StringVar(&syncEndpoint, "endpoint", "", "remote peer base URL")
	cmd.PersistentFlags().StringVar(&syncToken, "token", "", "bearer token")
	cmd.AddCommand(syncPullCmd(), syncPushPendingCmd())
	return cmd
}

func syncPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "pull operations the local replica hasn't seen yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReplica(cmd)
			if err != nil {
				return err
			}
			resp, err := syncClient().Pull(cmd.Context(), cfg.Server.NodeID, crdt.VectorClock{cfg.Server.NodeID: r.CurrentCounter()})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pulled %d operation(s), server vector clock %s\n", len(resp.Operations), resp.ServerVectorClock)
			return nil
		},
	}
}

func syncPushPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push-pending",
		Short: "push every not-yet-synced queued operation to the remote peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReplica(cmd)
			if err != nil {
				return err
			}
			entries, err := r.Pending(cmd.Context(), 0)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing pending")
				return nil
			}
			ops := make([]crdt.Operation, 0, len(entries))
			for _, e := range entries {
				ops = append(ops, e.Op)
			}
			resp, err := syncClient().Push(cmd.Context(), cfg.Server.NodeID, ops, cfg.Sync.BatchSize)
			if err != nil {
				return err
			}
			for _, id := range resp.Accepted {
				if merr := r.MarkSynced(cmd.Context(), id); merr != nil {
					log.WithError(merr).Warnf("mark synced failed for %s", id)
				}
			}
			for id, reason := range resp.Rejected {
				if merr := r.MarkFailed(cmd.Context(), id, reason); merr != nil {
					log.WithError(merr).Warnf("mark failed failed for %s", id)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "accepted=%d rejected=%d conflicts=%d\n", len(resp.Accepted), len(resp.Rejected), len(resp.Conflicts))
			return nil
		},
	}
	return cmd
}
