package main

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/memento-graph/internal/backup"
)

func newBackupCmd(c *cli) *cobra.Command {
	var (
		dir      string
		noVerify bool
		policy   = backup.DefaultPolicy()
	)
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the workspace database and prune old snapshots",
		Long: "Write a consistent snapshot of the workspace database with VACUUM INTO, check it\n" +
			"with PRAGMA integrity_check, then prune older snapshots by age tier.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, removed, err := c.app.Backup(cmd.Context(), c.app.Backups(dir), c.workspace, !noVerify, policy)
			if info == nil {
				return err
			}
			out := struct {
				Snapshot *backup.Info  `json:"snapshot"`
				Pruned   []backup.Info `json:"pruned"`
			}{info, removed}
			if emitErr := c.emit(cmd.OutOrStdout(), out, func(w io.Writer) {
				printf(w, "Wrote %s (%d bytes", info.Path, info.Size)
				if info.Verified {
					printf(w, ", verified")
				}
				printf(w, ") in %s\n", info.Duration.Round(time.Millisecond))
				for _, r := range removed {
					printf(w, "  pruned %s\n", r.Path)
				}
			}); emitErr != nil {
				return emitErr
			}
			return err
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&dir, "dir", "", "snapshot directory (default: <data_path>/backups)")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip the integrity check")
	cmd.Flags().IntVar(&policy.Hourly, "keep-hourly", policy.Hourly, "snapshots to keep from the last day")
	cmd.Flags().IntVar(&policy.Daily, "keep-daily", policy.Daily, "snapshots to keep from the last week")
	cmd.Flags().IntVar(&policy.Weekly, "keep-weekly", policy.Weekly, "snapshots to keep from the last 30 days")
	cmd.Flags().IntVar(&policy.Monthly, "keep-monthly", policy.Monthly, "snapshots to keep from the last year")

	cmd.AddCommand(newBackupListCmd(c, &dir), newBackupRestoreCmd(c, &dir))
	return cmd
}

func newBackupListCmd(c *cli, dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots of the workspace, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snaps, err := c.app.Backups(*dir).List(c.workspaceName())
			if err != nil {
				return err
			}
			if snaps == nil {
				snaps = []backup.Info{}
			}
			return c.emit(cmd.OutOrStdout(), snaps, func(w io.Writer) {
				if len(snaps) == 0 {
					printf(w, "No snapshots of %s.\n", c.workspaceName())
					return
				}
				for _, s := range snaps {
					printf(w, "%s  %s  %d bytes\n", s.Time.Format(time.RFC3339), s.Path, s.Size)
				}
			})
		},
	}
}

func newBackupRestoreCmd(c *cli, dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot>",
		Short: "Replace the workspace database with a snapshot",
		Long: "Verify snapshot and copy it over the workspace database. Stop every process\n" +
			"using the workspace first.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.Restore(cmd.Context(), c.app.Backups(*dir), c.workspace, args[0]); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "Restored %s from %s\n", c.workspaceName(), args[0])
			return nil
		},
	}
}
