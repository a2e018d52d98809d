package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/contactcard/internal/backup"
)

func newBackupCmd() *cobra.Command {
	var (
		dir  string
		keep int
	)
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot and restore the SQLite database",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "backup directory (default {data_path}/backups)")
	cmd.PersistentFlags().IntVar(&keep, "keep", backup.DefaultKeep, "snapshots to retain")

	manager := func(cmd *cobra.Command) (*backup.Manager, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		if cfg.Storage.Engine != "sqlite" {
			return nil, errors.New("backups are only supported for the sqlite engine")
		}
		d := dir
		if d == "" {
			d = filepath.Join(cfg.Storage.DataPath, "backups")
		}
		return backup.NewManager(cfg.SQLitePath(), d, keep, cliLogger(cfg, cmd.ErrOrStderr()))
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Write a verified snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := manager(cmd)
			if err != nil {
				return err
			}
			info, err := m.Snapshot(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes, %s)\n", info.Path, info.Size, info.Duration.Round(time.Millisecond))
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := manager(cmd)
			if err != nil {
				return err
			}
			snaps, err := m.List()
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backups found.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tSIZE\tCREATED")
			for _, s := range snaps {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Path, s.Size, s.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	restore := &cobra.Command{
		Use:   "restore <snapshot>",
		Short: "Replace the database with a snapshot (stop the server first)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager(cmd)
			if err != nil {
				return err
			}
			if err := m.Restore(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored from %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(create, list, restore)
	return cmd
}
