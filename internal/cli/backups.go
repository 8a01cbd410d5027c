// SPDX-License-Identifier: MIT

package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/playstate/internal/engine"
)

// newEngine builds an engine for backup operations only; it never runs recovery.
func newEngine(opts *RootOptions) (*engine.Engine, error) {
	return engine.New(opts.cfg, nil)
}

// NewBackupsCommand creates the backups command.
func NewBackupsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List backup archives, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := newEngine(opts)
			if err != nil {
				return err
			}
			list, err := eng.Backups()
			if err != nil {
				return err
			}
			return emit(opts, cmd.OutOrStdout(), list, func(w io.Writer) error {
				if len(list) == 0 {
					_, err := fmt.Fprintln(w, "no backups")
					return err
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED")
				for _, a := range list {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", a.Name, a.Size, a.ModTime.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

// SnapshotResult is the JSON shape of the snapshot command.
type SnapshotResult struct {
	Archive string `json:"archive"`
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Take a backup of the data directory now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := newEngine(opts)
			if err != nil {
				return err
			}
			archive, err := eng.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			return emit(opts, cmd.OutOrStdout(), SnapshotResult{Archive: archive}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "created %s\n", archive)
				return err
			})
		},
	}
}

// NextRunResult is the JSON shape of the next-run command.
type NextRunResult struct {
	NextRun time.Time `json:"nextRun"`
}

// NewNextRunCommand creates the next-run command.
func NewNextRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "next-run",
		Short: "Print when the next scheduled backup runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := newEngine(opts)
			if err != nil {
				return err
			}
			next, err := eng.NextBackup()
			if err != nil {
				return err
			}
			return emit(opts, cmd.OutOrStdout(), NextRunResult{NextRun: next}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, next.Format(time.RFC3339))
				return err
			})
		},
	}
}
