// SPDX-License-Identifier: MIT

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/playstate/internal/state"
	"github.com/ManuGH/playstate/internal/statestore"
)

// InspectResult is the JSON shape of the inspect command.
type InspectResult struct {
	Path   string               `json:"path"`
	Status string               `json:"status"`
	State  *state.PlaybackState `json:"state,omitempty"`
	Cause  string               `json:"cause,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Show the stored playback record without modifying it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInspect(cmd, opts)
		},
	}
}

func runInspect(cmd *cobra.Command, opts *RootOptions) error {
	cfg := opts.cfg
	store := statestore.New(cfg.StatePath(), statestore.Options{
		PlaylistLength: cfg.Playback.PlaylistLength,
		IOTimeout:      cfg.Playback.IOTimeout,
	})
	res, err := store.Load(cmd.Context())
	if err != nil {
		return err
	}

	out := InspectResult{Path: store.Path(), Status: res.Status.String()}
	switch res.Status {
	case statestore.StatusOK:
		st := res.State
		out.State = &st
	case statestore.StatusCorrupt:
		out.Cause = res.Cause.Error()
	case statestore.StatusNotFound:
	}

	return emit(opts, cmd.OutOrStdout(), out, func(w io.Writer) error {
		fmt.Fprintf(w, "path:     %s\nstatus:   %s\n", out.Path, out.Status)
		if out.Cause != "" {
			fmt.Fprintf(w, "cause:    %s\n", out.Cause)
		}
		if out.State == nil {
			return nil
		}
		st := out.State
		duration := "unknown"
		if st.TotalDurationSeconds != nil {
			duration = fmt.Sprintf("%.1fs", *st.TotalDurationSeconds)
		}
		fmt.Fprintf(w, "track:    %d/%d\n", st.TrackIndex, cfg.Playback.PlaylistLength)
		fmt.Fprintf(w, "position: %.1fs of %s\n", st.PositionSeconds, duration)
		fmt.Fprintf(w, "source:   %s\n", st.SourceName)
		fmt.Fprintf(w, "loop:     %t\nshuffle:  %t\n", st.Loop.Enabled, st.Shuffle.Enabled)
		fmt.Fprintf(w, "session:  %s\nsaved:    %s\n", st.SessionID, st.LastSavedAt.Format(time.RFC3339))
		return nil
	})
}
