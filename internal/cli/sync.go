package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/engine"
	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/model"
)

func newSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push local changes, then pull the remote snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildEngine(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := eng.Sync(cmd.Context())
			if err != nil {
				return err
			}
			printPushResult(cmd, result.Push)
			printPullResult(cmd, result.Pull)
			return nil
		},
	}
}

func newPushCommand(opts *RootOptions) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push local divergences to the remote table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildEngine(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			mode := engine.ModeCommit
			if reset {
				mode = engine.ModeReset
			}
			result, err := eng.Push(cmd.Context(), mode)
			if err != nil {
				return err
			}
			printPushResult(cmd, result)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "delete every remote row in the active view before pushing")
	return cmd
}

func newPullCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Fetch the remote snapshot and merge it locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildEngine(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := eng.Pull(cmd.Context())
			if err != nil {
				return err
			}
			printPullResult(cmd, result)
			return nil
		},
	}
}

func printPushResult(cmd *cobra.Command, r *engine.PushResult) {
	cmd.Println(r.Message)
	for _, t := range model.AllTypes {
		c := r.Counts[t]
		if c.Created+c.Updated+c.Deleted == 0 {
			continue
		}
		cmd.Printf("  %-12s created=%d updated=%d deleted=%d\n", t, c.Created, c.Updated, c.Deleted)
	}
	for _, e := range r.Errors {
		cmd.Printf("  error: %s %s %q: %s\n", e.Action, e.Entity, e.Title, e.Message)
	}
}

func printPullResult(cmd *cobra.Command, r *engine.PullResult) {
	total := 0
	for _, n := range r.Counts {
		total += n
	}
	cmd.Println(fmt.Sprintf("pull complete: %d rows", total))
	for _, t := range model.AllTypes {
		if r.Counts[t] > 0 {
			cmd.Printf("  %-12s %d\n", t, r.Counts[t])
		}
	}
}
