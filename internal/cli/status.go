package cli

import (
	"errors"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/model"
	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/store"
)

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show dirty counts per collection and the last sync time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			for _, t := range model.AllTypes {
				entities, err := st.ListAll(ctx, t)
				if err != nil {
					return err
				}
				var dirty, deleted, review int
				for _, e := range entities {
					meta := e.Meta()
					switch meta.SyncState {
					case model.StateDirty:
						dirty++
					case model.StateDeleted:
						deleted++
					}
					switch meta.Provenance.ReviewStatus {
					case model.ReviewNeedsReview, model.ReviewAIModified:
						review++
					}
				}
				cmd.Printf("%-12s total=%d dirty=%d deleted=%d needs-review=%d\n",
					t, len(entities), dirty, deleted, review)
			}

			lastSync, err := st.GetMeta(ctx, store.MetaLastSyncAt)
			switch {
			case errors.Is(err, store.ErrNotFound):
				cmd.Println("last sync: never")
			case err != nil:
				return err
			default:
				if ms, convErr := strconv.ParseInt(lastSync, 10, 64); convErr == nil {
					cmd.Printf("last sync: %s\n", time.UnixMilli(ms).Format(time.RFC3339))
				} else {
					cmd.Printf("last sync: %s\n", lastSync)
				}
			}
			return nil
		},
	}
}

func newVerifyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <type> <id>",
		Short: "Mark an entity's data as human-verified",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildLocalEngine(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.MarkVerified(cmd.Context(), model.EntityType(args[0]), args[1]); err != nil {
				return err
			}
			cmd.Printf("verified %s %s\n", args[0], args[1])
			return nil
		},
	}
}

func newReviewCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "review <type> <id>",
		Short: "Re-flag an entity for human review",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildLocalEngine(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.MarkNeedsReview(cmd.Context(), model.EntityType(args[0]), args[1]); err != nil {
				return err
			}
			cmd.Printf("flagged %s %s for review\n", args[0], args[1])
			return nil
		},
	}
}
