// Package cli wires the engine's public operations (sync, export, import,
// status, review) onto a cobra command tree. No sync logic lives here.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/airtable"
	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/engine"
	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DBPath  string
	Table   string
	View    string
	BaseID  string
	Token   string
	EnvFile string
	Verbose bool
}

// NewRootCommand creates the furntrack root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "furntrack",
		Short: "Local-first furniture inventory tracker",
		Long:  "Tracks inventory locally and reconciles it with an Airtable base whenever connectivity is available.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Missing .env is fine; explicit --env-file must exist.
			if opts.EnvFile != "" {
				if err := godotenv.Load(opts.EnvFile); err != nil {
					return fmt.Errorf("failed to load env file %s: %w", opts.EnvFile, err)
				}
			} else {
				_ = godotenv.Load()
			}
			fillFromEnv(&opts.Token, "AIRTABLE_TOKEN")
			fillFromEnv(&opts.BaseID, "AIRTABLE_BASE")
			fillFromEnv(&opts.Table, "AIRTABLE_TABLE")
			fillFromEnv(&opts.View, "AIRTABLE_VIEW")
			fillFromEnv(&opts.DBPath, "FURNTRACK_DB")
			if opts.Verbose {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "furntrack.db", "path to the local database")
	cmd.PersistentFlags().StringVar(&opts.Table, "table", "Inventory", "remote table name")
	cmd.PersistentFlags().StringVar(&opts.View, "view", "", "remote view scoping lists and resets")
	cmd.PersistentFlags().StringVar(&opts.BaseID, "base", "", "Airtable base id (or AIRTABLE_BASE)")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "Airtable token (or AIRTABLE_TOKEN)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "env file with credentials (default .env if present)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newPushCommand(opts))
	cmd.AddCommand(newPullCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newVerifyCommand(opts))
	cmd.AddCommand(newReviewCommand(opts))

	return cmd
}

func fillFromEnv(dst *string, key string) {
	if *dst == "" {
		*dst = os.Getenv(key)
	}
}

// openStore opens just the local store, for commands that never touch the
// network.
func openStore(opts *RootOptions) (*store.Store, error) {
	st, err := store.Open(opts.DBPath, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	return st, nil
}

// buildLocalEngine assembles an offline engine for commands that never
// touch the network; no credentials are required.
func buildLocalEngine(opts *RootOptions) (*engine.Engine, func(), error) {
	st, err := openStore(opts)
	if err != nil {
		return nil, nil, err
	}
	cfg := engine.DefaultConfig(opts.Table)
	cfg.View = opts.View
	eng, err := engine.New(st, nil, cfg, slog.Default())
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return eng, func() { st.Close() }, nil
}

// buildEngine validates credentials up front (a configuration error is
// fatal before any work is attempted) and assembles the engine.
func buildEngine(opts *RootOptions) (*engine.Engine, func(), error) {
	remote, err := airtable.NewClient(airtable.Config{
		BaseID: opts.BaseID,
		Token:  opts.Token,
	}, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	st, err := openStore(opts)
	if err != nil {
		return nil, nil, err
	}
	cfg := engine.DefaultConfig(opts.Table)
	cfg.View = opts.View
	eng, err := engine.New(st, remote, cfg, slog.Default())
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return eng, func() { st.Close() }, nil
}
