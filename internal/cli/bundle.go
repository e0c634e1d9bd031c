package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/engine"
	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/model"
)

func newExportCommand(opts *RootOptions) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the local collections as a JSON bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildLocalEngine(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			bundle, err := eng.Export(cmd.Context())
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(bundle, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode bundle: %w", err)
			}
			if outPath == "" || outPath == "-" {
				cmd.Println(string(data))
				return nil
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("failed to write bundle: %w", err)
			}
			cmd.Printf("exported bundle to %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	return cmd
}

func newImportCommand(opts *RootOptions) *cobra.Command {
	var mode string
	var actor string
	cmd := &cobra.Command{
		Use:   "import <bundle.json>",
		Short: "Import a JSON bundle into the local collections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read bundle: %w", err)
			}
			var bundle engine.Bundle
			if err := json.Unmarshal(data, &bundle); err != nil {
				return fmt.Errorf("failed to parse bundle: %w", err)
			}

			eng, cleanup, err := buildLocalEngine(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := eng.Import(cmd.Context(), &bundle, engine.ImportMode(mode), model.Actor(actor))
			if err != nil {
				return err
			}
			cmd.Printf("import complete: %d added, %d modified, %d unchanged (session %s)\n",
				result.Added, result.Modified, result.Unchanged, result.SessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(engine.ImportMerge), "merge or replace")
	cmd.Flags().StringVar(&actor, "actor", string(model.ActorImport), "actor recorded in provenance (human|ai|import|system)")
	return cmd
}
