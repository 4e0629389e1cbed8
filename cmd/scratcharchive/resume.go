package main

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	resumeSweeps int
	resumeLevel  int
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Load an existing archive and continue where it left off",
	Long: `Load an existing archive tree and its metadata, then continue
collecting and expanding. Entities the metadata marks collected stay
collected unless they were fetched under credentials this run does not
have; those are refetched.

Entities from archives that predate level tracking get --level applied
before the sweeps run.`,
	Args: cobra.NoArgs,
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().IntVar(&resumeSweeps, "sweeps", 0, "collect rounds to run; 0 derives it from entity levels")
	resumeCmd.Flags().IntVar(&resumeLevel, "level", 0, "level for loaded entities without one; negative for unlimited")
}

func runResume(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if err := a.login(ctx); err != nil {
		return err
	}
	if _, err := a.archive.Load(); err != nil {
		return err
	}
	if cmd.Flags().Changed("level") {
		a.archive.Engine().ApplyLevelToEntitiesWithoutLevels(levelPtr(resumeLevel))
	}

	if err := a.archive.Run(ctx, resumeSweeps); err != nil {
		return err
	}
	a.log.InfoWithFields("resume complete", map[string]interface{}{
		"root": a.store.Root(),
	})
	return nil
}
