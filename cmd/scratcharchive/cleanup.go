package main

import (
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Rename placeholder-named folders whose entities have since resolved",
	Long: `Walk the archive tree and fix deferred names: folders and files
written under a missing-name placeholder are renamed to the resolved
name, and projects filed under the unknown-owner folder move to their
owner's folder. Resolution uses the archived snapshots themselves, so
no network access is needed.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.archive.Load(); err != nil {
		return err
	}
	a.archive.Engine().ApplyIdentityToNameConversions()
	if err := a.archive.Cleanup(); err != nil {
		return err
	}
	a.log.Info("cleanup pass finished")
	return nil
}
