package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/smazurov/rovercam/internal/logging"
	"github.com/smazurov/rovercam/internal/updater"
	"github.com/smazurov/rovercam/internal/version"
	"github.com/spf13/cobra"
)

// CreateUpdateCmd creates the update command.
func CreateUpdateCmd() *cobra.Command {
	var checkOnly, rollback, prerelease bool
	var repository string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for and install a newer release",
		Long: `Looks up the newest GitHub release and replaces the running binary with it. ` +
			`The previous binary is kept so --rollback can restore it. A running service must be ` +
			`restarted to pick up the new binary.`,
		Args: cobra.NoArgs,
		Run: func(c *cobra.Command, _ []string) {
			logging.Initialize(logging.Config{Level: "info", Format: "text"})

			svc, err := updater.NewService(updater.Options{
				Repository: repository,
				Prerelease: prerelease,
				Restart:    func() {},
			})
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			if err := RunUpdate(c.Context(), os.Stdout, svc, checkOnly, rollback); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only report whether an update is available")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "Restore the binary saved before the last update")
	cmd.Flags().BoolVar(&prerelease, "prerelease", false, "Consider prereleases")
	cmd.Flags().StringVar(&repository, "repository", updater.DefaultRepository, "GitHub repository (owner/name)")

	return cmd
}

// RunUpdate drives svc for one CLI invocation.
func RunUpdate(ctx context.Context, w io.Writer, svc updater.Service, checkOnly, rollback bool) error {
	if !svc.IsEnabled() {
		return fmt.Errorf("updates disabled: %s", svc.DisabledReason())
	}

	if rollback {
		backup := svc.GetStatus(ctx).BackupVersion
		if err := svc.Rollback(ctx); err != nil {
			return err
		}
		fmt.Fprintf(w, "rolled back to %s\n", backup)
		return nil
	}

	info, err := svc.CheckForUpdate(ctx)
	if err != nil {
		return err
	}
	if !info.UpdateAvailable {
		fmt.Fprintf(w, "rovercam %s is up to date\n", version.Version)
		return nil
	}
	fmt.Fprintf(w, "update available: %s -> %s\n", info.CurrentVersion, info.LatestVersion)
	if info.ReleaseURL != "" {
		fmt.Fprintf(w, "  %s\n", info.ReleaseURL)
	}
	if checkOnly {
		return nil
	}

	if err := svc.ApplyUpdate(ctx); err != nil {
		return err
	}
	fmt.Fprintf(w, "installed %s; restart the service to run it\n", info.LatestVersion)
	return nil
}
