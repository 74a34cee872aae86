package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/MarcoPoloResearchLab/schemata/internal/importer"
	"github.com/MarcoPoloResearchLab/schemata/internal/migrations"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, revert and inspect schema migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(true)
			if err != nil {
				return err
			}
			defer app.Close()

			applied, err := app.runner.ApplyPending(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return err
		},
	}

	downCmd := &cobra.Command{
		Use:   "down [count]",
		Short: "Revert the most recently applied migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count := 1
			if len(args) == 1 {
				parsed, err := strconv.Atoi(args[0])
				if err != nil || parsed < 1 {
					return fmt.Errorf("count must be a positive integer, got %q", args[0])
				}
				count = parsed
			}

			app, err := openApplication(true)
			if err != nil {
				return err
			}
			defer app.Close()

			reverted, err := app.runner.RevertLast(cmd.Context(), count)
			fmt.Fprintf(cmd.OutOrStdout(), "reverted %d migration(s)\n", reverted)
			return err
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "List registered and applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(true)
			if err != nil {
				return err
			}
			defer app.Close()

			statuses, err := app.runner.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printStatuses(cmd, statuses, time.Now())
		},
	}

	collectionsCmd := &cobra.Command{
		Use:   "collections",
		Short: "Write the live schema as a new snapshot migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(true)
			if err != nil {
				return err
			}
			defer app.Close()

			snapshot, err := importer.New(app.logger).Export(cmd.Context(), app.store)
			if err != nil {
				return err
			}
			target, err := migrations.WriteSnapshot(app.cfg.MigrationsDir, snapshot, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d collections)\n", target, snapshot.Len())
			return nil
		},
	}

	historySyncCmd := &cobra.Command{
		Use:   "history-sync",
		Short: "Remove applied markers of migrations that are no longer registered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(true)
			if err != nil {
				return err
			}
			defer app.Close()

			removed, err := app.runner.SyncHistory(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d orphaned marker(s)\n", removed)
			return nil
		},
	}

	migrateCmd.AddCommand(upCmd, downCmd, statusCmd, collectionsCmd, historySyncCmd)
	return migrateCmd
}

func printStatuses(cmd *cobra.Command, statuses []migrations.Status, now time.Time) error {
	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "SEQUENCE\tNAME\tSTATE\tAPPLIED")
	for _, status := range statuses {
		state := "pending"
		applied := "-"
		if status.Applied {
			state = "applied"
			applied = humanize.RelTime(status.AppliedAt, now, "ago", "from now")
		}
		if !status.Registered {
			state += " (unregistered)"
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\n", status.Sequence, status.Name, state, applied)
	}
	return writer.Flush()
}
