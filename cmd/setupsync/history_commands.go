package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"setupsync/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past sync runs",
	}

	historyCmd.AddCommand(newHistoryListCommand(ctx))
	historyCmd.AddCommand(newHistoryErrorsCommand(ctx))
	historyCmd.AddCommand(newHistoryPruneCommand(ctx))
	return historyCmd
}

func (c *commandContext) withHistory(fn func(*history.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := history.Open(cfg.Paths.HistoryDBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	var (
		providerFilter string
		limit          int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(store *history.Store) error {
				runs, err := store.RecentRuns(context.Background(), providerFilter, limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Println("No runs recorded.")
					return nil
				}

				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					mode := ""
					if run.DryRun {
						mode = " (dry run)"
					}
					rows = append(rows, []string{
						run.RunID,
						run.Provider,
						run.Status + mode,
						run.StartedAt.Local().Format(time.DateTime),
						fmt.Sprintf("%d", run.Downloaded),
						fmt.Sprintf("%d", run.Skipped),
						fmt.Sprintf("%d", run.Failed),
						formatBytes(run.BytesSaved),
					})
				}
				fmt.Println(renderTable(
					[]string{"Run", "Provider", "Status", "Started", "Downloaded", "Skipped", "Failed", "Saved"},
					rows, 5, 6, 7, 8))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&providerFilter, "provider", "p", "", "Only show runs for one provider")
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum number of runs to show")
	return cmd
}

func newHistoryErrorsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "errors <run-id>",
		Short: "Show the item failures recorded for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(store *history.Store) error {
				failures, err := store.RunFailures(context.Background(), args[0])
				if err != nil {
					return err
				}
				if len(failures) == 0 {
					fmt.Println("No failures recorded for this run.")
					return nil
				}
				for _, failure := range failures {
					fmt.Printf("  setup %s: %s\n", failure.ItemID, failure.Message)
				}
				return nil
			})
		},
	}
}

func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old runs, keeping the newest N",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLock(func() error {
				return ctx.withHistory(func(store *history.Store) error {
					removed, err := store.Prune(context.Background(), keep)
					if err != nil {
						return err
					}
					fmt.Printf("Removed %d run(s); kept the newest %d.\n", removed, keep)
					return nil
				})
			})
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 50, "Number of runs to keep")
	return cmd
}
