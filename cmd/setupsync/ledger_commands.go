package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and edit the download ledger",
	}

	ledgerCmd.AddCommand(newLedgerStatsCommand(ctx))
	ledgerCmd.AddCommand(newLedgerListCommand(ctx))
	ledgerCmd.AddCommand(newLedgerForgetCommand(ctx))
	return ledgerCmd
}

func newLedgerStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show recorded setup counts per provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			lgr, err := loadLedger(cfg, logger)
			if err != nil {
				return err
			}

			stats := lgr.Stats()
			if len(stats) == 0 {
				fmt.Println("Ledger is empty.")
				return nil
			}

			providers := make([]string, 0, len(stats))
			for name := range stats {
				providers = append(providers, name)
			}
			sort.Strings(providers)

			rows := make([][]string, 0, len(providers))
			total := 0
			for _, name := range providers {
				rows = append(rows, []string{name, fmt.Sprintf("%d", stats[name])})
				total += stats[name]
			}
			rows = append(rows, []string{"total", fmt.Sprintf("%d", total)})
			fmt.Println(renderTable([]string{"Provider", "Setups"}, rows, 2))
			return nil
		},
	}
}

func newLedgerListCommand(ctx *commandContext) *cobra.Command {
	var providerFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded setups",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			lgr, err := loadLedger(cfg, logger)
			if err != nil {
				return err
			}

			entries := lgr.Entries(providerFilter)
			if len(entries) == 0 {
				fmt.Println("No ledger entries.")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, []string{
					entry.Provider,
					entry.SetupID,
					entry.Record.UpdatedDate,
					fmt.Sprintf("%d", len(entry.Record.FilePaths)),
				})
			}
			fmt.Println(renderTable([]string{"Provider", "Setup", "Updated", "Files"}, rows, 2, 4))
			return nil
		},
	}

	cmd.Flags().StringVarP(&providerFilter, "provider", "p", "", "Only show entries from one provider")
	return cmd
}

func newLedgerForgetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <provider> <setup-id>",
		Short: "Drop a setup from the ledger so it downloads again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLock(func() error {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				logger, err := ctx.ensureLogger()
				if err != nil {
					return err
				}
				lgr, err := loadLedger(cfg, logger)
				if err != nil {
					return err
				}

				if !lgr.Forget(args[0], args[1]) {
					return fmt.Errorf("no ledger entry for provider %q setup %q", args[0], args[1])
				}
				if err := lgr.Save(); err != nil {
					return fmt.Errorf("save ledger: %w", err)
				}
				fmt.Printf("Forgot %s/%s; it will download on the next run.\n", args[0], args[1])
				return nil
			})
		},
	}
}
