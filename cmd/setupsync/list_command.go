package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <gofast|cda|tracktitan>",
		Short: "List available setups from a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(ctx, args[0])
		},
	}
}

func runList(cmdCtx *commandContext, providerName string) error {
	cfg, err := cmdCtx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := cmdCtx.ensureLogger()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	source, err := newProvider(providerName, cfg, nil, nil, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	items, err := source.FetchItems(ctx)
	if err != nil {
		return describeProviderError(providerName, err)
	}
	if len(items) == 0 {
		fmt.Println("No setups found.")
		return nil
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.ID,
			orNA(item.Car),
			orNA(item.Track),
			item.Series,
			item.Season,
			item.UpdateTime,
		})
	}
	fmt.Printf("Available %s setups (%d total)\n", providerName, len(items))
	fmt.Println(renderTable(
		[]string{"ID", "Car", "Track", "Series", "Season", "Updated"},
		rows, 1))
	return nil
}

func orNA(value string) string {
	if value == "" {
		return "n/a"
	}
	return value
}
