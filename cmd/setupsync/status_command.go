package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"setupsync/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check directories, state files, and provider credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			runCtx, cancel := signalContext()
			defer cancel()

			results := preflight.RunAll(runCtx, cfg)
			rows := make([][]string, 0, len(results))
			for _, result := range results {
				state := "FAIL"
				if result.Passed {
					state = "ok"
				}
				rows = append(rows, []string{result.Name, state, result.Detail})
			}
			fmt.Println(renderTable([]string{"Check", "State", "Detail"}, rows))

			if !preflight.AllPassed(results) {
				return fmt.Errorf("one or more checks failed")
			}
			fmt.Println("All checks passed.")
			return nil
		},
	}
}
