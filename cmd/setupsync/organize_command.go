package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"setupsync/internal/config"
	"setupsync/internal/reorganizer"
)

func newOrganizeCommand(ctx *commandContext) *cobra.Command {
	var (
		output   string
		dryRun   bool
		copyMode bool
		category string
		noDedupe bool
	)

	cmd := &cobra.Command{
		Use:   "organize <source-dir>",
		Short: "Sort existing .sto files into iRacing's car/track folders",
		Long: `Organize scans a directory for .sto files, extracts track names from
filenames and folder structure, and moves each file into the matching
car/track/config folder. Binary duplicates of files already organized
are deleted instead of moved (unless --copy is given).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLock(func() error {
				return runOrganize(ctx, args[0], output, dryRun, copyMode, category, !noDedupe)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output directory (default: organize in place)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without making changes")
	cmd.Flags().BoolVar(&copyMode, "copy", false, "Copy files instead of moving them")
	cmd.Flags().StringVar(&category, "category", "", "Category hint for track disambiguation (e.g. GT3, NASCAR)")
	cmd.Flags().BoolVar(&noDedupe, "no-dedupe", false, "Disable binary duplicate detection")
	return cmd
}

func runOrganize(cmdCtx *commandContext, source, output string, dryRun, copyMode bool, category string, detectDuplicates bool) error {
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

	sourceDir, err := config.ExpandPath(source)
	if err != nil {
		return err
	}
	if output != "" {
		if output, err = config.ExpandPath(output); err != nil {
			return err
		}
	}

	matcher := loadMatcher(cfg, logger)
	index, cache, err := loadDedupStack(cfg, logger)
	if err != nil {
		return err
	}

	org := reorganizer.New(matcher, index, cache, logger)
	result, err := org.Reorganize(ctx, sourceDir, reorganizer.Options{
		OutputDir:        output,
		DryRun:           dryRun,
		Copy:             copyMode,
		CategoryHint:     category,
		DetectDuplicates: detectDuplicates,
	})
	if err != nil {
		return err
	}

	if !dryRun {
		if err := cache.Save(); err != nil {
			logger.Warn("could not save hash cache", slog.Any("error", err))
		}
	}

	printOrganizeResult(result, dryRun)
	return nil
}

func printOrganizeResult(result *reorganizer.Result, dryRun bool) {
	organizedLabel := "Organized"
	if dryRun {
		organizedLabel = "Would organize"
	}
	rows := [][]string{
		{"Total files", fmt.Sprintf("%d", result.TotalFiles)},
		{organizedLabel, fmt.Sprintf("%d", result.Organized)},
		{"Skipped", fmt.Sprintf("%d", result.Skipped)},
	}
	if result.Failed > 0 {
		rows = append(rows, []string{"Failed", fmt.Sprintf("%d", result.Failed)})
	}
	if result.DuplicatesFound > 0 {
		if dryRun {
			rows = append(rows, []string{"Duplicates found", fmt.Sprintf("%d", result.DuplicatesFound)})
		} else {
			rows = append(rows, []string{"Duplicates deleted", fmt.Sprintf("%d", result.DuplicatesDeleted)})
			if result.BytesSaved > 0 {
				rows = append(rows, []string{"Space saved", formatBytes(result.BytesSaved)})
			}
		}
	}
	if result.CompanionsMoved > 0 {
		rows = append(rows, []string{"Companion files", fmt.Sprintf("%d", result.CompanionsMoved)})
	}
	fmt.Println(renderCounts(rows))

	if dryRun {
		const maxListed = 20
		listed := 0
		for _, action := range result.Actions {
			if !action.WillMove() {
				continue
			}
			if listed == maxListed {
				fmt.Println("  ...")
				break
			}
			rel := filepath.Join(action.CarFolder, filepath.Base(action.Source))
			dst := filepath.Join(action.CarFolder, filepath.FromSlash(strings.ReplaceAll(action.TrackDirPath, `\`, "/")), filepath.Base(action.Source))
			fmt.Printf("  %s -> %s (%.0f%%)\n", rel, dst, action.Confidence*100)
			listed++
		}
	}

	for _, action := range result.Actions {
		if action.Err != "" {
			fmt.Printf("  error: %s: %s\n", filepath.Base(action.Source), action.Err)
		}
	}
}
