package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"setupsync/internal/dedup"
)

func newDedupeCommand(ctx *commandContext) *cobra.Command {
	var (
		dir      string
		doDelete bool
	)

	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Find byte-identical setup files in the setups directory",
		Long: `Dedupe hashes every .sto file under the setups directory and groups
identical files. With --delete, every copy except the first (sorted by
path) is removed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLock(func() error {
				return runDedupe(ctx, dir, doDelete)
			})
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory to scan (default: setups directory)")
	cmd.Flags().BoolVar(&doDelete, "delete", false, "Delete duplicate copies, keeping one per group")
	return cmd
}

func runDedupe(cmdCtx *commandContext, dir string, doDelete bool) error {
	cfg, err := cmdCtx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := cmdCtx.ensureLogger()
	if err != nil {
		return err
	}

	if dir == "" {
		dir = cfg.Paths.SetupsDir
	}

	_, cache, err := loadDedupStack(cfg, logger)
	if err != nil {
		return err
	}

	groups, err := cache.ScanDirectory(dir, dedup.SetupFilePattern)
	if err != nil {
		return err
	}
	cache.CleanupStale()
	if err := cache.Save(); err != nil {
		logger.Warn("could not save hash cache", slog.Any("error", err))
	}

	type dupGroup struct {
		hash  string
		paths []string
	}
	var dupes []dupGroup
	for hash, paths := range groups {
		if len(paths) > 1 {
			sort.Strings(paths)
			dupes = append(dupes, dupGroup{hash: hash, paths: paths})
		}
	}
	sort.Slice(dupes, func(i, j int) bool { return dupes[i].paths[0] < dupes[j].paths[0] })

	if len(dupes) == 0 {
		fmt.Println("No duplicate setup files found.")
		return nil
	}

	var (
		removed    int
		bytesSaved int64
	)
	for _, group := range dupes {
		fmt.Printf("%s\n", group.paths[0])
		for _, extra := range group.paths[1:] {
			if doDelete {
				info, statErr := os.Stat(extra)
				if err := os.Remove(extra); err != nil {
					logger.Warn("could not delete duplicate",
						slog.String("path", extra),
						slog.Any("error", err))
					continue
				}
				if statErr == nil {
					bytesSaved += info.Size()
				}
				cache.Invalidate(extra)
				removed++
				fmt.Printf("  deleted %s\n", relOrSelf(dir, extra))
			} else {
				fmt.Printf("  == %s\n", relOrSelf(dir, extra))
			}
		}
	}

	fmt.Printf("\n%d duplicate group(s)", len(dupes))
	if doDelete {
		fmt.Printf(", %d file(s) deleted, %s reclaimed", removed, formatBytes(bytesSaved))
		if err := cache.Save(); err != nil {
			logger.Warn("could not save hash cache", slog.Any("error", err))
		}
	}
	fmt.Println()
	return nil
}

func relOrSelf(base, path string) string {
	if rel, err := filepath.Rel(base, path); err == nil {
		return rel
	}
	return path
}
