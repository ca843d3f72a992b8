package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cachePruneTarget int

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the blame cache",
	Long: `Inspect and maintain the durable blame cache.

Examples:
  faultline cache stats
  faultline cache prune --target=100000
  faultline cache purge web`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show blame cache statistics",
	Args:  cobra.NoArgs,
	Run:   runCacheStats,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Evict least recently used blames",
	Args:  cobra.NoArgs,
	Run:   runCachePrune,
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge <project>",
	Short: "Drop every cached blame of a project's repository",
	Args:  cobra.ExactArgs(1),
	Run:   runCachePurge,
}

func init() {
	cachePruneCmd.Flags().IntVar(&cachePruneTarget, "target", 0, "Entries to keep (default: 90% of the configured maximum)")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) {
	a := mustOpenApp(appOptions{})
	defer a.Close()

	stats, err := a.cache.Stats(cmd.Context())
	exitOnError("reading cache stats", err)
	printResponse(stats)
}

func runCachePrune(cmd *cobra.Command, args []string) {
	a := mustOpenApp(appOptions{})
	defer a.Close()

	target := cachePruneTarget
	if target <= 0 {
		target = a.cfg.BlameCache.MaxEntries * 9 / 10
	}
	n, err := a.cache.Prune(cmd.Context(), target)
	exitOnError("pruning cache", err)
	printResponse(&MessageResponseCLI{Message: fmt.Sprintf("Evicted %d blame(s)", n)})
}

func runCachePurge(cmd *cobra.Command, args []string) {
	a := mustOpenApp(appOptions{})
	defer a.Close()

	_, r, err := a.registry.Project(args[0])
	exitOnError("finding project", err)
	n, err := a.cache.Purge(cmd.Context(), r.Identity())
	exitOnError("purging cache", err)
	printResponse(&MessageResponseCLI{Message: fmt.Sprintf("Removed %d blame(s) of %s", n, args[0])})
}
