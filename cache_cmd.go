package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/hookvoice/internal/cache"
	"github.com/dgnsrekt/hookvoice/internal/tts"
)

var cacheJSON bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the audio cache",
	Args:  cobra.NoArgs,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	Args:  cobra.NoArgs,
	RunE: withService(func(cmd *cobra.Command, svc *tts.Service) error {
		stats := svc.CacheStats(cmd.Context())
		if cacheJSON {
			return printJSON(cmd.OutOrStdout(), stats)
		}
		printStats(cmd.OutOrStdout(), svc, stats)
		return nil
	}),
}

var cacheListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List cached entries, least recently used first",
	Args:    cobra.NoArgs,
	RunE: withService(func(cmd *cobra.Command, svc *tts.Service) error {
		entries := svc.CacheEntries(cmd.Context())
		if cacheJSON {
			if entries == nil {
				entries = []cache.Entry{}
			}
			return printJSON(cmd.OutOrStdout(), entries)
		}
		printEntries(cmd.OutOrStdout(), entries)
		return nil
	}),
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached entry",
	Args:  cobra.NoArgs,
	RunE: withService(func(cmd *cobra.Command, svc *tts.Service) error {
		n, err := svc.ClearCache(cmd.Context())
		if err != nil {
			return fmt.Errorf("unable to clear cache: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), paragraph(fmt.Sprintf("Removed %s.", keyword(humanize.Comma(int64(n))+" entries"))))
		return nil
	}),
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired entries and stray files, then enforce the size limits",
	Args:  cobra.NoArgs,
	RunE: withService(func(cmd *cobra.Command, svc *tts.Service) error {
		n, err := svc.Cleanup(cmd.Context())
		if err != nil {
			return fmt.Errorf("cache cleanup: %w", err)
		}
		stats := svc.CacheStats(cmd.Context())
		fmt.Fprintln(cmd.OutOrStdout(), paragraph(fmt.Sprintf("Removed %s. %s",
			keyword(humanize.Comma(int64(n))+" items"),
			faint(fmt.Sprintf("%d entries, %s remain", stats.EntryCount, humanize.Bytes(stats.TotalSizeBytes))))))
		return nil
	}),
}

// withService opens the speech service around a command.
func withService(fn func(*cobra.Command, *tts.Service) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()
		return fn(cmd, svc)
	}
}

func printStats(w io.Writer, svc *tts.Service, stats cache.Stats) {
	cfg := svc.Config().Cache
	if !cfg.Enabled {
		fmt.Fprintln(w, paragraph(faint("Caching is disabled.")))
		return
	}
	rows := [][2]string{
		{"Directory", cfg.Dir},
		{"Entries", fmt.Sprintf("%s of %s", humanize.Comma(int64(stats.EntryCount)), humanize.Comma(int64(cfg.MaxEntries)))},
		{"Size", fmt.Sprintf("%s of %s", humanize.Bytes(stats.TotalSizeBytes), humanize.Bytes(cfg.MaxSizeBytes))},
		{"Hits", humanize.Comma(int64(stats.CacheHits))},     //nolint:gosec
		{"Misses", humanize.Comma(int64(stats.CacheMisses))}, //nolint:gosec
		{"Hit rate", fmt.Sprintf("%.1f%%", stats.HitRate*100)},
	}
	for _, r := range rows {
		fmt.Fprintln(w, paragraph(label(r[0])+keyword(r[1])))
	}
}

func printEntries(w io.Writer, entries []cache.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, paragraph(faint("The cache is empty.")))
		return
	}
	if !isTerminal() {
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				e.Key, e.Provider, e.Format, humanize.Bytes(e.SizeBytes), e.HitCount,
				e.LastAccessedAt.Format(time.RFC3339))
		}
		return
	}
	for _, e := range entries {
		fmt.Fprintln(w, paragraph(fmt.Sprintf("%s %s\n%s",
			keyword(shortKey(e.Key)),
			faint(fmt.Sprintf("%s %s %s", e.Provider, e.Format, humanize.Bytes(e.SizeBytes))),
			faint(fmt.Sprintf("%d hits, used %s, created %s", e.HitCount,
				humanize.Time(e.LastAccessedAt), humanize.Time(e.CreatedAt))))))
	}
}

func shortKey(k string) string {
	if len(k) > 12 {
		return k[:12]
	}
	return k
}

func init() {
	cacheCmd.PersistentFlags().BoolVar(&cacheJSON, "json", false, "print JSON")
	cacheCmd.AddCommand(cacheStatsCmd, cacheListCmd, cacheClearCmd, cacheCleanupCmd)
}
