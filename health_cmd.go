package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/hookvoice/internal/tts"
)

var (
	healthJSON    bool
	healthMetrics bool
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report provider, cache and player status",
	Long: paragraph(fmt.Sprintf("\nReport which providers can be tried, the cache statistics and the player. No provider is called. Use %s for the raw counters in the Prometheus text format.",
		keyword("--metrics"))),
	Args: cobra.NoArgs,
	RunE: withService(func(cmd *cobra.Command, svc *tts.Service) error {
		w := cmd.OutOrStdout()
		if healthMetrics {
			return svc.Metrics().WriteText(w)
		}

		h := svc.HealthStatus(cmd.Context())
		if healthJSON {
			if err := printJSON(w, h); err != nil {
				return err
			}
		} else {
			printHealth(w, h)
		}
		if !h.Healthy {
			return errors.New("no provider available")
		}
		return nil
	}),
}

func printHealth(w io.Writer, h tts.Health) {
	status := keyword("healthy")
	if !h.Healthy {
		status = failure("unhealthy")
	}
	fmt.Fprintln(w, paragraph(label("Status")+status))

	for _, p := range h.Providers {
		state := keyword("available")
		if !p.Available {
			state = failure("unavailable")
		}
		detail := fmt.Sprintf("priority %d", p.Priority)
		if p.MaxResponseTime > 0 {
			detail += ", " + p.MaxResponseTime.String()
		}
		if p.RateLimited {
			detail += ", rate limited"
		}
		fmt.Fprintln(w, paragraph(label(p.ID)+state+" "+faint(detail)))
	}

	if h.CacheEnabled {
		fmt.Fprintln(w, paragraph(label("Cache")+keyword(fmt.Sprintf("%d entries, %s", h.Cache.EntryCount, humanize.Bytes(h.Cache.TotalSizeBytes)))+
			" "+faint(h.CacheDir)))
	} else {
		fmt.Fprintln(w, paragraph(label("Cache")+faint("disabled")))
	}

	player := h.Player
	if player == "" {
		player = faint("none")
	} else {
		player = keyword(player)
	}
	fmt.Fprintln(w, paragraph(label("Player")+player))
	fmt.Fprintln(w, paragraph(faint(fmt.Sprintf("checked %s (%s)", h.CheckedAt.Format(time.Kitchen), h.CorrelationID))))
}

func init() {
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "print JSON")
	healthCmd.Flags().BoolVar(&healthMetrics, "metrics", false, "print the metric counters in the Prometheus text format")
}
