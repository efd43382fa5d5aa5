package commands

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/prewarm/internal/db"
)

var (
	historyTrigger string
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show finished prefetch requests",
	Long: `Show persisted prefetch requests, newest first, followed by a count per
outcome.

Examples:
  prewarm history --config prewarm.toml
  prewarm history --config prewarm.toml --trigger modal --limit 20`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyTrigger, "trigger", "", "only show requests for this target")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum number of requests to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	requests, err := database.ListPrefetchRequests(historyTrigger, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list requests: %w", err)
	}
	counts, err := database.CountPrefetchRequests(historyTrigger)
	if err != nil {
		return fmt.Errorf("failed to count requests: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(requests) == 0 {
		fmt.Fprintln(out, "No prefetch requests recorded.")
		return nil
	}

	printRequests(out, requests)
	fmt.Fprintln(out)
	printCounts(out, counts)
	return nil
}

func printRequests(w io.Writer, requests []db.PrefetchRequest) {
	table := newTable(w)
	table.SetHeader([]string{"ID", "Trigger", "Status", "Outcome", "Committed", "Delay", "Load", "Recorded", "Error"})

	for _, r := range requests {
		table.Append([]string{
			r.ID,
			r.TriggerID,
			r.Status,
			r.Outcome,
			strconv.FormatBool(r.Committed),
			(time.Duration(r.DelayMs) * time.Millisecond).String(),
			loadTime(r),
			r.RecordedAt.Local().Format(time.DateTime),
			deref(r.Error),
		})
	}
	table.Render()
}

func printCounts(w io.Writer, counts map[string]int) {
	outcomes := make([]string, 0, len(counts))
	for outcome := range counts {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)

	table := newTable(w)
	table.SetHeader([]string{"Outcome", "Count"})
	for _, outcome := range outcomes {
		table.Append([]string{outcome, strconv.Itoa(counts[outcome])})
	}
	table.Render()
}

// newTable returns a borderless, left-aligned table
func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func loadTime(r db.PrefetchRequest) string {
	if r.StartedAt == nil {
		return "-"
	}
	switch {
	case r.SettledAt != nil:
		return r.SettledAt.Sub(*r.StartedAt).String()
	case r.CancelledAt != nil:
		return r.CancelledAt.Sub(*r.StartedAt).String()
	}
	return "-"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
