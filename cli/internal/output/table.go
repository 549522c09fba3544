package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/patrick91/metamist/internal/billing"
	"github.com/patrick91/metamist/internal/model"
)

const (
	compactThreshold = 100 // Terminal width below which compact mode kicks in
	defaultWidth     = 120
)

// TableOptions controls table display behavior
type TableOptions struct {
	ForceCompact bool
	ShowDetails  bool
}

// shouldUseCompact determines if compact mode should be used
func shouldUseCompact(opts TableOptions) bool {
	if opts.ForceCompact {
		return true
	}
	return getTerminalWidth() < compactThreshold
}

// FormatCost formats a cost value as currency
func FormatCost(cost float64) string {
	return fmt.Sprintf("$%.2f", cost)
}

// shortenKey truncates long group values (AR-GUIDs, workflow IDs) for
// narrow terminals
func shortenKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

// PrintTable prints aggregated cost rows as a formatted table
func PrintTable(rows []billing.CombinedRow, key model.GroupKey, opts TableOptions) {
	if len(rows) == 0 {
		fmt.Println("No billing data found.")
		return
	}

	compact := shouldUseCompact(opts)
	title := key.Title()

	keyWidth := len(title)
	for _, r := range rows {
		k := r.Key
		if compact {
			k = shortenKey(k)
		}
		if len(k) > keyWidth {
			keyWidth = len(k)
		}
	}
	if keyWidth < 10 {
		keyWidth = 10
	}
	if compact && keyWidth > 12 {
		keyWidth = 12
	}

	fmt.Println()

	if compact {
		// Compact: Key, Start, Cost
		lineWidth := keyWidth + 2 + 10 + 2 + 10
		fmt.Printf("%-*s  %10s  %10s\n", keyWidth, title, "Start", "Cost")
		fmt.Println(strings.Repeat("─", lineWidth))

		for _, r := range rows {
			fmt.Printf("%-*s  %10s  %10s\n",
				keyWidth, shortenKey(r.Key),
				r.StartTime.Format("2006-01-02"),
				FormatCost(r.Cost))
		}

		if len(rows) > 1 {
			fmt.Println(strings.Repeat("─", lineWidth))
			fmt.Printf("%-*s  %10s  %10s\n",
				keyWidth, "Total", "", FormatCost(totalCost(rows)))
		}

		fmt.Println()
		fmt.Println("(Compact mode - expand terminal for full view)")
		return
	}

	// Full: Key, Topic, Start, End, Cost
	lineWidth := keyWidth + 2 + 14 + 2 + 16 + 2 + 16 + 2 + 10
	fmt.Printf("%-*s  %14s  %16s  %16s  %10s\n",
		keyWidth, title, "Topic", "Start", "End", "Cost")
	fmt.Println(strings.Repeat("─", lineWidth))

	for _, r := range rows {
		fmt.Printf("%-*s  %14s  %16s  %16s  %10s\n",
			keyWidth, r.Key,
			r.Topic,
			r.StartTime.Format("2006-01-02 15:04"),
			r.EndTime.Format("2006-01-02 15:04"),
			FormatCost(r.Cost))

		if opts.ShowDetails {
			for _, d := range r.Details {
				fmt.Printf("    %-*s  %10s\n", lineWidth-16, d.SKU, FormatCost(d.Cost))
			}
		}
	}

	if len(rows) > 1 {
		fmt.Println(strings.Repeat("─", lineWidth))
		fmt.Printf("%-*s  %14s  %16s  %16s  %10s\n",
			keyWidth, "Total", "", "", "", FormatCost(totalCost(rows)))
	}

	fmt.Println()
}

func totalCost(rows []billing.CombinedRow) float64 {
	var total float64
	for _, r := range rows {
		total += r.Cost
	}
	return total
}

// JSONOutput represents the JSON output structure
type JSONOutput struct {
	GroupBy string       `json:"group_by"`
	Results []JSONResult `json:"results"`
	Total   float64      `json:"total_cost"`
	Dropped int          `json:"dropped_records,omitempty"`
}

// JSONResult represents a single result in JSON format
type JSONResult struct {
	Key     string       `json:"key"`
	Topic   string       `json:"topic,omitempty"`
	Start   string       `json:"usage_start_time"`
	End     string       `json:"usage_end_time"`
	Cost    float64      `json:"cost"`
	Details []JSONDetail `json:"details,omitempty"`
}

// JSONDetail is one per-SKU cost line
type JSONDetail struct {
	SKU  string  `json:"sku"`
	Cost float64 `json:"cost"`
}

// PrintJSON outputs results as JSON
func PrintJSON(rows []billing.CombinedRow, key model.GroupKey, dropped int) {
	out := JSONOutput{
		GroupBy: string(key),
		Results: make([]JSONResult, len(rows)),
		Dropped: dropped,
	}

	for i, r := range rows {
		res := JSONResult{
			Key:   r.Key,
			Topic: r.Topic,
			Start: r.StartTime.Format("2006-01-02T15:04:05Z07:00"),
			End:   r.EndTime.Format("2006-01-02T15:04:05Z07:00"),
			Cost:  r.Cost,
		}
		for _, d := range r.Details {
			res.Details = append(res.Details, JSONDetail{SKU: d.SKU, Cost: d.Cost})
		}
		out.Results[i] = res
		out.Total += r.Cost
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.Encode(out)
}
