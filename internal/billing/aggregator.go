package billing

import (
	"time"

	"github.com/patrick91/metamist/internal/model"
)

// Options for aggregation
type Options struct {
	Since    time.Time
	Until    time.Time
	Timezone *time.Location
}

// AggregateRow is the summed cost for one distinct group value.
type AggregateRow struct {
	Key       string
	Type      model.GroupKey
	Cost      float64
	StartTime time.Time
	EndTime   time.Time
	Topic     string
	Creator   string
}

// DetailRow is the summed cost for one resource SKU within a group.
type DetailRow struct {
	Key  string
	Type model.GroupKey
	SKU  string
	Cost float64
}

// CombinedRow is an aggregate row together with its per-SKU breakdown.
// Read-only after Combine builds it.
type CombinedRow struct {
	AggregateRow
	Details []DetailRow
}

// FilterRecords filters records based on date range
func FilterRecords(records []model.BillingRecord, opts Options) []model.BillingRecord {
	var filtered []model.BillingRecord
	for _, r := range records {
		ts := r.UsageStartTime
		if opts.Timezone != nil {
			ts = ts.In(opts.Timezone)
		}
		if !opts.Since.IsZero() && ts.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && ts.After(opts.Until) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

// usable reports whether a record participates in aggregation under key.
// Credits (negative cost) and records missing the group label are dropped.
func usable(r model.BillingRecord, key model.GroupKey) (string, bool) {
	if r.Cost < 0 {
		return "", false
	}
	return r.GroupValue(key)
}

// AggregateTotals groups records by the given key in a single pass, summing
// cost and widening the usage window per group. Output follows the first-seen
// order of distinct group values.
func AggregateTotals(records []model.BillingRecord, key model.GroupKey) []AggregateRow {
	grouped := make(map[string]*AggregateRow)
	var order []string

	for _, r := range records {
		value, ok := usable(r, key)
		if !ok {
			continue
		}

		agg, exists := grouped[value]
		if !exists {
			agg = &AggregateRow{
				Key:       value,
				Type:      key,
				StartTime: r.UsageStartTime,
				EndTime:   r.UsageEndTime,
				Topic:     r.Topic,
				Creator:   r.Creator,
			}
			grouped[value] = agg
			order = append(order, value)
		}

		agg.Cost += r.Cost
		if r.UsageStartTime.Before(agg.StartTime) {
			agg.StartTime = r.UsageStartTime
		}
		if r.UsageEndTime.After(agg.EndTime) {
			agg.EndTime = r.UsageEndTime
		}
	}

	results := make([]AggregateRow, 0, len(order))
	for _, value := range order {
		results = append(results, *grouped[value])
	}
	return results
}

// AggregateDetails groups records by (group value, SKU description), summing
// cost per resource within each group. Output follows first-seen order.
func AggregateDetails(records []model.BillingRecord, key model.GroupKey) []DetailRow {
	type detailKey struct {
		value string
		sku   string
	}
	grouped := make(map[detailKey]*DetailRow)
	var order []detailKey

	for _, r := range records {
		value, ok := usable(r, key)
		if !ok {
			continue
		}

		dk := detailKey{value: value, sku: r.SKU.Description}
		row, exists := grouped[dk]
		if !exists {
			row = &DetailRow{Key: value, Type: key, SKU: r.SKU.Description}
			grouped[dk] = row
			order = append(order, dk)
		}
		row.Cost += r.Cost
	}

	results := make([]DetailRow, 0, len(order))
	for _, dk := range order {
		results = append(results, *grouped[dk])
	}
	return results
}

// Combine attaches each detail row to the aggregate row sharing its
// (key, type) pair. Aggregate order is preserved; details keep their own
// first-seen order within each group.
func Combine(totals []AggregateRow, details []DetailRow) []CombinedRow {
	type groupKey struct {
		value string
		typ   model.GroupKey
	}
	byGroup := make(map[groupKey][]DetailRow)
	for _, d := range details {
		gk := groupKey{value: d.Key, typ: d.Type}
		byGroup[gk] = append(byGroup[gk], d)
	}

	combined := make([]CombinedRow, 0, len(totals))
	for _, agg := range totals {
		combined = append(combined, CombinedRow{
			AggregateRow: agg,
			Details:      byGroup[groupKey{value: agg.Key, typ: agg.Type}],
		})
	}
	return combined
}

// CountDropped returns how many records aggregation under key would discard,
// whether for a missing group label or a negative (credit) cost.
func CountDropped(records []model.BillingRecord, key model.GroupKey) int {
	dropped := 0
	for _, r := range records {
		if _, ok := usable(r, key); !ok {
			dropped++
		}
	}
	return dropped
}

// Summarize runs totals and details aggregation over the same records and
// combines them, also reporting the dropped-record count.
func Summarize(records []model.BillingRecord, key model.GroupKey) ([]CombinedRow, int) {
	totals := AggregateTotals(records, key)
	details := AggregateDetails(records, key)
	return Combine(totals, details), CountDropped(records, key)
}

// TotalCost sums the cost of the given aggregate rows.
func TotalCost(rows []AggregateRow) float64 {
	var total float64
	for _, r := range rows {
		total += r.Cost
	}
	return total
}
