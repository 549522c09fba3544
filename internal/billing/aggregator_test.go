package billing

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/patrick91/metamist/internal/model"
)

func rec(arGuid string, sku string, cost float64, start, end time.Time) model.BillingRecord {
	return model.BillingRecord{
		Topic:          "seqr",
		Cost:           cost,
		Creator:        "pipeline@example.org",
		SKU:            model.SKU{Description: sku},
		UsageStartTime: start,
		UsageEndTime:   end,
		ARGuid:         arGuid,
	}
}

func testRecords() []model.BillingRecord {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return []model.BillingRecord{
		rec("ar-1", "Compute Engine N1", 1.50, t0, t0.Add(time.Hour)),
		rec("ar-1", "Cloud Storage", 0.25, t0.Add(-time.Hour), t0),
		rec("ar-2", "Compute Engine N1", 3.00, t0, t0.Add(2*time.Hour)),
		rec("ar-1", "Compute Engine N1", 0.50, t0.Add(time.Hour), t0.Add(3*time.Hour)),
		rec("ar-1", "Cloud Storage", -0.10, t0, t0.Add(time.Hour)), // credit, dropped
		rec("", "Cloud Storage", 9.99, t0, t0.Add(time.Hour)),      // no label, dropped
	}
}

func TestAggregateTotals(t *testing.T) {
	records := testRecords()
	totals := AggregateTotals(records, model.GroupByARGuid)

	if len(totals) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(totals))
	}

	// First-seen order.
	if totals[0].Key != "ar-1" || totals[1].Key != "ar-2" {
		t.Errorf("unexpected group order: %q, %q", totals[0].Key, totals[1].Key)
	}

	ar1 := totals[0]
	if math.Abs(ar1.Cost-2.25) > 1e-9 {
		t.Errorf("ar-1 cost = %v, want 2.25", ar1.Cost)
	}
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if !ar1.StartTime.Equal(t0.Add(-time.Hour)) {
		t.Errorf("ar-1 start = %v, want %v", ar1.StartTime, t0.Add(-time.Hour))
	}
	if !ar1.EndTime.Equal(t0.Add(3 * time.Hour)) {
		t.Errorf("ar-1 end = %v, want %v", ar1.EndTime, t0.Add(3*time.Hour))
	}
	if ar1.Type != model.GroupByARGuid {
		t.Errorf("ar-1 type = %q", ar1.Type)
	}
}

func TestAggregateTotalsConservesCost(t *testing.T) {
	records := testRecords()

	var want float64
	for _, r := range records {
		if r.Cost < 0 || r.ARGuid == "" {
			continue
		}
		want += r.Cost
	}

	got := TotalCost(AggregateTotals(records, model.GroupByARGuid))
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("total = %v, want %v", got, want)
	}
}

func TestAggregateTotalsIdempotent(t *testing.T) {
	records := testRecords()
	first := AggregateTotals(records, model.GroupByARGuid)
	second := AggregateTotals(records, model.GroupByARGuid)
	if !reflect.DeepEqual(first, second) {
		t.Error("repeated aggregation of the same input differs")
	}
}

func TestAggregateDetails(t *testing.T) {
	details := AggregateDetails(testRecords(), model.GroupByARGuid)

	if len(details) != 3 {
		t.Fatalf("expected 3 detail rows, got %d", len(details))
	}

	byKey := map[string]float64{}
	for _, d := range details {
		byKey[d.Key+"|"+d.SKU] = d.Cost
	}
	if math.Abs(byKey["ar-1|Compute Engine N1"]-2.0) > 1e-9 {
		t.Errorf("ar-1 compute cost = %v, want 2.0", byKey["ar-1|Compute Engine N1"])
	}
	if math.Abs(byKey["ar-1|Cloud Storage"]-0.25) > 1e-9 {
		t.Errorf("ar-1 storage cost = %v, want 0.25", byKey["ar-1|Cloud Storage"])
	}
}

func TestCombine(t *testing.T) {
	records := testRecords()
	combined, dropped := Summarize(records, model.GroupByARGuid)

	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if len(combined) != 2 {
		t.Fatalf("expected 2 combined rows, got %d", len(combined))
	}

	for _, row := range combined {
		var detailSum float64
		for _, d := range row.Details {
			if d.Key != row.Key || d.Type != row.Type {
				t.Errorf("detail (%q, %q) attached to aggregate (%q, %q)", d.Key, d.Type, row.Key, row.Type)
			}
			detailSum += d.Cost
		}
		// With nothing extra dropped between the two passes, the breakdown
		// accounts for the full aggregate.
		if detailSum > row.Cost+1e-9 {
			t.Errorf("group %q: details sum %v exceeds aggregate %v", row.Key, detailSum, row.Cost)
		}
		if math.Abs(detailSum-row.Cost) > 1e-9 {
			t.Errorf("group %q: details sum %v != aggregate %v", row.Key, detailSum, row.Cost)
		}
	}
}

func TestAggregateByOtherKeys(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []model.BillingRecord{
		{Cost: 1, WDLTaskName: "align", UsageStartTime: t0, UsageEndTime: t0},
		{Cost: 2, WDLTaskName: "align", UsageStartTime: t0, UsageEndTime: t0},
		{Cost: 4, WDLTaskName: "call", UsageStartTime: t0, UsageEndTime: t0},
		{Cost: 8, SequencingGroup: "sg-1", UsageStartTime: t0, UsageEndTime: t0},
	}

	byTask := AggregateTotals(records, model.GroupByTask)
	if len(byTask) != 2 || byTask[0].Cost != 3 || byTask[1].Cost != 4 {
		t.Errorf("by task: %+v", byTask)
	}

	bySG := AggregateTotals(records, model.GroupBySequencingGroup)
	if len(bySG) != 1 || bySG[0].Cost != 8 {
		t.Errorf("by sequencing group: %+v", bySG)
	}
}

func TestFilterRecords(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []model.BillingRecord{
		rec("a", "x", 1, t0, t0),
		rec("b", "x", 1, t0.AddDate(0, 0, 5), t0.AddDate(0, 0, 5)),
		rec("c", "x", 1, t0.AddDate(0, 0, 10), t0.AddDate(0, 0, 10)),
	}

	got := FilterRecords(records, Options{
		Since: t0.AddDate(0, 0, 1),
		Until: t0.AddDate(0, 0, 9),
	})
	if len(got) != 1 || got[0].ARGuid != "b" {
		t.Errorf("filtered = %+v", got)
	}
}
