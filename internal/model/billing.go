package model

import "time"

// GroupKey selects which field of a BillingRecord cost rows are grouped by.
type GroupKey string

const (
	GroupByARGuid          GroupKey = "ar_guid"
	GroupByBatch           GroupKey = "batch_id"
	GroupByWorkflow        GroupKey = "cromwell_workflow_id"
	GroupByTask            GroupKey = "wdl_task_name"
	GroupBySequencingGroup GroupKey = "sequencing_group"
	GroupByCategory        GroupKey = "compute_category"
)

// SKU identifies a billed cloud resource.
type SKU struct {
	ID          string
	Description string
}

// BillingRecord is a single flat cost entry from a billing export.
// Grouping label fields are empty when the export row did not carry them.
type BillingRecord struct {
	Topic          string
	Cost           float64
	Currency       string
	Creator        string
	SKU            SKU
	UsageStartTime time.Time
	UsageEndTime   time.Time

	ARGuid             string
	BatchID            string
	CromwellWorkflowID string
	WDLTaskName        string
	SequencingGroup    string
	ComputeCategory    string
}

// GroupValue returns the record's value for the given group key. The second
// return is false when the record does not carry that label, in which case the
// record is excluded from aggregation under this key.
func (r BillingRecord) GroupValue(key GroupKey) (string, bool) {
	var v string
	switch key {
	case GroupByARGuid:
		v = r.ARGuid
	case GroupByBatch:
		v = r.BatchID
	case GroupByWorkflow:
		v = r.CromwellWorkflowID
	case GroupByTask:
		v = r.WDLTaskName
	case GroupBySequencingGroup:
		v = r.SequencingGroup
	case GroupByCategory:
		v = r.ComputeCategory
	}
	return v, v != ""
}

// GroupKeys lists the supported grouping fields in display order.
func GroupKeys() []GroupKey {
	return []GroupKey{
		GroupByARGuid,
		GroupByBatch,
		GroupByWorkflow,
		GroupByTask,
		GroupBySequencingGroup,
		GroupByCategory,
	}
}

// Title returns a human heading for the group key column.
func (k GroupKey) Title() string {
	switch k {
	case GroupByARGuid:
		return "AR-GUID"
	case GroupByBatch:
		return "Batch"
	case GroupByWorkflow:
		return "Workflow"
	case GroupByTask:
		return "Task"
	case GroupBySequencingGroup:
		return "Sequencing Group"
	case GroupByCategory:
		return "Category"
	}
	return string(k)
}

// Valid reports whether k is one of the supported grouping fields.
func (k GroupKey) Valid() bool {
	for _, known := range GroupKeys() {
		if k == known {
			return true
		}
	}
	return false
}
