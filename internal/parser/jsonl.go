package parser

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/patrick91/metamist/internal/model"
	"github.com/patrick91/metamist/internal/sku"
)

// rawRecord represents one line of a billing-export JSONL file
type rawRecord struct {
	Topic    string  `json:"topic"`
	Cost     float64 `json:"cost"`
	Currency string  `json:"currency"`
	SKU      struct {
		ID          string `json:"id"`
		Description string `json:"description"`
	} `json:"sku"`
	UsageStartTime string `json:"usage_start_time"`
	UsageEndTime   string `json:"usage_end_time"`
	Labels         struct {
		ARGuid             string `json:"ar-guid"`
		BatchID            string `json:"batch_id"`
		CromwellWorkflowID string `json:"cromwell-workflow-id"`
		WDLTaskName        string `json:"wdl-task-name"`
		SequencingGroup    string `json:"sequencing-group"`
		Creator            string `json:"creator"`
	} `json:"labels"`
}

// FindExportFiles finds all JSONL files under the given export directory
func FindExportFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() && filepath.Ext(path) == ".jsonl" {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

// ParseFile parses a single JSONL export file and returns billing records.
// Malformed lines and lines without a parseable usage window are skipped.
// With offline set, SKU categorization uses only the embedded category data.
func ParseFile(path string, offline bool) ([]model.BillingRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []model.BillingRecord
	scanner := bufio.NewScanner(file)

	// Increase buffer size for large lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw rawRecord
		if err := json.Unmarshal(line, &raw); err != nil {
			// Skip malformed lines
			continue
		}

		start, err := time.Parse(time.RFC3339, raw.UsageStartTime)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, raw.UsageEndTime)
		if err != nil {
			continue
		}

		resource := model.SKU{ID: raw.SKU.ID, Description: raw.SKU.Description}
		records = append(records, model.BillingRecord{
			Topic:              raw.Topic,
			Cost:               raw.Cost,
			Currency:           raw.Currency,
			Creator:            raw.Labels.Creator,
			SKU:                resource,
			UsageStartTime:     start,
			UsageEndTime:       end,
			ARGuid:             raw.Labels.ARGuid,
			BatchID:            raw.Labels.BatchID,
			CromwellWorkflowID: raw.Labels.CromwellWorkflowID,
			WDLTaskName:        raw.Labels.WDLTaskName,
			SequencingGroup:    raw.Labels.SequencingGroup,
			ComputeCategory:    sku.Categorize(resource, offline),
		})
	}

	return records, scanner.Err()
}

// ParseDir parses every JSONL export file under dir and returns all records
func ParseDir(dir string, offline bool) ([]model.BillingRecord, error) {
	files, err := FindExportFiles(dir)
	if err != nil {
		return nil, err
	}

	var allRecords []model.BillingRecord
	for _, file := range files {
		records, err := ParseFile(file, offline)
		if err != nil {
			// Keep going with the other files
			continue
		}
		allRecords = append(allRecords, records...)
	}

	return allRecords, nil
}
