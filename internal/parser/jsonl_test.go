package parser

import (
	"os"
	"path/filepath"
	"testing"
)

const exportLines = `{"topic":"seqr","cost":1.5,"currency":"AUD","sku":{"id":"ABCD-1234","description":"N1 Predefined Instance Core running in Sydney"},"usage_start_time":"2024-03-01T10:00:00Z","usage_end_time":"2024-03-01T11:00:00Z","labels":{"ar-guid":"ar-1","batch_id":"b-42","creator":"pipeline@example.org"}}
not json at all
{"topic":"seqr","cost":0.25,"sku":{"description":"Standard Storage Australia"},"usage_start_time":"bad-time","usage_end_time":"2024-03-01T11:00:00Z","labels":{}}
{"topic":"rare-disease","cost":-0.10,"sku":{"description":"Standard Storage Australia"},"usage_start_time":"2024-03-01T10:00:00Z","usage_end_time":"2024-03-01T11:00:00Z","labels":{"ar-guid":"ar-1"}}

`

func writeExport(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseFile(t *testing.T) {
	path := writeExport(t, "export.jsonl", exportLines)

	records, err := ParseFile(path, true)
	if err != nil {
		t.Fatal(err)
	}

	// Malformed line and bad timestamp skipped; credits are kept here and
	// dropped later by aggregation.
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	first := records[0]
	if first.ARGuid != "ar-1" || first.BatchID != "b-42" {
		t.Errorf("labels not carried: %+v", first)
	}
	if first.Creator != "pipeline@example.org" {
		t.Errorf("creator = %q", first.Creator)
	}
	if first.ComputeCategory != "Compute" {
		t.Errorf("category = %q, want Compute", first.ComputeCategory)
	}
	if first.UsageEndTime.Sub(first.UsageStartTime).Hours() != 1 {
		t.Errorf("usage window = %v .. %v", first.UsageStartTime, first.UsageEndTime)
	}

	if records[1].Cost != -0.10 {
		t.Errorf("credit cost = %v", records[1].Cost)
	}
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.jsonl", "sub"} {
		if filepath.Ext(name) == ".jsonl" {
			if err := os.WriteFile(filepath.Join(dir, name), []byte(exportLines), 0644); err != nil {
				t.Fatal(err)
			}
			continue
		}
		if err := os.Mkdir(filepath.Join(dir, name), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name, "b.jsonl"), []byte(exportLines), 0644); err != nil {
			t.Fatal(err)
		}
		// Non-export files are ignored.
		if err := os.WriteFile(filepath.Join(dir, name, "notes.txt"), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	records, err := ParseDir(dir, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records across files, got %d", len(records))
	}
}
