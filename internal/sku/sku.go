// Package sku classifies billed resource SKUs into coarse compute categories
// (compute, storage, network, ...) used as a billing group key. The pattern
// table can be refreshed from a published mapping, with an embedded copy as
// the offline fallback.
package sku

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/patrick91/metamist/internal/model"
)

const categoryMapURL = "https://raw.githubusercontent.com/patrick91/metamist-refdata/main/sku_categories.json"

// DefaultCategory is assigned when no pattern matches a SKU description.
const DefaultCategory = "Other"

// categoryCache caches the fetched pattern table
var categoryCache map[string]string
var cacheTime time.Time
var cacheDuration = 1 * time.Hour

// FetchCategories fetches the SKU pattern table, falling back to the
// embedded copy on any network or decode failure.
func FetchCategories() map[string]string {
	if categoryCache != nil && time.Since(cacheTime) < cacheDuration {
		return categoryCache
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(categoryMapURL)
	if err != nil {
		return EmbeddedCategories()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return EmbeddedCategories()
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return EmbeddedCategories()
	}

	var table map[string]string
	if err := json.Unmarshal(body, &table); err != nil || len(table) == 0 {
		return EmbeddedCategories()
	}

	categoryCache = table
	cacheTime = time.Now()
	return table
}

// EmbeddedCategories returns the built-in pattern table, keyed by a substring
// of the SKU description.
func EmbeddedCategories() map[string]string {
	return map[string]string{
		"Instance Core":    "Compute",
		"Instance Ram":     "Compute",
		"Spot Preemptible": "Compute",
		"GPU":              "Compute",
		"Licensing Fee":    "Compute",
		"Standard Storage": "Storage",
		"Nearline Storage": "Storage",
		"Coldline Storage": "Storage",
		"Archive Storage":  "Storage",
		"PD Capacity":      "Storage",
		"SSD backed":       "Storage",
		"Network":          "Network",
		"Egress":           "Network",
		"Cloud Logging":    "Logging",
		"BigQuery":         "Analytics",
	}
}

// Categorize maps a SKU to its compute category by substring match against
// the pattern table. Longer patterns win; ties break alphabetically so the
// result is deterministic. Pass offline to skip the network refresh.
func Categorize(s model.SKU, offline bool) string {
	table := EmbeddedCategories()
	if !offline {
		table = FetchCategories()
	}

	patterns := make([]string, 0, len(table))
	for p := range table {
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if len(patterns[i]) != len(patterns[j]) {
			return len(patterns[i]) > len(patterns[j])
		}
		return patterns[i] < patterns[j]
	})

	for _, p := range patterns {
		if strings.Contains(s.Description, p) {
			return table[p]
		}
	}
	return DefaultCategory
}
