package format

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/patrick91/metamist/internal/model"
)

var byteUnits = []string{"Bytes", "KB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}

// Bytes renders a byte count with base-1024 units, rounded to two decimals.
// Zero is the literal "0 Bytes".
func Bytes(b float64) string {
	if b == 0 {
		return "0 Bytes"
	}
	i := int(math.Floor(math.Log(b) / math.Log(1024)))
	if i < 0 {
		i = 0
	}
	if i >= len(byteUnits) {
		i = len(byteUnits) - 1
	}
	scaled := math.Round(b/math.Pow(1024, float64(i))*100) / 100
	return strconv.FormatFloat(scaled, 'f', -1, 64) + " " + byteUnits[i]
}

// Value renders a classified metadata value for display. Empty values render
// as "" so the caller can substitute its own placeholder.
func Value(v model.MetaValue) string {
	switch v.Kind {
	case model.ValueEmpty:
		return ""
	case model.ValueScalar:
		return scalar(v.Scalar)
	case model.ValueList:
		parts := make([]string, 0, len(v.List))
		for _, el := range v.List {
			parts = append(parts, Value(el))
		}
		return strings.Join(parts, ", ")
	case model.ValueFile:
		return fmt.Sprintf("%s (%s)", v.File.Location, Bytes(v.File.Size))
	case model.ValueMap:
		return dump(v.Map)
	}
	return ""
}

// Any classifies and renders a raw metadata value in one step.
func Any(v any) string {
	return Value(model.ParseMeta(v))
}

func scalar(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	}
	return dump(v)
}

// dump is the structural fallback: a JSON rendering of whatever shape the
// value turned out to be, so formatting never fails.
func dump(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// ExternalIDs renders a {code: id} map as "id (code)" pairs joined with
// ", ". The pair whose code is empty renders without the parenthetical and
// sorts first.
func ExternalIDs(ids map[string]string) string {
	codes := make([]string, 0, len(ids))
	for code := range ids {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		if code == "" {
			parts = append(parts, ids[code])
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", ids[code], code))
	}
	return strings.Join(parts, ", ")
}

// Cost renders a cost value as currency.
func Cost(cost float64) string {
	return fmt.Sprintf("$%.2f", cost)
}
