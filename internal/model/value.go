package model

// ValueKind tags the shape of a metadata value. The shape is decided once
// when raw metadata is parsed, not re-inferred every time a value is rendered.
type ValueKind int

const (
	ValueEmpty ValueKind = iota
	ValueScalar
	ValueList
	ValueMap
	ValueFile
)

// FileMeta is a file-like metadata value: a storage location plus its size
// in bytes.
type FileMeta struct {
	Location string
	Size     float64
}

// MetaValue is a classified metadata value. Exactly the field matching Kind
// is populated.
type MetaValue struct {
	Kind   ValueKind
	Scalar any
	List   []MetaValue
	Map    map[string]any
	File   *FileMeta
}

// ParseMeta classifies an arbitrary decoded-JSON value into a MetaValue.
// A map carrying both "location" and a numeric "size" is treated as a file.
func ParseMeta(v any) MetaValue {
	switch val := v.(type) {
	case nil:
		return MetaValue{Kind: ValueEmpty}
	case string:
		if val == "" {
			return MetaValue{Kind: ValueEmpty}
		}
		return MetaValue{Kind: ValueScalar, Scalar: val}
	case []any:
		list := make([]MetaValue, 0, len(val))
		for _, el := range val {
			list = append(list, ParseMeta(el))
		}
		return MetaValue{Kind: ValueList, List: list}
	case map[string]any:
		if f, ok := fileMeta(val); ok {
			return MetaValue{Kind: ValueFile, File: f}
		}
		return MetaValue{Kind: ValueMap, Map: val}
	default:
		return MetaValue{Kind: ValueScalar, Scalar: v}
	}
}

func fileMeta(m map[string]any) (*FileMeta, bool) {
	loc, ok := m["location"].(string)
	if !ok {
		return nil, false
	}
	size, ok := asNumber(m["size"])
	if !ok {
		return nil, false
	}
	return &FileMeta{Location: loc, Size: size}, true
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
