package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/roach88/strainline/internal/model"
)

// DecodeRecords validates a JSON feed at the boundary. The feed must be an
// array; each element that is an object becomes a Record with canonical
// keys and stringified scalar values. Any other element is kept as a
// MALFORMED_INPUT entry so callers can report it per record.
func DecodeRecords(data []byte) ([]model.IncomingRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode records: feed is not a JSON array: %w", err)
	}

	out := make([]model.IncomingRecord, len(raw))
	for i, elem := range raw {
		out[i] = decodeOne(i, elem)
	}
	return out, nil
}

func decodeOne(i int, elem json.RawMessage) model.IncomingRecord {
	var v any
	if err := json.Unmarshal(elem, &v); err != nil {
		return malformed(i, fmt.Sprintf("invalid JSON: %v", err))
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return malformed(i, fmt.Sprintf("expected object, got %s", jsonKind(v)))
	}

	fields := make(map[string]string, len(obj))
	for k, val := range obj {
		fields[k] = stringify(val)
	}
	return model.IncomingRecord{Index: i, Fields: model.NewRecord(fields)}
}

func malformed(i int, msg string) model.IncomingRecord {
	return model.IncomingRecord{
		Index: i,
		Err:   model.NewError(model.CodeMalformedInput, "decode record", fmt.Sprintf("record %d: %s", i, msg), nil),
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// ReadRecordsFile decodes a JSON feed from disk.
func ReadRecordsFile(path string) ([]model.IncomingRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return DecodeRecords(data)
}

// ValidRecords returns the records that decoded to field mappings.
func ValidRecords(in []model.IncomingRecord) []model.Record {
	out := make([]model.Record, 0, len(in))
	for _, r := range in {
		if r.Err == nil && r.Fields != nil {
			out = append(out, r.Fields)
		}
	}
	return out
}
