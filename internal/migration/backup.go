package migration

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Backup is the transportable snapshot written by CreateBackup and
// ExportStore and read back by RestoreFromBackup.
type Backup struct {
	Timestamp string            `json:"timestamp"`
	Data      []json.RawMessage `json:"data"`
}

// backupTimeLayout is ISO-8601 with millisecond precision.
const backupTimeLayout = "2006-01-02T15:04:05.000Z07:00"

var backupSchema = jsonschema.MustCompileString("backup.json", `{
	"type": "object",
	"required": ["data"],
	"properties": {
		"timestamp": {"type": "string"},
		"data": {"type": "array"}
	}
}`)

var legacyListSchema = jsonschema.MustCompileString("legacy-entries.json", `{"type": "array"}`)

func encodeBackup(ts time.Time, data []json.RawMessage) (string, error) {
	if data == nil {
		data = []json.RawMessage{}
	}
	raw, err := json.Marshal(Backup{Timestamp: ts.UTC().Format(backupTimeLayout), Data: data})
	if err != nil {
		return "", fmt.Errorf("encode backup: %w", err)
	}
	return string(raw), nil
}

// parseBackup checks the envelope shape and returns the data items decoded
// but not yet validated as entries.
func parseBackup(raw string) ([]any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("backup is not valid JSON: %w", err)
	}
	if err := backupSchema.Validate(v); err != nil {
		return nil, fmt.Errorf("backup does not match the expected shape: %w", err)
	}
	return v.(map[string]any)["data"].([]any), nil
}

// parseLegacyList decodes the legacy flat list. ok is false when raw is not
// a JSON array.
func parseLegacyList(raw string) (items []any, ok bool) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false
	}
	if err := legacyListSchema.Validate(v); err != nil {
		return nil, false
	}
	return v.([]any), true
}
