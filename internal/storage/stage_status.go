package storage

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StageEntry is the per-stage slot inside documents.stage_status. Unknown
// keys are preserved across merges for forward compatibility.
type StageEntry struct {
	Status      StageState             `json:"status"`
	Progress    float64                `json:"progress"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	extra map[string]json.RawMessage
}

// stageEntryKnownKeys are the keys handled by the typed fields.
var stageEntryKnownKeys = map[string]bool{
	"status": true, "progress": true, "started_at": true,
	"completed_at": true, "error": true, "metadata": true,
}

// UnmarshalJSON decodes the typed fields and stashes unknown keys.
func (e *StageEntry) UnmarshalJSON(data []byte) error {
	type alias StageEntry
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if stageEntryKnownKeys[k] {
			delete(raw, k)
		}
	}

	*e = StageEntry(a)
	if len(raw) > 0 {
		e.extra = raw
	}
	return nil
}

// MarshalJSON re-emits typed fields plus any preserved unknown keys.
func (e StageEntry) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(e.extra)+6)
	for k, v := range e.extra {
		out[k] = v
	}
	out["status"] = e.Status
	out["progress"] = e.Progress
	if e.StartedAt != nil {
		out["started_at"] = e.StartedAt
	}
	if e.CompletedAt != nil {
		out["completed_at"] = e.CompletedAt
	}
	if e.Error != "" {
		out["error"] = e.Error
	}
	if len(e.Metadata) > 0 {
		out["metadata"] = e.Metadata
	}
	return json.Marshal(out)
}

// Merge folds an update into the entry: progress is clamped to [0,100] and
// metadata keys are merged rather than replaced.
func (e *StageEntry) Merge(progress float64, metadata map[string]interface{}) {
	e.Progress = clampProgress(progress)
	if len(metadata) > 0 {
		if e.Metadata == nil {
			e.Metadata = make(map[string]interface{}, len(metadata))
		}
		for k, v := range metadata {
			e.Metadata[k] = v
		}
	}
}

func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// StageStatusMap maps stage name to its status entry, stored as JSONB.
type StageStatusMap map[string]StageEntry

// Value implements driver.Valuer.
func (m StageStatusMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *StageStatusMap) Scan(src interface{}) error {
	if src == nil {
		*m = StageStatusMap{}
		return nil
	}
	var data []byte
	switch t := src.(type) {
	case []byte:
		data = t
	case string:
		data = []byte(t)
	default:
		return fmt.Errorf("cannot scan %T into StageStatusMap", src)
	}
	if len(data) == 0 {
		*m = StageStatusMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// Completed reports whether the named stage completed.
func (m StageStatusMap) Completed(stage string) bool {
	e, ok := m[stage]
	return ok && e.Status == StageStateCompleted
}

// AllCompleted reports whether every stage in names completed.
func (m StageStatusMap) AllCompleted(names []string) bool {
	for _, n := range names {
		if !m.Completed(n) {
			return false
		}
	}
	return true
}
