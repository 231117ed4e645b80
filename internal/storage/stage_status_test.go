package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageEntry_PreservesUnknownKeys(t *testing.T) {
	in := []byte(`{"status":"processing","progress":40,"custom_field":"kept","metadata":{"pages":3}}`)

	var e StageEntry
	require.NoError(t, json.Unmarshal(in, &e))
	assert.Equal(t, StageStateProcessing, e.Status)
	assert.Equal(t, 40.0, e.Progress)

	out, err := json.Marshal(e)
	require.NoError(t, err)

	var roundTrip map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &roundTrip))
	assert.Equal(t, "kept", roundTrip["custom_field"])
	assert.Equal(t, map[string]interface{}{"pages": float64(3)}, roundTrip["metadata"])
}

func TestStageEntry_MergeClampsProgress(t *testing.T) {
	e := StageEntry{Status: StageStateProcessing, Progress: 10}

	e.Merge(150, map[string]interface{}{"a": 1})
	assert.Equal(t, 100.0, e.Progress)

	e.Merge(-5, map[string]interface{}{"b": 2})
	assert.Equal(t, 0.0, e.Progress)

	// metadata keys merge, not replace
	assert.Equal(t, 1, e.Metadata["a"])
	assert.Equal(t, 2, e.Metadata["b"])
}

func TestStageStatusMap_Completed(t *testing.T) {
	m := StageStatusMap{
		"upload":          {Status: StageStateCompleted, Progress: 100},
		"text_extraction": {Status: StageStateProcessing, Progress: 30},
	}

	assert.True(t, m.Completed("upload"))
	assert.False(t, m.Completed("text_extraction"))
	assert.False(t, m.Completed("classification"))
	assert.False(t, m.AllCompleted([]string{"upload", "text_extraction"}))
	assert.True(t, m.AllCompleted([]string{"upload"}))
}

func TestStageStatusMap_ScanValueRoundTrip(t *testing.T) {
	m := StageStatusMap{"upload": {Status: StageStateCompleted, Progress: 100}}

	v, err := m.Value()
	require.NoError(t, err)

	var scanned StageStatusMap
	require.NoError(t, scanned.Scan([]byte(v.(string))))
	assert.True(t, scanned.Completed("upload"))
}
