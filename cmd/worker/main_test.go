package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawEventWireDecoding(t *testing.T) {
	payload := []byte(`{
		"event_id": "evt-1",
		"student_id": "s1",
		"concept_id": "c1",
		"subject_id": "math",
		"kind": "completed",
		"score": 0.85,
		"time_spent_sec": 240,
		"occurred_at": "2026-03-12T10:00:00Z"
	}`)

	var wire rawEventWire
	require.NoError(t, json.Unmarshal(payload, &wire))

	raw := wire.toRaw()
	assert.Equal(t, "evt-1", raw.EventID)
	assert.Equal(t, "s1", raw.StudentID)
	assert.Equal(t, "c1", raw.ConceptID)
	assert.Equal(t, "math", raw.SubjectID)
	assert.Equal(t, "completed", raw.Kind)
	require.NotNil(t, raw.Score)
	assert.Equal(t, 0.85, *raw.Score)
	assert.Equal(t, int64(240), raw.TimeSpentSec)
	assert.True(t, time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC).Equal(raw.OccurredAt))
}

func TestRawEventWireOptionalFields(t *testing.T) {
	var wire rawEventWire
	require.NoError(t, json.Unmarshal([]byte(`{"event_id":"evt-2","student_id":"s1","concept_id":"c1","kind":"started"}`), &wire))

	raw := wire.toRaw()
	assert.Nil(t, raw.Score)
	assert.Zero(t, raw.TimeSpentSec)
	assert.True(t, raw.OccurredAt.IsZero())
}
