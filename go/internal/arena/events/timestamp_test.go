package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampAcceptsISOAndEpoch(t *testing.T) {
	want := time.Date(2026, 3, 1, 18, 0, 5, 250_000_000, time.UTC)

	var iso ArenaActivatedPayload
	require.NoError(t, json.Unmarshal([]byte(`{"arenaId":"a1","startTime":"2026-03-01T18:00:05.250Z"}`), &iso))
	assert.True(t, want.Equal(iso.StartTime.Time))

	var epoch MatchStartedPayload
	require.NoError(t, json.Unmarshal([]byte(`{"startTime":1772388005250}`), &epoch))
	assert.True(t, want.Equal(epoch.StartTime.Time))

	var empty MatchStartedPayload
	require.NoError(t, json.Unmarshal([]byte(`{"startTime":null}`), &empty))
	assert.True(t, empty.StartTime.IsZero())
}

func TestTimestampRejectsGarbage(t *testing.T) {
	var p ArenaActivatedPayload
	assert.Error(t, json.Unmarshal([]byte(`{"startTime":"yesterday"}`), &p))
}
