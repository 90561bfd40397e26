package state

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/shipper/pkg/types"
)

func TestAppendEventsOnePerLine(t *testing.T) {
	store := NewDirStore(t.TempDir())

	require.NoError(t, store.AppendEvents(
		types.NewEvent(types.EventExecutionStarted, "all", nil),
		types.NewEvent(types.EventPackageStarted, "demo@0.1.0", map[string]interface{}{
			"name": "demo", "version": "0.1.0",
		}),
	))
	require.NoError(t, store.AppendEvents(
		types.NewEvent(types.EventPackagePublished, "demo@0.1.0", nil),
	))

	content, err := os.ReadFile(store.EventLogPath())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	assert.Len(t, lines, 3)

	events, err := ReadEvents(store.EventLogPath())
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, types.EventExecutionStarted, events[0].Type)
	assert.Equal(t, types.EventPackageStarted, events[1].Type)
	assert.Equal(t, "demo@0.1.0", events[1].Package)
	assert.Equal(t, types.EventPackagePublished, events[2].Type)
}

func TestAppendEventsNeverTruncates(t *testing.T) {
	store := NewDirStore(t.TempDir())

	require.NoError(t, store.AppendEvents(types.NewEvent(types.EventExecutionStarted, "all", nil)))
	require.NoError(t, store.AppendEvents(types.NewEvent(types.EventExecutionFinished, "all", nil)))

	events, err := ReadEvents(store.EventLogPath())
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestReadEventsSkipsMalformedLines(t *testing.T) {
	store := NewDirStore(t.TempDir())
	require.NoError(t, store.AppendEvents(types.NewEvent(types.EventExecutionStarted, "all", nil)))

	f, err := os.OpenFile(store.EventLogPath(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{broken\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := ReadEvents(store.EventLogPath())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestReadEventsMissingFile(t *testing.T) {
	events, err := ReadEvents(t.TempDir() + "/nope.jsonl")
	require.NoError(t, err)
	assert.Nil(t, events)
}
