package eventdb

import (
	"os"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, wipeDB bool) *EventDB {
	t.Helper()
	if wipeDB {
		os.Remove("test_eventdb.sqlite")
	}
	db, err := NewEventDB(logs.NewTestingLog(t), "test_eventdb.sqlite")
	if err != nil {
		t.Fatalf("Failed to create EventDB: %v", err)
	}
	return db
}

func cleanupDB(t *testing.T) {
	t.Helper()
	os.Remove("test_eventdb.sqlite")
	os.Remove("test_eventdb.sqlite-shm")
	os.Remove("test_eventdb.sqlite-wal")
}

func TestEventDB(t *testing.T) {
	db := setup(t, true)

	events, err := db.RecentEvents(10)
	require.NoError(t, err)
	require.Empty(t, events)

	// Record a trigger
	t0 := time.Now()
	ev, err := db.AddEvent(0, "background", 1, t0)
	require.NoError(t, err)
	require.NotZero(t, ev.ID)
	require.Equal(t, StatusPending, ev.Status)

	// Open a 2nd DB and ensure the event is visible.
	db2 := setup(t, false)
	got, err := db2.GetEvent(ev.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.Camera)
	require.Equal(t, "background", got.Detector)
	require.Empty(t, got.VideoPath)
	// IntTime rounds to milliseconds
	require.Less(t, got.Time.Get().Sub(t0).Abs(), time.Second)

	// Attribute a successful recording
	require.NoError(t, db.SetOutcome(ev.ID, "videos/cam0/260826/motion_event_cam0_1.mp4", StatusSaved))
	got, err = db.GetEvent(ev.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSaved, got.Status)
	require.Equal(t, "videos/cam0/260826/motion_event_cam0_1.mp4", got.VideoPath)

	// A failed merge leaves no video path
	ev2, err := db.AddEvent(0, "wave", 0.8, t0.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, db.SetOutcome(ev2.ID, "", StatusFailed))
	got, err = db.GetEvent(ev2.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Empty(t, got.VideoPath)

	// Unknown event ID
	require.Error(t, db.SetOutcome(99999, "", StatusSaved))

	// Recent events come back newest first
	events, err = db.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, ev2.ID, events[0].ID)
	require.Equal(t, ev.ID, events[1].ID)

	events, err = db.RecentEvents(1)
	require.NoError(t, err)
	require.Len(t, events, 1)

	cleanupDB(t)
}
