// Package eventdb is the motion event ledger: every accepted trigger is
// recorded here, and correlated with the recording outcome once the merge
// worker finishes.
package eventdb

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

type EventDB struct {
	log logs.Log
	db  *gorm.DB
}

// NewEventDB opens or creates the event database.
func NewEventDB(log logs.Log, dbFilename string) (*EventDB, error) {
	if dir := filepath.Dir(dbFilename); dir != "." {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return nil, fmt.Errorf("Failed to create event DB directory '%v': %w", dir, err)
		}
	}
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(dbFilename), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open event database %v: %w", dbFilename, err)
	}
	return &EventDB{
		log: log,
		db:  db,
	}, nil
}

// AddEvent records an accepted motion trigger, in Status pending. Events
// are attributed to sessions in trigger order, so the returned event is
// handed to the recorder for outcome correlation.
func (e *EventDB) AddEvent(camera int64, detector string, confidence float64, at time.Time) (*Event, error) {
	ev := &Event{
		Time:       dbh.MakeIntTime(at),
		Camera:     camera,
		Detector:   detector,
		Confidence: confidence,
		Status:     StatusPending,
	}
	if err := e.db.Create(ev).Error; err != nil {
		return nil, fmt.Errorf("Failed to record motion event: %w", err)
	}
	e.log.Infof("Motion detected (%v) on camera %v", detector, camera)
	return ev, nil
}

// SetOutcome records the result of the recording workflow for an event.
// videoPath is empty when no usable artifact was produced.
func (e *EventDB) SetOutcome(eventID int64, videoPath, status string) error {
	r := e.db.Model(&Event{}).Where("id = ?", eventID).
		Updates(map[string]any{"video_path": videoPath, "status": status})
	if r.Error != nil {
		return fmt.Errorf("Failed to update event %v outcome: %w", eventID, r.Error)
	}
	if r.RowsAffected == 0 {
		return fmt.Errorf("Event %v not found", eventID)
	}
	return nil
}

// GetEvent fetches one event by ID.
func (e *EventDB) GetEvent(eventID int64) (*Event, error) {
	ev := &Event{}
	if err := e.db.First(ev, eventID).Error; err != nil {
		return nil, err
	}
	return ev, nil
}

// RecentEvents returns up to 'limit' events, most recent trigger first.
func (e *EventDB) RecentEvents(limit int) ([]Event, error) {
	events := []Event{}
	if err := e.db.Order("time DESC, id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
