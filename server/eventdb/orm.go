package eventdb

import (
	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Recording outcome states
const (
	StatusPending = "pending" // Trigger fired, recording workflow in flight
	StatusSaved   = "saved"   // Merged clip verified and on disk
	StatusFailed  = "failed"  // No usable artifact was produced
)

// Event is one accepted motion trigger. The trigger fields (Time, Camera,
// Detector, Confidence) are immutable once created; only the recording
// outcome (VideoPath, Status) is filled in later, when the recorder's merge
// worker finishes.
type Event struct {
	BaseModel
	Time       dbh.IntTime `json:"time"`       // Moment the trigger fired
	Camera     int64       `json:"camera"`     // Camera index
	Detector   string      `json:"detector"`   // Detector kind (eg "background", "wave")
	Confidence float64     `json:"confidence"` // 0..1, detector dependent
	VideoPath  string      `json:"videoPath"`  // Final merged clip, once saved
	Status     string      `json:"status"`     // pending, saved, failed
}
