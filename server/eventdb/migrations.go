package eventdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE event(
			id INTEGER PRIMARY KEY,
			time INT NOT NULL,
			camera INT NOT NULL,
			detector TEXT NOT NULL,
			confidence REAL NOT NULL,
			video_path TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending'
		);

		CREATE INDEX idx_event_time ON event(time);
		CREATE INDEX idx_event_camera ON event(camera);
	`))

	return migs
}
