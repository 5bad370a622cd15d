package models

import "github.com/google/uuid"

// assignID fills a zero primary key so rows insert the same way on Postgres and SQLite.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
