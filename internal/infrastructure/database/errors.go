package database

import "errors"

var (
	// ErrDisabled indicates the database section is turned off in configuration.
	ErrDisabled = errors.New("database: disabled in configuration")

	// ErrOpenFailed indicates the database file could not be opened.
	ErrOpenFailed = errors.New("database: open failed")

	// ErrMigrationFailed indicates a schema migration could not be applied.
	ErrMigrationFailed = errors.New("database: migration failed")
)
