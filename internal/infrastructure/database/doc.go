// Package database provides the gateway's local SQLite store.
//
// It opens the database file in WAL mode with a busy timeout and applies
// the schema migrations embedded by the migrations package. The store
// holds the diagnostics journal of checksum-failed frames.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: each VERSION_description.up.sql file runs once,
// in version order, inside its own transaction.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is created with permissions 0600
package database
