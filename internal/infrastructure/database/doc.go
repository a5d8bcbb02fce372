// Package database provides SQLite connectivity for SiteWatch Core.
//
// This package manages:
//   - Database connection with WAL mode so API reads do not block scheduler writes
//   - Forward-only schema migrations loaded from an fs.FS
//   - Connection lifecycle and a transaction helper
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
