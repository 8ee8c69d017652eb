// Package database opens the exhibit-core SQLite file and applies the
// embedded schema migrations.
//
//	db, err := database.Open(database.Config{Path: "data/exhibit.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	err = db.Migrate(ctx, migrations.FS)
//
// Migrations are named YYYYMMDD_HHMMSS_description.up.sql with an optional
// .down.sql. Applied versions are tracked in schema_migrations.
package database
