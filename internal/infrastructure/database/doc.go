// Package database opens the bridge's SQLite store and migrates it.
//
// The store holds the state history and the command audit trail. It runs
// in WAL mode with a single writer connection. Migrations are
// YYYYMMDD_HHMMSS_name.{up,down}.sql files registered by the migrations
// package and tracked in schema_migrations.
//
//	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	err = db.Migrate(ctx)
package database
