// Package migrations embeds the SQL migration files into the binary.
//
// Importing it registers the set with the database package, so
// migrations run without the .sql files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-av/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.Migrations = migrationsFS
}
