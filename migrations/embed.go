// Package migrations embeds SQL migration files into the binary so the
// daemon can bring up the history schema without SQL files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/kefd/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Files are at root of embedded FS
}
