// Package migrations embeds the sync store's schema, following the
// teacher's dbprefix + "-- +migrate Up"/"-- +migrate Down" convention so
// internal/db.RunMigrations can apply it unmodified.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/oxSaturn/chainsync/internal/db"
)

//go:embed *.sql
var migrationFiles embed.FS

// Prefix namespaces the sync store's tables so they can coexist with other
// schemas inside the same SQLite file.
const Prefix = "syncstore_"

// All returns the embedded migrations in filename order, ready to pass to
// internal/db.RunMigrations.
func All() ([]db.Migration, error) {
	entries, err := fs.ReadDir(migrationFiles, ".")
	if err != nil {
		return nil, fmt.Errorf("migrations: failed to read embedded dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	migs := make([]db.Migration, 0, len(names))
	for _, name := range names {
		data, err := migrationFiles.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("migrations: failed to read %s: %w", name, err)
		}

		migs = append(migs, db.Migration{
			ID:     name,
			SQL:    string(data),
			Prefix: Prefix,
		})
	}

	return migs, nil
}
