package migrations

import (
	"context"

	"github.com/msomdec/minddump/internal/sqlite"
)

// InitialSchema is the order of the unit that creates the giphy and notes
// tables.
const InitialSchema int64 = 1683951759988

// Registered returns the units applied on every INITIALIZE, in no particular
// order.
func Registered() []Unit {
	return []Unit{
		{Order: InitialSchema, Migrate: initialSchema},
	}
}

func initialSchema(ctx context.Context, tx sqlite.Execer) error {
	if _, err := tx.Exec(ctx, `
		CREATE TABLE giphy (
			id TEXT PRIMARY KEY,
			json TEXT
		)
	`); err != nil {
		return err
	}

	_, err := tx.Exec(ctx, `
		CREATE TABLE notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at INTEGER DEFAULT CURRENT_TIMESTAMP,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			giphy_id TEXT NOT NULL,
			FOREIGN KEY(giphy_id) REFERENCES giphy(id)
		)
	`)
	return err
}
