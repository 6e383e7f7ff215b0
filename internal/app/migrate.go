package app

import (
	"context"
	"fmt"
)

// Migrate applies pending schema migrations from database.migrations_path.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	applied, err := store.Migrate(ctx, a.Config.Database.MigrationsPath)
	for _, name := range applied {
		fmt.Fprintf(a.Out, "applied %s\n", name)
	}
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(a.Out, "schema up to date")
	}
	a.Logger.Info().Int("applied", len(applied)).Str("path", a.Config.Database.MigrationsPath).Msg("migrations complete")
	return nil
}
