// Command nakama builds the Pylos server plugin. Load the resulting shared
// object into Nakama to register the Pylos match handler and game RPCs.
package main

import (
	"context"
	"database/sql"

	"pylos/internal/ports/nakama"

	"github.com/heroiclabs/nakama-common/runtime"
)

// InitModule is the symbol Nakama looks up when loading the plugin.
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	return nakama.InitModule(ctx, logger, db, nk, initializer)
}
