package nakama

import (
	"context"
	"database/sql"

	"github.com/heroiclabs/nakama-common/runtime"
)

// InitModule wires RPCs and the Pylos match handler into the Nakama runtime.
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	if err := RegisterRPCs(initializer); err != nil {
		return err
	}

	if err := initializer.RegisterMatch(MatchNamePylos, NewMatch); err != nil {
		return err
	}

	logger.Info("Pylos Go module loaded.")
	return nil
}

// RegisterRPCs registers every client-callable RPC.
func RegisterRPCs(initializer runtime.Initializer) error {
	if err := initializer.RegisterRpc(RpcCreateGame, RpcCreateGameFn); err != nil {
		return err
	}
	if err := initializer.RegisterRpc(RpcSearchGames, RpcSearchGamesFn); err != nil {
		return err
	}
	return initializer.RegisterRpc(RpcRegisterPlayer, RpcRegisterPlayerFn)
}
