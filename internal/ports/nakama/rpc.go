package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pylos/internal/app"
	"pylos/internal/domain"
	"pylos/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// gRPC status codes returned to clients.
const (
	codeInvalidArgument = 3
	codeAlreadyExists   = 6
	codeInternal        = 13
	codeUnauthenticated = 16
)

type gameRequest struct {
	Name string `json:"name"`
}

// GameListing describes one game in RPC responses.
type GameListing struct {
	MatchID string `json:"match_id"`
	Name    string `json:"game_name"`
	Open    int    `json:"open"`
	Phase   string `json:"phase"`
}

type playerResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Wins     int    `json:"wins"`
	Loses    int    `json:"loses"`
}

// RpcCreateGameFn creates a Pylos match with a unique name.
//
// Payload: {"name": "..."}
// Returns: the created GameListing.
func RpcCreateGameFn(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req gameRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return "", runtime.NewError("invalid payload", codeInvalidArgument)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return "", runtime.NewError("game name is required", codeInvalidArgument)
	}

	games, err := listGames(ctx, nk)
	if err != nil {
		logger.Error("RpcCreateGame: Failed to list matches: %v", err)
		return "", runtime.NewError("failed to list games", codeInternal)
	}
	for _, g := range games {
		if g.Name == name {
			return "", runtime.NewError(fmt.Sprintf("game %q already exists", name), codeAlreadyExists)
		}
	}

	matchID, err := nk.MatchCreate(ctx, MatchNamePylos, map[string]interface{}{paramGameName: name})
	if err != nil {
		logger.Error("RpcCreateGame: Failed to create match: %v", err)
		return "", runtime.NewError("failed to create game", codeInternal)
	}
	logger.Info("RpcCreateGame: Created game %q as match %s", name, matchID)

	return marshalResponse(GameListing{
		MatchID: matchID,
		Name:    name,
		Open:    app.PlayersPerGame,
		Phase:   string(domain.PhaseAwaitingPlayers),
	})
}

// RpcSearchGamesFn lists games whose name contains the requested text. An
// empty name lists every game.
//
// Payload: {"name": "..."} or empty.
// Returns: a JSON array of GameListing.
func RpcSearchGamesFn(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req gameRequest
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			return "", runtime.NewError("invalid payload", codeInvalidArgument)
		}
	}

	games, err := listGames(ctx, nk)
	if err != nil {
		logger.Error("RpcSearchGames: Failed to list matches: %v", err)
		return "", runtime.NewError("failed to list games", codeInternal)
	}
	found := make([]GameListing, 0, len(games))
	for _, g := range games {
		if strings.Contains(g.Name, req.Name) {
			found = append(found, g)
		}
	}
	return marshalResponse(found)
}

// RpcRegisterPlayerFn creates a Pylos player for the calling account.
//
// Payload: {"name": "..."}
// Returns: the new profile.
func RpcRegisterPlayerFn(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	if userID == "" {
		return "", runtime.NewError("no user ID in context", codeUnauthenticated)
	}
	var req gameRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return "", runtime.NewError("invalid payload", codeInvalidArgument)
	}

	profile, err := NewNakamaProfileAdapter(nk).RegisterPlayer(ctx, userID, req.Name)
	switch {
	case errors.Is(err, ports.ErrInvalidPlayerName):
		return "", runtime.NewError(err.Error(), codeInvalidArgument)
	case errors.Is(err, ports.ErrPlayerNameTaken), errors.Is(err, ErrAlreadyRegistered):
		return "", runtime.NewError(err.Error(), codeAlreadyExists)
	case err != nil:
		logger.Error("RpcRegisterPlayer [User:%s]: %v", userID, err)
		return "", runtime.NewError("failed to register player", codeInternal)
	}
	logger.Info("RpcRegisterPlayer [User:%s]: registered player %d (%s)", userID, profile.ID, profile.Name)

	return marshalResponse(playerResponse{
		ID:       profile.ID,
		Username: profile.Name,
		Wins:     profile.Wins,
		Loses:    profile.Loses,
	})
}

// listGames returns every authoritative Pylos match. Names are filtered in Go
// because label queries tokenize text fields.
func listGames(ctx context.Context, nk runtime.NakamaModule) ([]GameListing, error) {
	query := fmt.Sprintf("+label.game:%s", labelGame)
	matches, err := nk.MatchList(ctx, maxListedGames, true, "", nil, nil, query)
	if err != nil {
		return nil, err
	}
	games := make([]GameListing, 0, len(matches))
	for _, m := range matches {
		var label MatchLabel
		if err := json.Unmarshal([]byte(m.GetLabel().GetValue()), &label); err != nil || label.Game != labelGame {
			continue
		}
		games = append(games, GameListing{
			MatchID: m.GetMatchId(),
			Name:    label.Name,
			Open:    label.Open,
			Phase:   label.Phase,
		})
	}
	return games, nil
}

func marshalResponse(v any) (string, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return "", runtime.NewError("failed to encode response", codeInternal)
	}
	return string(bytes), nil
}
