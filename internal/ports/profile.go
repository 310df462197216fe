package ports

import (
	"context"
	"errors"
)

var (
	// ErrProfileNotFound is returned when no profile exists for a player id.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrPlayerNameTaken is returned when registering a name twice.
	ErrPlayerNameTaken = errors.New("player name already taken")
	// ErrInvalidPlayerName is returned for empty or overlong names.
	ErrInvalidPlayerName = errors.New("player name must be 1 to 20 characters")
)

// MaxPlayerNameLen bounds registered player names.
const MaxPlayerNameLen = 20

// Profile is the persisted record of a registered player.
type Profile struct {
	ID    int64
	Name  string
	Wins  int
	Loses int
}

// ResultDelta is the change applied to a profile when a game ends.
type ResultDelta struct {
	Wins  int
	Loses int
}

// ProfilePort defines the interface for reading and updating player profiles.
type ProfilePort interface {
	// Lookup returns the profile of playerID, or ErrProfileNotFound.
	Lookup(ctx context.Context, playerID int64) (Profile, error)

	// RecordResult adds delta to the win/loss counters of playerID.
	RecordResult(ctx context.Context, playerID int64, delta ResultDelta) error
}

// PlayerDirectory registers and lists players. Only the standalone server
// exposes it; Nakama registers players through its own RPC.
type PlayerDirectory interface {
	CreatePlayer(ctx context.Context, name string) (Profile, error)
	ListPlayers(ctx context.Context) ([]Profile, error)
}
