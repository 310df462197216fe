package nakama

const (
	// RpcCreateGame creates a named game and returns its match id.
	RpcCreateGame = "pylos_create_game"
	// RpcSearchGames lists games whose name contains the given text.
	RpcSearchGames = "pylos_search_games"
	// RpcRegisterPlayer links the calling account to a new Pylos player.
	RpcRegisterPlayer = "pylos_register_player"

	// MatchNamePylos is the authoritative match handler name registered with Nakama.
	MatchNamePylos = "pylos_match"
)

// Op codes for client messages and server events.
const (
	// Client -> Server
	OpMove int64 = 1

	// Server -> Client
	OpGameState int64 = 101
	OpYourMove  int64 = 102 // sent privately
	OpGameOver  int64 = 103
	OpBadMsg    int64 = 104 // sent privately
)

// Storage layout. Profiles, names and the id counter are system owned; the
// link from a Nakama account to its player id is owned by that account.
const (
	profileCollection = "pylos_profiles"
	nameCollection    = "pylos_names"
	linkCollection    = "pylos_players"
	linkKey           = "player"
	counterCollection = "pylos_counters"
	counterKey        = "player_id"
)

// Keys read from the match label and the runtime environment.
const (
	labelGame       = "pylos"
	envPaceMillis   = "pylos_pace_millis"
	metaPlayerID    = "player_id"
	paramGameName   = "name"
	maxListedGames  = 100
	defaultTickRate = 2
)
