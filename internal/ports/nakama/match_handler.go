package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"pylos/internal/app"
	"pylos/internal/config"
	"pylos/internal/domain"
	"pylos/internal/ports"
	"pylos/internal/protocol"

	"github.com/heroiclabs/nakama-common/runtime"
)

// MatchLabel is the JSON label RPCs filter matches on.
type MatchLabel struct {
	Game  string `json:"game"`
	Name  string `json:"name"`
	Open  int    `json:"open"`
	Phase string `json:"phase"`
}

// playerStore is what the match needs from profile storage.
type playerStore interface {
	ports.ProfilePort
	LinkedPlayer(ctx context.Context, userID string) (int64, error)
}

type joinTicket struct {
	playerID int64
	name     string
}

// MatchState holds the authoritative runtime state for one Pylos game.
type MatchState struct {
	Game      *domain.Game                `json:"-"` // Rules state; never nil
	App       *app.Service                `json:"-"` // Pylos use-cases
	Profiles  playerStore                 `json:"-"` // Names and win/loss records
	Presences map[string]runtime.Presence `json:"-"` // Session id -> presence, spectators included
	Seats     []runtime.Presence          `json:"-"` // Seat -> presence of the seated player

	// Outbox holds events not yet delivered. At most one paced event leaves
	// per tick, so the tick rate sets the animation pace.
	Outbox     []app.Event `json:"-"`
	PaceFrames bool        `json:"pace_frames"`
	Closing    bool        `json:"closing"` // Game over delivered; terminate on the next return

	pending map[string]joinTicket
}

// OpenSeats returns the number of free seats while the game waits for players.
func (ms *MatchState) OpenSeats() int {
	if ms.Game.Phase != domain.PhaseAwaitingPlayers {
		return 0
	}
	return app.PlayersPerGame - len(ms.Seats)
}

// seatOf returns the seat held by the presence's session, or -1.
func (ms *MatchState) seatOf(p runtime.Presence) int {
	for seat, sp := range ms.Seats {
		if sp.GetSessionId() == p.GetSessionId() {
			return seat
		}
	}
	return -1
}

// NewMatch is the factory function registered with Nakama.
func NewMatch(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule) (runtime.Match, error) {
	return &matchHandler{}, nil
}

type matchHandler struct{}

// MatchInit is called when the match is created. params must carry the game name.
func (mh *matchHandler) MatchInit(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, params map[string]interface{}) (interface{}, int, string) {
	name, _ := params[paramGameName].(string)
	if name == "" {
		logger.Error("MatchInit: missing game name")
		return nil, 0, ""
	}

	cfg := config.GetGameConfig()
	paceMillis := cfg.PaceMillis
	if env, ok := ctx.Value(runtime.RUNTIME_CTX_ENV).(map[string]string); ok {
		if val, ok := env[envPaceMillis]; ok {
			if i, err := strconv.Atoi(val); err == nil && i >= 0 {
				paceMillis = i
			} else {
				logger.Warn("MatchInit: ignoring %s=%q", envPaceMillis, val)
			}
		}
	}

	state := &MatchState{
		App:        app.NewService(cfg.InitialTokens),
		Profiles:   NewNakamaProfileAdapter(nk),
		Presences:  make(map[string]runtime.Presence),
		PaceFrames: paceMillis > 0,
		pending:    make(map[string]joinTicket),
	}
	state.Game = state.App.NewGame(name)

	label, err := encodeLabel(state)
	if err != nil {
		logger.Error("MatchInit: Failed to marshal label: %v", err)
		return nil, 0, ""
	}

	logger.Debug("MatchInit: game %q paced at %dms", name, paceMillis)
	return state, tickRateFor(paceMillis), label
}

// tickRateFor converts the frame pace into a Nakama tick rate (1..60 per second).
func tickRateFor(paceMillis int) int {
	if paceMillis <= 0 {
		return defaultTickRate
	}
	rate := 1000 / paceMillis
	switch {
	case rate < 1:
		return 1
	case rate > 60:
		return 60
	}
	return rate
}

// MatchJoinAttempt admits players that own the requested player id. Connections
// without a player id, or arriving once both seats are taken, watch as spectators.
func (mh *matchHandler) MatchJoinAttempt(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presence runtime.Presence, metadata map[string]string) (interface{}, bool, string) {
	s, ok := state.(*MatchState)
	if !ok {
		return state, false, "state not found"
	}
	if s.Game.IsFinished() || s.Closing {
		return s, false, "game is finished"
	}

	raw := metadata[metaPlayerID]
	if raw == "" || raw == "0" {
		s.pending[presence.GetSessionId()] = joinTicket{playerID: domain.Spectator}
		return s, true, ""
	}
	playerID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || playerID < 0 {
		return s, false, "invalid player_id"
	}

	linked, err := s.Profiles.LinkedPlayer(ctx, presence.GetUserId())
	if err != nil || linked != playerID {
		logger.Warn("MatchJoinAttempt: user %s claimed player %d: %v", presence.GetUserId(), playerID, err)
		return s, false, "player_id does not belong to this account"
	}
	if len(s.Game.PlayerIDs) >= app.PlayersPerGame {
		s.pending[presence.GetSessionId()] = joinTicket{playerID: domain.Spectator}
		return s, true, ""
	}
	if s.Game.Seat(playerID) >= 0 {
		return s, false, "player already seated"
	}

	profile, err := s.Profiles.Lookup(ctx, playerID)
	if err != nil {
		logger.Error("MatchJoinAttempt: lookup player %d: %v", playerID, err)
		return s, false, "unknown player"
	}
	s.pending[presence.GetSessionId()] = joinTicket{playerID: playerID, name: profile.Name}
	return s, true, ""
}

// MatchJoin seats admitted players; the second seat starts the game.
func (mh *matchHandler) MatchJoin(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	s, ok := state.(*MatchState)
	if !ok {
		return state
	}

	for _, p := range presences {
		s.Presences[p.GetSessionId()] = p
		ticket := s.pending[p.GetSessionId()]
		delete(s.pending, p.GetSessionId())
		if ticket.playerID == domain.Spectator {
			logger.Debug("MatchJoin: %s joined as spectator", p.GetSessionId())
			continue
		}

		seat, events, err := s.App.Join(s.Game, ticket.playerID, ticket.name)
		if err != nil {
			logger.Warn("MatchJoin: player %d could not sit: %v", ticket.playerID, err)
			continue
		}
		s.Seats = append(s.Seats, p)
		s.Outbox = append(s.Outbox, events...)
		logger.Info("MatchJoin: player %d (%s) took seat %d", ticket.playerID, ticket.name, seat)
	}

	mh.flush(ctx, s, dispatcher, logger, false)
	mh.updateLabel(s, dispatcher, logger)
	return s
}

// MatchLeave frees a waiting seat or forfeits a running game. Frames still
// queued for the interrupted move are dropped.
func (mh *matchHandler) MatchLeave(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	s, ok := state.(*MatchState)
	if !ok {
		return state
	}

	for _, p := range presences {
		delete(s.Presences, p.GetSessionId())
		seat := s.seatOf(p)
		if seat < 0 {
			continue
		}
		logger.Info("MatchLeave: seat %d left", seat)
		events := s.App.Leave(s.Game, seat)
		if s.Game.Phase == domain.PhaseAwaitingPlayers {
			s.Seats = append(s.Seats[:seat], s.Seats[seat+1:]...)
		}
		if len(events) > 0 {
			s.Outbox = append(s.Outbox[:0], events...)
		}
	}

	mh.flush(ctx, s, dispatcher, logger, false)
	mh.updateLabel(s, dispatcher, logger)
	if s.Closing || (s.Game.IsFinished() && len(s.Presences) == 0) {
		return nil
	}
	return s
}

// MatchLoop releases one paced frame per tick, then handles client messages.
func (mh *matchHandler) MatchLoop(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, messages []runtime.MatchData) interface{} {
	s, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchLoop: Invalid match state type")
		return nil
	}

	mh.flush(ctx, s, dispatcher, logger, true)

	for _, msg := range messages {
		switch msg.GetOpCode() {
		case OpMove:
			mh.handleMove(ctx, s, dispatcher, logger, msg)
		default:
			mh.sendBadMsg(dispatcher, logger, msg, fmt.Sprintf("unknown msg type: op %d", msg.GetOpCode()))
		}
	}

	mh.flush(ctx, s, dispatcher, logger, false)
	if s.Closing {
		return nil
	}
	return s
}

func (mh *matchHandler) handleMove(ctx context.Context, s *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	decoded, err := protocol.Decode(msg.GetData())
	var moveErr *protocol.MoveMsgError
	switch {
	case errors.As(err, &moveErr):
		mh.sendBadMsg(dispatcher, logger, msg, fmt.Sprintf("MoveMsg bad data: %s", msg.GetData()))
		return
	case err != nil:
		mh.sendBadMsg(dispatcher, logger, msg, fmt.Sprintf("unknown msg type: %s", msg.GetData()))
		return
	}
	moveMsg, ok := decoded.(protocol.MoveMsg)
	if !ok {
		mh.sendBadMsg(dispatcher, logger, msg, fmt.Sprintf("unexpected msg type: %s", decoded.MessageType()))
		return
	}

	seat := int(s.Game.SideToMove())
	if s.Game.Phase != domain.PhaseActive || seat >= len(s.Seats) || s.Seats[seat].GetSessionId() != msg.GetSessionId() {
		mh.sendBadMsg(dispatcher, logger, msg, "permission denied")
		return
	}
	move, err := moveMsg.ToMove()
	if err != nil {
		mh.sendBadMsg(dispatcher, logger, msg, fmt.Sprintf("MoveMsg bad data: %v", err))
		return
	}

	playerID := s.Game.PlayerIDs[seat]
	events, err := s.App.PlayMove(s.Game, seat, playerID, move)
	switch {
	case errors.Is(err, app.ErrIllegalMove):
		logger.Warn("handleMove: player %d sent illegal move %s", playerID, move)
		mh.sendBadMsg(dispatcher, logger, msg, fmt.Sprintf("illegal move: %s", move))
	case err != nil:
		mh.sendBadMsg(dispatcher, logger, msg, err.Error())
		return
	}
	s.Outbox = append(s.Outbox, events...)
}

// flush delivers queued events in order. With allowPaced it may release one
// paced event; otherwise it stops at the first paced event.
func (mh *matchHandler) flush(ctx context.Context, s *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, allowPaced bool) {
	for len(s.Outbox) > 0 {
		ev := s.Outbox[0]
		if ev.Paced && s.PaceFrames {
			if !allowPaced {
				return
			}
			allowPaced = false
		}
		s.Outbox = s.Outbox[1:]
		mh.broadcastEvent(ctx, s, dispatcher, logger, ev)
	}
}

// broadcastEvent converts an app event and sends it to its recipients.
func (mh *matchHandler) broadcastEvent(ctx context.Context, s *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, ev app.Event) {
	var opCode int64
	switch ev.Kind {
	case app.EventGameState:
		opCode = OpGameState
	case app.EventYourMove:
		opCode = OpYourMove
	case app.EventGameOver:
		opCode = OpGameOver
	default:
		logger.Warn("Unknown event kind: %v", ev.Kind)
		return
	}

	msg, err := protocol.FromEvent(ev)
	if err != nil {
		logger.Error("broadcastEvent: %v", err)
		return
	}
	bytes, err := protocol.Encode(msg)
	if err != nil {
		logger.Error("Failed to marshal event %v: %v", ev.Kind, err)
		return
	}

	// Recipients are seats; nil presences broadcast to the whole match.
	var recipients []runtime.Presence
	if len(ev.Recipients) > 0 {
		for _, seat := range ev.Recipients {
			if seat < len(s.Seats) {
				recipients = append(recipients, s.Seats[seat])
			}
		}
		if len(recipients) == 0 {
			return
		}
	}
	if err := dispatcher.BroadcastMessage(opCode, bytes, recipients, nil, true); err != nil {
		logger.Warn("broadcastEvent: %s: %v", ev.Kind, err)
	}

	if ev.Kind == app.EventGameOver {
		mh.recordResult(ctx, s, logger, ev.Payload.(app.GameOverPayload))
		s.Outbox = nil
		s.Closing = true
		mh.updateLabel(s, dispatcher, logger)
	}
}

func (mh *matchHandler) recordResult(ctx context.Context, s *MatchState, logger runtime.Logger, over app.GameOverPayload) {
	logger.Info("endGame: seat %d (player %d) won", over.WinnerSeat, over.WinnerID)
	results := []struct {
		id    int64
		delta ports.ResultDelta
	}{
		{over.WinnerID, ports.ResultDelta{Wins: 1}},
		{over.LoserID, ports.ResultDelta{Loses: 1}},
	}
	for _, r := range results {
		if r.id == domain.Spectator {
			continue
		}
		if err := s.Profiles.RecordResult(ctx, r.id, r.delta); err != nil {
			logger.Error("endGame: record result for %d: %v", r.id, err)
		}
	}
}

// sendBadMsg answers the sender of msg with a BadMsgResp.
func (mh *matchHandler) sendBadMsg(dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData, detail string) {
	bytes, err := protocol.Encode(protocol.NewBadMsg(detail))
	if err != nil {
		logger.Error("Failed to marshal BadMsgResp: %v", err)
		return
	}
	if err := dispatcher.BroadcastMessage(OpBadMsg, bytes, []runtime.Presence{msg}, nil, true); err != nil {
		logger.Warn("sendBadMsg: %v", err)
	}
}

func encodeLabel(s *MatchState) (string, error) {
	label := MatchLabel{
		Game:  labelGame,
		Name:  s.Game.Name,
		Open:  s.OpenSeats(),
		Phase: string(s.Game.Phase),
	}
	bytes, err := json.Marshal(label)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func (mh *matchHandler) updateLabel(s *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) {
	label, err := encodeLabel(s)
	if err != nil {
		logger.Error("UpdateLabel: Failed to marshal: %v", err)
		return
	}
	if err := dispatcher.MatchLabelUpdate(label); err != nil {
		logger.Error("UpdateLabel: Failed to update: %v", err)
	}
}

func (mh *matchHandler) MatchTerminate(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, graceSeconds int) interface{} {
	logger.Debug("MatchTerminate: Match terminated with %d seconds grace", graceSeconds)
	return state
}

func (mh *matchHandler) MatchSignal(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, data string) (interface{}, string) {
	return state, ""
}
