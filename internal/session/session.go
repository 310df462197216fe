// Package session coordinates live games: one actor goroutine per game owns
// its state and connections and delivers the resulting messages in order.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"

	"pylos/internal/app"
	"pylos/internal/domain"
	"pylos/internal/ports"
	"pylos/internal/protocol"
)

var (
	// ErrSessionFinished is returned for requests reaching a finished game.
	ErrSessionFinished = errors.New("session is finished")
	// ErrAlreadySeated is returned when a player connects twice to one game.
	ErrAlreadySeated = errors.New("player already holds a seat in this game")
)

const inboxSize = 16

// Summary is the listing view of a session.
type Summary struct {
	ID           int64        `json:"game_id"`
	Name         string       `json:"game_name"`
	PlayersIDs   []int64      `json:"players_ids"`
	PlayersNames []string     `json:"players_names"`
	IsFinished   bool         `json:"is_finished"`
	Phase        domain.Phase `json:"phase"`
}

// Options configures the sessions created by a Registry.
type Options struct {
	Service  *app.Service
	Profiles ports.ProfilePort
	Logger   runtime.Logger
	// Pace is the pause before each animated state frame.
	Pace time.Duration
	// WriteTimeout bounds each Send; zero means no deadline.
	WriteTimeout time.Duration
}

type connectReq struct {
	ctx      context.Context
	conn     Conn
	playerID int64
	reply    chan error
}

type moveReq struct {
	conn     Conn
	playerID int64
	msg      protocol.MoveMsg
}

// Session is one live game. All game state is owned by the run goroutine.
type Session struct {
	id       int64
	svc      *app.Service
	profiles ports.ProfilePort
	logger   runtime.Logger
	pace     time.Duration
	timeout  time.Duration

	inbox  chan any
	leaves chan Conn
	done   chan struct{}

	// Owned by run.
	game        *domain.Game
	conns       []Conn
	playerConns []Conn

	mu      sync.RWMutex
	summary Summary
}

func newSession(ctx context.Context, id int64, name string, opts Options) *Session {
	s := &Session{
		id:       id,
		svc:      opts.Service,
		profiles: opts.Profiles,
		logger:   opts.Logger.WithField("game_id", id),
		pace:     opts.Pace,
		timeout:  opts.WriteTimeout,
		inbox:    make(chan any, inboxSize),
		leaves:   make(chan Conn, inboxSize),
		done:     make(chan struct{}),
		game:     opts.Service.NewGame(name),
	}
	s.publish()
	go s.run(ctx)
	return s
}

// ID returns the session id.
func (s *Session) ID() int64 { return s.id }

// Summary returns the latest listing view.
func (s *Session) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.summary
	out.PlayersIDs = append([]int64{}, s.summary.PlayersIDs...)
	out.PlayersNames = append([]string{}, s.summary.PlayersNames...)
	return out
}

// Done is closed once the session stopped processing requests.
func (s *Session) Done() <-chan struct{} { return s.done }

// Connect attaches conn. A zero playerID joins as spectator, as does any
// player arriving once both seats are taken.
func (s *Session) Connect(ctx context.Context, conn Conn, playerID int64) error {
	req := connectReq{ctx: ctx, conn: conn, playerID: playerID, reply: make(chan error, 1)}
	select {
	case s.inbox <- req:
	case <-s.done:
		return ErrSessionFinished
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-s.done:
		return ErrSessionFinished
	case <-ctx.Done():
		// The request is already queued; release the seat if it still lands.
		go func() {
			select {
			case err := <-req.reply:
				if err == nil {
					s.Disconnect(conn)
				}
			case <-s.done:
			}
		}()
		return ctx.Err()
	}
}

// Disconnect detaches conn. A seated player leaving an active game forfeits.
func (s *Session) Disconnect(conn Conn) {
	select {
	case s.leaves <- conn:
	case <-s.done:
	}
}

// HandleMove queues a move sent on conn. Rejections are reported to conn as
// BadMsgResp messages.
func (s *Session) HandleMove(ctx context.Context, conn Conn, playerID int64, msg protocol.MoveMsg) error {
	select {
	case s.inbox <- moveReq{conn: conn, playerID: playerID, msg: msg}:
		return nil
	case <-s.done:
		return ErrSessionFinished
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case conn := <-s.leaves:
			s.deliver(ctx, s.leave(conn))
		case req := <-s.inbox:
			switch r := req.(type) {
			case connectReq:
				s.connect(ctx, r)
			case moveReq:
				s.handleMove(ctx, r)
			}
		}
		s.publish()
		if s.game.IsFinished() && len(s.conns) == 0 {
			return
		}
	}
}

func (s *Session) connect(ctx context.Context, req connectReq) {
	if s.game.IsFinished() {
		req.reply <- ErrSessionFinished
		return
	}
	if err := req.ctx.Err(); err != nil {
		req.reply <- err
		return
	}
	if req.playerID == domain.Spectator || len(s.game.PlayerIDs) >= app.PlayersPerGame {
		s.conns = append(s.conns, req.conn)
		req.reply <- nil
		s.logger.Debug("connect: %s joined as spectator", req.conn.ID())
		return
	}
	if s.game.Seat(req.playerID) >= 0 {
		req.reply <- ErrAlreadySeated
		return
	}

	profile, err := s.profiles.Lookup(req.ctx, req.playerID)
	if err != nil {
		req.reply <- fmt.Errorf("lookup player %d: %w", req.playerID, err)
		return
	}
	if err := req.ctx.Err(); err != nil {
		req.reply <- err
		return
	}
	seat, events, err := s.svc.Join(s.game, req.playerID, profile.Name)
	if err != nil {
		req.reply <- err
		return
	}
	s.conns = append(s.conns, req.conn)
	s.playerConns = append(s.playerConns, req.conn)
	req.reply <- nil
	s.logger.Info("connect: player %d (%s) took seat %d", req.playerID, profile.Name, seat)

	s.deliver(ctx, events)
}

func (s *Session) handleMove(ctx context.Context, req moveReq) {
	if !s.authorized(req.conn, req.playerID) {
		s.sendTo(ctx, req.conn, protocol.NewBadMsg("permission denied"))
		return
	}
	move, err := req.msg.ToMove()
	if err != nil {
		s.sendTo(ctx, req.conn, protocol.NewBadMsg(fmt.Sprintf("MoveMsg bad data: %v", err)))
		return
	}

	seat := int(s.game.SideToMove())
	events, err := s.svc.PlayMove(s.game, seat, req.playerID, move)
	switch {
	case errors.Is(err, app.ErrIllegalMove):
		s.logger.Warn("handleMove: player %d sent illegal move %s", req.playerID, move)
		s.sendTo(ctx, req.conn, protocol.NewBadMsg(fmt.Sprintf("illegal move: %s", move)))
	case err != nil:
		s.sendTo(ctx, req.conn, protocol.NewBadMsg(err.Error()))
		return
	}
	s.deliver(ctx, events)
}

// authorized reports whether conn may move now: the player id must match the
// side to move and conn must be the socket registered for that seat.
func (s *Session) authorized(conn Conn, playerID int64) bool {
	if s.game.Phase != domain.PhaseActive {
		return false
	}
	seat := int(s.game.SideToMove())
	return seat < len(s.playerConns) &&
		s.game.PlayerIDs[seat] == playerID &&
		s.playerConns[seat] == conn
}

func (s *Session) leave(conn Conn) []app.Event {
	s.conns = removeConn(s.conns, conn)
	for seat, pc := range s.playerConns {
		if pc != conn {
			continue
		}
		s.logger.Info("disconnect: seat %d left", seat)
		events := s.svc.Leave(s.game, seat)
		if s.game.Phase == domain.PhaseAwaitingPlayers {
			s.playerConns = append(s.playerConns[:seat], s.playerConns[seat+1:]...)
		}
		return events
	}
	return nil
}

// deliver sends events in order. Paced events wait first; a player leaving
// during the wait finishes the game and the remaining frames are dropped.
func (s *Session) deliver(ctx context.Context, events []app.Event) {
	for _, ev := range events {
		if ev.Paced {
			if forfeit := s.pause(ctx); forfeit != nil {
				s.deliver(ctx, forfeit)
				return
			}
		}
		s.dispatch(ctx, ev)
	}
}

func (s *Session) pause(ctx context.Context) []app.Event {
	if s.pace <= 0 {
		return nil
	}
	timer := time.NewTimer(s.pace)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		case conn := <-s.leaves:
			if events := s.leave(conn); len(events) > 0 {
				return events
			}
		}
	}
}

func (s *Session) dispatch(ctx context.Context, ev app.Event) {
	msg, err := protocol.FromEvent(ev)
	if err != nil {
		s.logger.Error("dispatch: %v", err)
		return
	}

	if len(ev.Recipients) == 0 {
		for _, conn := range s.conns {
			s.sendTo(ctx, conn, msg)
		}
	} else {
		for _, seat := range ev.Recipients {
			if seat < len(s.playerConns) {
				s.sendTo(ctx, s.playerConns[seat], msg)
			}
		}
	}

	if ev.Kind == app.EventGameOver {
		s.recordResult(ctx, ev.Payload.(app.GameOverPayload))
		s.closeAll()
	}
}

func (s *Session) recordResult(ctx context.Context, over app.GameOverPayload) {
	s.logger.Info("endGame: seat %d (player %d) won", over.WinnerSeat, over.WinnerID)
	if over.WinnerID != domain.Spectator {
		if err := s.profiles.RecordResult(ctx, over.WinnerID, ports.ResultDelta{Wins: 1}); err != nil {
			s.logger.Error("endGame: record win for %d: %v", over.WinnerID, err)
		}
	}
	if over.LoserID != domain.Spectator {
		if err := s.profiles.RecordResult(ctx, over.LoserID, ports.ResultDelta{Loses: 1}); err != nil {
			s.logger.Error("endGame: record loss for %d: %v", over.LoserID, err)
		}
	}
}

func (s *Session) sendTo(ctx context.Context, conn Conn, msg protocol.Message) {
	sendCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := conn.Send(sendCtx, msg); err != nil {
		s.logger.Warn("send: %s to %s failed: %v", msg.MessageType(), conn.ID(), err)
	}
}

func (s *Session) closeAll() {
	for _, conn := range s.conns {
		if err := conn.Close(); err != nil {
			s.logger.Debug("close: %s: %v", conn.ID(), err)
		}
	}
	s.conns = nil
	s.playerConns = nil
}

func (s *Session) publish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = Summary{
		ID:           s.id,
		Name:         s.game.Name,
		PlayersIDs:   append([]int64{}, s.game.PlayerIDs...),
		PlayersNames: append([]string{}, s.game.PlayerNames...),
		IsFinished:   s.game.IsFinished(),
		Phase:        s.game.Phase,
	}
}

func removeConn(conns []Conn, conn Conn) []Conn {
	for i, c := range conns {
		if c == conn {
			return append(conns[:i], conns[i+1:]...)
		}
	}
	return conns
}
