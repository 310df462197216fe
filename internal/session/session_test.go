package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"

	"pylos/internal/app"
	"pylos/internal/bot"
	"pylos/internal/domain"
	"pylos/internal/ports"
	"pylos/internal/protocol"
)

const waitTimeout = 5 * time.Second

// noopLogger implements runtime.Logger for tests that only need to satisfy the interface.
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})                     {}
func (noopLogger) Info(string, ...interface{})                      {}
func (noopLogger) Warn(string, ...interface{})                      {}
func (noopLogger) Error(string, ...interface{})                     {}
func (noopLogger) WithField(string, interface{}) runtime.Logger     { return noopLogger{} }
func (noopLogger) WithFields(map[string]interface{}) runtime.Logger { return noopLogger{} }
func (noopLogger) Fields() map[string]interface{}                   { return nil }

// fakeConn records sent messages and forwards them on a channel.
type fakeConn struct {
	id     string
	mu     sync.Mutex
	closed bool
	sent   chan protocol.Message
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, sent: make(chan protocol.Message, 1024)}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ctx context.Context, msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.sent <- msg
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.sent)
	}
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// next returns the next message or fails after waitTimeout.
func (c *fakeConn) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-c.sent:
		if !ok {
			t.Fatalf("%s: connection closed while waiting", c.id)
		}
		return msg
	case <-time.After(waitTimeout):
		t.Fatalf("%s: timed out waiting for a message", c.id)
	}
	return nil
}

// nextOf skips messages until one of type T arrives.
func nextOf[T protocol.Message](t *testing.T, c *fakeConn) T {
	t.Helper()
	for {
		if m, ok := c.next(t).(T); ok {
			return m
		}
	}
}

// drain collects everything until the connection is closed.
func (c *fakeConn) drain(t *testing.T) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	deadline := time.After(waitTimeout)
	for {
		select {
		case msg, ok := <-c.sent:
			if !ok {
				return out
			}
			out = append(out, msg)
		case <-deadline:
			t.Fatalf("%s: not closed in time", c.id)
		}
	}
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[int64]ports.Profile
	// onLookup runs at the start of every Lookup when set.
	onLookup func()
}

func newFakeProfiles(ids ...int64) *fakeProfiles {
	p := &fakeProfiles{profiles: make(map[int64]ports.Profile)}
	for _, id := range ids {
		p.profiles[id] = ports.Profile{ID: id, Name: fmt.Sprintf("player%d", id)}
	}
	return p
}

func (p *fakeProfiles) Lookup(ctx context.Context, id int64) (ports.Profile, error) {
	p.mu.Lock()
	hook := p.onLookup
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	prof, ok := p.profiles[id]
	if !ok {
		return ports.Profile{}, ports.ErrProfileNotFound
	}
	return prof, nil
}

func (p *fakeProfiles) RecordResult(ctx context.Context, id int64, delta ports.ResultDelta) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	prof, ok := p.profiles[id]
	if !ok {
		return ports.ErrProfileNotFound
	}
	prof.Wins += delta.Wins
	prof.Loses += delta.Loses
	p.profiles[id] = prof
	return nil
}

func (p *fakeProfiles) setOnLookup(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLookup = fn
}

func (p *fakeProfiles) get(id int64) ports.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profiles[id]
}

func newTestSession(t *testing.T, pace time.Duration, profiles *fakeProfiles) *Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	reg := NewRegistry(ctx, Options{
		Service:      app.NewService(0),
		Profiles:     profiles,
		Logger:       noopLogger{},
		Pace:         pace,
		WriteTimeout: time.Second,
	})
	sum, err := reg.Create("test")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s, err := reg.Get(sum.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return s
}

func connect(t *testing.T, s *Session, conn Conn, playerID int64) {
	t.Helper()
	if err := s.Connect(context.Background(), conn, playerID); err != nil {
		t.Fatalf("connect %d: %v", playerID, err)
	}
}

// startGame seats players 1 and 2 and consumes the opening messages.
func startGame(t *testing.T, s *Session) (*fakeConn, *fakeConn) {
	t.Helper()
	c1, c2 := newFakeConn("p1"), newFakeConn("p2")
	connect(t, s, c1, 1)
	connect(t, s, c2, 2)
	nextOf[protocol.GameStateMsg](t, c1)
	nextOf[protocol.GameStateMsg](t, c2)
	nextOf[protocol.YourMoveMsg](t, c2)
	return c1, c2
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("session did not stop")
	}
}

func putMsg(x, y, level int) protocol.MoveMsg {
	m := protocol.FromMove(domain.Put(domain.Coord{X: x, Y: y, Level: level}))
	m.Type = protocol.TypeMove
	return m
}

func TestConnectStartsGame(t *testing.T) {
	s := newTestSession(t, 0, newFakeProfiles(1, 2))
	spectator := newFakeConn("spec")
	connect(t, s, spectator, domain.Spectator)

	c1, c2 := newFakeConn("p1"), newFakeConn("p2")
	connect(t, s, c1, 1)
	if got := s.Summary(); got.Phase != domain.PhaseAwaitingPlayers || len(got.PlayersIDs) != 1 {
		t.Fatalf("summary after first player = %+v", got)
	}
	connect(t, s, c2, 2)

	state := nextOf[protocol.GameStateMsg](t, spectator)
	if state.Turn != 0 || len(state.Legal) != 16 {
		t.Fatalf("opening state turn=%d legal=%d", state.Turn, len(state.Legal))
	}
	if state.PlayersNames[0] != "player1" || state.PlayersNames[1] != "player2" {
		t.Fatalf("names = %v", state.PlayersNames)
	}
	nextOf[protocol.GameStateMsg](t, c1)
	if _, ok := c2.next(t).(protocol.GameStateMsg); !ok {
		t.Fatalf("seat 1 should first receive the broadcast")
	}
	if _, ok := c2.next(t).(protocol.YourMoveMsg); !ok {
		t.Fatalf("seat 1 should then receive your move")
	}
	if got := s.Summary(); got.Phase != domain.PhaseActive || len(got.PlayersNames) != 2 {
		t.Fatalf("summary after start = %+v", got)
	}
}

func TestConnectEdgeCases(t *testing.T) {
	s := newTestSession(t, 0, newFakeProfiles(1, 2, 3))

	if err := s.Connect(context.Background(), newFakeConn("ghost"), 42); !errors.Is(err, ports.ErrProfileNotFound) {
		t.Fatalf("unknown player err = %v", err)
	}
	connect(t, s, newFakeConn("p1"), 1)
	if err := s.Connect(context.Background(), newFakeConn("p1b"), 1); !errors.Is(err, ErrAlreadySeated) {
		t.Fatalf("duplicate player err = %v", err)
	}
	connect(t, s, newFakeConn("p2"), 2)

	third := newFakeConn("p3")
	connect(t, s, third, 3)
	if got := s.Summary(); len(got.PlayersIDs) != 2 {
		t.Fatalf("third player should not take a seat: %v", got.PlayersIDs)
	}
}

func TestCancelledConnectDoesNotTakeSeat(t *testing.T) {
	for i := 0; i < 20; i++ {
		profiles := newFakeProfiles(1, 2)
		s := newTestSession(t, 0, profiles)

		ctx, cancel := context.WithCancel(context.Background())
		profiles.setOnLookup(cancel)
		if err := s.Connect(ctx, newFakeConn("gone"), 1); err == nil {
			t.Fatalf("run %d: connect with cancelled ctx succeeded", i)
		}
		profiles.setOnLookup(nil)

		// Requests are handled in order, so the cancelled one is settled by now.
		connect(t, s, newFakeConn("p2"), 2)
		sum := s.Summary()
		if len(sum.PlayersIDs) != 1 || sum.PlayersIDs[0] != 2 {
			t.Fatalf("run %d: players = %v, want [2]", i, sum.PlayersIDs)
		}
	}
}

func TestMoveFromWrongPlayerIsDenied(t *testing.T) {
	s := newTestSession(t, 0, newFakeProfiles(1, 2))
	c1, c2 := startGame(t, s)

	tests := []struct {
		name     string
		conn     *fakeConn
		playerID int64
	}{
		{name: "not their turn", conn: c1, playerID: 1},
		{name: "claims other id", conn: c1, playerID: 2},
		{name: "right socket wrong id", conn: c2, playerID: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.HandleMove(context.Background(), tt.conn, tt.playerID, putMsg(0, 0, 0)); err != nil {
				t.Fatalf("HandleMove: %v", err)
			}
			bad := nextOf[protocol.BadMsgResp](t, tt.conn)
			if bad.Detail != "permission denied" {
				t.Fatalf("detail = %q", bad.Detail)
			}
		})
	}
	if got := s.Summary(); got.Phase != domain.PhaseActive {
		t.Fatalf("denied moves must not change the game: %+v", got)
	}
}

func TestPutBroadcastsFramesAndNotifiesNextPlayer(t *testing.T) {
	s := newTestSession(t, time.Millisecond, newFakeProfiles(1, 2))
	c1, c2 := startGame(t, s)

	if err := s.HandleMove(context.Background(), c2, 2, putMsg(1, 2, 0)); err != nil {
		t.Fatalf("HandleMove: %v", err)
	}
	for i := 0; i < 2; i++ {
		state := nextOf[protocol.GameStateMsg](t, c1)
		if state.Turn != 1 || state.Board[0][1][2] != 2 || state.Tokens[1] != 14 {
			t.Fatalf("frame %d: turn=%d cell=%d tokens=%v", i, state.Turn, state.Board[0][1][2], state.Tokens)
		}
	}
	your := c1.next(t)
	if _, ok := your.(protocol.YourMoveMsg); !ok {
		t.Fatalf("seat 0 should receive your move, got %T", your)
	}
}

func TestIllegalMoveForfeitsAndRecordsResult(t *testing.T) {
	profiles := newFakeProfiles(1, 2)
	s := newTestSession(t, 0, profiles)
	c1, c2 := startGame(t, s)

	if err := s.HandleMove(context.Background(), c2, 2, putMsg(0, 0, 2)); err != nil {
		t.Fatalf("HandleMove: %v", err)
	}
	bad := nextOf[protocol.BadMsgResp](t, c2)
	if bad.Detail == "" {
		t.Fatalf("expected illegal move detail")
	}
	over := nextOf[protocol.GameOverMsg](t, c1)
	if over.WinnerID != 1 || over.WinnerName != "player1" || over.WinnerTokens != 15 {
		t.Fatalf("game over = %+v", over)
	}
	c1.drain(t)
	c2.drain(t)
	waitDone(t, s)

	if p := profiles.get(1); p.Wins != 1 || p.Loses != 0 {
		t.Fatalf("winner profile = %+v", p)
	}
	if p := profiles.get(2); p.Loses != 1 || p.Wins != 0 {
		t.Fatalf("loser profile = %+v", p)
	}
	if err := s.Connect(context.Background(), newFakeConn("late"), 0); !errors.Is(err, ErrSessionFinished) {
		t.Fatalf("connect after finish err = %v", err)
	}
	if got := s.Summary(); !got.IsFinished {
		t.Fatalf("summary should be finished")
	}
}

func TestDisconnectForfeits(t *testing.T) {
	for _, leaver := range []int{0, 1} {
		t.Run(fmt.Sprintf("seat %d", leaver), func(t *testing.T) {
			s := newTestSession(t, 0, newFakeProfiles(1, 2))
			c1, c2 := startGame(t, s)
			spectator := newFakeConn("spec")
			connect(t, s, spectator, 0)

			conns := []*fakeConn{c1, c2}
			s.Disconnect(conns[leaver])
			stayer := conns[1-leaver]

			over := nextOf[protocol.GameOverMsg](t, stayer)
			if want := int64(2 - leaver); over.WinnerID != want {
				t.Fatalf("winner = %d, want %d", over.WinnerID, want)
			}
			if got := nextOf[protocol.GameOverMsg](t, spectator); got != over {
				t.Fatalf("spectator summary %+v != %+v", got, over)
			}
			stayer.drain(t)
			waitDone(t, s)
			if !spectator.isClosed() {
				t.Fatalf("spectator should be closed")
			}
		})
	}
}

func TestDisconnectWhileWaitingFreesSeat(t *testing.T) {
	s := newTestSession(t, 0, newFakeProfiles(1, 2, 3))
	c1 := newFakeConn("p1")
	connect(t, s, c1, 1)
	s.Disconnect(c1)
	eventually(t, func() bool { return len(s.Summary().PlayersIDs) == 0 })

	c2, c3 := newFakeConn("p2"), newFakeConn("p3")
	connect(t, s, c2, 2)
	connect(t, s, c3, 3)

	state := nextOf[protocol.GameStateMsg](t, c2)
	if len(state.PlayersIDs) != 2 || state.PlayersIDs[0] != 2 || state.PlayersIDs[1] != 3 {
		t.Fatalf("players = %v, want [2 3]", state.PlayersIDs)
	}
}

func TestDisconnectDuringPacingAbortsFrames(t *testing.T) {
	s := newTestSession(t, time.Hour, newFakeProfiles(1, 2))
	c1, c2 := startGame(t, s)

	if err := s.HandleMove(context.Background(), c2, 2, putMsg(0, 0, 0)); err != nil {
		t.Fatalf("HandleMove: %v", err)
	}
	s.Disconnect(c1)

	msgs := c2.drain(t)
	if len(msgs) == 0 {
		t.Fatalf("expected a game over summary")
	}
	for _, msg := range msgs {
		if _, ok := msg.(protocol.GameStateMsg); ok {
			t.Fatalf("paced frames should be dropped after a forfeit")
		}
	}
	over, ok := msgs[0].(protocol.GameOverMsg)
	if !ok || over.WinnerID != 2 {
		t.Fatalf("first message = %#v, want game over for player 2", msgs[0])
	}
	waitDone(t, s)
}

// playBot answers turn notices on conn with moves chosen by agent and checks
// every state frame it sees.
func playBot(t *testing.T, s *Session, conn *fakeConn, agent *bot.Agent, frames chan<- protocol.GameStateMsg) *protocol.GameOverMsg {
	for msg := range conn.sent {
		if st, ok := msg.(protocol.GameStateMsg); ok && frames != nil {
			frames <- st
		}
		d, err := agent.OnMessage(msg)
		if err != nil {
			t.Errorf("agent %d: %v", agent.PlayerID, err)
			return nil
		}
		if d.GameOver != nil {
			return d.GameOver
		}
		if d.Move != nil {
			if err := s.HandleMove(context.Background(), conn, agent.PlayerID, *d.Move); err != nil {
				t.Errorf("agent %d move: %v", agent.PlayerID, err)
				return nil
			}
		}
	}
	return nil
}

func TestRandomBotsPlayToCompletion(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			profiles := newFakeProfiles(1, 2)
			s := newTestSession(t, 0, profiles)
			c1, c2 := newFakeConn("p1"), newFakeConn("p2")

			frames := make(chan protocol.GameStateMsg, 4096)
			results := make(chan *protocol.GameOverMsg, 2)
			var wg sync.WaitGroup
			for i, c := range []*fakeConn{c1, c2} {
				agent := &bot.Agent{PlayerID: int64(i + 1), Strategy: bot.NewRandomBot(seed*10 + int64(i))}
				var out chan<- protocol.GameStateMsg
				if i == 0 {
					out = frames
				}
				wg.Add(1)
				go func(c *fakeConn) {
					defer wg.Done()
					results <- playBot(t, s, c, agent, out)
				}(c)
			}
			connect(t, s, c1, 1)
			connect(t, s, c2, 2)
			wg.Wait()
			close(results)
			close(frames)

			var winner int64
			for r := range results {
				if r == nil {
					t.Fatalf("a bot did not see the game over")
				}
				winner = r.WinnerID
			}
			for st := range frames {
				for seat := 0; seat < 2; seat++ {
					onBoard := 0
					for _, level := range st.Board {
						for _, row := range level {
							for _, cell := range row {
								if cell == seat+1 {
									onBoard++
								}
							}
						}
					}
					if onBoard+st.Tokens[seat] != domain.InitialTokens {
						t.Fatalf("turn %d seat %d: %d on board + %d reserve", st.Turn, seat, onBoard, st.Tokens[seat])
					}
				}
			}
			loser := int64(3) - winner
			if profiles.get(winner).Wins != 1 || profiles.get(loser).Loses != 1 {
				t.Fatalf("results not recorded: %+v %+v", profiles.get(winner), profiles.get(loser))
			}
			waitDone(t, s)
		})
	}
}
