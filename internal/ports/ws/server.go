// Package ws serves the standalone websocket and HTTP surface of the game server.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/heroiclabs/nakama-common/runtime"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"pylos/internal/auth"
	"pylos/internal/logging"
	"pylos/internal/ports"
	"pylos/internal/protocol"
	"pylos/internal/session"
)

// Config wires a Server.
type Config struct {
	Registry *session.Registry
	Players  ports.PlayerDirectory
	// Tokens enables player token checks when set.
	Tokens *auth.TokenService
	Logger runtime.Logger
	// Origins lists allowed websocket origin patterns; "*" allows any.
	Origins  []string
	MsgRate  float64
	MsgBurst int
}

// Server exposes game listing, player registration and the game socket.
type Server struct {
	registry *session.Registry
	players  ports.PlayerDirectory
	tokens   *auth.TokenService
	logger   runtime.Logger
	accept   websocket.AcceptOptions
	msgRate  rate.Limit
	msgBurst int
}

// NewServer validates cfg and returns a Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil || cfg.Players == nil {
		return nil, fmt.Errorf("registry and player directory are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.MsgRate <= 0 || cfg.MsgBurst <= 0 {
		return nil, fmt.Errorf("message rate and burst must be positive")
	}
	accept := websocket.AcceptOptions{OriginPatterns: cfg.Origins}
	for _, o := range cfg.Origins {
		if o == "*" {
			accept = websocket.AcceptOptions{InsecureSkipVerify: true}
			break
		}
	}
	return &Server{
		registry: cfg.Registry,
		players:  cfg.Players,
		tokens:   cfg.Tokens,
		logger:   cfg.Logger,
		accept:   accept,
		msgRate:  rate.Limit(cfg.MsgRate),
		msgBurst: cfg.MsgBurst,
	}, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /player/new/{name}", s.handlePlayerNew)
	mux.HandleFunc("GET /player/list", s.handlePlayerList)
	mux.HandleFunc("POST /game/new", s.handleGameNew)
	mux.HandleFunc("GET /game/search/{name}", s.handleGameSearch)
	mux.HandleFunc("GET /game/list", s.handleGameList)
	mux.HandleFunc("GET /game/connect", s.handleConnect)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

type playerResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Wins     int    `json:"wins"`
	Loses    int    `json:"loses"`
	Token    string `json:"token,omitempty"`
}

func toPlayerResponse(p ports.Profile) playerResponse {
	return playerResponse{ID: p.ID, Username: p.Name, Wins: p.Wins, Loses: p.Loses}
}

func (s *Server) handlePlayerNew(w http.ResponseWriter, r *http.Request) {
	profile, err := s.players.CreatePlayer(r.Context(), r.PathValue("name"))
	switch {
	case errors.Is(err, ports.ErrPlayerNameTaken):
		writeError(w, http.StatusConflict, "player with this name already exists!")
		return
	case errors.Is(err, ports.ErrInvalidPlayerName):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("handlePlayerNew: %v", err)
		writeError(w, http.StatusInternalServerError, "could not create player")
		return
	}

	resp := toPlayerResponse(profile)
	if s.tokens != nil {
		token, err := s.tokens.GenerateToken(profile.ID)
		if err != nil {
			s.logger.Error("handlePlayerNew: token for %d: %v", profile.ID, err)
			writeError(w, http.StatusInternalServerError, "could not issue token")
			return
		}
		resp.Token = token
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePlayerList(w http.ResponseWriter, r *http.Request) {
	players, err := s.players.ListPlayers(r.Context())
	if err != nil {
		s.logger.Error("handlePlayerList: %v", err)
		writeError(w, http.StatusInternalServerError, "could not list players")
		return
	}
	out := make([]playerResponse, len(players))
	for i, p := range players {
		out[i] = toPlayerResponse(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGameNew(w http.ResponseWriter, r *http.Request) {
	sum, err := s.registry.Create(r.URL.Query().Get("name"))
	switch {
	case errors.Is(err, session.ErrNameConflict):
		writeError(w, http.StatusConflict, "game with this name already exists!")
	case errors.Is(err, session.ErrEmptyName):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, sum)
	}
}

func (s *Server) handleGameSearch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Search(r.PathValue("name")))
}

func (s *Server) handleGameList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	gameID, err := strconv.ParseInt(q.Get("game_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "game_id must be an integer")
		return
	}
	var playerID int64
	if raw := q.Get("player_id"); raw != "" {
		if playerID, err = strconv.ParseInt(raw, 10, 64); err != nil || playerID < 0 {
			writeError(w, http.StatusBadRequest, "player_id must be a non-negative integer")
			return
		}
	}
	sess, err := s.registry.Get(gameID)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("there is no game with id = %d!", gameID))
		return
	}
	if s.tokens != nil && playerID != 0 {
		if err := s.tokens.Authorize(q.Get("token"), playerID); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	c, err := websocket.Accept(w, r, &s.accept)
	if err != nil {
		s.logger.Warn("handleConnect: accept: %v", err)
		return
	}
	wc := newConn(c)
	logger := s.logger.WithFields(map[string]interface{}{"game_id": gameID, "conn": wc.ID()})

	if err := sess.Connect(r.Context(), wc, playerID); err != nil {
		logger.Info("handleConnect: player %d rejected: %v", playerID, err)
		_ = c.Close(websocket.StatusPolicyViolation, truncateReason(err.Error()))
		return
	}
	logger.Debug("handleConnect: player %d connected", playerID)

	s.readLoop(r.Context(), sess, wc, playerID, logger)
	sess.Disconnect(wc)
	logger.Debug("handleConnect: player %d disconnected", playerID)
}

func (s *Server) readLoop(ctx context.Context, sess *session.Session, wc *conn, playerID int64, logger runtime.Logger) {
	limiter := rate.NewLimiter(s.msgRate, s.msgBurst)
	for {
		_, data, err := wc.c.Read(ctx)
		if err != nil {
			return
		}
		if !limiter.Allow() {
			s.reply(ctx, wc, "rate limit exceeded")
			continue
		}

		msg, err := protocol.Decode(data)
		var moveErr *protocol.MoveMsgError
		switch {
		case errors.Is(err, protocol.ErrUnknownType), errors.Is(err, protocol.ErrMalformed):
			s.reply(ctx, wc, fmt.Sprintf("unknown msg type: %s", data))
			continue
		case errors.As(err, &moveErr):
			s.reply(ctx, wc, fmt.Sprintf("MoveMsg bad data: %s", data))
			continue
		case err != nil:
			logger.Warn("readLoop: decode: %v", err)
			continue
		}

		move, ok := msg.(protocol.MoveMsg)
		if !ok {
			s.reply(ctx, wc, fmt.Sprintf("unexpected msg type: %s", msg.MessageType()))
			continue
		}
		if err := sess.HandleMove(ctx, wc, playerID, move); err != nil {
			logger.Debug("readLoop: move not queued: %v", err)
			return
		}
	}
}

func (s *Server) reply(ctx context.Context, wc *conn, detail string) {
	if err := wc.Send(ctx, protocol.NewBadMsg(detail)); err != nil {
		s.logger.Debug("reply: %v", err)
	}
}

// truncateReason keeps close reasons inside the 123 byte frame limit.
func truncateReason(reason string) string {
	if len(reason) > 120 {
		return reason[:120]
	}
	return reason
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
