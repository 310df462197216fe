// Package protocol defines the JSON messages exchanged with game clients.
// Every message carries a "type" discriminator naming the message.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"pylos/internal/domain"
)

// MsgType is the value of the "type" discriminator.
type MsgType string

const (
	TypeMove      MsgType = "MoveMsg"
	TypeGameState MsgType = "GameStateMsg"
	TypeYourMove  MsgType = "YourMoveMsg"
	TypeGameOver  MsgType = "GameOverMsg"
	TypeBadMsg    MsgType = "BadMsgResp"
)

var (
	// ErrUnknownType is returned for a message whose type is not recognised.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMalformed is returned when the payload is not a JSON object.
	ErrMalformed = errors.New("malformed message")
)

// MoveMsgError reports a move message with missing or out-of-range fields.
type MoveMsgError struct {
	Field  string
	Reason string
}

func (e *MoveMsgError) Error() string {
	return fmt.Sprintf("invalid move message: %s %s", e.Field, e.Reason)
}

// Message is implemented by every protocol message.
type Message interface {
	MessageType() MsgType
}

// MoveMsg is a move sent by a client. The same shape, without the type
// field, lists legal moves inside state messages.
type MoveMsg struct {
	Type  MsgType `json:"type,omitempty"`
	Cat   string  `json:"cat"`
	X     int     `json:"x"`
	Y     int     `json:"y"`
	Level int     `json:"level"`

	TakeX     *int `json:"take_x,omitempty"`
	TakeY     *int `json:"take_y,omitempty"`
	TakeLevel *int `json:"take_level,omitempty"`

	// A level of -1 marks a square with a single removal.
	TakeSqX     *int `json:"take_sq_x,omitempty"`
	TakeSqY     *int `json:"take_sq_y,omitempty"`
	TakeSqLevel *int `json:"take_sq_level,omitempty"`
}

// StateFields is shared by GameStateMsg and YourMoveMsg.
type StateFields struct {
	Turn         int       `json:"turn"`
	PlayersIDs   []int64   `json:"players_ids"`
	PlayersNames []string  `json:"players_names"`
	Tokens       []int     `json:"tokens"`
	Board        [][][]int `json:"board"`
	Legal        []MoveMsg `json:"legal"`
}

// GameStateMsg is broadcast after every state change.
type GameStateMsg struct {
	Type MsgType `json:"type"`
	StateFields
}

// YourMoveMsg is sent privately to the player expected to move.
type YourMoveMsg struct {
	Type MsgType `json:"type"`
	StateFields
}

// GameOverMsg summarizes a finished game.
type GameOverMsg struct {
	Type         MsgType `json:"type"`
	WinnerID     int64   `json:"winner_id"`
	WinnerName   string  `json:"winner_name"`
	WinnerTokens int     `json:"winner_tokens"`
}

// BadMsgResp tells a client why its message was rejected.
type BadMsgResp struct {
	Type   MsgType `json:"type"`
	Detail string  `json:"detail"`
}

func (MoveMsg) MessageType() MsgType      { return TypeMove }
func (GameStateMsg) MessageType() MsgType { return TypeGameState }
func (YourMoveMsg) MessageType() MsgType  { return TypeYourMove }
func (GameOverMsg) MessageType() MsgType  { return TypeGameOver }
func (BadMsgResp) MessageType() MsgType   { return TypeBadMsg }

// NewBadMsg builds a BadMsgResp.
func NewBadMsg(detail string) BadMsgResp {
	return BadMsgResp{Type: TypeBadMsg, Detail: detail}
}

// Encode marshals msg, forcing its type discriminator.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case MoveMsg:
		m.Type = TypeMove
		return json.Marshal(m)
	case GameStateMsg:
		m.Type = TypeGameState
		return json.Marshal(m)
	case YourMoveMsg:
		m.Type = TypeYourMove
		return json.Marshal(m)
	case GameOverMsg:
		m.Type = TypeGameOver
		return json.Marshal(m)
	case BadMsgResp:
		m.Type = TypeBadMsg
		return json.Marshal(m)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}
}

// Decode parses one message. Move messages are validated; other message
// types are decoded as is.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type MsgType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch envelope.Type {
	case TypeMove:
		return decodeMove(data)
	case TypeGameState:
		var m GameStateMsg
		return decodeInto(data, &m)
	case TypeYourMove:
		var m YourMoveMsg
		return decodeInto(data, &m)
	case TypeGameOver:
		var m GameOverMsg
		return decodeInto(data, &m)
	case TypeBadMsg:
		var m BadMsgResp
		return decodeInto(data, &m)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, envelope.Type)
	}
}

func decodeInto[T Message](data []byte, m *T) (Message, error) {
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return *m, nil
}

// rawMove mirrors MoveMsg with every field optional so missing keys can be told
// apart from zero values.
type rawMove struct {
	Cat         *string `json:"cat"`
	X           *int    `json:"x"`
	Y           *int    `json:"y"`
	Level       *int    `json:"level"`
	TakeX       *int    `json:"take_x"`
	TakeY       *int    `json:"take_y"`
	TakeLevel   *int    `json:"take_level"`
	TakeSqX     *int    `json:"take_sq_x"`
	TakeSqY     *int    `json:"take_sq_y"`
	TakeSqLevel *int    `json:"take_sq_level"`
}

func decodeMove(data []byte) (Message, error) {
	var raw rawMove
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MoveMsgError{Field: "payload", Reason: err.Error()}
	}
	required := []struct {
		name string
		set  bool
	}{
		{"cat", raw.Cat != nil},
		{"x", raw.X != nil},
		{"y", raw.Y != nil},
		{"level", raw.Level != nil},
	}
	for _, f := range required {
		if !f.set {
			return nil, &MoveMsgError{Field: f.name, Reason: "is required"}
		}
	}

	m := MoveMsg{Type: TypeMove, Cat: *raw.Cat, X: *raw.X, Y: *raw.Y, Level: *raw.Level}
	switch domain.MoveKind(m.Cat) {
	case domain.KindPut:
	case domain.KindMoveUp, domain.KindSquare:
		if raw.TakeX == nil || raw.TakeY == nil || raw.TakeLevel == nil {
			return nil, &MoveMsgError{Field: "take", Reason: "is required for " + m.Cat}
		}
		m.TakeX, m.TakeY, m.TakeLevel = raw.TakeX, raw.TakeY, raw.TakeLevel
		if domain.MoveKind(m.Cat) == domain.KindSquare {
			if raw.TakeSqX == nil || raw.TakeSqY == nil || raw.TakeSqLevel == nil {
				return nil, &MoveMsgError{Field: "take_sq", Reason: "is required for square"}
			}
			m.TakeSqX, m.TakeSqY, m.TakeSqLevel = raw.TakeSqX, raw.TakeSqY, raw.TakeSqLevel
		}
	default:
		return nil, &MoveMsgError{Field: "cat", Reason: fmt.Sprintf("%q is not put, move or square", m.Cat)}
	}

	if m.Level < 0 || m.Level >= domain.Levels {
		return nil, &MoveMsgError{Field: "level", Reason: "out of range"}
	}
	size := domain.LevelSize(m.Level)
	if m.X < 0 || m.X >= size {
		return nil, &MoveMsgError{Field: "x", Reason: "out of range"}
	}
	if m.Y < 0 || m.Y >= size {
		return nil, &MoveMsgError{Field: "y", Reason: "out of range"}
	}
	return m, nil
}
