package types

import (
	"encoding/json"

	"github.com/DoyleJ11/pong-arena-backend/internal/engine"
)

type MessageType string

const (
	MsgPlayerJoined       MessageType = "player_joined"
	MsgPlayerReady        MessageType = "player_ready"
	MsgPlayerLeft         MessageType = "player_left"
	MsgPlayerDisconnected MessageType = "player_disconnected"
	MsgGameStarting       MessageType = "game_starting"
	MsgGameState          MessageType = "game_state"
	MsgPointScored        MessageType = "point_scored"
	MsgGamePaused         MessageType = "game_paused"
	MsgGameResumed        MessageType = "game_resumed"
	MsgGameEnded          MessageType = "game_ended"
	MsgError              MessageType = "error"
)

// ServerMessage is one outbound frame. Payload is marshalled as-is.
type ServerMessage struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

func (m ServerMessage) Marshal() ([]byte, error) { return json.Marshal(m) }

type PlayerJoinedPayload struct {
	Side     engine.Side `json:"side"`
	UserID   string      `json:"userId"`
	Username string      `json:"username"`
}

type PlayerPayload struct {
	UserID string `json:"userId"`
}

type PlayerReadyPayload struct {
	UserID string `json:"userId"`
	Ready  bool   `json:"ready"`
}

type GameStartingPayload struct {
	StartTime int64 `json:"startTime"` // unix millis
}

type PointScoredPayload struct {
	Side  engine.Side         `json:"side"`
	Score engine.ScorePayload `json:"score"`
}

type GameEndedPayload struct {
	WinnerID   string              `json:"winnerId,omitempty"`
	FinalScore engine.ScorePayload `json:"finalScore"`
	Duration   int64               `json:"duration"` // millis of play
	Reason     string              `json:"reason,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type empty struct{}

func PlayerJoined(side engine.Side, id engine.Identity) ServerMessage {
	return ServerMessage{Type: MsgPlayerJoined, Payload: PlayerJoinedPayload{Side: side, UserID: id.Key(), Username: id.DisplayName}}
}

func PlayerReady(userID string, ready bool) ServerMessage {
	return ServerMessage{Type: MsgPlayerReady, Payload: PlayerReadyPayload{UserID: userID, Ready: ready}}
}

func PlayerLeft(userID string) ServerMessage {
	return ServerMessage{Type: MsgPlayerLeft, Payload: PlayerPayload{UserID: userID}}
}

func PlayerDisconnected(userID string) ServerMessage {
	return ServerMessage{Type: MsgPlayerDisconnected, Payload: PlayerPayload{UserID: userID}}
}

func GameStarting(startMillis int64) ServerMessage {
	return ServerMessage{Type: MsgGameStarting, Payload: GameStartingPayload{StartTime: startMillis}}
}

func GameState(state engine.StatePayload) ServerMessage {
	return ServerMessage{Type: MsgGameState, Payload: state}
}

func PointScored(side engine.Side, score [2]int) ServerMessage {
	return ServerMessage{Type: MsgPointScored, Payload: PointScoredPayload{Side: side, Score: scorePayload(score)}}
}

func GamePaused() ServerMessage  { return ServerMessage{Type: MsgGamePaused, Payload: empty{}} }
func GameResumed() ServerMessage { return ServerMessage{Type: MsgGameResumed, Payload: empty{}} }

func GameEnded(res engine.Result) ServerMessage {
	return ServerMessage{Type: MsgGameEnded, Payload: GameEndedPayload{
		WinnerID:   res.WinnerKey(),
		FinalScore: scorePayload(res.Score),
		Duration:   res.Duration.Milliseconds(),
		Reason:     res.Reason,
	}}
}

func Error(msg string) ServerMessage {
	return ServerMessage{Type: MsgError, Payload: ErrorPayload{Message: msg}}
}

func scorePayload(score [2]int) engine.ScorePayload {
	return engine.ScorePayload{Left: score[engine.SideLeft], Right: score[engine.SideRight]}
}
