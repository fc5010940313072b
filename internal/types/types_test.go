package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/pong-arena-backend/internal/engine"
	"github.com/DoyleJ11/pong-arena-backend/internal/fault"
)

func TestDecode(t *testing.T) {
	no := false
	cases := []struct {
		name string
		in   string
		want ClientMessage
	}{
		{"join", `{"type":"join_game","payload":{"gameId":"g1","userId":"7","username":"Ann"}}`, JoinGame{GameID: "g1", UserID: "7", Username: "Ann"}},
		{"join anonymous", `{"type":"join_game","payload":{"gameId":"g1","sessionId":"s9","username":"Bob"}}`, JoinGame{GameID: "g1", SessionID: "s9", Username: "Bob"}},
		{"ready without payload", `{"type":"ready"}`, Ready{}},
		{"ready false", `{"type":"ready","payload":{"ready":false}}`, Ready{Ready: &no}},
		{"input", `{"type":"input","payload":{"action":"up"}}`, Input{Action: "up"}},
		{"pause", `{"type":"pause","payload":{}}`, Pause{}},
		{"resume null payload", `{"type":"resume","payload":null}`, Resume{}},
		{"leave", `{"type":"leave_game"}`, LeaveGame{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want error
	}{
		{"not json", `hello`, ErrMalformed},
		{"missing type", `{"payload":{}}`, ErrMalformed},
		{"bad payload", `{"type":"input","payload":{"action":5}}`, ErrMalformed},
		{"unknown type", `{"type":"teleport"}`, ErrUnknownType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.in))
			require.ErrorIs(t, err, tc.want)
			kind, ok := fault.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, fault.KindProtocol, kind)
		})
	}
}

func TestReadyValue(t *testing.T) {
	no, yes := false, true
	assert.True(t, Ready{}.Value())
	assert.True(t, Ready{Ready: &yes}.Value())
	assert.False(t, Ready{Ready: &no}.Value())
}

func TestGameEnded_Wire(t *testing.T) {
	res := engine.Result{
		Players:  [2]engine.Identity{{UserID: "1", DisplayName: "Ann"}, {SessionID: "s2", DisplayName: "Bob"}},
		Score:    [2]int{11, 7},
		Winner:   engine.SideLeft,
		Duration: 95 * time.Second,
	}
	data, err := GameEnded(res).Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"game_ended","payload":{"winnerId":"1","finalScore":{"left":11,"right":7},"duration":95000}}`, string(data))

	res.Winner = engine.NoSide
	res.Reason = "Internal error"
	data, err = GameEnded(res).Marshal()
	require.NoError(t, err)
	var env struct {
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	assert.NotContains(t, env.Payload, "winnerId")
	assert.Equal(t, "Internal error", env.Payload["reason"])
}

func TestPlayerJoined_SideIsText(t *testing.T) {
	data, err := PlayerJoined(engine.SideRight, engine.Identity{SessionID: "s2", DisplayName: "Bob"}).Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"player_joined","payload":{"side":"right","userId":"s2","username":"Bob"}}`, string(data))
}

func TestError_Wire(t *testing.T) {
	data, err := Error("Game not found").Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","payload":{"message":"Game not found"}}`, string(data))
}
