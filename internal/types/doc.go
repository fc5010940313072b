// Package types is the websocket wire protocol. Every frame is
// {"type": string, "payload": object}.
//
// Client -> Server
// join_game:
//   gameId: string
//   userId: string     // authenticated players
//   sessionId: string  // anonymous players, required when userId is empty
//   participantId: string  // anonymous players in tournament games
//   username: string
//
// ready:
//   ready: boolean     // optional, defaults to true
//
// input:
//   action: "up" | "down" | "stop"
//
// pause: {}
// resume: {}
// leave_game: {}
//
// Server -> Client
// game_state:
//   gameId, mode, status, tick
//   players: [{ side, userId, username, ready, ai, paddleY }]
//   ball: { x, y, vx, vy }
//   score: { left, right }
//   field: { width, height, paddleWidth, paddleHeight, ballRadius, scoreLimit }
//
// player_joined:        { side, userId, username }
// player_ready:         { userId, ready }
// player_left:          { userId }  // explicit leave_game
// player_disconnected:  { userId }  // socket lost
// game_starting:        { startTime }  // unix millis
// point_scored:         { side, score }
// game_paused: {}
// game_resumed: {}
// game_ended:           { winnerId?, finalScore, duration, reason? }  // duration in millis
//
// error:
//   message: string  // the connection stays open
package types
