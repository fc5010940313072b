package engine

type ScorePayload struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

type SidePayload struct {
	Side     Side    `json:"side"`
	UserID   string  `json:"userId,omitempty"`
	Username string  `json:"username"`
	Ready    bool    `json:"ready"`
	AI       bool    `json:"ai,omitempty"`
	PaddleY  float64 `json:"paddleY"`
}

type BallPayload struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// StatePayload is the serialisable snapshot sent on join and every tick.
type StatePayload struct {
	GameID  string        `json:"gameId"`
	Mode    Mode          `json:"mode"`
	Status  Status        `json:"status"`
	Tick    uint64        `json:"tick"`
	Players []SidePayload `json:"players"`
	Ball    BallPayload   `json:"ball"`
	Score   ScorePayload  `json:"score"`
	Field   FieldPayload  `json:"field"`
}

type FieldPayload struct {
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	PaddleWidth  float64 `json:"paddleWidth"`
	PaddleHeight float64 `json:"paddleHeight"`
	BallRadius   float64 `json:"ballRadius"`
	ScoreLimit   int     `json:"scoreLimit"`
}

func (e *Engine) Payload() StatePayload {
	out := StatePayload{
		GameID: e.id,
		Mode:   e.mode,
		Status: e.status,
		Tick:   e.tick,
		Ball:   BallPayload{X: e.ball.X, Y: e.ball.Y, VX: e.ball.VX, VY: e.ball.VY},
		Score:  ScorePayload{Left: e.score[SideLeft], Right: e.score[SideRight]},
		Field: FieldPayload{
			Width:        e.rules.Width,
			Height:       e.rules.Height,
			PaddleWidth:  e.rules.PaddleWidth,
			PaddleHeight: e.rules.PaddleHeight,
			BallRadius:   e.rules.BallRadius,
			ScoreLimit:   e.rules.ScoreLimit,
		},
		Players: make([]SidePayload, 0, 2),
	}
	for i, p := range e.sides {
		if p == nil {
			continue
		}
		out.Players = append(out.Players, SidePayload{
			Side:     Side(i),
			UserID:   p.Key(),
			Username: p.DisplayName,
			Ready:    p.Ready,
			AI:       p.AI,
			PaddleY:  p.Paddle.Y,
		})
	}
	return out
}
