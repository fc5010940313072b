package engine

import "math"

// TickRate is the fixed simulation frequency. Every Step advances by 1/TickRate
// seconds no matter when it is called.
const TickRate = 60

const dt = 1.0 / TickRate

type Rules struct {
	ScoreLimit   int
	Width        float64
	Height       float64
	PaddleWidth  float64
	PaddleHeight float64
	PaddleInset  float64
	PaddleSpeed  float64 // units per second
	BallRadius   float64
	ServeSpeed   float64 // units per second
	SpeedUp      float64 // multiplier per paddle hit
	MaxSpeed     float64
	AISpeed      float64 // fraction of PaddleSpeed the computer may use
}

func DefaultRules() Rules {
	return Rules{
		ScoreLimit:   11,
		Width:        800,
		Height:       600,
		PaddleWidth:  10,
		PaddleHeight: 100,
		PaddleInset:  20,
		PaddleSpeed:  420,
		BallRadius:   8,
		ServeSpeed:   360,
		SpeedUp:      1.05,
		MaxSpeed:     900,
		AISpeed:      0.75,
	}
}

func (r Rules) withDefaults() Rules {
	d := DefaultRules()
	if r.ScoreLimit <= 0 {
		r.ScoreLimit = d.ScoreLimit
	}
	if r.Width <= 0 || r.Height <= 0 {
		r.Width, r.Height = d.Width, d.Height
	}
	if r.PaddleWidth <= 0 {
		r.PaddleWidth = d.PaddleWidth
	}
	if r.PaddleHeight <= 0 {
		r.PaddleHeight = d.PaddleHeight
	}
	if r.PaddleInset <= 0 {
		r.PaddleInset = d.PaddleInset
	}
	if r.PaddleSpeed <= 0 {
		r.PaddleSpeed = d.PaddleSpeed
	}
	if r.BallRadius <= 0 {
		r.BallRadius = d.BallRadius
	}
	if r.ServeSpeed <= 0 {
		r.ServeSpeed = d.ServeSpeed
	}
	if r.SpeedUp < 1 {
		r.SpeedUp = d.SpeedUp
	}
	if r.MaxSpeed < r.ServeSpeed {
		r.MaxSpeed = math.Max(d.MaxSpeed, r.ServeSpeed)
	}
	if r.AISpeed <= 0 || r.AISpeed > 1 {
		r.AISpeed = d.AISpeed
	}
	return r
}

// serveAngles is cycled through on every serve so replays are reproducible.
var serveAngles = []float64{0.25, -0.35, 0.15, -0.2, 0.3, -0.1}

const maxBounceAngle = math.Pi / 3

// Step advances the simulation by exactly one tick. It is the only place the
// ball and the score change.
func (e *Engine) Step() []Event {
	if e.status != StatusPlaying {
		return nil
	}
	e.tick++
	e.playTicks++

	e.steerAI()
	for _, p := range e.sides {
		if p == nil {
			continue
		}
		p.Paddle.Y = clamp(p.Paddle.Y+p.Paddle.Dir*e.rules.PaddleSpeed*dt, 0, e.rules.Height-e.rules.PaddleHeight)
	}

	r := e.rules.BallRadius
	prevX := e.ball.X
	e.ball.X += e.ball.VX * dt
	e.ball.Y += e.ball.VY * dt

	if e.ball.Y-r < 0 {
		e.ball.Y = r
		e.ball.VY = -e.ball.VY
	} else if e.ball.Y+r > e.rules.Height {
		e.ball.Y = e.rules.Height - r
		e.ball.VY = -e.ball.VY
	}

	leftFace := e.rules.PaddleInset + e.rules.PaddleWidth
	rightFace := e.rules.Width - e.rules.PaddleInset - e.rules.PaddleWidth

	if e.ball.VX < 0 && prevX-r >= leftFace && e.ball.X-r < leftFace && e.paddleCovers(SideLeft) {
		e.ball.X = leftFace + r
		e.bounce(SideLeft)
	} else if e.ball.VX > 0 && prevX+r <= rightFace && e.ball.X+r > rightFace && e.paddleCovers(SideRight) {
		e.ball.X = rightFace - r
		e.bounce(SideRight)
	}

	switch {
	case e.ball.X+r < 0:
		return e.point(SideRight)
	case e.ball.X-r > e.rules.Width:
		return e.point(SideLeft)
	}
	return nil
}

func (e *Engine) paddleCovers(side Side) bool {
	p := e.sides[side]
	if p == nil {
		return false
	}
	r := e.rules.BallRadius
	return e.ball.Y+r >= p.Paddle.Y && e.ball.Y-r <= p.Paddle.Y+e.rules.PaddleHeight
}

// bounce sends the ball back with an angle set by where it struck the paddle.
func (e *Engine) bounce(side Side) {
	p := e.sides[side]
	half := e.rules.PaddleHeight / 2
	offset := clamp((e.ball.Y-(p.Paddle.Y+half))/half, -1, 1)
	angle := offset * maxBounceAngle

	e.speed = math.Min(e.speed*e.rules.SpeedUp, e.rules.MaxSpeed)
	dir := 1.0
	if side == SideRight {
		dir = -1
	}
	e.ball.VX = dir * e.speed * math.Cos(angle)
	e.ball.VY = e.speed * math.Sin(angle)
}

func (e *Engine) point(scorer Side) []Event {
	e.score[scorer]++
	events := []Event{{Type: EvtPointScored, Side: scorer}}
	if e.score[scorer] >= e.rules.ScoreLimit {
		return append(events, e.finish(scorer, "")...)
	}
	e.serve(scorer.Opponent())
	return events
}

// serve puts the ball in the centre heading towards receiver.
func (e *Engine) serve(receiver Side) {
	e.centerBall()
	angle := serveAngles[e.serves%len(serveAngles)]
	e.serves++
	e.speed = e.rules.ServeSpeed
	dir := 1.0
	if receiver == SideLeft {
		dir = -1
	}
	e.ball.VX = dir * e.speed * math.Cos(angle)
	e.ball.VY = e.speed * math.Sin(angle)
}

func (e *Engine) centerBall() {
	e.ball = Ball{X: e.rules.Width / 2, Y: e.rules.Height / 2}
}

func (e *Engine) paddleHome() float64 {
	return (e.rules.Height - e.rules.PaddleHeight) / 2
}

// steerAI points the computer paddle at the ball while it approaches.
func (e *Engine) steerAI() {
	for i, p := range e.sides {
		if p == nil || !p.AI {
			continue
		}
		approaching := (Side(i) == SideRight && e.ball.VX > 0) || (Side(i) == SideLeft && e.ball.VX < 0)
		target := e.rules.Height / 2
		if approaching {
			target = e.ball.Y
		}
		center := p.Paddle.Y + e.rules.PaddleHeight/2
		deadzone := e.rules.PaddleHeight / 6
		switch {
		case target < center-deadzone:
			p.Paddle.Dir = -e.rules.AISpeed
		case target > center+deadzone:
			p.Paddle.Dir = e.rules.AISpeed
		default:
			p.Paddle.Dir = 0
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
