package engine

import (
	"reflect"
	"testing"
)

func TestStep_NotPlayingDoesNothing(t *testing.T) {
	e := New("m1", ModeNetworkedPvP)
	mustAdd(t, e, ann)
	before := e.Payload()
	if events := e.Step(); events != nil {
		t.Fatalf("want no events, got %+v", events)
	}
	if !reflect.DeepEqual(before, e.Payload()) {
		t.Fatalf("state changed while waiting for players")
	}
}

func TestStep_MissedBallScoresForOpponent(t *testing.T) {
	e := newStartedGame(t)
	e.sides[SideLeft].Paddle.Y = 0
	e.ball = Ball{X: 40, Y: 500, VX: -600, VY: 0}

	var events []Event
	for i := 0; i < 20 && !containsEvent(events, EvtPointScored); i++ {
		events = e.Step()
	}
	if !containsEvent(events, EvtPointScored) {
		t.Fatalf("expected a point within 20 ticks")
	}
	if got := e.Score(); got != [2]int{0, 1} {
		t.Fatalf("want right to score, got %v", got)
	}
	if e.ball.X != e.rules.Width/2 || e.ball.VX >= 0 {
		t.Fatalf("next serve should head to the conceding left side, got %+v", e.ball)
	}
}

func TestStep_PaddleReturnsBall(t *testing.T) {
	e := newStartedGame(t)
	p := e.sides[SideLeft]
	face := e.rules.PaddleInset + e.rules.PaddleWidth
	e.ball = Ball{X: face + e.rules.BallRadius + 2, Y: p.Paddle.Y + e.rules.PaddleHeight/2, VX: -360, VY: 0}
	e.speed = 360

	for i := 0; i < 3; i++ {
		e.Step()
	}
	if e.ball.VX <= 0 {
		t.Fatalf("ball should travel right after the hit, vx=%v", e.ball.VX)
	}
	if e.speed <= 360 {
		t.Fatalf("ball should speed up after a hit, speed=%v", e.speed)
	}
	if e.Score() != [2]int{} {
		t.Fatalf("no point expected, got %v", e.Score())
	}
}

func TestStep_WallBounce(t *testing.T) {
	e := newStartedGame(t)
	e.ball = Ball{X: 400, Y: e.rules.BallRadius + 1, VX: 0, VY: -300}
	e.Step()
	if e.ball.VY <= 0 {
		t.Fatalf("ball should bounce off the top wall, vy=%v", e.ball.VY)
	}
}

func TestStep_ScoreLimitFinishes(t *testing.T) {
	e := newStartedGame(t, WithRules(Rules{ScoreLimit: 3}))
	e.score = [2]int{2, 0}
	e.sides[SideRight].Paddle.Y = 0
	e.ball = Ball{X: 760, Y: 550, VX: 600, VY: 0}

	var all []Event
	for i := 0; i < 30 && e.Status() == StatusPlaying; i++ {
		all = append(all, e.Step()...)
	}
	if e.Status() != StatusFinished {
		t.Fatalf("want finished, got %s", e.Status())
	}
	if countEvents(all, EvtGameEnded) != 1 {
		t.Fatalf("want exactly one GameEnded, got %+v", all)
	}
	res := e.Result()
	if res.Winner != SideLeft || res.WinnerKey() != ann.Key() || res.Score != [2]int{3, 0} {
		t.Fatalf("unexpected result %+v", res)
	}
	if e.Step() != nil {
		t.Fatalf("finished engine must not step")
	}
}

type scriptedInput struct {
	tick   int
	key    string
	action Action
}

func replay(t *testing.T, script []scriptedInput, ticks int) [][2]int {
	t.Helper()
	e := newStartedGame(t, WithRules(Rules{ScoreLimit: 50}))
	var progression [][2]int
	next := 0
	for tick := 0; tick < ticks && e.Status() == StatusPlaying; tick++ {
		for next < len(script) && script[next].tick == tick {
			if err := e.HandleInput(script[next].key, script[next].action); err != nil {
				t.Fatalf("input: %v", err)
			}
			next++
		}
		if containsEvent(e.Step(), EvtPointScored) {
			progression = append(progression, e.Score())
		}
	}
	return progression
}

func TestStep_DeterministicReplay(t *testing.T) {
	script := []scriptedInput{
		{0, ann.Key(), ActionUp},
		{0, bob.Key(), ActionDown},
		{90, ann.Key(), ActionStop},
		{240, bob.Key(), ActionUp},
		{241, bob.Key(), ActionStop},
		{600, ann.Key(), ActionDown},
		{900, ann.Key(), ActionUp},
		{1200, bob.Key(), ActionDown},
	}

	first := replay(t, script, 3600)
	second := replay(t, script, 3600)

	if len(first) == 0 {
		t.Fatalf("expected the script to produce at least one point")
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("replays diverged:\n%v\n%v", first, second)
	}
}

func TestLocalAI_ComputerTracksBall(t *testing.T) {
	e := New("m1", ModeLocalAI, WithClock(fixedClock))
	mustAdd(t, e, ann)
	_, _ = e.SetReady(ann.Key(), true)

	ai := e.sides[SideRight]
	ai.Paddle.Y = 0
	e.ball = Ball{X: 400, Y: 550, VX: 300, VY: 0}
	e.Step()
	if ai.Paddle.Y <= 0 {
		t.Fatalf("computer paddle should move towards the ball, y=%v", ai.Paddle.Y)
	}
}
