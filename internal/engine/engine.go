package engine

import (
	"time"

	"github.com/DoyleJ11/pong-arena-backend/internal/fault"
)

var ErrGameFull = fault.Validation("Game is full")
var ErrGameFinished = fault.Validation("Game has already finished")
var ErrNotInGame = fault.Validation("Not in a game")
var ErrMissingIdentity = fault.Validation("userId or sessionId is required")
var ErrUnknownAction = fault.Protocol("Unknown input action")

type Mode string

const (
	ModeLocalAI      Mode = "local-ai"
	ModeNetworkedPvP Mode = "networked-pvp"
)

func ParseMode(raw string) (Mode, bool) {
	switch Mode(raw) {
	case ModeLocalAI, ModeNetworkedPvP:
		return Mode(raw), true
	default:
		return "", false
	}
}

type Status string

const (
	StatusWaitingForPlayers Status = "waiting_for_players"
	StatusReadyCheck        Status = "ready_check"
	StatusPlaying           Status = "playing"
	StatusPaused            Status = "paused"
	StatusFinished          Status = "finished"
)

type Side int

const (
	SideLeft Side = iota
	SideRight
	NoSide Side = -1
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return "none"
	}
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Opponent is the other playing side.
func (s Side) Opponent() Side { return 1 - s }

type Action string

const (
	ActionUp   Action = "up"
	ActionDown Action = "down"
	ActionStop Action = "stop"
)

// Identity is who occupies a Side. Authenticated players carry a UserID,
// anonymous ones a SessionID. Anonymous tournament players also carry the
// ParticipantID of their registration, since one session may hold several.
type Identity struct {
	UserID        string `json:"userId,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	DisplayName   string `json:"username"`
}

// Key is the participant id used by every engine operation.
func (id Identity) Key() string {
	switch {
	case id.UserID != "":
		return id.UserID
	case id.ParticipantID != "":
		return id.ParticipantID
	}
	return id.SessionID
}

type Player struct {
	Identity
	Ready  bool
	AI     bool
	Paddle Paddle
}

type Paddle struct {
	Y   float64 // top edge
	Dir float64 // -1 up, 0 idle, 1 down
}

type Ball struct {
	X, Y   float64
	VX, VY float64
}

type EventType string

const (
	EvtPlayerJoined EventType = "PlayerJoined"
	EvtPlayerLeft   EventType = "PlayerLeft"
	EvtPlayerReady  EventType = "PlayerReady"
	EvtGameStarting EventType = "GameStarting"
	EvtPointScored  EventType = "PointScored"
	EvtGamePaused   EventType = "GamePaused"
	EvtGameResumed  EventType = "GameResumed"
	EvtGameEnded    EventType = "GameEnded"
)

type Event struct {
	Type   EventType
	Side   Side
	Player Identity
	Ready  bool
	Reason string
}

// Result summarises a finished match for persistence and bracket advancement.
type Result struct {
	MatchID   string
	Mode      Mode
	Players   [2]Identity
	Score     [2]int
	Winner    Side
	Reason    string
	StartedAt time.Time
	Duration  time.Duration
}

func (r Result) WinnerKey() string {
	if r.Winner == NoSide {
		return ""
	}
	return r.Players[r.Winner].Key()
}

// Engine is the authoritative state of one match. It is not safe for
// concurrent use; the owning lobby goroutine is its only caller.
type Engine struct {
	id     string
	mode   Mode
	rules  Rules
	now    func() time.Time
	status Status

	sides [2]*Player
	score [2]int
	ball  Ball
	speed float64

	tick      uint64
	playTicks uint64
	serves    int
	winner    Side
	reason    string
	startedAt time.Time
}

type Option func(*Engine)

func WithRules(r Rules) Option {
	return func(e *Engine) { e.rules = r.withDefaults() }
}

// WithClock replaces time.Now for the start timestamp. Step never reads it.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

const aiSessionID = "local-ai"

func New(id string, mode Mode, opts ...Option) *Engine {
	e := &Engine{
		id:     id,
		mode:   mode,
		rules:  DefaultRules(),
		now:    time.Now,
		status: StatusWaitingForPlayers,
		winner: NoSide,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.centerBall()
	if mode == ModeLocalAI {
		e.sides[SideRight] = &Player{
			Identity: Identity{SessionID: aiSessionID, DisplayName: "Computer"},
			Ready:    true,
			AI:       true,
			Paddle:   Paddle{Y: e.paddleHome()},
		}
	}
	return e
}

func (e *Engine) ID() string     { return e.id }
func (e *Engine) Mode() Mode     { return e.mode }
func (e *Engine) Status() Status { return e.status }
func (e *Engine) Score() [2]int  { return e.score }
func (e *Engine) Tick() uint64   { return e.tick }

// Player returns the occupant of side, or nil when the side is open.
func (e *Engine) Player(side Side) *Player {
	if side != SideLeft && side != SideRight {
		return nil
	}
	return e.sides[side]
}

func (e *Engine) sideOf(key string) Side {
	if key == "" {
		return NoSide
	}
	for i, p := range e.sides {
		if p != nil && !p.AI && p.Key() == key {
			return Side(i)
		}
	}
	return NoSide
}

// SideOf reports which side key occupies.
func (e *Engine) SideOf(key string) Side { return e.sideOf(key) }

func (e *Engine) occupied() int {
	n := 0
	for _, p := range e.sides {
		if p != nil {
			n++
		}
	}
	return n
}

// AddPlayer seats id in the first open side. A participant that already
// holds a side gets that side back.
func (e *Engine) AddPlayer(id Identity) (Side, []Event, error) {
	if id.UserID == "" && id.SessionID == "" {
		return NoSide, nil, ErrMissingIdentity
	}
	if e.status == StatusFinished {
		return NoSide, nil, ErrGameFinished
	}
	if side := e.sideOf(id.Key()); side != NoSide {
		if id.DisplayName != "" {
			e.sides[side].DisplayName = id.DisplayName
		}
		return side, []Event{{Type: EvtPlayerJoined, Side: side, Player: e.sides[side].Identity}}, nil
	}

	side := NoSide
	for i, p := range e.sides {
		if p == nil {
			side = Side(i)
			break
		}
	}
	if side == NoSide {
		return NoSide, nil, ErrGameFull
	}

	e.sides[side] = &Player{Identity: id, Paddle: Paddle{Y: e.paddleHome()}}
	events := []Event{{Type: EvtPlayerJoined, Side: side, Player: id}}

	if e.status == StatusWaitingForPlayers && e.occupied() == 2 {
		e.status = StatusReadyCheck
	}
	return side, events, nil
}

// RemovePlayer frees key's side before play starts. Once the match is under
// way a departure is a forced finish instead, so this returns nothing. The
// returned event is for callers that have not announced the departure.
func (e *Engine) RemovePlayer(key string) []Event {
	side := e.sideOf(key)
	if side == NoSide {
		return nil
	}
	if e.status != StatusWaitingForPlayers && e.status != StatusReadyCheck {
		return nil
	}
	left := e.sides[side].Identity
	e.sides[side] = nil
	e.status = StatusWaitingForPlayers
	return []Event{{Type: EvtPlayerLeft, Side: side, Player: left}}
}

// SetReady flips key's ready flag and starts the match once every occupied
// side is ready. Repeats and calls after the start are no-ops.
func (e *Engine) SetReady(key string, ready bool) ([]Event, error) {
	side := e.sideOf(key)
	if side == NoSide {
		return nil, ErrNotInGame
	}
	if e.status != StatusWaitingForPlayers && e.status != StatusReadyCheck {
		return nil, nil
	}
	p := e.sides[side]
	if p.Ready == ready {
		return nil, nil
	}
	p.Ready = ready
	events := []Event{{Type: EvtPlayerReady, Side: side, Player: p.Identity, Ready: ready}}

	if e.status == StatusReadyCheck && e.allReady() {
		e.status = StatusPlaying
		e.startedAt = e.now()
		e.serve(SideRight)
		events = append(events, Event{Type: EvtGameStarting})
	}
	return events, nil
}

func (e *Engine) allReady() bool {
	for _, p := range e.sides {
		if p != nil && !p.Ready {
			return false
		}
	}
	return e.occupied() == 2
}

// StartedAt is when the match entered play; zero before that.
func (e *Engine) StartedAt() time.Time { return e.startedAt }

// HandleInput records the paddle direction for key. The last write before a
// tick wins.
func (e *Engine) HandleInput(key string, action Action) error {
	side := e.sideOf(key)
	if side == NoSide {
		return ErrNotInGame
	}
	var dir float64
	switch action {
	case ActionUp:
		dir = -1
	case ActionDown:
		dir = 1
	case ActionStop:
		dir = 0
	default:
		return ErrUnknownAction
	}
	e.sides[side].Paddle.Dir = dir
	return nil
}

func (e *Engine) Pause() []Event {
	if e.status != StatusPlaying {
		return nil
	}
	e.status = StatusPaused
	return []Event{{Type: EvtGamePaused}}
}

func (e *Engine) Resume() []Event {
	if e.status != StatusPaused {
		return nil
	}
	e.status = StatusPlaying
	return []Event{{Type: EvtGameResumed}}
}

// Finish ends the match immediately. winnerKey may be empty when nobody wins.
func (e *Engine) Finish(reason, winnerKey string) []Event {
	if e.status == StatusFinished {
		return nil
	}
	winner := e.sideOf(winnerKey)
	if winner == NoSide && winnerKey != "" {
		for i, p := range e.sides {
			if p != nil && p.Key() == winnerKey {
				winner = Side(i)
			}
		}
	}
	return e.finish(winner, reason)
}

func (e *Engine) finish(winner Side, reason string) []Event {
	e.status = StatusFinished
	e.winner = winner
	e.reason = reason
	for _, p := range e.sides {
		if p != nil {
			p.Paddle.Dir = 0
		}
	}
	return []Event{{Type: EvtGameEnded, Side: winner, Reason: reason}}
}

// Result is only meaningful once Status is StatusFinished.
func (e *Engine) Result() Result {
	r := Result{
		MatchID:   e.id,
		Mode:      e.mode,
		Score:     e.score,
		Winner:    e.winner,
		Reason:    e.reason,
		StartedAt: e.startedAt,
		Duration:  e.PlayDuration(),
	}
	for i, p := range e.sides {
		if p != nil {
			r.Players[i] = p.Identity
		}
	}
	return r
}

// PlayDuration is simulated time spent in play, derived from the tick count.
func (e *Engine) PlayDuration() time.Duration {
	return time.Duration(e.playTicks) * time.Second / time.Duration(TickRate)
}
