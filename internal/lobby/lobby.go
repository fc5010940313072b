package lobby

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/pong-arena-backend/internal/engine"
	"github.com/DoyleJ11/pong-arena-backend/internal/fault"
	"github.com/DoyleJ11/pong-arena-backend/internal/types"
)

var ErrClosed = fault.Lifecycle("Game is no longer running")

// Sink is one client connection as seen by a lobby. Send must not block; it
// reports false when the client cannot keep up.
type Sink interface {
	ID() string
	Send(msg types.ServerMessage) bool
	Close()
}

// Engine is the match state a lobby drives. *engine.Engine satisfies it.
type Engine interface {
	ID() string
	Status() engine.Status
	Score() [2]int
	AddPlayer(id engine.Identity) (engine.Side, []engine.Event, error)
	RemovePlayer(key string) []engine.Event
	SetReady(key string, ready bool) ([]engine.Event, error)
	HandleInput(key string, action engine.Action) error
	Pause() []engine.Event
	Resume() []engine.Event
	Finish(reason, winnerKey string) []engine.Event
	Step() []engine.Event
	SideOf(key string) engine.Side
	Player(side engine.Side) *engine.Player
	StartedAt() time.Time
	Payload() engine.StatePayload
	Result() engine.Result
}

type Msg interface{ isLobbyMsg() }

type Join struct {
	Client   Sink
	Identity engine.Identity
	Reply    chan JoinReply
}

type JoinReply struct {
	Side engine.Side
	Err  error
}

type LeaveReason int

const (
	Disconnected LeaveReason = iota
	Left
)

func (r LeaveReason) finishReason() string {
	if r == Left {
		return "Player left"
	}
	return "Player disconnected"
}

type Leave struct {
	ClientID string
	Reason   LeaveReason
}

type FromClient struct {
	ClientID string
	Msg      types.ClientMessage
}

// Tick steps a playing match once and broadcasts the new state. Reply gets
// the status after the step.
type Tick struct {
	Reply chan engine.Status
}

type GetState struct {
	Reply chan View
}

type View struct {
	Status  engine.Status
	Members int
	State   engine.StatePayload
}

func (Join) isLobbyMsg()       {}
func (Leave) isLobbyMsg()      {}
func (FromClient) isLobbyMsg() {}
func (Tick) isLobbyMsg()       {}
func (GetState) isLobbyMsg()   {}

type member struct {
	sink Sink
	key  string
}

// Lobby owns one match. Its goroutine is the only code that touches the
// engine, so every message is applied in inbox order.
type Lobby struct {
	inbox   chan Msg
	eng     Engine
	members map[string]member
	dropped []member
	log     *zap.Logger
	onEnd   func(engine.Result)
	ended   bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

type Option func(*Lobby)

func WithLogger(log *zap.Logger) Option {
	return func(l *Lobby) {
		if log != nil {
			l.log = log
		}
	}
}

// WithEndHandler registers fn to run once, on the lobby goroutine, when the
// match reaches finished. fn must not call back into the lobby and wait.
func WithEndHandler(fn func(engine.Result)) Option {
	return func(l *Lobby) { l.onEnd = fn }
}

func WithInboxSize(n int) Option {
	return func(l *Lobby) {
		if n > 0 {
			l.inbox = make(chan Msg, n)
		}
	}
}

func NewLobby(parent context.Context, eng Engine, opts ...Option) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	l := &Lobby{
		inbox:   make(chan Msg, 64),
		eng:     eng,
		members: make(map[string]member),
		log:     zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With(zap.String("match_id", eng.ID()))

	go l.loop()
	return l
}

func (l *Lobby) ID() string { return l.eng.ID() }

// Done is closed once the lobby goroutine has exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Shutdown stops the lobby without waiting. Messages still queued are dropped.
func (l *Lobby) Shutdown() { l.cancel() }

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			clear(l.members)
			return

		case m := <-l.inbox:
			l.handle(m)
			for len(l.dropped) > 0 {
				m := l.dropped[0]
				l.dropped = l.dropped[1:]
				l.depart(m, Disconnected)
			}
			l.checkEnded()
		}
	}
}

func (l *Lobby) handle(m Msg) {
	switch msg := m.(type) {
	case Join:
		side, events, err := l.eng.AddPlayer(msg.Identity)
		if err != nil {
			msg.Reply <- JoinReply{Side: engine.NoSide, Err: err}
			return
		}
		id := msg.Client.ID()
		l.members[id] = member{sink: msg.Client, key: msg.Identity.Key()}
		msg.Reply <- JoinReply{Side: side}
		l.unicast(id, types.GameState(l.eng.Payload()))
		l.publish(events, id)

	case Leave:
		l.leave(msg.ClientID, msg.Reason)

	case FromClient:
		l.apply(msg.ClientID, msg.Msg)

	case Tick:
		if l.eng.Status() == engine.StatusPlaying {
			l.publish(l.step(), "")
			if l.eng.Status() != engine.StatusFinished {
				l.broadcast(types.GameState(l.eng.Payload()), "")
			}
		}
		msg.Reply <- l.eng.Status()

	case GetState:
		msg.Reply <- View{
			Status:  l.eng.Status(),
			Members: len(l.members),
			State:   l.eng.Payload(),
		}
	}
}

func (l *Lobby) apply(clientID string, in types.ClientMessage) {
	m, ok := l.members[clientID]
	if !ok {
		return
	}

	var events []engine.Event
	var err error
	switch msg := in.(type) {
	case types.Ready:
		events, err = l.eng.SetReady(m.key, msg.Value())
	case types.Input:
		err = l.eng.HandleInput(m.key, engine.Action(msg.Action))
	case types.Pause:
		events = l.eng.Pause()
	case types.Resume:
		events = l.eng.Resume()
	default:
		err = types.ErrUnknownType
	}
	if err != nil {
		l.unicast(clientID, types.Error(fault.Message(err)))
		return
	}
	l.publish(events, "")
}

// step runs one simulation step. A panic finishes this match only.
func (l *Lobby) step() (events []engine.Event) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("match step panicked", zap.Any("panic", r), zap.Stack("stack"))
			events = l.eng.Finish("Internal error", "")
		}
	}()
	return l.eng.Step()
}

func (l *Lobby) leave(clientID string, reason LeaveReason) {
	m, ok := l.members[clientID]
	if !ok {
		return
	}
	delete(l.members, clientID)
	l.depart(m, reason)
}

// depart applies the consequences of m no longer being connected.
func (l *Lobby) depart(m member, reason LeaveReason) {
	for _, other := range l.members {
		if other.key == m.key {
			return // the participant still has another connection here
		}
	}

	status := l.eng.Status()
	if status == engine.StatusFinished {
		return
	}
	if reason == Left {
		l.broadcast(types.PlayerLeft(m.key), "")
	} else {
		l.broadcast(types.PlayerDisconnected(m.key), "")
	}

	switch status {
	case engine.StatusPlaying, engine.StatusPaused:
		winner := ""
		if opp := l.eng.Player(l.eng.SideOf(m.key).Opponent()); opp != nil {
			winner = opp.Key()
		}
		l.log.Info("forcing finish", zap.String("participant", m.key), zap.String("reason", reason.finishReason()))
		l.publish(l.eng.Finish(reason.finishReason(), winner), "")
	default:
		// the departure was broadcast above; its player_left event would repeat it
		l.eng.RemovePlayer(m.key)
	}
}

func (l *Lobby) publish(events []engine.Event, joiner string) {
	for _, ev := range events {
		switch ev.Type {
		case engine.EvtPlayerJoined:
			l.broadcast(types.PlayerJoined(ev.Side, ev.Player), joiner)
		case engine.EvtPlayerLeft:
			l.broadcast(types.PlayerLeft(ev.Player.Key()), "")
		case engine.EvtPlayerReady:
			l.broadcast(types.PlayerReady(ev.Player.Key(), ev.Ready), "")
		case engine.EvtGameStarting:
			l.broadcast(types.GameStarting(l.eng.StartedAt().UnixMilli()), "")
		case engine.EvtPointScored:
			l.broadcast(types.PointScored(ev.Side, l.eng.Score()), "")
		case engine.EvtGamePaused:
			l.broadcast(types.GamePaused(), "")
		case engine.EvtGameResumed:
			l.broadcast(types.GameResumed(), "")
		case engine.EvtGameEnded:
			l.broadcast(types.GameEnded(l.eng.Result()), "")
		}
	}
}

func (l *Lobby) checkEnded() {
	if l.ended || l.eng.Status() != engine.StatusFinished {
		return
	}
	l.ended = true
	res := l.eng.Result()
	l.log.Info("match finished",
		zap.Int("score_left", res.Score[engine.SideLeft]),
		zap.Int("score_right", res.Score[engine.SideRight]),
		zap.String("winner", res.WinnerKey()),
		zap.String("reason", res.Reason),
	)
	if l.onEnd != nil {
		l.onEnd(res)
	}
}

func (l *Lobby) unicast(clientID string, msg types.ServerMessage) {
	m, ok := l.members[clientID]
	if !ok {
		return
	}
	if !m.sink.Send(msg) {
		l.drop(clientID, m)
	}
}

func (l *Lobby) broadcast(msg types.ServerMessage, except string) {
	for id, m := range l.members {
		if id == except {
			continue
		}
		if !m.sink.Send(msg) {
			// Client is slow/full - drop them.
			l.drop(id, m)
		}
	}
}

func (l *Lobby) drop(id string, m member) {
	l.log.Warn("dropping slow client", zap.String("client_id", id))
	delete(l.members, id)
	m.sink.Close()
	l.dropped = append(l.dropped, m)
}

// Join seats id in the match and subscribes client to its broadcasts.
func (l *Lobby) Join(ctx context.Context, client Sink, id engine.Identity) (engine.Side, error) {
	reply := make(chan JoinReply, 1)
	if err := l.send(ctx, Join{Client: client, Identity: id, Reply: reply}); err != nil {
		return engine.NoSide, err
	}
	r, err := await(ctx, l.done, reply)
	if err != nil {
		return engine.NoSide, err
	}
	return r.Side, r.Err
}

func (l *Lobby) Leave(ctx context.Context, clientID string, reason LeaveReason) error {
	return l.send(ctx, Leave{ClientID: clientID, Reason: reason})
}

func (l *Lobby) Deliver(ctx context.Context, clientID string, msg types.ClientMessage) error {
	return l.send(ctx, FromClient{ClientID: clientID, Msg: msg})
}

// Tick advances the match by one step if it is playing and returns the
// resulting status.
func (l *Lobby) Tick(ctx context.Context) (engine.Status, error) {
	reply := make(chan engine.Status, 1)
	if err := l.send(ctx, Tick{Reply: reply}); err != nil {
		return "", err
	}
	return await(ctx, l.done, reply)
}

func (l *Lobby) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := l.send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	return await(ctx, l.done, reply)
}

func (l *Lobby) send(ctx context.Context, m Msg) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.inbox <- m:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, done <-chan struct{}, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-done:
		// the reply may have been sent just before the lobby exited
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrClosed
		}
	}
}
