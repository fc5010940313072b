package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/pong-arena-backend/internal/engine"
	"github.com/DoyleJ11/pong-arena-backend/internal/fault"
	"github.com/DoyleJ11/pong-arena-backend/internal/lobby"
	"github.com/DoyleJ11/pong-arena-backend/internal/scheduler"
	"github.com/DoyleJ11/pong-arena-backend/internal/storage"
	"github.com/DoyleJ11/pong-arena-backend/internal/types"
)

var ErrGameNotFound = fault.Validation("Game not found")
var ErrAlreadyInGame = fault.Validation("Already in a game")
var ErrGameExists = fault.Validation("Game already exists")
var ErrNotParticipant = fault.Validation("Not a participant in this game")
var ErrInvalidMode = fault.Validation("Unknown game mode")
var ErrStopped = fault.Lifecycle("Server is shutting down")

// Ticker is the part of the scheduler the dispatcher uses.
type Ticker interface {
	Register(t scheduler.Target) bool
	Unregister(id string)
	Active() int
}

// Persister records match creation and outcomes.
type Persister interface {
	CreateGame(ctx context.Context, id, mode string) error
	CompleteGame(ctx context.Context, o storage.Outcome) error
}

// EndObserver is told about every finished match, off the match goroutine.
type EndObserver func(ctx context.Context, res engine.Result)

type Config struct {
	Rules          engine.Rules
	FinishGrace    time.Duration // how long a finished match stays addressable
	ReapInterval   time.Duration
	PersistTimeout time.Duration
	Logger         *zap.Logger
	Now            func() time.Time
}

// MatchSpec describes a match to create. Empty ID gets a generated one; a
// non-empty Players list restricts who may take a side.
type MatchSpec struct {
	ID      string
	Mode    engine.Mode
	Players []string
}

// Connection is a socket bound to a match.
type Connection struct {
	ClientID      string
	MatchID       string
	ParticipantID string
	DisplayName   string
}

type match struct {
	lobby      *lobby.Lobby
	allowed    map[string]bool
	finishedAt time.Time
}

type Stats struct {
	Matches     int `json:"matches"`
	Finished    int `json:"finished"`
	Connections int `json:"connections"`
	TickLoops   int `json:"tickLoops"`
}

// Dispatcher owns the match and connection registries. It turns inbound
// frames into lobby messages and handles what happens after a match ends.
type Dispatcher struct {
	cfg       Config
	log       *zap.Logger
	ticker    Ticker
	store     Persister
	observers []EndObserver

	ctx    context.Context
	cancel context.CancelFunc
	cron   gocron.Scheduler
	wg     sync.WaitGroup

	mu      sync.RWMutex
	matches map[string]*match
	conns   map[string]*Connection
	started bool
	stopped bool
}

func New(ticker Ticker, store Persister, cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.FinishGrace <= 0 {
		cfg.FinishGrace = 5 * time.Second
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	return &Dispatcher{
		cfg:     cfg,
		log:     cfg.Logger,
		ticker:  ticker,
		store:   store,
		matches: make(map[string]*match),
		conns:   make(map[string]*Connection),
	}
}

// OnMatchEnd registers an observer. Call it before Start.
func (d *Dispatcher) OnMatchEnd(fn EndObserver) {
	d.observers = append(d.observers, fn)
}

// Start launches the reaper job. Matches created afterwards live under ctx.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}

	cron, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = cron.NewJob(
		gocron.DurationJob(d.cfg.ReapInterval),
		gocron.NewTask(d.reap),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return multierr.Append(err, cron.Shutdown())
	}
	cron.Start()

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.cron = cron
	d.started = true
	return nil
}

// Stop destroys every match and waits for pending persistence and observers.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	lobbies := make([]*lobby.Lobby, 0, len(d.matches))
	for _, mt := range d.matches {
		lobbies = append(lobbies, mt.lobby)
	}
	clear(d.matches)
	clear(d.conns)
	cron, cancel := d.cron, d.cancel
	d.mu.Unlock()

	var err error
	if cron != nil {
		err = multierr.Append(err, cron.Shutdown())
	}
	for _, l := range lobbies {
		d.ticker.Unregister(l.ID())
		l.Shutdown()
	}
	// an end handler may still be running; it finishes before Done closes
	for _, l := range lobbies {
		<-l.Done()
	}
	d.wg.Wait()
	if cancel != nil {
		cancel()
	}
	return err
}

// CreateMatch registers a new match and returns its id.
func (d *Dispatcher) CreateMatch(ctx context.Context, spec MatchSpec) (string, error) {
	if _, ok := engine.ParseMode(string(spec.Mode)); !ok {
		return "", ErrInvalidMode
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}

	d.mu.Lock()
	if d.stopped || !d.started {
		d.mu.Unlock()
		return "", ErrStopped
	}
	if _, ok := d.matches[spec.ID]; ok {
		d.mu.Unlock()
		return "", ErrGameExists
	}
	eng := engine.New(spec.ID, spec.Mode, engine.WithRules(d.cfg.Rules))
	mt := &match{}
	if len(spec.Players) > 0 {
		mt.allowed = make(map[string]bool, len(spec.Players))
		for _, key := range spec.Players {
			mt.allowed[key] = true
		}
	}
	mt.lobby = lobby.NewLobby(d.ctx, eng,
		lobby.WithLogger(d.log.Named("lobby")),
		lobby.WithEndHandler(d.matchEnded),
	)
	d.matches[spec.ID] = mt
	// added under the lock so Stop cannot be waiting yet
	d.wg.Add(1)
	d.mu.Unlock()

	d.log.Info("match created", zap.String("match_id", spec.ID), zap.String("mode", string(spec.Mode)))
	go func() {
		defer d.wg.Done()
		if d.store == nil {
			return
		}
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.PersistTimeout)
		defer cancel()
		if err := d.store.CreateGame(pctx, spec.ID, string(spec.Mode)); err != nil {
			d.log.Error("persist new game", zap.String("match_id", spec.ID), zap.Error(err))
		}
	}()
	return spec.ID, nil
}

// Handle processes one inbound frame from c. Errors go back to c only; the
// connection always stays open.
func (d *Dispatcher) Handle(ctx context.Context, c *Client, data []byte) {
	msg, err := types.Decode(data)
	if err != nil {
		d.reject(c, err)
		return
	}

	switch m := msg.(type) {
	case types.JoinGame:
		err = d.join(ctx, c, m)
	case types.LeaveGame:
		err = d.leave(ctx, c.ID(), lobby.Left)
	case types.Ready, types.Input, types.Pause, types.Resume:
		err = d.forward(ctx, c, m)
	}
	if err != nil {
		d.reject(c, err)
	}
}

// Disconnect unbinds c and lets its match react. It is safe to call for a
// client that never joined.
func (d *Dispatcher) Disconnect(ctx context.Context, c *Client) {
	if err := d.leave(ctx, c.ID(), lobby.Disconnected); err != nil {
		d.log.Debug("disconnect", zap.String("client_id", c.ID()), zap.Error(err))
	}
	c.Close()
}

func (d *Dispatcher) join(ctx context.Context, c *Client, m types.JoinGame) error {
	id := engine.Identity{
		UserID:        m.UserID,
		ParticipantID: m.ParticipantID,
		SessionID:     m.SessionID,
		DisplayName:   m.Username,
	}

	d.mu.RLock()
	_, bound := d.conns[c.ID()]
	mt := d.matches[m.GameID]
	d.mu.RUnlock()

	if bound {
		return ErrAlreadyInGame
	}
	if mt == nil {
		return ErrGameNotFound
	}
	if mt.allowed != nil && !mt.allowed[id.Key()] {
		return ErrNotParticipant
	}

	side, err := mt.lobby.Join(ctx, c, id)
	if errors.Is(err, lobby.ErrClosed) {
		return ErrGameNotFound
	}
	if err != nil {
		return err
	}

	// binding and registering happen under one lock so a concurrent last
	// leave cannot unregister the loop in between
	d.mu.Lock()
	d.conns[c.ID()] = &Connection{
		ClientID:      c.ID(),
		MatchID:       m.GameID,
		ParticipantID: id.Key(),
		DisplayName:   id.DisplayName,
	}
	started := d.ticker.Register(mt.lobby)
	d.mu.Unlock()

	d.log.Info("player joined",
		zap.String("match_id", m.GameID),
		zap.String("client_id", c.ID()),
		zap.String("participant", id.Key()),
		zap.Stringer("side", side),
	)
	if started {
		d.log.Debug("tick loop registered", zap.String("match_id", m.GameID))
	}
	return nil
}

func (d *Dispatcher) forward(ctx context.Context, c *Client, msg types.ClientMessage) error {
	d.mu.RLock()
	cn := d.conns[c.ID()]
	var mt *match
	if cn != nil {
		mt = d.matches[cn.MatchID]
	}
	d.mu.RUnlock()

	if mt == nil {
		return engine.ErrNotInGame
	}
	if err := mt.lobby.Deliver(ctx, c.ID(), msg); err != nil {
		if errors.Is(err, lobby.ErrClosed) {
			return engine.ErrNotInGame
		}
		return err
	}
	return nil
}

func (d *Dispatcher) leave(ctx context.Context, clientID string, reason lobby.LeaveReason) error {
	d.mu.Lock()
	cn := d.conns[clientID]
	delete(d.conns, clientID)
	var mt *match
	if cn != nil {
		mt = d.matches[cn.MatchID]
	}
	d.mu.Unlock()

	if cn == nil {
		if reason == lobby.Left {
			return engine.ErrNotInGame
		}
		return nil
	}
	if mt == nil {
		return nil
	}
	if err := mt.lobby.Leave(ctx, clientID, reason); err != nil && !errors.Is(err, lobby.ErrClosed) {
		return err
	}

	// an empty match has nothing to tick; the next join registers it again
	d.mu.Lock()
	if d.boundTo(cn.MatchID) == 0 {
		d.ticker.Unregister(cn.MatchID)
	}
	d.mu.Unlock()
	return nil
}

// boundTo counts connections bound to matchID. Callers hold d.mu.
func (d *Dispatcher) boundTo(matchID string) int {
	n := 0
	for _, cn := range d.conns {
		if cn.MatchID == matchID {
			n++
		}
	}
	return n
}

func (d *Dispatcher) reject(c *Client, err error) {
	kind, _ := fault.KindOf(err)
	d.log.Debug("request rejected", zap.String("client_id", c.ID()), zap.String("kind", string(kind)), zap.Error(err))
	c.Send(types.Error(fault.Message(err)))
}

// matchEnded runs on the match goroutine, so it must not wait on that match.
func (d *Dispatcher) matchEnded(res engine.Result) {
	d.ticker.Unregister(res.MatchID)

	d.mu.Lock()
	if mt := d.matches[res.MatchID]; mt != nil {
		mt.finishedAt = d.cfg.Now()
	}
	d.mu.Unlock()

	// Stop waits for this lobby to exit before waiting on wg, so the Add is
	// ordered before the Wait.
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PersistTimeout)
		defer cancel()
		if d.store != nil {
			d.persist(ctx, res)
		}
		for _, obs := range d.observers {
			obs(ctx, res)
		}
	}()
}

func (d *Dispatcher) persist(ctx context.Context, res engine.Result) {
	err := d.store.CompleteGame(ctx, outcome(res))
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrAlreadyCompleted):
		d.log.Warn("outcome already persisted", zap.String("match_id", res.MatchID))
	default:
		d.log.Error("persist outcome", zap.String("match_id", res.MatchID), zap.Error(err))
	}
}

func outcome(res engine.Result) storage.Outcome {
	o := storage.Outcome{
		MatchID:   res.MatchID,
		Mode:      string(res.Mode),
		Player1ID: res.Players[engine.SideLeft].UserID,
		Player2ID: res.Players[engine.SideRight].UserID,
		Score1:    res.Score[engine.SideLeft],
		Score2:    res.Score[engine.SideRight],
		Duration:  res.Duration,
	}
	if res.Winner != engine.NoSide {
		o.WinnerID = res.Players[res.Winner].UserID
	}
	return o
}

// reap destroys matches that finished more than FinishGrace ago and frees
// their connections for new joins.
func (d *Dispatcher) reap() {
	cutoff := d.cfg.Now().Add(-d.cfg.FinishGrace)

	d.mu.Lock()
	var dead []*lobby.Lobby
	for id, mt := range d.matches {
		if mt.finishedAt.IsZero() || mt.finishedAt.After(cutoff) {
			continue
		}
		dead = append(dead, mt.lobby)
		delete(d.matches, id)
		for cid, cn := range d.conns {
			if cn.MatchID == id {
				delete(d.conns, cid)
			}
		}
	}
	d.mu.Unlock()

	for _, l := range dead {
		d.ticker.Unregister(l.ID())
		l.Shutdown()
		d.log.Info("match destroyed", zap.String("match_id", l.ID()))
	}
}

// Connection returns the binding for clientID, if any.
func (d *Dispatcher) Connection(clientID string) (Connection, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cn, ok := d.conns[clientID]
	if !ok {
		return Connection{}, false
	}
	return *cn, true
}

func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	s := Stats{Matches: len(d.matches), Connections: len(d.conns)}
	for _, mt := range d.matches {
		if !mt.finishedAt.IsZero() {
			s.Finished++
		}
	}
	d.mu.RUnlock()
	s.TickLoops = d.ticker.Active()
	return s
}
