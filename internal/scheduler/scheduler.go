// Package scheduler drives every registered match at a fixed rate. Each match
// gets its own loop so a slow match never delays another.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/pong-arena-backend/internal/engine"
)

// Target is one match as seen by the scheduler. Tick steps it if it is
// playing, broadcasts, and reports the resulting status.
type Target interface {
	ID() string
	Tick(ctx context.Context) (engine.Status, error)
}

const defaultMaxCatchUp = 3

type Scheduler struct {
	interval   time.Duration
	maxCatchUp int
	log        *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	loops   map[string]*loop
	stopped bool
}

type loop struct {
	cancel context.CancelFunc
}

type Option func(*Scheduler)

func WithLogger(log *zap.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMaxCatchUp bounds how many steps one wake-up may run after the loop
// fell behind. Time beyond that is dropped.
func WithMaxCatchUp(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxCatchUp = n
		}
	}
}

func New(parent context.Context, targetHz float64, opts ...Option) *Scheduler {
	if targetHz <= 0 {
		targetHz = engine.TickRate
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / engine.TickRate
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Scheduler{
		interval:   interval,
		maxCatchUp: defaultMaxCatchUp,
		log:        zap.NewNop(),
		ctx:        ctx,
		cancel:     cancel,
		loops:      make(map[string]*loop),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Interval() time.Duration { return s.interval }

// Register starts a loop for t. It reports false when t already has a loop
// or the scheduler is stopped.
func (s *Scheduler) Register(t Target) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if _, ok := s.loops[t.ID()]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(s.ctx)
	l := &loop{cancel: cancel}
	s.loops[t.ID()] = l
	s.wg.Add(1)
	go s.run(ctx, t, l)
	return true
}

// Unregister stops the loop for id without waiting for it to exit, so it is
// safe to call from inside a Tick.
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	l, ok := s.loops[id]
	delete(s.loops, id)
	s.mu.Unlock()
	if ok {
		l.cancel()
	}
}

func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loops)
}

// Stop cancels every loop and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, t Target, l *loop) {
	defer s.wg.Done()
	defer s.forget(t.ID(), l)

	log := s.log.With(zap.String("match_id", t.ID()))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	last := time.Now()
	var acc time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			acc += now.Sub(last)
			last = now
			steps, rest := catchUp(acc, s.interval, s.maxCatchUp)
			if rest >= s.interval {
				log.Debug("tick loop fell behind, dropping backlog", zap.Duration("backlog", rest))
				rest = 0
			}
			acc = rest
			for i := 0; i < steps; i++ {
				status, err := t.Tick(ctx)
				if err != nil {
					if ctx.Err() == nil {
						log.Debug("tick loop stopped", zap.Error(err))
					}
					return
				}
				if status == engine.StatusFinished {
					log.Debug("match finished, tick loop stopped")
					return
				}
			}
		}
	}
}

// catchUp splits accumulated time into whole steps, capped at limit.
func catchUp(acc, interval time.Duration, limit int) (int, time.Duration) {
	steps := 0
	for acc >= interval && steps < limit {
		acc -= interval
		steps++
	}
	return steps, acc
}

func (s *Scheduler) forget(id string, l *loop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loops[id] == l {
		delete(s.loops, id)
	}
	l.cancel()
}
