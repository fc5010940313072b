// Package tournament runs single-elimination tournaments: registration,
// seeding, bracket generation and winner advancement. Bracket matches become
// live games through the dispatcher.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/DoyleJ11/pong-arena-backend/internal/engine"
	"github.com/DoyleJ11/pong-arena-backend/internal/fault"
	"github.com/DoyleJ11/pong-arena-backend/internal/hub"
	"github.com/DoyleJ11/pong-arena-backend/internal/models"
)

const (
	MinParticipants = 2
	MaxParticipants = 32
	MaxAliasLength  = 50
)

var (
	ErrNotFound         = fault.Validation("Tournament not found")
	ErrInvalidCapacity  = fault.Validation("Capacity must be a power of two between 2 and 32")
	ErrNameRequired     = fault.Validation("Tournament name is required")
	ErrAliasRequired    = fault.Validation("Alias is required")
	ErrAliasTooLong     = fault.Validation("Alias must be at most 50 characters")
	ErrIdentityRequired = fault.Validation("userId or sessionId is required")
	ErrFull             = fault.Validation("Tournament is full")
	ErrNotRegistering   = fault.Validation("Tournament is not accepting participants")
	ErrUserJoined       = fault.Validation("User already in tournament")
	ErrAliasTaken       = fault.Validation("Alias already taken in this tournament")
	ErrAlreadyStarted   = fault.Validation("Tournament has already started")
	ErrTooFew           = fault.Validation("At least 2 participants are required")
	ErrNotPowerOfTwo    = fault.Validation("Participant count must be a power of two")
)

// MatchCreator realises bracket matches as live games.
type MatchCreator interface {
	CreateMatch(ctx context.Context, spec hub.MatchSpec) (string, error)
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }

// ValidSize reports whether n is an allowed tournament capacity.
func ValidSize(n int) bool { return n >= MinParticipants && n <= MaxParticipants && IsPowerOfTwo(n) }

// JoinRequest identifies a participant. One of UserID or SessionID is
// required; anonymous participants use SessionID only.
type JoinRequest struct {
	Alias     string `json:"alias"`
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Bracket is a tournament with its participants and every bracket match,
// ordered by round and match number.
type Bracket struct {
	Tournament   models.Tournament              `json:"tournament"`
	Participants []models.TournamentParticipant `json:"participants"`
	Matches      []models.BracketMatch          `json:"matches"`
}

// Round returns the matches of round r.
func (b *Bracket) Round(r int) []models.BracketMatch {
	var out []models.BracketMatch
	for _, m := range b.Matches {
		if m.Round == r {
			out = append(out, m)
		}
	}
	return out
}

type Orchestrator struct {
	db      *gorm.DB
	matches MatchCreator
	log     *zap.Logger
	now     func() time.Time

	// mu serialises writes; SQLite has no row locks to lean on
	mu   sync.Mutex
	rand *rand.Rand
}

type Option func(*Orchestrator)

func WithLogger(log *zap.Logger) Option     { return func(o *Orchestrator) { o.log = log } }
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }
func WithRand(r *rand.Rand) Option          { return func(o *Orchestrator) { o.rand = r } }

func New(db *gorm.DB, matches MatchCreator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		db:      db,
		matches: matches,
		log:     zap.NewNop(),
		now:     time.Now,
		rand:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Create opens a tournament for registration.
func (o *Orchestrator) Create(ctx context.Context, name string, capacity int, createdBy string) (*models.Tournament, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if !ValidSize(capacity) {
		return nil, ErrInvalidCapacity
	}

	t := &models.Tournament{
		ID:              uuid.NewString(),
		Name:            name,
		MaxParticipants: capacity,
		Status:          models.TournamentRegistering,
		CreatedBy:       optional(createdBy),
		CreatedAt:       o.now().UTC(),
	}
	if err := o.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, fmt.Errorf("create tournament: %w", err)
	}
	o.log.Info("tournament created",
		zap.String("tournament_id", t.ID),
		zap.String("name", t.Name),
		zap.Int("capacity", capacity),
	)
	return t, nil
}

// Join registers a participant. Aliases are unique per tournament under
// Unicode case folding; a user id may join once.
func (o *Orchestrator) Join(ctx context.Context, tournamentID string, req JoinRequest) (*models.TournamentParticipant, error) {
	alias := strings.TrimSpace(req.Alias)
	userID := strings.TrimSpace(req.UserID)
	sessionID := strings.TrimSpace(req.SessionID)
	switch {
	case alias == "":
		return nil, ErrAliasRequired
	case utf8.RuneCountInString(alias) > MaxAliasLength:
		return nil, ErrAliasTooLong
	case userID == "" && sessionID == "":
		return nil, ErrIdentityRequired
	}

	p := &models.TournamentParticipant{
		ID:              uuid.NewString(),
		TournamentID:    tournamentID,
		UserID:          optional(userID),
		Alias:           alias,
		AliasKey:        cases.Fold().String(alias),
		SessionID:       optional(sessionID),
		ParticipantType: models.ParticipantAuthenticated,
		JoinedAt:        o.now().UTC(),
	}
	if userID == "" {
		p.ParticipantType = models.ParticipantAnonymous
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := load(tx, tournamentID)
		if err != nil {
			return err
		}

		var joined int64
		if err := tx.Model(&models.TournamentParticipant{}).Where("tournament_id = ?", t.ID).Count(&joined).Error; err != nil {
			return err
		}
		if int(joined) >= t.MaxParticipants {
			return ErrFull
		}
		if t.Status != models.TournamentRegistering {
			return ErrNotRegistering
		}

		if userID != "" {
			taken, err := exists(tx.Where("tournament_id = ? AND user_id = ?", t.ID, userID))
			if err != nil {
				return err
			}
			if taken {
				return ErrUserJoined
			}
		}
		taken, err := exists(tx.Where("tournament_id = ? AND alias_key = ?", t.ID, p.AliasKey))
		if err != nil {
			return err
		}
		if taken {
			return ErrAliasTaken
		}
		return tx.Create(p).Error
	})
	if err != nil {
		return nil, wrap("join tournament", tournamentID, err)
	}

	o.log.Info("participant joined",
		zap.String("tournament_id", tournamentID),
		zap.String("participant_id", p.ID),
		zap.String("alias", p.Alias),
		zap.String("type", p.ParticipantType),
	)
	return p, nil
}

// Start seeds the joined participants in random order, builds the whole
// bracket and realises round one. The joined count, not the capacity, must be
// a power of two.
//
// Calling Start on a running tournament realises any ready match still
// without a game, which recovers from a failed CreateMatch; with nothing to
// realise it returns ErrAlreadyStarted.
func (o *Orchestrator) Start(ctx context.Context, tournamentID string) (*Bracket, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var ready []models.BracketMatch
	resumed := false
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := load(tx, tournamentID)
		if err != nil {
			return err
		}
		if t.Status == models.TournamentInProgress {
			err := tx.Where("tournament_id = ? AND status = ? AND game_id IS NULL", t.ID, models.BracketReady).
				Order("round, match_number").Find(&ready).Error
			if err != nil {
				return err
			}
			if len(ready) == 0 {
				return ErrAlreadyStarted
			}
			resumed = true
			return nil
		}
		if t.Status != models.TournamentRegistering {
			return ErrAlreadyStarted
		}

		var ps []models.TournamentParticipant
		if err := tx.Where("tournament_id = ?", t.ID).Order("joined_at, id").Find(&ps).Error; err != nil {
			return err
		}
		n := len(ps)
		if n < MinParticipants {
			return ErrTooFew
		}
		if !IsPowerOfTwo(n) {
			return ErrNotPowerOfTwo
		}

		o.rand.Shuffle(n, func(i, j int) { ps[i], ps[j] = ps[j], ps[i] })
		for i := range ps {
			ps[i].Seed = i + 1
			if err := tx.Model(&ps[i]).Update("seed", ps[i].Seed).Error; err != nil {
				return err
			}
		}

		rounds := bits.Len(uint(n)) - 1
		matches := buildBracket(t.ID, ps, rounds)
		if err := tx.Create(&matches).Error; err != nil {
			return err
		}
		for _, m := range matches {
			if m.Status == models.BracketReady {
				ready = append(ready, m)
			}
		}

		now := o.now().UTC()
		return tx.Model(t).Updates(map[string]any{
			"status":     models.TournamentInProgress,
			"rounds":     rounds,
			"started_at": now,
		}).Error
	})
	if err != nil {
		return nil, wrap("start tournament", tournamentID, err)
	}

	if resumed {
		o.log.Info("resuming bracket", zap.String("tournament_id", tournamentID), zap.Int("unrealised", len(ready)))
	} else {
		o.log.Info("tournament started", zap.String("tournament_id", tournamentID), zap.Int("first_round", len(ready)))
	}
	var errs error
	for _, m := range ready {
		errs = multierr.Append(errs, o.realise(ctx, m))
	}
	if errs != nil {
		return nil, errs
	}
	return o.Bracket(ctx, tournamentID)
}

// buildBracket lays out every round. Seeds pair 1v2, 3v4 and so on; the winner
// of match m in round r moves to match ceil(m/2) of round r+1, slot 1 when m
// is odd.
func buildBracket(tournamentID string, seeded []models.TournamentParticipant, rounds int) []models.BracketMatch {
	n := len(seeded)
	ids := make([][]string, rounds+2)
	for r := 1; r <= rounds; r++ {
		ids[r] = make([]string, n>>r+1)
		for m := 1; m <= n>>r; m++ {
			ids[r][m] = uuid.NewString()
		}
	}

	out := make([]models.BracketMatch, 0, n-1)
	for r := 1; r <= rounds; r++ {
		for m := 1; m <= n>>r; m++ {
			bm := models.BracketMatch{
				ID:           ids[r][m],
				TournamentID: tournamentID,
				Round:        r,
				MatchNumber:  m,
				Status:       models.BracketPending,
			}
			if r < rounds {
				bm.NextMatchID = &ids[r+1][(m+1)/2]
				bm.NextSlot = 2 - m%2
			}
			if r == 1 {
				bm.Slot1ID = &seeded[2*m-2].ID
				bm.Slot2ID = &seeded[2*m-1].ID
				bm.Status = models.BracketReady
			}
			out = append(out, bm)
		}
	}
	return out
}

// realise creates the live game for a ready bracket match. Only the two slot
// holders may join it.
func (o *Orchestrator) realise(ctx context.Context, bm models.BracketMatch) error {
	var ps []models.TournamentParticipant
	if err := o.db.WithContext(ctx).Where("id IN ?", []string{*bm.Slot1ID, *bm.Slot2ID}).Find(&ps).Error; err != nil {
		return fmt.Errorf("load slot holders: %w", err)
	}
	players := make([]string, 0, len(ps))
	for _, p := range ps {
		players = append(players, p.Key())
	}

	gameID, err := o.matches.CreateMatch(ctx, hub.MatchSpec{Mode: engine.ModeNetworkedPvP, Players: players})
	if err != nil {
		return fmt.Errorf("realise bracket match %s: %w", bm.ID, err)
	}
	err = o.db.WithContext(ctx).Model(&models.BracketMatch{}).
		Where("id = ? AND status = ?", bm.ID, models.BracketReady).
		Updates(map[string]any{"game_id": gameID, "status": models.BracketPlaying}).Error
	if err != nil {
		return fmt.Errorf("link game %s: %w", gameID, err)
	}
	o.log.Info("bracket match live",
		zap.String("tournament_id", bm.TournamentID),
		zap.Int("round", bm.Round),
		zap.Int("match", bm.MatchNumber),
		zap.String("match_id", gameID),
	)
	return nil
}

// MatchFinished advances the bracket for a finished game. It has the shape of
// a dispatcher end observer and logs instead of returning errors.
func (o *Orchestrator) MatchFinished(ctx context.Context, res engine.Result) {
	if err := o.Advance(ctx, res); err != nil {
		o.log.Error("advance bracket", zap.String("match_id", res.MatchID), zap.Error(err))
	}
}

// Advance records the result of a bracket game: the loser is eliminated and
// the winner takes the open slot of the next match, which goes live once both
// slots are filled. The final's winner completes the tournament. Games that
// are not part of a bracket are ignored.
func (o *Orchestrator) Advance(ctx context.Context, res engine.Result) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var next *models.BracketMatch
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bm models.BracketMatch
		err := tx.Where("game_id = ?", res.MatchID).First(&bm).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if bm.Status == models.BracketCompleted {
			return nil
		}

		var ps []models.TournamentParticipant
		if err := tx.Where("id IN ?", []string{*bm.Slot1ID, *bm.Slot2ID}).Find(&ps).Error; err != nil {
			return err
		}
		winner, loser := pickWinner(bm, ps, res)
		now := o.now().UTC()

		if err := tx.Model(&bm).Updates(map[string]any{"winner_id": winner, "status": models.BracketCompleted}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.TournamentParticipant{}).Where("id = ?", loser).Update("eliminated_at", now).Error; err != nil {
			return err
		}

		if bm.NextMatchID == nil {
			o.log.Info("tournament completed", zap.String("tournament_id", bm.TournamentID), zap.String("winner", winner))
			return tx.Model(&models.Tournament{}).Where("id = ?", bm.TournamentID).Updates(map[string]any{
				"status":       models.TournamentCompleted,
				"winner_id":    winner,
				"completed_at": now,
			}).Error
		}

		var nm models.BracketMatch
		if err := tx.First(&nm, "id = ?", *bm.NextMatchID).Error; err != nil {
			return err
		}
		column := "slot2_id"
		if bm.NextSlot == 1 {
			column = "slot1_id"
			nm.Slot1ID = &winner
		} else {
			nm.Slot2ID = &winner
		}
		updates := map[string]any{column: winner}
		if nm.Slot1ID != nil && nm.Slot2ID != nil {
			nm.Status = models.BracketReady
			updates["status"] = nm.Status
			next = &nm
		}
		return tx.Model(&nm).Updates(updates).Error
	})
	if err != nil {
		return fmt.Errorf("advance from game %s: %w", res.MatchID, err)
	}
	if next != nil {
		// a failure leaves next ready without a game; Start realises it later
		return o.realise(ctx, *next)
	}
	return nil
}

// pickWinner maps the game result onto the bracket slots and returns the
// winning and losing participant ids. A result without a winner goes to the
// higher score; a tie goes to slot 1.
func pickWinner(bm models.BracketMatch, ps []models.TournamentParticipant, res engine.Result) (string, string) {
	key := res.WinnerKey()
	if key == "" {
		switch {
		case res.Score[engine.SideLeft] > res.Score[engine.SideRight]:
			key = res.Players[engine.SideLeft].Key()
		case res.Score[engine.SideRight] > res.Score[engine.SideLeft]:
			key = res.Players[engine.SideRight].Key()
		}
	}
	for _, p := range ps {
		if p.ID == *bm.Slot2ID && key != "" && p.Key() == key {
			return *bm.Slot2ID, *bm.Slot1ID
		}
	}
	return *bm.Slot1ID, *bm.Slot2ID
}

func (o *Orchestrator) Get(ctx context.Context, id string) (*models.Tournament, error) {
	t, err := load(o.db.WithContext(ctx), id)
	if err != nil {
		return nil, wrap("load tournament", id, err)
	}
	return t, nil
}

func (o *Orchestrator) Participants(ctx context.Context, id string) ([]models.TournamentParticipant, error) {
	if _, err := o.Get(ctx, id); err != nil {
		return nil, err
	}
	var ps []models.TournamentParticipant
	if err := o.db.WithContext(ctx).Where("tournament_id = ?", id).Order("seed, joined_at, id").Find(&ps).Error; err != nil {
		return nil, fmt.Errorf("load participants %s: %w", id, err)
	}
	return ps, nil
}

func (o *Orchestrator) Bracket(ctx context.Context, id string) (*Bracket, error) {
	t, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ps, err := o.Participants(ctx, id)
	if err != nil {
		return nil, err
	}
	var ms []models.BracketMatch
	if err := o.db.WithContext(ctx).Where("tournament_id = ?", id).Order("round, match_number").Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("load bracket %s: %w", id, err)
	}
	return &Bracket{Tournament: *t, Participants: ps, Matches: ms}, nil
}

func load(tx *gorm.DB, id string) (*models.Tournament, error) {
	var t models.Tournament
	err := tx.First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func exists(q *gorm.DB) (bool, error) {
	var n int64
	err := q.Model(&models.TournamentParticipant{}).Count(&n).Error
	return n > 0, err
}

// wrap adds context to internal errors and passes fault errors through so
// their message reaches the caller unchanged.
func wrap(op, id string, err error) error {
	if _, ok := fault.KindOf(err); ok {
		return err
	}
	return fmt.Errorf("%s %s: %w", op, id, err)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
