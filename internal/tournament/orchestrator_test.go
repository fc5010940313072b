package tournament

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/pong-arena-backend/internal/engine"
	"github.com/DoyleJ11/pong-arena-backend/internal/hub"
	"github.com/DoyleJ11/pong-arena-backend/internal/models"
	"github.com/DoyleJ11/pong-arena-backend/internal/storage"
)

type fakeCreator struct {
	mu    sync.Mutex
	specs []hub.MatchSpec
	err   error
}

func (f *fakeCreator) CreateMatch(_ context.Context, spec hub.MatchSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.specs = append(f.specs, spec)
	return fmt.Sprintf("game-%d", len(f.specs)), nil
}

func newOrchestrator(t *testing.T) (*Orchestrator, *fakeCreator) {
	t.Helper()
	g, err := storage.Open("sqlite", ":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, g.Migrate(context.Background()))
	t.Cleanup(func() { _ = g.Close() })

	creator := &fakeCreator{}
	o := New(g.DB(), creator,
		WithLogger(zaptest.NewLogger(t)),
		WithRand(rand.New(rand.NewPCG(1, 2))),
	)
	return o, creator
}

// fill creates a tournament and joins n authenticated users u1..un.
func fill(t *testing.T, o *Orchestrator, capacity, n int) *models.Tournament {
	t.Helper()
	ctx := context.Background()
	tr, err := o.Create(ctx, "Spring Cup", capacity, "")
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		_, err := o.Join(ctx, tr.ID, JoinRequest{Alias: fmt.Sprintf("player%d", i), UserID: fmt.Sprintf("u%d", i)})
		require.NoError(t, err)
	}
	return tr
}

func TestValidSize(t *testing.T) {
	for _, n := range []int{2, 4, 8, 16, 32} {
		assert.True(t, ValidSize(n), "%d should be valid", n)
	}
	for _, n := range []int{-2, 0, 1, 3, 5, 6, 33, 64} {
		assert.False(t, ValidSize(n), "%d should be invalid", n)
	}
}

func TestCreate_Validation(t *testing.T) {
	o, _ := newOrchestrator(t)
	ctx := context.Background()

	for _, capacity := range []int{0, 1, 3, 5, 33} {
		_, err := o.Create(ctx, "Cup", capacity, "")
		assert.ErrorIs(t, err, ErrInvalidCapacity, "capacity %d", capacity)
	}
	_, err := o.Create(ctx, "   ", 4, "")
	assert.ErrorIs(t, err, ErrNameRequired)

	tr, err := o.Create(ctx, "  Cup  ", 8, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Cup", tr.Name)
	assert.Equal(t, models.TournamentRegistering, tr.Status)
	require.NotNil(t, tr.CreatedBy)
	assert.Equal(t, "u1", *tr.CreatedBy)
}

func TestJoin_DuplicateUser(t *testing.T) {
	o, _ := newOrchestrator(t)
	ctx := context.Background()
	tr := fill(t, o, 4, 1)

	_, err := o.Join(ctx, tr.ID, JoinRequest{Alias: "someone-else", UserID: "u1"})
	assert.ErrorIs(t, err, ErrUserJoined)
	assert.EqualError(t, err, "User already in tournament")

	ps, err := o.Participants(ctx, tr.ID)
	require.NoError(t, err)
	assert.Len(t, ps, 1)
}

func TestJoin_AliasIsCaseInsensitive(t *testing.T) {
	o, _ := newOrchestrator(t)
	ctx := context.Background()
	tr, err := o.Create(ctx, "Cup", 4, "")
	require.NoError(t, err)

	_, err = o.Join(ctx, tr.ID, JoinRequest{Alias: "Max", UserID: "u1"})
	require.NoError(t, err)
	_, err = o.Join(ctx, tr.ID, JoinRequest{Alias: "max", SessionID: "s1"})
	assert.EqualError(t, err, "Alias already taken in this tournament")
	_, err = o.Join(ctx, tr.ID, JoinRequest{Alias: "  MAX ", SessionID: "s2"})
	assert.ErrorIs(t, err, ErrAliasTaken)

	other, err := o.Create(ctx, "Other Cup", 4, "")
	require.NoError(t, err)
	_, err = o.Join(ctx, other.ID, JoinRequest{Alias: "max", SessionID: "s1"})
	assert.NoError(t, err, "aliases are scoped to one tournament")
}

func TestJoin_Validation(t *testing.T) {
	o, _ := newOrchestrator(t)
	ctx := context.Background()
	tr, err := o.Create(ctx, "Cup", 4, "")
	require.NoError(t, err)

	cases := []struct {
		name string
		id   string
		req  JoinRequest
		want error
	}{
		{"blank alias", tr.ID, JoinRequest{Alias: "   ", UserID: "u1"}, ErrAliasRequired},
		{"long alias", tr.ID, JoinRequest{Alias: strings.Repeat("é", 51), UserID: "u1"}, ErrAliasTooLong},
		{"no identity", tr.ID, JoinRequest{Alias: "Ann"}, ErrIdentityRequired},
		{"unknown tournament", "nope", JoinRequest{Alias: "Ann", UserID: "u1"}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := o.Join(ctx, tc.id, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	p, err := o.Join(ctx, tr.ID, JoinRequest{Alias: strings.Repeat("é", 50), UserID: "u1"})
	require.NoError(t, err, "50 characters is allowed")
	assert.Equal(t, models.ParticipantAuthenticated, p.ParticipantType)
}

func TestJoin_AnonymousNotDeduplicated(t *testing.T) {
	o, _ := newOrchestrator(t)
	ctx := context.Background()
	tr, err := o.Create(ctx, "Cup", 4, "")
	require.NoError(t, err)

	a, err := o.Join(ctx, tr.ID, JoinRequest{Alias: "Guest", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantAnonymous, a.ParticipantType)
	assert.Nil(t, a.UserID)

	_, err = o.Join(ctx, tr.ID, JoinRequest{Alias: "Guest 2", SessionID: "s1"})
	assert.NoError(t, err)
}

func TestStart_BracketShape(t *testing.T) {
	for _, n := range []int{2, 4, 8, 16, 32} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			o, creator := newOrchestrator(t)
			tr := fill(t, o, 32, n)

			b, err := o.Start(context.Background(), tr.ID)
			require.NoError(t, err)

			rounds := 0
			for 1<<rounds < n {
				rounds++
			}
			assert.Equal(t, models.TournamentInProgress, b.Tournament.Status)
			assert.Equal(t, rounds, b.Tournament.Rounds)
			assert.Len(t, b.Matches, n-1)

			first := b.Round(1)
			require.Len(t, first, n/2)
			seen := map[string]bool{}
			for _, m := range first {
				require.NotNil(t, m.Slot1ID)
				require.NotNil(t, m.Slot2ID)
				assert.NotEqual(t, *m.Slot1ID, *m.Slot2ID)
				assert.False(t, seen[*m.Slot1ID] || seen[*m.Slot2ID], "participant in two first-round matches")
				seen[*m.Slot1ID], seen[*m.Slot2ID] = true, true
				assert.Equal(t, models.BracketPlaying, m.Status)
				assert.NotNil(t, m.GameID)
			}
			assert.Len(t, seen, n)

			seeds := map[int]bool{}
			for _, p := range b.Participants {
				seeds[p.Seed] = true
			}
			for s := 1; s <= n; s++ {
				assert.True(t, seeds[s], "seed %d missing", s)
			}

			require.Len(t, creator.specs, n/2)
			for _, spec := range creator.specs {
				assert.Equal(t, engine.ModeNetworkedPvP, spec.Mode)
				assert.Len(t, spec.Players, 2)
			}
		})
	}
}

func TestStart_NextLinks(t *testing.T) {
	o, _ := newOrchestrator(t)
	tr := fill(t, o, 8, 8)
	b, err := o.Start(context.Background(), tr.ID)
	require.NoError(t, err)

	byID := map[string]models.BracketMatch{}
	for _, m := range b.Matches {
		byID[m.ID] = m
	}
	for _, m := range b.Matches {
		if m.Round == b.Tournament.Rounds {
			assert.Nil(t, m.NextMatchID, "final has no next match")
			continue
		}
		require.NotNil(t, m.NextMatchID)
		next := byID[*m.NextMatchID]
		assert.Equal(t, m.Round+1, next.Round)
		assert.Equal(t, (m.MatchNumber+1)/2, next.MatchNumber)
		assert.Equal(t, 2-m.MatchNumber%2, m.NextSlot)
	}
}

func TestStart_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("joined count not a power of two", func(t *testing.T) {
		o, creator := newOrchestrator(t)
		tr := fill(t, o, 8, 3)
		_, err := o.Start(ctx, tr.ID)
		assert.ErrorIs(t, err, ErrNotPowerOfTwo)
		assert.Empty(t, creator.specs)

		got, err := o.Get(ctx, tr.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TournamentRegistering, got.Status)
	})
	t.Run("fewer than two", func(t *testing.T) {
		o, _ := newOrchestrator(t)
		tr := fill(t, o, 4, 1)
		_, err := o.Start(ctx, tr.ID)
		assert.ErrorIs(t, err, ErrTooFew)
	})
	t.Run("fewer than capacity", func(t *testing.T) {
		o, _ := newOrchestrator(t)
		tr := fill(t, o, 8, 4)
		b, err := o.Start(ctx, tr.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, b.Tournament.Rounds)
	})
	t.Run("twice", func(t *testing.T) {
		o, _ := newOrchestrator(t)
		tr := fill(t, o, 2, 2)
		_, err := o.Start(ctx, tr.ID)
		require.NoError(t, err)
		_, err = o.Start(ctx, tr.ID)
		assert.ErrorIs(t, err, ErrAlreadyStarted)
	})
	t.Run("unknown", func(t *testing.T) {
		o, _ := newOrchestrator(t)
		_, err := o.Start(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStart_RetriesAfterCreateMatchFails(t *testing.T) {
	o, creator := newOrchestrator(t)
	ctx := context.Background()
	tr := fill(t, o, 4, 4)

	creator.err = errors.New("dispatcher down")
	_, err := o.Start(ctx, tr.ID)
	require.ErrorContains(t, err, "dispatcher down")

	stuck, err := o.Bracket(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentInProgress, stuck.Tournament.Status)
	for _, m := range stuck.Round(1) {
		assert.Equal(t, models.BracketReady, m.Status)
		assert.Nil(t, m.GameID)
	}

	creator.err = nil
	b, err := o.Start(ctx, tr.ID)
	require.NoError(t, err)
	for _, m := range b.Round(1) {
		assert.Equal(t, models.BracketPlaying, m.Status)
		assert.NotNil(t, m.GameID)
	}
	assert.Len(t, creator.specs, 2)
	assert.Equal(t, stuck.Participants, b.Participants, "seeding is not redone")

	_, err = o.Start(ctx, tr.ID)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Len(t, creator.specs, 2)
}

func TestAdvance_NextMatchRecoveredByStart(t *testing.T) {
	o, creator := newOrchestrator(t)
	ctx := context.Background()
	tr := fill(t, o, 4, 4)
	b, err := o.Start(ctx, tr.ID)
	require.NoError(t, err)

	m1, m2 := b.Round(1)[0], b.Round(1)[1]
	require.NoError(t, o.Advance(ctx, result(*m1.GameID, keyOf(b.Participants, *m1.Slot1ID), keyOf(b.Participants, *m1.Slot2ID))))

	creator.err = errors.New("dispatcher down")
	err = o.Advance(ctx, result(*m2.GameID, keyOf(b.Participants, *m2.Slot1ID), keyOf(b.Participants, *m2.Slot2ID)))
	require.ErrorContains(t, err, "dispatcher down")

	mid, err := o.Bracket(ctx, tr.ID)
	require.NoError(t, err)
	final := mid.Round(2)[0]
	assert.Equal(t, models.BracketReady, final.Status)
	assert.Nil(t, final.GameID)

	creator.err = nil
	after, err := o.Start(ctx, tr.ID)
	require.NoError(t, err)
	final = after.Round(2)[0]
	assert.Equal(t, models.BracketPlaying, final.Status)
	require.NotNil(t, final.GameID)
	require.Len(t, creator.specs, 3)
}

func TestStart_SharedSessionParticipantsGetDistinctKeys(t *testing.T) {
	o, creator := newOrchestrator(t)
	ctx := context.Background()
	tr, err := o.Create(ctx, "Couch Cup", 2, "")
	require.NoError(t, err)

	first, err := o.Join(ctx, tr.ID, JoinRequest{Alias: "Guest", SessionID: "s1"})
	require.NoError(t, err)
	second, err := o.Join(ctx, tr.ID, JoinRequest{Alias: "Guest 2", SessionID: "s1"})
	require.NoError(t, err)

	_, err = o.Start(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, creator.specs, 1)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, creator.specs[0].Players)

	// both can take a side in the live game
	e := engine.New("g", engine.ModeNetworkedPvP)
	for _, p := range []*models.TournamentParticipant{first, second} {
		_, _, err := e.AddPlayer(engine.Identity{ParticipantID: p.ID, SessionID: *p.SessionID, DisplayName: p.Alias})
		require.NoError(t, err)
	}
	assert.Equal(t, engine.StatusReadyCheck, e.Status())
}

func TestEndToEnd_FourPlayers(t *testing.T) {
	o, creator := newOrchestrator(t)
	ctx := context.Background()

	tr, err := o.Create(ctx, "Friday Night", 4, "1")
	require.NoError(t, err)
	joins := []JoinRequest{
		{Alias: "Ann", UserID: "1"},
		{Alias: "Bob", SessionID: "s1"},
		{Alias: "Cleo", UserID: "2"},
		{Alias: "Dee", SessionID: "s2"},
	}
	ids := map[string]string{}
	for _, req := range joins {
		p, err := o.Join(ctx, tr.ID, req)
		require.NoError(t, err, req.Alias)
		ids[req.Alias] = p.ID
	}

	b, err := o.Start(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Tournament.Rounds)
	first := b.Round(1)
	require.Len(t, first, 2)
	for _, m := range first {
		assert.NotEqual(t, *m.Slot1ID, *m.Slot2ID)
	}

	keys := map[string]bool{}
	for _, spec := range creator.specs {
		for _, k := range spec.Players {
			keys[k] = true
		}
	}
	assert.Equal(t, map[string]bool{"1": true, ids["Bob"]: true, "2": true, ids["Dee"]: true}, keys)

	_, err = o.Join(ctx, tr.ID, JoinRequest{Alias: "Eve", UserID: "5"})
	assert.EqualError(t, err, "Tournament is full")
}

// result builds a finished game in which the holder of winnerKey beat loserKey.
func result(gameID, winnerKey, loserKey string) engine.Result {
	return engine.Result{
		MatchID: gameID,
		Mode:    engine.ModeNetworkedPvP,
		Players: [2]engine.Identity{{UserID: loserKey}, {UserID: winnerKey}},
		Score:   [2]int{4, 11},
		Winner:  engine.SideRight,
	}
}

func keyOf(ps []models.TournamentParticipant, id string) string {
	for _, p := range ps {
		if p.ID == id {
			return p.Key()
		}
	}
	return ""
}

func TestAdvance_ToChampion(t *testing.T) {
	o, creator := newOrchestrator(t)
	ctx := context.Background()
	tr := fill(t, o, 4, 4)
	b, err := o.Start(ctx, tr.ID)
	require.NoError(t, err)

	// slot 2 wins match 1, slot 1 wins match 2
	m1, m2 := b.Round(1)[0], b.Round(1)[1]
	require.NoError(t, o.Advance(ctx, result(*m1.GameID, keyOf(b.Participants, *m1.Slot2ID), keyOf(b.Participants, *m1.Slot1ID))))

	mid, err := o.Bracket(ctx, tr.ID)
	require.NoError(t, err)
	final := mid.Round(2)[0]
	assert.Equal(t, models.BracketPending, final.Status)
	require.NotNil(t, final.Slot1ID)
	assert.Equal(t, *m1.Slot2ID, *final.Slot1ID)
	assert.Nil(t, final.Slot2ID)
	assert.Len(t, creator.specs, 2, "final waits for both semi-finals")

	require.NoError(t, o.Advance(ctx, result(*m2.GameID, keyOf(b.Participants, *m2.Slot1ID), keyOf(b.Participants, *m2.Slot2ID))))

	mid, err = o.Bracket(ctx, tr.ID)
	require.NoError(t, err)
	final = mid.Round(2)[0]
	assert.Equal(t, models.BracketPlaying, final.Status)
	assert.Equal(t, *m2.Slot1ID, *final.Slot2ID)
	require.Len(t, creator.specs, 3)
	assert.ElementsMatch(t,
		[]string{keyOf(b.Participants, *m1.Slot2ID), keyOf(b.Participants, *m2.Slot1ID)},
		creator.specs[2].Players,
	)

	// replays of a finished game change nothing
	require.NoError(t, o.Advance(ctx, result(*m1.GameID, keyOf(b.Participants, *m1.Slot1ID), keyOf(b.Participants, *m1.Slot2ID))))

	champion := *final.Slot2ID
	require.NoError(t, o.Advance(ctx, result(*final.GameID, keyOf(b.Participants, champion), keyOf(b.Participants, *final.Slot1ID))))

	done, err := o.Bracket(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentCompleted, done.Tournament.Status)
	require.NotNil(t, done.Tournament.WinnerID)
	assert.Equal(t, champion, *done.Tournament.WinnerID)
	assert.NotNil(t, done.Tournament.CompletedAt)

	eliminated := 0
	for _, p := range done.Participants {
		if p.EliminatedAt != nil {
			eliminated++
			assert.NotEqual(t, champion, p.ID)
		}
	}
	assert.Equal(t, 3, eliminated)
}

func TestAdvance_IgnoresOtherGames(t *testing.T) {
	o, _ := newOrchestrator(t)
	assert.NoError(t, o.Advance(context.Background(), result("casual", "1", "2")))
}

func TestPickWinner_NoWinnerUsesScoreThenSlotOne(t *testing.T) {
	s1, s2 := "p1", "p2"
	bm := models.BracketMatch{Slot1ID: &s1, Slot2ID: &s2}
	ps := []models.TournamentParticipant{
		{ID: "p1", UserID: ptr("1")},
		{ID: "p2", SessionID: ptr("s2")},
	}

	res := engine.Result{
		Players: [2]engine.Identity{{ParticipantID: "p2", SessionID: "s2"}, {UserID: "1"}},
		Score:   [2]int{3, 1},
		Winner:  engine.NoSide,
	}
	w, l := pickWinner(bm, ps, res)
	assert.Equal(t, "p2", w)
	assert.Equal(t, "p1", l)

	res.Score = [2]int{2, 2}
	w, _ = pickWinner(bm, ps, res)
	assert.Equal(t, "p1", w)
}

func ptr(s string) *string { return &s }
