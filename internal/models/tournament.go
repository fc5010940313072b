package models

import "time"

const (
	TournamentRegistering = "registering"
	TournamentInProgress  = "in_progress"
	TournamentCompleted   = "completed"
)

const (
	ParticipantAuthenticated = "authenticated"
	ParticipantAnonymous     = "anonymous"
)

const (
	BracketPending   = "pending"   // waiting for one or both slots
	BracketReady     = "ready"     // both slots filled, match not created yet
	BracketPlaying   = "playing"   // realised as a live game
	BracketCompleted = "completed" // winner recorded
)

// Tournament is a single-elimination event. MaxParticipants is a power of two.
type Tournament struct {
	ID              string     `json:"id" gorm:"primaryKey"`
	Name            string     `json:"name" gorm:"not null"`
	MaxParticipants int        `json:"max_participants" gorm:"not null"`
	Status          string     `json:"status" gorm:"type:varchar(16);default:'registering';index"`
	CreatedBy       *string    `json:"created_by,omitempty"`
	Rounds          int        `json:"rounds" gorm:"default:0"`
	WinnerID        *string    `json:"winner_id,omitempty"` // participant id
	CreatedAt       time.Time  `json:"created_at" gorm:"autoCreateTime"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// TournamentParticipant is scoped to one tournament. AliasKey is the
// case-folded alias and is unique per tournament; UserID is unique per
// tournament when present.
type TournamentParticipant struct {
	ID              string     `json:"id" gorm:"primaryKey"`
	TournamentID    string     `json:"tournament_id" gorm:"not null;uniqueIndex:idx_participant_alias;uniqueIndex:idx_participant_user"`
	UserID          *string    `json:"user_id,omitempty" gorm:"uniqueIndex:idx_participant_user"`
	Alias           string     `json:"alias" gorm:"size:50;not null"`
	AliasKey        string     `json:"-" gorm:"not null;uniqueIndex:idx_participant_alias"`
	SessionID       *string    `json:"session_id,omitempty"`
	ParticipantType string     `json:"participant_type" gorm:"type:varchar(16);not null"`
	Seed            int        `json:"seed,omitempty" gorm:"default:0"`
	JoinedAt        time.Time  `json:"joined_at" gorm:"autoCreateTime"`
	EliminatedAt    *time.Time `json:"eliminated_at,omitempty"`
}

// Key is the participant id used in live games. Sessions are not unique
// within a tournament, so anonymous participants play under their record id.
func (p TournamentParticipant) Key() string {
	if p.UserID != nil && *p.UserID != "" {
		return *p.UserID
	}
	return p.ID
}

// BracketMatch is one slot pairing in the bracket. The winner moves to
// NextMatchID in NextSlot; the final has no next match.
type BracketMatch struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	TournamentID string    `json:"tournament_id" gorm:"not null;uniqueIndex:idx_bracket_position"`
	Round        int       `json:"round" gorm:"not null;uniqueIndex:idx_bracket_position"`
	MatchNumber  int       `json:"match_number" gorm:"not null;uniqueIndex:idx_bracket_position"`
	Slot1ID      *string   `json:"slot1_id,omitempty"`
	Slot2ID      *string   `json:"slot2_id,omitempty"`
	WinnerID     *string   `json:"winner_id,omitempty"`
	GameID       *string   `json:"game_id,omitempty" gorm:"uniqueIndex"`
	NextMatchID  *string   `json:"next_match_id,omitempty"`
	NextSlot     int       `json:"next_slot,omitempty"`
	Status       string    `json:"status" gorm:"type:varchar(16);default:'pending'"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// All lists every model for migration.
func All() []any {
	return []any{
		&Game{},
		&UserStat{},
		&Tournament{},
		&TournamentParticipant{},
		&BracketMatch{},
	}
}
