package models

import "time"

const (
	GameInProgress = "in_progress"
	GameFinished   = "finished"
)

// Game is one match, written when the match is created and completed when it
// finishes. Player and winner ids are only set for authenticated users.
type Game struct {
	ID           string     `json:"id" gorm:"primaryKey"`
	Mode         string     `json:"mode" gorm:"type:varchar(16);not null"`
	Player1ID    *string    `json:"player1_id,omitempty" gorm:"index"`
	Player2ID    *string    `json:"player2_id,omitempty" gorm:"index"`
	Player1Score int        `json:"player1_score" gorm:"default:0"`
	Player2Score int        `json:"player2_score" gorm:"default:0"`
	WinnerID     *string    `json:"winner_id,omitempty"`
	Duration     int64      `json:"duration"` // milliseconds of play
	Status       string     `json:"status" gorm:"type:varchar(16);default:'in_progress'"`
	CreatedAt    time.Time  `json:"created_at" gorm:"autoCreateTime"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// UserStat aggregates finished games per authenticated user.
type UserStat struct {
	UserID      string    `json:"user_id" gorm:"primaryKey"`
	GamesPlayed int       `json:"games_played" gorm:"not null;default:0"`
	GamesWon    int       `json:"games_won" gorm:"not null;default:0"`
	GamesLost   int       `json:"games_lost" gorm:"not null;default:0"`
	WinRate     float64   `json:"win_rate" gorm:"not null;default:0"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (UserStat) TableName() string { return "user_stats" }
