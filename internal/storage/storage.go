// Package storage persists finished games and per-user stats. Writes happen
// off the tick path; callers give every call its own timeout.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/pong-arena-backend/internal/fault"
	"github.com/DoyleJ11/pong-arena-backend/internal/models"
)

var ErrGameNotFound = fault.Validation("Game not found")
var ErrStatsNotFound = fault.Validation("No stats for user")
var ErrAlreadyCompleted = fault.Persistence("Game already completed")

type Gateway struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects with the named driver: "postgres" or "sqlite".
func Open(driver, dsn string, log *zap.Logger) (*Gateway, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(zap.NewStdLog(log.Named("gorm")), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// one connection keeps :memory: databases shared and serialises writers
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db, log), nil
}

func New(db *gorm.DB, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{db: db, log: log}
}

// DB is shared with the tournament store.
func (g *Gateway) DB() *gorm.DB { return g.db }

func (g *Gateway) Migrate(ctx context.Context) error {
	if err := g.db.WithContext(ctx).AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (g *Gateway) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateGame writes the row for a new match. An existing row is left alone.
func (g *Gateway) CreateGame(ctx context.Context, id, mode string) error {
	game := models.Game{ID: id, Mode: mode, Status: models.GameInProgress}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&game).Error
	if err != nil {
		return fmt.Errorf("create game %s: %w", id, err)
	}
	return nil
}

// Outcome is a finished match. Player and winner ids are user ids; empty
// means anonymous or no winner.
type Outcome struct {
	MatchID   string
	Mode      string
	Player1ID string
	Player2ID string
	Score1    int
	Score2    int
	WinnerID  string
	Duration  time.Duration
}

// CompleteGame marks the game finished and updates both players' stats in
// one transaction. Completing the same game twice returns ErrAlreadyCompleted
// and changes nothing.
func (g *Gateway) CompleteGame(ctx context.Context, o Outcome) error {
	now := time.Now().UTC()
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// the creation write may have failed; the outcome still lands
		row := models.Game{ID: o.MatchID, Mode: o.Mode, Status: models.GameInProgress}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("ensure game row: %w", err)
		}

		res := tx.Model(&models.Game{}).
			Where("id = ? AND status <> ?", o.MatchID, models.GameFinished).
			Updates(map[string]any{
				"player1_id":    nullable(o.Player1ID),
				"player2_id":    nullable(o.Player2ID),
				"player1_score": o.Score1,
				"player2_score": o.Score2,
				"winner_id":     nullable(o.WinnerID),
				"duration":      o.Duration.Milliseconds(),
				"status":        models.GameFinished,
				"completed_at":  now,
			})
		if res.Error != nil {
			return fmt.Errorf("update game: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyCompleted
		}

		seen := make(map[string]bool, 2)
		for _, id := range []string{o.Player1ID, o.Player2ID} {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			if err := bumpStats(tx, id, o.WinnerID, now); err != nil {
				return fmt.Errorf("stats for %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyCompleted) {
			return err
		}
		return fmt.Errorf("complete game %s: %w", o.MatchID, err)
	}
	return nil
}

func bumpStats(tx *gorm.DB, userID, winnerID string, now time.Time) error {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.UserStat{UserID: userID}).Error; err != nil {
		return err
	}

	won, lost := 0, 0
	switch winnerID {
	case "":
		// no winner: counts as played only
	case userID:
		won = 1
	default:
		lost = 1
	}
	err := tx.Model(&models.UserStat{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"games_played": gorm.Expr("games_played + 1"),
			"games_won":    gorm.Expr("games_won + ?", won),
			"games_lost":   gorm.Expr("games_lost + ?", lost),
			"updated_at":   now,
		}).Error
	if err != nil {
		return err
	}

	var stat models.UserStat
	if err := tx.First(&stat, "user_id = ?", userID).Error; err != nil {
		return err
	}
	rate := 0.0
	if stat.GamesPlayed > 0 {
		rate = float64(stat.GamesWon) / float64(stat.GamesPlayed)
	}
	return tx.Model(&models.UserStat{}).Where("user_id = ?", userID).Update("win_rate", rate).Error
}

func (g *Gateway) Game(ctx context.Context, id string) (*models.Game, error) {
	var game models.Game
	err := g.db.WithContext(ctx).First(&game, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", id, err)
	}
	return &game, nil
}

func (g *Gateway) UserStats(ctx context.Context, userID string) (*models.UserStat, error) {
	var stat models.UserStat
	err := g.db.WithContext(ctx).First(&stat, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStatsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load stats %s: %w", userID, err)
	}
	return &stat, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
