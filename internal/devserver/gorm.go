package devserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type gameRow struct {
	ID         uint      `gorm:"primaryKey"`
	Name       string    `gorm:"not null;default:''"`
	State      string    `gorm:"not null;default:'waiting'"`
	MaxPlayers int       `gorm:"not null;default:0"`
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Relationships
	Players []playerRow `gorm:"foreignKey:GameID;constraint:OnDelete:CASCADE"`
}

func (gameRow) TableName() string { return "games" }

type playerRow struct {
	ID       uint   `gorm:"primaryKey"`
	GameID   uint   `gorm:"not null;index"`
	Name     string `gorm:"not null"`
	Position int    `gorm:"not null"`
	Score    *int   // nil until the game ends
	JoinedAt time.Time
}

func (playerRow) TableName() string { return "players" }

func (r gameRow) toGame() Game {
	g := Game{
		ID:         int(r.ID),
		Name:       r.Name,
		State:      r.State,
		MaxPlayers: r.MaxPlayers,
		Players:    make([]string, 0, len(r.Players)),
		Score:      map[string]int{},
	}
	for _, p := range r.Players {
		g.Players = append(g.Players, p.Name)
		if p.Score != nil {
			g.Score[p.Name] = *p.Score
		}
	}
	return g
}

func playerRows(g Game) []playerRow {
	now := time.Now()
	rows := make([]playerRow, 0, len(g.Players))
	for i, name := range g.Players {
		row := playerRow{GameID: uint(g.ID), Name: name, Position: i, JoinedAt: now}
		if points, ok := g.Score[name]; ok {
			row.Score = &points
		}
		rows = append(rows, row)
	}
	return rows
}

// GormRepository stores games in Postgres.
type GormRepository struct {
	db *gorm.DB
}

// OpenGorm connects to dsn and migrates the schema.
func OpenGorm(ctx context.Context, dsn string) (*GormRepository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&gameRow{}, &playerRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &GormRepository{db: db}, nil
}

func (r *GormRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func byPosition(db *gorm.DB) *gorm.DB { return db.Order("position") }

func (r *GormRepository) List(ctx context.Context) ([]Game, error) {
	var rows []gameRow
	if err := r.db.WithContext(ctx).Preload("Players", byPosition).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	games := make([]Game, len(rows))
	for i, row := range rows {
		games[i] = row.toGame()
	}
	return games, nil
}

func (r *GormRepository) Create(ctx context.Context, g Game) (Game, error) {
	row := gameRow{Name: g.Name, State: g.State, MaxPlayers: g.MaxPlayers, Players: playerRows(g)}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Game{}, err
	}
	return row.toGame(), nil
}

func (r *GormRepository) Update(ctx context.Context, id int, fn func(*Game) error) (Game, error) {
	var out Game
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row gameRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Preload("Players", byPosition).First(&row, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		g := row.toGame()
		if err := fn(&g); err != nil {
			return err
		}

		if err := tx.Model(&row).Updates(map[string]any{
			"name":        g.Name,
			"state":       g.State,
			"max_players": g.MaxPlayers,
		}).Error; err != nil {
			return err
		}
		if err := tx.Where("game_id = ?", row.ID).Delete(&playerRow{}).Error; err != nil {
			return err
		}
		if players := playerRows(g); len(players) > 0 {
			if err := tx.Create(&players).Error; err != nil {
				return err
			}
		}
		out = g
		return nil
	})
	return out, err
}

func (r *GormRepository) Delete(ctx context.Context, id int) error {
	res := r.db.WithContext(ctx).Delete(&gameRow{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
