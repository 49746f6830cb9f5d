// models/gorm_models.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// GormGameRecord 游戏记录模型
type GormGameRecord struct {
	gorm.Model
	GameID      string         `gorm:"uniqueIndex;not null"`
	PlayerCount int            `gorm:"not null"`
	WinRule     string         `gorm:"not null"`
	Result      string         `gorm:"index;not null"`
	Days        int            `gorm:"default:0"`
	Players     []PlayerRecord `gorm:"serializer:json;type:jsonb;not null"`
	StartedAt   time.Time
	EndedAt     time.Time
}

func (GormGameRecord) TableName() string {
	return "game_records"
}

func NewGormGameRecord(r *GameRecord) *GormGameRecord {
	return &GormGameRecord{
		GameID:      r.GameID,
		PlayerCount: r.PlayerCount,
		WinRule:     r.WinRule,
		Result:      r.Result,
		Days:        r.Days,
		Players:     r.Players,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
	}
}

func (g *GormGameRecord) Record() *GameRecord {
	return &GameRecord{
		GameID:      g.GameID,
		PlayerCount: g.PlayerCount,
		WinRule:     g.WinRule,
		Result:      g.Result,
		Days:        g.Days,
		Players:     g.Players,
		StartedAt:   g.StartedAt,
		EndedAt:     g.EndedAt,
	}
}

// GormAgentStats agent统计模型
type GormAgentStats struct {
	gorm.Model
	Name           string `gorm:"uniqueIndex;not null"`
	Games          int    `gorm:"default:0"`
	Wins           int    `gorm:"default:0"`
	WerewolfGames  int    `gorm:"default:0"`
	NightsSurvived int    `gorm:"default:0"`
	VotesCast      int    `gorm:"default:0"`
	VotesCorrect   int    `gorm:"default:0"`
}

func (GormAgentStats) TableName() string {
	return "agent_stats"
}

func (g *GormAgentStats) Stats() *AgentStats {
	return &AgentStats{
		Name:           g.Name,
		Games:          g.Games,
		Wins:           g.Wins,
		WerewolfGames:  g.WerewolfGames,
		NightsSurvived: g.NightsSurvived,
		VotesCast:      g.VotesCast,
		VotesCorrect:   g.VotesCorrect,
		UpdatedAt:      g.UpdatedAt,
	}
}

func (g *GormAgentStats) Apply(s *AgentStats) {
	g.Name = s.Name
	g.Games = s.Games
	g.Wins = s.Wins
	g.WerewolfGames = s.WerewolfGames
	g.NightsSurvived = s.NightsSurvived
	g.VotesCast = s.VotesCast
	g.VotesCorrect = s.VotesCorrect
}
