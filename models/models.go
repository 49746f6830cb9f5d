// models/models.go
package models

import (
	"time"
)

// GameRecord 一局游戏的记录
type GameRecord struct {
	GameID      string         `json:"game_id"`
	PlayerCount int            `json:"player_count"`
	WinRule     string         `json:"win_rule"`
	Result      string         `json:"result"`
	Days        int            `json:"days"`
	Players     []PlayerRecord `json:"players"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     time.Time      `json:"ended_at"`
}

// PlayerRecord 玩家信息（用于游戏记录）
type PlayerRecord struct {
	PlayerID       int    `json:"player_id"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	Alive          bool   `json:"alive"`
	DeathCause     string `json:"death_cause,omitempty"`
	Won            bool   `json:"won"`
	NightsSurvived int    `json:"nights_survived"`
	VotesCast      int    `json:"votes_cast"`
	VotesCorrect   int    `json:"votes_correct"`
}

// AgentStats 按agent名字累计的统计
type AgentStats struct {
	Name           string    `json:"name"`
	Games          int       `json:"games"`
	Wins           int       `json:"wins"`
	WerewolfGames  int       `json:"werewolf_games"`
	NightsSurvived int       `json:"nights_survived"`
	VotesCast      int       `json:"votes_cast"`
	VotesCorrect   int       `json:"votes_correct"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (s AgentStats) WinRate() float64 {
	if s.Games == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Games)
}

// VoteAccuracy is the share of day votes cast against a werewolf.
func (s AgentStats) VoteAccuracy() float64 {
	if s.VotesCast == 0 {
		return 0
	}
	return float64(s.VotesCorrect) / float64(s.VotesCast)
}
