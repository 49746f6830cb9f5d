package services

import (
	"errors"
	"fmt"

	"github.com/wfunc/werewolfserver/logger"
	"github.com/wfunc/werewolfserver/models"
	"github.com/wfunc/werewolfserver/persistence"
)

// StatsService 维护每个agent的累计统计
type StatsService struct {
	db persistence.Database
}

func NewStatsService(db persistence.Database) *StatsService {
	return &StatsService{db: db}
}

// RecordGame saves the record and folds every player into its agent's stats.
// Players without a name are counted under "player-<id>".
func (s *StatsService) RecordGame(record *models.GameRecord) error {
	if err := s.db.SaveGameRecord(record); err != nil {
		return fmt.Errorf("save game record %s: %w", record.GameID, err)
	}

	var errs []error
	for _, p := range record.Players {
		p := p
		err := s.db.UpdateAgentStats(agentName(p), func(stats *models.AgentStats) error {
			stats.Games++
			if p.Won {
				stats.Wins++
			}
			if p.Role == "werewolf" {
				stats.WerewolfGames++
			}
			stats.NightsSurvived += p.NightsSurvived
			stats.VotesCast += p.VotesCast
			stats.VotesCorrect += p.VotesCorrect
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("update stats for player %d: %w", p.PlayerID, err))
		}
	}
	return errors.Join(errs...)
}

func agentName(p models.PlayerRecord) string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("player-%d", p.PlayerID)
}

// GetAgentStats 获取agent统计
func (s *StatsService) GetAgentStats(name string) (*models.AgentStats, error) {
	return s.db.LoadAgentStats(name)
}

// RecentGames returns up to limit records, newest first.
func (s *StatsService) RecentGames(limit int) ([]*models.GameRecord, error) {
	records, err := s.db.ListGameRecords(limit)
	if err != nil {
		logger.Log.Warnf("list game records: %v", err)
	}
	return records, err
}
