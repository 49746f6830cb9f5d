// persistence/memory.go
package persistence

import (
	"sort"
	"sync"
	"time"

	"github.com/wfunc/werewolfserver/models"
)

// Memory 内存实现, for tests and runs without a database.
type Memory struct {
	records map[string]*models.GameRecord
	stats   map[string]*models.AgentStats
	mutex   sync.RWMutex
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*models.GameRecord),
		stats:   make(map[string]*models.AgentStats),
	}
}

func (m *Memory) SaveGameRecord(record *models.GameRecord) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.records[record.GameID] = copyRecord(record)
	return nil
}

func (m *Memory) LoadGameRecord(gameID string) (*models.GameRecord, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	r, exists := m.records[gameID]
	if !exists {
		return nil, ErrRecordNotFound
	}
	return copyRecord(r), nil
}

// ListGameRecords returns the newest records first.
func (m *Memory) ListGameRecords(limit int) ([]*models.GameRecord, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]*models.GameRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, copyRecord(r))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EndedAt.After(out[j].EndedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) LoadAgentStats(name string) (*models.AgentStats, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	s, exists := m.stats[name]
	if !exists {
		return nil, ErrRecordNotFound
	}
	c := *s
	return &c, nil
}

func (m *Memory) UpdateAgentStats(name string, fn func(stats *models.AgentStats) error) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s := models.AgentStats{Name: name}
	if cur, exists := m.stats[name]; exists {
		s = *cur
	}
	if err := fn(&s); err != nil {
		return err
	}
	s.Name = name
	s.UpdatedAt = time.Now()
	m.stats[name] = &s
	return nil
}

func (m *Memory) Close() error {
	return nil
}

func copyRecord(r *models.GameRecord) *models.GameRecord {
	c := *r
	c.Players = append([]models.PlayerRecord(nil), r.Players...)
	return &c
}
