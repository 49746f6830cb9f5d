package persistence

import (
	"errors"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/wfunc/werewolfserver/models"
)

func testRecord(id string, ended time.Time) *models.GameRecord {
	return &models.GameRecord{
		GameID:      id,
		PlayerCount: 6,
		WinRule:     "side",
		Result:      "WEREWOLVES_WIN",
		Days:        2,
		Players: []models.PlayerRecord{
			{PlayerID: 1, Name: "a", Role: "werewolf", Alive: true, Won: true},
			{PlayerID: 2, Name: "b", Role: "seer", DeathCause: "werewolf"},
		},
		StartedAt: ended.Add(-time.Minute),
		EndedAt:   ended,
	}
}

// exerciseDatabase runs the same checks against every backend.
func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)

	if _, err := db.LoadGameRecord("missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}

	older := "older-" + strconv.FormatInt(now.UnixNano(), 36)
	newer := "newer-" + strconv.FormatInt(now.UnixNano(), 36)
	if err := db.SaveGameRecord(testRecord(older, now.Add(-time.Hour))); err != nil {
		t.Fatalf("SaveGameRecord: %v", err)
	}
	if err := db.SaveGameRecord(testRecord(newer, now)); err != nil {
		t.Fatalf("SaveGameRecord: %v", err)
	}

	got, err := db.LoadGameRecord(older)
	if err != nil {
		t.Fatalf("LoadGameRecord: %v", err)
	}
	if got.Result != "WEREWOLVES_WIN" || len(got.Players) != 2 || got.Players[1].DeathCause != "werewolf" {
		t.Errorf("Unexpected record: %+v", got)
	}

	list, err := db.ListGameRecords(1)
	if err != nil {
		t.Fatalf("ListGameRecords: %v", err)
	}
	if len(list) != 1 || list[0].GameID != newer {
		t.Errorf("Expected newest record first, got %+v", list)
	}

	name := "agent-" + strconv.FormatInt(now.UnixNano(), 36)
	if _, err := db.LoadAgentStats(name); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound for new agent, got %v", err)
	}
	for i := 0; i < 2; i++ {
		err := db.UpdateAgentStats(name, func(s *models.AgentStats) error {
			s.Games++
			s.VotesCast += 2
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateAgentStats: %v", err)
		}
	}
	stats, err := db.LoadAgentStats(name)
	if err != nil {
		t.Fatalf("LoadAgentStats: %v", err)
	}
	if stats.Games != 2 || stats.VotesCast != 4 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	boom := errors.New("boom")
	if err := db.UpdateAgentStats(name, func(s *models.AgentStats) error {
		s.Games = 100
		return boom
	}); !errors.Is(err, boom) {
		t.Errorf("Expected callback error, got %v", err)
	}
	stats, _ = db.LoadAgentStats(name)
	if stats.Games != 2 {
		t.Errorf("Failed update must not be saved, got %d games", stats.Games)
	}
}

func TestMemory(t *testing.T) {
	exerciseDatabase(t, NewMemory())
}

func TestMemory_ConcurrentUpdates(t *testing.T) {
	db := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			db.UpdateAgentStats("bot", func(s *models.AgentStats) error {
				s.Wins++
				return nil
			})
		}()
	}
	wg.Wait()

	s, err := db.LoadAgentStats("bot")
	if err != nil || s.Wins != 50 {
		t.Errorf("Expected 50 wins, got %+v (%v)", s, err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(Options{Driver: "mongo"}); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("Expected ErrUnknownDriver, got %v", err)
	}
}

// The postgres backends run only when a database is provided, e.g.
// WEREWOLF_TEST_PG_DSN="host=localhost port=5432 user=postgres password=postgres dbname=werewolf sslmode=disable".
func testDSN(t *testing.T) string {
	dsn := os.Getenv("WEREWOLF_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("WEREWOLF_TEST_PG_DSN not set")
	}
	return dsn
}

func TestPostgreSQL(t *testing.T) {
	db, err := NewPostgreSQL(testDSN(t))
	if err != nil {
		t.Fatalf("NewPostgreSQL: %v", err)
	}
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestGormPostgreSQL(t *testing.T) {
	db, err := NewGormPostgreSQL(testDSN(t))
	if err != nil {
		t.Fatalf("NewGormPostgreSQL: %v", err)
	}
	defer db.Close()
	exerciseDatabase(t, db)
}
