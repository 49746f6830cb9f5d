package recorder

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/wfunc/werewolfserver/game"
	"github.com/wfunc/werewolfserver/models"
)

type MockSaver struct {
	records []*models.GameRecord
	err     error
}

func (m *MockSaver) RecordGame(record *models.GameRecord) error {
	m.records = append(m.records, record)
	return m.err
}

func fixedClock() func() time.Time {
	t := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func sixPlayers() []models.PlayerRecord {
	return []models.PlayerRecord{
		{PlayerID: 1, Role: "werewolf", Alive: true},
		{PlayerID: 2, Role: "seer", Alive: true},
		{PlayerID: 3, Role: "villager", Alive: true},
		{PlayerID: 4, Role: "werewolf", Alive: true},
		{PlayerID: 5, Role: "witch", Alive: true},
		{PlayerID: 6, Role: "villager", Alive: true},
	}
}

func TestRecorder_Logs(t *testing.T) {
	r := New()
	r.now = fixedClock()

	r.GameStart(game.Preset6, sixPlayers())
	r.NightStart()
	r.RecordWolfAction(1, 3)
	r.RecordWolfAction(4, 0)
	r.RecordWolfKill(3)
	r.RecordProphetCheck(2, 4, true)
	r.NewDay()
	r.RecordPlayerDeath(3, game.CauseWerewolf)
	r.RecordSpeech(1, "I am a villager.")
	r.RecordVote(1, 4)
	r.RecordVote(2, 0)
	r.RecordVotingResult([]int{4, 4, 4, 1}, 4)

	if got := len(r.Logs(LogWolf)); got != 2 {
		t.Errorf("Expected 2 wolf entries, got %d", got)
	}
	if got := r.Logs(LogVote)[1].Content; got != "Player 2 voted for abstain." {
		t.Errorf("Unexpected abstention content: %q", got)
	}
	speech := r.Logs(LogSpeech)
	if len(speech) != 1 || speech[0].Day != 1 || speech[0].Metadata["player_id"] != 1 {
		t.Errorf("Unexpected speech log: %+v", speech)
	}

	public := r.Logs(LogPublic)
	last := public[len(public)-1]
	if last.Event != "voting_result" {
		t.Fatalf("Expected voting_result last, got %s", last.Event)
	}
	counts := last.Metadata["vote_counts"].(map[int]int)
	if counts[4] != 3 || counts[1] != 1 {
		t.Errorf("Unexpected vote counts: %v", counts)
	}
}

func TestRecorder_OptionalEventsSkipZero(t *testing.T) {
	r := New()
	r.RecordWitchSave(0)
	r.RecordWitchKill(0)
	r.RecordHunterKill(0)
	if got := len(r.Logs(LogPublic)); got != 0 {
		t.Errorf("Expected nothing logged for unused abilities, got %d", got)
	}
	r.RecordWolfKill(0)
	if got := r.Logs(LogPublic)[0].Content; got != "Werewolves did not kill anyone." {
		t.Errorf("Unexpected content: %q", got)
	}
}

func TestRecorder_SaveAndLoad(t *testing.T) {
	r := New()
	r.GameStart(game.Preset6, sixPlayers())
	r.NewDay()
	r.RecordSpeech(2, "Player 4 is a werewolf.")

	path := filepath.Join(t.TempDir(), "replays", "game.json")
	if err := r.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	snap := loaded.Snapshot()
	if snap.GameInfo.GameID != r.GameID() {
		t.Errorf("Expected game id %s, got %s", r.GameID(), snap.GameInfo.GameID)
	}
	if snap.GameInfo.DayCount != 1 || len(snap.Logs.Speech) != 1 || len(snap.PlayersInfo) != 6 {
		t.Errorf("Unexpected loaded replay: %+v", snap.GameInfo)
	}
	if snap.GameConfig == nil || snap.GameConfig.Roles[game.RoleWerewolf] != 2 {
		t.Errorf("Expected config with 2 werewolves, got %+v", snap.GameConfig)
	}
}

func TestRecorder_GameEnd(t *testing.T) {
	dir := t.TempDir()
	saver := &MockSaver{err: errors.New("db down")}
	r := New(WithDir(dir), WithSaver(saver), WithWinRule(game.WinRuleTotalElimination))

	r.GameStart(game.Preset6, sixPlayers())
	r.NewDay()
	final := sixPlayers()
	final[0].Alive, final[3].Alive = false, false
	r.GameEnd(game.VillageWins, final)

	if len(saver.records) != 1 {
		t.Fatalf("Expected one saved record, got %d", len(saver.records))
	}
	rec := saver.records[0]
	if rec.Result != "VILLAGE_WINS" || rec.Days != 1 || rec.PlayerCount != 6 || rec.WinRule != "total" {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if rec.Players[0].Alive {
		t.Error("Expected final roster in the record")
	}

	loaded, err := LoadFromFile(filepath.Join(dir, r.GameID()+".json"))
	if err != nil {
		t.Fatalf("replay file not written: %v", err)
	}
	if loaded.Snapshot().GameInfo.Winner != "VILLAGE_WINS" {
		t.Error("Expected winner in replay file")
	}
}

func TestRecorder_SatisfiesSink(t *testing.T) {
	var _ Sink = New()
}
