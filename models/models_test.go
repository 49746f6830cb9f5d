package models

import "testing"

func TestAgentStats_Rates(t *testing.T) {
	var empty AgentStats
	if empty.WinRate() != 0 || empty.VoteAccuracy() != 0 {
		t.Error("Expected zero rates for an agent with no games")
	}

	s := AgentStats{Games: 4, Wins: 1, VotesCast: 5, VotesCorrect: 4}
	if s.WinRate() != 0.25 {
		t.Errorf("Expected win rate 0.25, got %v", s.WinRate())
	}
	if s.VoteAccuracy() != 0.8 {
		t.Errorf("Expected vote accuracy 0.8, got %v", s.VoteAccuracy())
	}
}

func TestGormGameRecord_RoundTrip(t *testing.T) {
	r := &GameRecord{GameID: "g1", PlayerCount: 6, Result: "VILLAGE_WINS", Days: 3,
		Players: []PlayerRecord{{PlayerID: 1, Role: "werewolf"}}}
	back := NewGormGameRecord(r).Record()
	if back.GameID != "g1" || back.Days != 3 || len(back.Players) != 1 {
		t.Errorf("Unexpected record after conversion: %+v", back)
	}
}
