// recorder/recorder.go
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/werewolfserver/game"
	"github.com/wfunc/werewolfserver/logger"
	"github.com/wfunc/werewolfserver/models"
)

// Sink receives the narrative of a game. Calls never fail from the game's
// point of view.
type Sink interface {
	GameStart(cfg game.Config, players []models.PlayerRecord)
	NewDay()
	NightStart()
	RecordSpeech(playerID int, content string)
	// RecordVote takes target 0 for an abstention.
	RecordVote(voterID, targetID int)
	// RecordVotingResult takes votedOut 0 when nobody was eliminated.
	RecordVotingResult(votes []int, votedOut int)
	RecordWolfAction(werewolfID, targetID int)
	RecordWolfKill(targetID int)
	RecordWitchSave(savedID int)
	RecordWitchKill(killedID int)
	RecordHunterKill(killedID int)
	RecordPlayerDeath(playerID int, cause game.DeathCause)
	RecordProphetCheck(prophetID, checkedID int, isWerewolf bool)
	GameEnd(result game.Result, players []models.PlayerRecord)
}

// GameSaver persists the final record. *services.StatsService satisfies it.
type GameSaver interface {
	RecordGame(record *models.GameRecord) error
}

// Log kinds.
const (
	LogSpeech = "speech"
	LogVote   = "vote"
	LogPublic = "public"
	LogWolf   = "wolf"
)

// Entry is one line of a log.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Day       int                    `json:"day"`
	Content   string                 `json:"content"`
	Event     string                 `json:"event"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type GameInfo struct {
	GameID    string     `json:"game_id"`
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Winner    string     `json:"winner,omitempty"`
	DayCount  int        `json:"day_count"`
}

type Logs struct {
	Speech []Entry `json:"speech"`
	Vote   []Entry `json:"vote"`
	Public []Entry `json:"public"`
	Wolf   []Entry `json:"wolf"`
}

// Replay is the file format written by SaveToFile.
type Replay struct {
	GameInfo    GameInfo              `json:"game_info"`
	Logs        Logs                  `json:"logs"`
	GameConfig  *game.Config          `json:"game_config,omitempty"`
	PlayersInfo []models.PlayerRecord `json:"players_info,omitempty"`
}

type Option func(*Recorder)

// WithDir writes <dir>/<game id>.json when the game ends.
func WithDir(dir string) Option {
	return func(r *Recorder) { r.dir = dir }
}

func WithSaver(saver GameSaver) Option {
	return func(r *Recorder) { r.saver = saver }
}

func WithWinRule(rule game.WinRule) Option {
	return func(r *Recorder) { r.winRule = rule.String() }
}

// Recorder 记录一局游戏用于回放
type Recorder struct {
	replay  Replay
	dir     string
	saver   GameSaver
	winRule string
	now     func() time.Time
	mutex   sync.Mutex
}

func New(opts ...Option) *Recorder {
	r := &Recorder{now: time.Now}
	r.replay.GameInfo.GameID = uuid.New().String()
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) GameID() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.replay.GameInfo.GameID
}

func (r *Recorder) addLog(kind, event, content string, metadata map[string]interface{}) {
	e := Entry{
		Timestamp: r.now(),
		Day:       r.replay.GameInfo.DayCount,
		Content:   content,
		Event:     event,
		Metadata:  metadata,
	}
	switch kind {
	case LogSpeech:
		r.replay.Logs.Speech = append(r.replay.Logs.Speech, e)
	case LogVote:
		r.replay.Logs.Vote = append(r.replay.Logs.Vote, e)
	case LogPublic:
		r.replay.Logs.Public = append(r.replay.Logs.Public, e)
	case LogWolf:
		r.replay.Logs.Wolf = append(r.replay.Logs.Wolf, e)
	}
}

func (r *Recorder) log(kind, event, content string, metadata map[string]interface{}) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.addLog(kind, event, content, metadata)
}

// Logs returns a copy of one log.
func (r *Recorder) Logs(kind string) []Entry {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var src []Entry
	switch kind {
	case LogSpeech:
		src = r.replay.Logs.Speech
	case LogVote:
		src = r.replay.Logs.Vote
	case LogPublic:
		src = r.replay.Logs.Public
	case LogWolf:
		src = r.replay.Logs.Wolf
	}
	return append([]Entry(nil), src...)
}

func (r *Recorder) GameStart(cfg game.Config, players []models.PlayerRecord) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	c := cfg.Clone()
	r.replay.GameInfo.StartTime = &now
	r.replay.GameInfo.DayCount = 0
	r.replay.GameConfig = &c
	r.replay.PlayersInfo = append([]models.PlayerRecord(nil), players...)
	r.addLog(LogPublic, "game_start", "Game started.", nil)
}

func (r *Recorder) NewDay() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.replay.GameInfo.DayCount++
	r.addLog(LogPublic, "new_day", fmt.Sprintf("Day %d begins.", r.replay.GameInfo.DayCount), nil)
}

func (r *Recorder) NightStart() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.addLog(LogPublic, "night_start", fmt.Sprintf("Night %d begins.", r.replay.GameInfo.DayCount+1), nil)
}

func (r *Recorder) RecordSpeech(playerID int, content string) {
	r.log(LogSpeech, "speech", content, map[string]interface{}{"player_id": playerID})
}

func targetString(id int) string {
	if id == 0 {
		return "abstain"
	}
	return fmt.Sprint(id)
}

func (r *Recorder) RecordVote(voterID, targetID int) {
	r.log(LogVote, "vote", fmt.Sprintf("Player %d voted for %s.", voterID, targetString(targetID)),
		map[string]interface{}{"voter_id": voterID, "target_id": targetID})
}

func (r *Recorder) RecordVotingResult(votes []int, votedOut int) {
	_, counts, _ := game.Tally(votes)
	meta := map[string]interface{}{"voted_out_player": votedOut, "vote_counts": counts}
	if votedOut == 0 {
		r.log(LogPublic, "voting_result", "Voting resulted in a tie. No one was voted out.", meta)
		return
	}
	r.log(LogPublic, "voting_result", fmt.Sprintf("Player %d was voted out.", votedOut), meta)
}

func (r *Recorder) RecordWolfAction(werewolfID, targetID int) {
	r.log(LogWolf, "wolf_vote", fmt.Sprintf("Werewolf %d voted to kill %s.", werewolfID, targetString(targetID)),
		map[string]interface{}{"werewolf_id": werewolfID, "target_id": targetID})
}

func (r *Recorder) RecordWolfKill(targetID int) {
	meta := map[string]interface{}{"target_id": targetID}
	if targetID == 0 {
		r.log(LogPublic, "wolf_kill", "Werewolves did not kill anyone.", meta)
		return
	}
	r.log(LogPublic, "wolf_kill", fmt.Sprintf("Werewolves killed player %d.", targetID), meta)
}

func (r *Recorder) RecordWitchSave(savedID int) {
	if savedID == 0 {
		return
	}
	r.log(LogPublic, "witch_save", fmt.Sprintf("Witch saved player %d.", savedID),
		map[string]interface{}{"saved_player_id": savedID})
}

func (r *Recorder) RecordWitchKill(killedID int) {
	if killedID == 0 {
		return
	}
	r.log(LogPublic, "witch_kill", fmt.Sprintf("Witch poisoned player %d.", killedID),
		map[string]interface{}{"killed_player_id": killedID})
}

func (r *Recorder) RecordHunterKill(killedID int) {
	if killedID == 0 {
		return
	}
	r.log(LogPublic, "hunter_kill", fmt.Sprintf("Hunter shot player %d.", killedID),
		map[string]interface{}{"killed_player_id": killedID})
}

func (r *Recorder) RecordPlayerDeath(playerID int, cause game.DeathCause) {
	r.log(LogPublic, "player_death", fmt.Sprintf("Player %d died. Reason: %s.", playerID, cause),
		map[string]interface{}{"player_id": playerID, "reason": cause.String()})
}

func (r *Recorder) RecordProphetCheck(prophetID, checkedID int, isWerewolf bool) {
	result := "not werewolf"
	if isWerewolf {
		result = "werewolf"
	}
	r.log(LogPublic, "prophet_check", fmt.Sprintf("Prophet %d checked player %d. Result: %s.", prophetID, checkedID, result),
		map[string]interface{}{"prophet_id": prophetID, "checked_player_id": checkedID, "result": result})
}

// GameEnd closes the replay, then writes the file and saves the record when
// configured. Failures are logged.
func (r *Recorder) GameEnd(result game.Result, players []models.PlayerRecord) {
	r.mutex.Lock()
	now := r.now()
	r.replay.GameInfo.EndTime = &now
	r.replay.GameInfo.Winner = result.String()
	if len(players) > 0 {
		r.replay.PlayersInfo = append([]models.PlayerRecord(nil), players...)
	}
	r.addLog(LogPublic, "game_end", fmt.Sprintf("Game ended. Winner: %s.", result), nil)
	record := r.gameRecordLocked()
	gameID := r.replay.GameInfo.GameID
	r.mutex.Unlock()

	if r.dir != "" {
		path := filepath.Join(r.dir, gameID+".json")
		if err := r.SaveToFile(path); err != nil {
			logger.Log.Errorf("save replay %s: %v", path, err)
		} else {
			logger.Log.Infof("Replay saved to %s", path)
		}
	}
	if r.saver != nil {
		if err := r.saver.RecordGame(record); err != nil {
			logger.Log.Errorf("persist game %s: %v", gameID, err)
		}
	}
}

func (r *Recorder) gameRecordLocked() *models.GameRecord {
	info := r.replay.GameInfo
	rec := &models.GameRecord{
		GameID:  info.GameID,
		WinRule: r.winRule,
		Result:  info.Winner,
		Days:    info.DayCount,
		Players: append([]models.PlayerRecord(nil), r.replay.PlayersInfo...),
	}
	if r.replay.GameConfig != nil {
		rec.PlayerCount = r.replay.GameConfig.PlayerCount
	}
	if info.StartTime != nil {
		rec.StartedAt = *info.StartTime
	}
	if info.EndTime != nil {
		rec.EndedAt = *info.EndTime
	}
	return rec
}

// Snapshot returns a deep enough copy of the replay for serialization.
func (r *Recorder) Snapshot() Replay {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s := r.replay
	s.Logs = Logs{
		Speech: append([]Entry(nil), r.replay.Logs.Speech...),
		Vote:   append([]Entry(nil), r.replay.Logs.Vote...),
		Public: append([]Entry(nil), r.replay.Logs.Public...),
		Wolf:   append([]Entry(nil), r.replay.Logs.Wolf...),
	}
	s.PlayersInfo = append([]models.PlayerRecord(nil), r.replay.PlayersInfo...)
	return s
}

// SaveToFile may be called at any point of the game.
func (r *Recorder) SaveToFile(path string) error {
	data, err := json.MarshalIndent(r.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode replay: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func LoadFromFile(path string) (*Recorder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := New()
	if err := json.Unmarshal(data, &r.replay); err != nil {
		return nil, fmt.Errorf("decode replay %s: %w", path, err)
	}
	return r, nil
}
