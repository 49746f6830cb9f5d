package runner

import (
	"encoding/json"

	"github.com/wfunc/werewolfserver/game"
)

// Request params sent to agents. Field names follow the agent SDK.

type playerView struct {
	PlayerID int    `json:"player_id"`
	Name     string `json:"name"`
	IsAlive  bool   `json:"is_alive"`
	Role     string `json:"role,omitempty"`
}

type gameState struct {
	DayNumber    int          `json:"day_number"`
	Phase        string       `json:"phase"`
	AlivePlayers []playerView `json:"alive_players"`
	DeadPlayers  []playerView `json:"dead_players"`
}

type initializeParams struct {
	PlayerID        int          `json:"player_id"`
	Role            game.Role    `json:"role"`
	RoleDescription string       `json:"role_description"`
	AllPlayers      []playerView `json:"all_players"`
	Teammates       []int        `json:"teammates,omitempty"`
	GameConfig      game.Config  `json:"game_config"`
}

type werewolfParams struct {
	GameState    gameState    `json:"game_state"`
	NightNumber  int          `json:"night_numbers"`
	AlivePlayers []playerView `json:"alive_players"`
	Teammates    []int        `json:"teammates"`
}

type seerCheck struct {
	Night      int  `json:"night"`
	TargetID   int  `json:"target_id"`
	IsWerewolf bool `json:"is_werewolf"`
}

type seerParams struct {
	GameState      gameState    `json:"game_state"`
	NightNumber    int          `json:"night_numbers"`
	AlivePlayers   []playerView `json:"alive_players"`
	PreviousChecks []seerCheck  `json:"previous_checks"`
}

type guardParams struct {
	GameState     gameState    `json:"game_state"`
	NightNumber   int          `json:"night_numbers"`
	AlivePlayers  []playerView `json:"alive_players"`
	LastProtected int          `json:"last_protected"`
}

type witchAction struct {
	Night    int    `json:"night"`
	Action   string `json:"action"`
	TargetID int    `json:"target_id"`
}

type witchParams struct {
	GameState         gameState     `json:"game_state"`
	NightNumber       int           `json:"night_numbers"`
	AlivePlayers      []playerView  `json:"alive_players"`
	AntidoteAvailable bool          `json:"antidote_available"`
	PoisonAvailable   bool          `json:"poison_available"`
	KilledPlayerID    int           `json:"killed_player_id"`
	PreviousActions   []witchAction `json:"previous_actions"`
}

type hunterParams struct {
	GameState    gameState    `json:"game_state"`
	Cause        string       `json:"cause"`
	AlivePlayers []playerView `json:"alive_players"`
}

type speech struct {
	PlayerID int    `json:"player_id"`
	Speech   string `json:"speech"`
}

type discussParams struct {
	GameState        gameState    `json:"game_state"`
	DayNumber        int          `json:"day_number"`
	SpeechOrder      int          `json:"speech_order"`
	PreviousSpeeches []speech     `json:"previous_speeches"`
	LastNightEvents  []game.Death `json:"last_night_events"`
	RemainingTime    int          `json:"remaining_time"`
}

type voteParams struct {
	GameState        gameState    `json:"game_state"`
	DayNumber        int          `json:"day_number"`
	AlivePlayers     []playerView `json:"alive_players"`
	PreviousSpeeches []speech     `json:"previous_speeches"`
	VoteType         string       `json:"vote_type"`
}

type defendParams struct {
	GameState   gameState `json:"game_state"`
	Accusations []int     `json:"accusations"`
	TimeLimit   int       `json:"time_limit"`
}

type roleReveal struct {
	PlayerID int       `json:"player_id"`
	Name     string    `json:"name"`
	Role     game.Role `json:"role"`
}

type performance struct {
	PlayerID       int  `json:"player_id"`
	Alive          bool `json:"alive"`
	NightsSurvived int  `json:"nights_survived"`
	VotesCast      int  `json:"votes_cast"`
	VotesCorrect   int  `json:"votes_correct"`
}

type gameOverParams struct {
	Winner           game.Result   `json:"winner"`
	WinningPlayers   []int         `json:"winning_players"`
	FinalState       gameState     `json:"final_state"`
	RoleReveal       []roleReveal  `json:"role_reveal"`
	PerformanceStats []performance `json:"performance_stats"`
}

// actionResult covers every result shape agents send back. Unknown fields
// are ignored and missing ones stay zero.
type actionResult struct {
	Action     string `json:"action"`
	TargetID   int    `json:"target_id"`
	VoteTarget int    `json:"vote_target"`
	Speech     string `json:"speech"`
	Defense    string `json:"defense"`
}

func decodeResult(raw json.RawMessage) (actionResult, bool) {
	var res actionResult
	if len(raw) == 0 {
		return res, false
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return res, false
	}
	return res, true
}

// target picks target_id, or vote_target for vote results.
func (a actionResult) target() int {
	if a.TargetID != 0 {
		return a.TargetID
	}
	return a.VoteTarget
}
