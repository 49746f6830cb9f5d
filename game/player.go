package game

// Player is one seat of the game. Only Game mutates players; callers get copies.
type Player struct {
	ID    int        `json:"player_id"`
	Role  Role       `json:"role"`
	Alive bool       `json:"is_alive"`
	Cause DeathCause `json:"death_cause"`

	Antidote bool `json:"antidote"`
	Poison   bool `json:"poison"`
	CanShoot bool `json:"can_shoot"`

	NightsSurvived int `json:"nights_survived"`
	VotesCast      int `json:"votes_cast"`
	VotesCorrect   int `json:"votes_correct"`
}

// Death is one player dying and why.
type Death struct {
	PlayerID int        `json:"player_id"`
	Role     Role       `json:"role"`
	Cause    DeathCause `json:"cause"`
}

func (p *Player) die(cause DeathCause) Death {
	p.Alive = false
	p.Cause = cause
	if p.Role == RoleHunter && cause == CausePoison {
		p.CanShoot = false
	}
	return Death{PlayerID: p.ID, Role: p.Role, Cause: cause}
}
