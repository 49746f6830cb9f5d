package game

import (
	"errors"
	"fmt"
)

var ErrInvalidConfig = errors.New("invalid game config")

// Config is the role distribution of one game. It is copied on New and never
// mutated afterwards.
type Config struct {
	PlayerCount int          `json:"player_number"`
	Roles       map[Role]int `json:"character_count"`
}

var (
	Preset6 = Config{
		PlayerCount: 6,
		Roles: map[Role]int{
			RoleVillager: 2,
			RoleWerewolf: 2,
			RoleSeer:     1,
			RoleWitch:    1,
		},
	}
	Preset9 = Config{
		PlayerCount: 9,
		Roles: map[Role]int{
			RoleVillager: 3,
			RoleWerewolf: 3,
			RoleSeer:     1,
			RoleWitch:    1,
			RoleHunter:   1,
		},
	}
	Preset12 = Config{
		PlayerCount: 12,
		Roles: map[Role]int{
			RoleVillager: 4,
			RoleWerewolf: 4,
			RoleSeer:     1,
			RoleWitch:    1,
			RoleHunter:   1,
			RoleGuard:    1,
		},
	}
)

// PresetFor returns the fixed role distribution for a player count.
func PresetFor(players int) (Config, error) {
	switch players {
	case 6:
		return Preset6.Clone(), nil
	case 9:
		return Preset9.Clone(), nil
	case 12:
		return Preset12.Clone(), nil
	}
	return Config{}, fmt.Errorf("%w: no preset for %d players", ErrInvalidConfig, players)
}

func (c Config) Validate() error {
	if c.PlayerCount <= 0 {
		return fmt.Errorf("%w: player count must be positive", ErrInvalidConfig)
	}
	sum := 0
	for role, n := range c.Roles {
		if !role.Valid() {
			return fmt.Errorf("%w: unknown role %q", ErrInvalidConfig, role)
		}
		if n < 0 {
			return fmt.Errorf("%w: negative count for %s", ErrInvalidConfig, role)
		}
		sum += n
	}
	if sum != c.PlayerCount {
		return fmt.Errorf("%w: role counts sum to %d, want %d", ErrInvalidConfig, sum, c.PlayerCount)
	}
	if c.Roles[RoleWerewolf] == 0 || c.Roles[RoleWerewolf] == c.PlayerCount {
		return fmt.Errorf("%w: need at least one werewolf and one non-werewolf", ErrInvalidConfig)
	}
	return nil
}

func (c Config) Clone() Config {
	roles := make(map[Role]int, len(c.Roles))
	for r, n := range c.Roles {
		roles[r] = n
	}
	return Config{PlayerCount: c.PlayerCount, Roles: roles}
}

// Deck expands the distribution into one role per seat, in a fixed order.
func (c Config) Deck() []Role {
	deck := make([]Role, 0, c.PlayerCount)
	for _, r := range Roles {
		for i := 0; i < c.Roles[r]; i++ {
			deck = append(deck, r)
		}
	}
	return deck
}
