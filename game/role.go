package game

import (
	"fmt"
	"strings"
)

// Role 角色
type Role string

const (
	RoleVillager Role = "villager"
	RoleWerewolf Role = "werewolf"
	RoleSeer     Role = "seer"
	RoleWitch    Role = "witch"
	RoleHunter   Role = "hunter"
	RoleGuard    Role = "guard"
)

// Roles lists every role in deal order.
var Roles = []Role{RoleWerewolf, RoleVillager, RoleSeer, RoleWitch, RoleHunter, RoleGuard}

var roleDescriptions = map[Role]string{
	RoleVillager: "No night ability. Find and vote out the werewolves.",
	RoleWerewolf: "Each night, agree with the other werewolves on a player to kill.",
	RoleSeer:     "Each night, check whether one player is a werewolf.",
	RoleWitch:    "Holds one antidote and one poison, each usable once per game, at most one per night.",
	RoleHunter:   "When killed by anything but poison, may shoot one player.",
	RoleGuard:    "Each night, protect one player from the werewolves. Not the same player twice in a row.",
}

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleVillager, RoleWerewolf, RoleSeer, RoleWitch, RoleHunter, RoleGuard:
		return r, nil
	case "prophet":
		return RoleSeer, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) String() string { return string(r) }

func (r Role) Valid() bool {
	_, ok := roleDescriptions[r]
	return ok
}

func (r Role) IsWerewolf() bool { return r == RoleWerewolf }

// IsSpecialist reports whether r is a non-werewolf role with an ability.
func (r Role) IsSpecialist() bool {
	switch r {
	case RoleSeer, RoleWitch, RoleHunter, RoleGuard:
		return true
	}
	return false
}

func (r Role) Description() string { return roleDescriptions[r] }

// DeathCause 死亡原因
type DeathCause int

const (
	CauseNone DeathCause = iota
	CauseWerewolf
	CauseVote
	CausePoison
	CauseHunter
)

func (c DeathCause) String() string {
	switch c {
	case CauseWerewolf:
		return "werewolf"
	case CauseVote:
		return "vote"
	case CausePoison:
		return "poison"
	case CauseHunter:
		return "hunter"
	default:
		return "none"
	}
}

func (c DeathCause) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
