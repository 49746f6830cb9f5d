package game

import "fmt"

type Result int

const (
	WerewolvesWin Result = iota + 1
	VillageWins
)

func (r Result) String() string {
	switch r {
	case WerewolvesWin:
		return "WEREWOLVES_WIN"
	case VillageWins:
		return "VILLAGE_WINS"
	}
	return "UNKNOWN"
}

func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Wins reports whether a player holding role is on the winning side.
func (r Result) Wins(role Role) bool {
	if r == WerewolvesWin {
		return role.IsWerewolf()
	}
	return r == VillageWins && !role.IsWerewolf()
}

// WinRule decides when the game is over.
type WinRule int

const (
	// WinRuleSideElimination ends the game when the werewolves, the plain
	// villagers or the specialists are all dead.
	WinRuleSideElimination WinRule = iota
	// WinRuleTotalElimination ends the game when the werewolves or all
	// non-werewolves are dead.
	WinRuleTotalElimination
)

func ParseWinRule(s string) (WinRule, error) {
	switch s {
	case "", "side":
		return WinRuleSideElimination, nil
	case "total":
		return WinRuleTotalElimination, nil
	}
	return 0, fmt.Errorf("unknown win rule %q", s)
}

func (w WinRule) String() string {
	if w == WinRuleTotalElimination {
		return "total"
	}
	return "side"
}
