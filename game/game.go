// game/game.go
package game

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/wfunc/werewolfserver/state"
)

var (
	// ErrInvalidTransition is returned for phase changes the game does not allow,
	// such as starting an already started game.
	ErrInvalidTransition = errors.New("invalid transition")
	ErrWrongPhase        = errors.New("action not allowed in current phase")
	ErrNoSuchPlayer      = errors.New("no such player")
	ErrInvalidTarget     = errors.New("invalid target")
	ErrActorNotAlive     = errors.New("no living player holds this role")
	ErrAbilityUsed       = errors.New("ability already used")
	ErrAlreadyActed      = errors.New("already acted this round")
)

// nightSlots hold the actions of the current night. They are cleared when a
// night starts and again once sunrise has applied them.
type nightSlots struct {
	killTarget   int
	guardTarget  int
	saveTarget   int
	poisonTarget int
	potionUsed   bool
	seerChecked  bool
}

type Option func(*Game)

func WithRand(r *rand.Rand) Option {
	return func(g *Game) { g.rng = r }
}

func WithWinRule(rule WinRule) Option {
	return func(g *Game) { g.rule = rule }
}

// Game 是规则引擎：持有玩家名单、阶段和当晚的行动槽位
type Game struct {
	cfg         Config
	rule        WinRule
	rng         *rand.Rand
	machine     *state.Machine
	day         int
	players     []*Player // players[i].ID == i+1
	night       nightSlots
	lastGuarded int
	dayResolved bool
	mutex       sync.RWMutex
}

func New(cfg Config, opts ...Option) (*Game, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Game{
		cfg:     cfg.Clone(),
		rule:    WinRuleSideElimination,
		machine: state.NewGameMachine(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return g, nil
}

// OnPhaseChange registers fn to run after every phase transition. fn runs
// while the game is locked and must not call back into the game.
func (g *Game) OnPhaseChange(fn func(from, to state.Phase)) {
	g.machine.OnChange(fn)
}

// Start deals the roles to a uniform random permutation of seats and enters
// the first night.
func (g *Game) Start() error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.machine.GetCurrentState() != state.PhaseNotStarted {
		return fmt.Errorf("%w: game already started", ErrInvalidTransition)
	}

	deck := g.cfg.Deck()
	g.rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	g.deal(deck)
	g.day = 0

	return g.changePhase(state.PhaseNight)
}

func (g *Game) deal(deck []Role) {
	g.players = make([]*Player, len(deck))
	for i, role := range deck {
		p := &Player{ID: i + 1, Role: role, Alive: true}
		switch role {
		case RoleWitch:
			p.Antidote, p.Poison = true, true
		case RoleHunter:
			p.CanShoot = true
		}
		g.players[i] = p
	}
	g.night = nightSlots{}
	g.lastGuarded = 0
	g.dayResolved = false
}

func (g *Game) changePhase(to state.Phase) error {
	if err := g.machine.ChangeState(to); err != nil {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, g.machine.GetCurrentState(), to)
	}
	return nil
}

func (g *Game) requirePhase(p state.Phase) error {
	if cur := g.machine.GetCurrentState(); cur != p {
		return fmt.Errorf("%w: in %s, need %s", ErrWrongPhase, cur, p)
	}
	return nil
}

func (g *Game) player(id int) (*Player, error) {
	if id < 1 || id > len(g.players) {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchPlayer, id)
	}
	return g.players[id-1], nil
}

func (g *Game) aliveTarget(id int) (*Player, error) {
	p, err := g.player(id)
	if err != nil {
		return nil, err
	}
	if !p.Alive {
		return nil, fmt.Errorf("%w: player %d is dead", ErrInvalidTarget, id)
	}
	return p, nil
}

func (g *Game) aliveActor(role Role) (*Player, error) {
	for _, p := range g.players {
		if p.Alive && p.Role == role {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrActorNotAlive, role)
}

// --- night ---

// ProcessWerewolfVotes tallies the ballots of living werewolves for a living
// target. A tie at the top means no kill tonight.
func (g *Game) ProcessWerewolfVotes(ballots []Ballot) (int, bool, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if err := g.requirePhase(state.PhaseNight); err != nil {
		return 0, false, err
	}

	targets := g.validBallots(ballots, func(voter *Player) bool { return voter.Role.IsWerewolf() })
	target, _, ok := Tally(targets)
	if !ok {
		g.night.killTarget = 0
		return 0, false, nil
	}
	g.night.killTarget = target
	return target, true, nil
}

// validBallots keeps one ballot per living voter accepted by allow, for a
// living target. Everything else counts as an abstention.
func (g *Game) validBallots(ballots []Ballot, allow func(voter *Player) bool) []int {
	seen := make(map[int]bool, len(ballots))
	targets := make([]int, 0, len(ballots))
	for _, b := range ballots {
		voter, err := g.player(b.Voter)
		if err != nil || !voter.Alive || !allow(voter) || seen[b.Voter] {
			continue
		}
		seen[b.Voter] = true
		if _, err := g.aliveTarget(b.Target); err != nil {
			continue
		}
		targets = append(targets, b.Target)
	}
	return targets
}

// KillTarget is the werewolves' current choice, 0 if none.
func (g *Game) KillTarget() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.night.killTarget
}

func (g *Game) ProcessGuardProtect(target int) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if err := g.requirePhase(state.PhaseNight); err != nil {
		return err
	}
	if _, err := g.aliveActor(RoleGuard); err != nil {
		return err
	}
	if g.night.guardTarget != 0 {
		return ErrAlreadyActed
	}
	if _, err := g.aliveTarget(target); err != nil {
		return err
	}
	if target == g.lastGuarded {
		return fmt.Errorf("%w: player %d was protected last night", ErrInvalidTarget, target)
	}
	g.night.guardTarget = target
	return nil
}

// ProcessSeerCheck reports whether target is a werewolf.
func (g *Game) ProcessSeerCheck(target int) (bool, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if err := g.requirePhase(state.PhaseNight); err != nil {
		return false, err
	}
	seer, err := g.aliveActor(RoleSeer)
	if err != nil {
		return false, err
	}
	if g.night.seerChecked {
		return false, ErrAlreadyActed
	}
	p, err := g.aliveTarget(target)
	if err != nil {
		return false, err
	}
	if p.ID == seer.ID {
		return false, fmt.Errorf("%w: seer cannot check itself", ErrInvalidTarget)
	}
	g.night.seerChecked = true
	return p.Role.IsWerewolf(), nil
}

// ProcessWitchSave spends the antidote on tonight's kill target.
func (g *Game) ProcessWitchSave(target int) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if err := g.requirePhase(state.PhaseNight); err != nil {
		return err
	}
	witch, err := g.aliveActor(RoleWitch)
	if err != nil {
		return err
	}
	if !witch.Antidote {
		return fmt.Errorf("%w: antidote", ErrAbilityUsed)
	}
	if g.night.potionUsed {
		return ErrAlreadyActed
	}
	if target == 0 || target != g.night.killTarget {
		return fmt.Errorf("%w: player %d is not tonight's kill target", ErrInvalidTarget, target)
	}
	witch.Antidote = false
	g.night.potionUsed = true
	g.night.saveTarget = target
	return nil
}

// ProcessWitchPoison spends the poison on a living player.
func (g *Game) ProcessWitchPoison(target int) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if err := g.requirePhase(state.PhaseNight); err != nil {
		return err
	}
	witch, err := g.aliveActor(RoleWitch)
	if err != nil {
		return err
	}
	if !witch.Poison {
		return fmt.Errorf("%w: poison", ErrAbilityUsed)
	}
	if g.night.potionUsed {
		return ErrAlreadyActed
	}
	if _, err := g.aliveTarget(target); err != nil {
		return err
	}
	witch.Poison = false
	g.night.potionUsed = true
	g.night.poisonTarget = target
	return nil
}

// WitchPotions reports which potions the living witch still holds.
func (g *Game) WitchPotions() (antidote, poison bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	witch, err := g.aliveActor(RoleWitch)
	if err != nil {
		return false, false
	}
	return witch.Antidote, witch.Poison
}

// SunRise applies the night: werewolf kill unless saved or guarded, then
// poison. It advances to DAY, or FINISHED if the deaths end the game.
func (g *Game) SunRise() ([]Death, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if err := g.requirePhase(state.PhaseNight); err != nil {
		return nil, err
	}

	var deaths []Death
	kill := g.night.killTarget
	if kill != 0 && (kill == g.night.saveTarget || kill == g.night.guardTarget) {
		kill = 0
	}
	if kill != 0 {
		if p, err := g.aliveTarget(kill); err == nil {
			deaths = append(deaths, p.die(CauseWerewolf))
		}
	}
	if poison := g.night.poisonTarget; poison != 0 {
		p, err := g.player(poison)
		switch {
		case err != nil:
		case p.Alive:
			deaths = append(deaths, p.die(CausePoison))
		case p.Role == RoleHunter:
			// Killed by werewolves and poisoned in the same night.
			p.CanShoot = false
		}
	}

	for _, p := range g.players {
		if p.Alive {
			p.NightsSurvived++
		}
	}
	g.lastGuarded = g.night.guardTarget
	g.night = nightSlots{}
	g.day++
	g.dayResolved = false

	next := state.PhaseDay
	if g.isEndLocked() {
		next = state.PhaseFinished
	}
	return deaths, g.changePhase(next)
}

// --- day ---

// ProcessDayVotes tallies the ballots of living players. A unique top target
// is eliminated; a tie eliminates nobody.
func (g *Game) ProcessDayVotes(ballots []Ballot) (int, bool, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if err := g.requirePhase(state.PhaseDay); err != nil {
		return 0, false, err
	}
	if g.dayResolved {
		return 0, false, ErrAlreadyActed
	}

	targets := g.validBallots(ballots, func(*Player) bool { return true })
	target, _, ok := Tally(targets)
	g.dayResolved = true
	if !ok {
		return 0, false, nil
	}

	// 投票准确率只在淘汰生效时记录
	seen := make(map[int]bool)
	for _, b := range ballots {
		voter, err := g.player(b.Voter)
		if err != nil || !voter.Alive || seen[b.Voter] {
			continue
		}
		seen[b.Voter] = true
		picked, err := g.aliveTarget(b.Target)
		if err != nil {
			continue
		}
		voter.VotesCast++
		if picked.Role.IsWerewolf() {
			voter.VotesCorrect++
		}
	}
	g.players[target-1].die(CauseVote)
	if g.isEndLocked() {
		return target, true, g.changePhase(state.PhaseFinished)
	}
	return target, true, nil
}

// CanHunterShoot reports whether hunter is dead and still holds the shot.
func (g *Game) CanHunterShoot(hunter int) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	p, err := g.player(hunter)
	if err != nil {
		return false
	}
	return p.Role == RoleHunter && !p.Alive && p.CanShoot
}

// ProcessHunterShot spends a dead hunter's shot on a living player.
func (g *Game) ProcessHunterShot(hunter, target int) (Death, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if err := g.requirePhase(state.PhaseDay); err != nil {
		return Death{}, err
	}
	h, err := g.player(hunter)
	if err != nil {
		return Death{}, err
	}
	if h.Role != RoleHunter || h.Alive {
		return Death{}, fmt.Errorf("%w: player %d cannot shoot", ErrInvalidTarget, hunter)
	}
	if !h.CanShoot {
		return Death{}, fmt.Errorf("%w: hunter shot", ErrAbilityUsed)
	}
	p, err := g.aliveTarget(target)
	if err != nil {
		return Death{}, err
	}

	h.CanShoot = false
	death := p.die(CauseHunter)
	if g.isEndLocked() {
		return death, g.changePhase(state.PhaseFinished)
	}
	return death, nil
}

// SunSet ends the day and starts the next night.
func (g *Game) SunSet() error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if err := g.requirePhase(state.PhaseDay); err != nil {
		return err
	}
	g.night = nightSlots{}
	return g.changePhase(state.PhaseNight)
}

// --- end ---

// IsEnd reports whether the game is over.
func (g *Game) IsEnd() bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.isEndLocked()
}

func (g *Game) isEndLocked() bool {
	switch g.machine.GetCurrentState() {
	case state.PhaseFinished:
		return true
	case state.PhaseNotStarted:
		return false
	}

	wolves, villagers, specialists := g.aliveCounts()
	if wolves == 0 || villagers+specialists == 0 {
		return true
	}
	if g.rule == WinRuleSideElimination {
		if g.cfg.Roles[RoleVillager] > 0 && villagers == 0 {
			return true
		}
		if g.specialistsDealt() > 0 && specialists == 0 {
			return true
		}
	}
	return false
}

func (g *Game) specialistsDealt() int {
	n := 0
	for role, count := range g.cfg.Roles {
		if role.IsSpecialist() {
			n += count
		}
	}
	return n
}

func (g *Game) aliveCounts() (wolves, villagers, specialists int) {
	for _, p := range g.players {
		if !p.Alive {
			continue
		}
		switch {
		case p.Role.IsWerewolf():
			wolves++
		case p.Role.IsSpecialist():
			specialists++
		default:
			villagers++
		}
	}
	return
}

// Result is defined only once IsEnd is true.
func (g *Game) Result() (Result, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	if !g.isEndLocked() {
		return 0, false
	}
	if wolves, _, _ := g.aliveCounts(); wolves == 0 {
		return VillageWins, true
	}
	return WerewolvesWin, true
}

// --- accessors ---

func (g *Game) Config() Config { return g.cfg.Clone() }

func (g *Game) Phase() state.Phase {
	return g.machine.GetCurrentState()
}

func (g *Game) Day() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.day
}

// Players returns a copy of the roster ordered by ID.
func (g *Game) Players() []Player {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	out := make([]Player, len(g.players))
	for i, p := range g.players {
		out[i] = *p
	}
	return out
}

func (g *Game) Player(id int) (Player, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	p, err := g.player(id)
	if err != nil {
		return Player{}, false
	}
	return *p, true
}

func (g *Game) AlivePlayers() []Player {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var out []Player
	for _, p := range g.players {
		if p.Alive {
			out = append(out, *p)
		}
	}
	return out
}

func (g *Game) AliveIDs() []int {
	alive := g.AlivePlayers()
	ids := make([]int, len(alive))
	for i, p := range alive {
		ids[i] = p.ID
	}
	sort.Ints(ids)
	return ids
}

func (g *Game) AliveWithRole(role Role) []Player {
	var out []Player
	for _, p := range g.AlivePlayers() {
		if p.Role == role {
			out = append(out, p)
		}
	}
	return out
}

// IDsWithRole lists every seat dealt role, dead or alive.
func (g *Game) IDsWithRole(role Role) []int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var ids []int
	for _, p := range g.players {
		if p.Role == role {
			ids = append(ids, p.ID)
		}
	}
	return ids
}
