// runner/runner.go
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/wfunc/werewolfserver/game"
	"github.com/wfunc/werewolfserver/logger"
	"github.com/wfunc/werewolfserver/models"
	"github.com/wfunc/werewolfserver/network"
	"github.com/wfunc/werewolfserver/recorder"
	"github.com/wfunc/werewolfserver/room"
	"github.com/wfunc/werewolfserver/rpc"
	"github.com/wfunc/werewolfserver/state"
)

var (
	ErrAlreadyBound = errors.New("already bound to a different instance")
	ErrNotBound     = errors.New("server and recorder must be bound before Run")
)

// Server is the part of the agent server the runner drives.
type Server interface {
	room.Counter
	Call(ctx context.Context, playerID int, method string, params interface{}, timeout time.Duration) (json.RawMessage, error)
	Broadcast(method string, params interface{}) <-chan struct{}
	PlayerName(playerID int) string
}

// Observer receives game metrics. *monitor.Monitor satisfies it.
type Observer interface {
	SetPhase(phase int)
	IncGamesFinished(result string)
	IncDeaths(cause string)
}

type Option func(*Runner)

// WithTimeouts sets the per-call timeouts: night actions and votes, speeches,
// and notifications (initialize, game_over).
func WithTimeouts(action, speech, notify time.Duration) Option {
	return func(r *Runner) {
		r.actionTimeout, r.speechTimeout, r.notifyTimeout = action, speech, notify
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) { r.pollInterval = d }
}

// WithPhaseListener registers fn for every phase change. fn must not call
// back into the game.
func WithPhaseListener(fn func(phase state.Phase)) Option {
	return func(r *Runner) { r.listeners = append(r.listeners, fn) }
}

func WithObserver(obs Observer) Option {
	return func(r *Runner) { r.observer = obs }
}

// Runner 驱动一局游戏: waiting room, night and day loops, game over.
type Runner struct {
	game     *game.Game
	server   Server
	recorder recorder.Sink
	room     *room.Room
	observer Observer

	actionTimeout time.Duration
	speechTimeout time.Duration
	notifyTimeout time.Duration
	pollInterval  time.Duration
	listeners     []func(state.Phase)

	seerChecks   []seerCheck
	witchActions []witchAction
	nightDeaths  []game.Death
	speeches     []speech
	lastGuarded  int

	bindMutex sync.Mutex
}

// New binds the game to server and recorder. Either may be nil and bound
// later with BindServer or BindRecorder.
func New(g *game.Game, server Server, rec recorder.Sink, opts ...Option) *Runner {
	r := &Runner{
		game:          g,
		server:        server,
		recorder:      rec,
		actionTimeout: 30 * time.Second,
		speechTimeout: 60 * time.Second,
		notifyTimeout: 10 * time.Second,
		pollInterval:  time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	g.OnPhaseChange(func(from, to state.Phase) {
		logger.Log.Infof("Phase %s -> %s", from, to)
		if r.observer != nil {
			r.observer.SetPhase(int(to))
		}
		for _, fn := range r.listeners {
			fn(to)
		}
	})
	return r
}

// BindServer sets the agent server once. Binding the same server again is a
// no-op; a different one is rejected.
func (r *Runner) BindServer(s Server) error {
	r.bindMutex.Lock()
	defer r.bindMutex.Unlock()
	if r.server != nil && r.server != s {
		return fmt.Errorf("server: %w", ErrAlreadyBound)
	}
	r.server = s
	return nil
}

func (r *Runner) BindRecorder(s recorder.Sink) error {
	r.bindMutex.Lock()
	defer r.bindMutex.Unlock()
	if r.recorder != nil && r.recorder != s {
		return fmt.Errorf("recorder: %w", ErrAlreadyBound)
	}
	r.recorder = s
	return nil
}

// Run waits for every agent, plays the game to the end and returns the result.
func (r *Runner) Run(ctx context.Context) (game.Result, error) {
	r.bindMutex.Lock()
	if r.server == nil || r.recorder == nil {
		r.bindMutex.Unlock()
		return 0, ErrNotBound
	}
	cfg := r.game.Config()
	r.room = room.NewRoom("werewolf", cfg.PlayerCount, r.server, r.pollInterval)
	r.bindMutex.Unlock()

	if err := r.room.Wait(ctx); err != nil {
		return 0, err
	}
	if err := r.game.Start(); err != nil {
		return 0, err
	}
	r.recorder.GameStart(cfg, r.playerRecords(0, false))
	r.initialize(ctx)

	for !r.game.IsEnd() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		r.night(ctx)
		if r.game.IsEnd() {
			break
		}
		r.day(ctx)
	}

	result, _ := r.game.Result()
	r.room.SetStatus(room.StatusSettlement)
	logger.Log.Infof("Game over after %d days: %s", r.game.Day(), result)
	if r.observer != nil {
		r.observer.IncGamesFinished(result.String())
	}
	<-r.server.Broadcast(network.MethodGameOver, r.gameOverParams(result))
	r.recorder.GameEnd(result, r.playerRecords(result, true))
	return result, nil
}

// gather calls method on every id concurrently and returns the results that
// arrived. Failed calls are left out and count as abstentions.
func (r *Runner) gather(ctx context.Context, ids []int, method string, timeout time.Duration, params func(id int) interface{}) map[int]json.RawMessage {
	results := make(map[int]json.RawMessage, len(ids))
	var mutex sync.Mutex
	var wg conc.WaitGroup
	for _, id := range ids {
		id := id
		p := params(id)
		wg.Go(func() {
			raw, ok := r.call(ctx, id, method, p, timeout)
			if !ok {
				return
			}
			mutex.Lock()
			results[id] = raw
			mutex.Unlock()
		})
	}
	wg.Wait()
	return results
}

func (r *Runner) call(ctx context.Context, id int, method string, params interface{}, timeout time.Duration) (json.RawMessage, bool) {
	raw, err := r.server.Call(ctx, id, method, params, timeout)
	if err != nil {
		logger.Log.Infof("Player %d %s: %v, treated as abstention", id, method, err)
		return nil, false
	}
	return raw, true
}

func (r *Runner) callAction(ctx context.Context, id int, method string, params interface{}) (actionResult, bool) {
	raw, ok := r.call(ctx, id, method, params, r.actionTimeout)
	if !ok {
		return actionResult{}, false
	}
	res, ok := decodeResult(raw)
	if !ok {
		logger.Log.Infof("Player %d %s: malformed result %s", id, method, raw)
	}
	return res, ok
}

func (r *Runner) initialize(ctx context.Context) {
	all := r.views(r.game.Players(), false)
	wolves := r.game.IDsWithRole(game.RoleWerewolf)
	cfg := r.game.Config()
	players := r.game.Players()

	r.gather(ctx, idsOf(players), network.MethodInitialize, r.notifyTimeout, func(id int) interface{} {
		p := players[id-1]
		params := initializeParams{
			PlayerID:        id,
			Role:            p.Role,
			RoleDescription: p.Role.Description(),
			AllPlayers:      all,
			GameConfig:      cfg,
		}
		if p.Role.IsWerewolf() {
			params.Teammates = wolves
		}
		return params
	})
}

// --- night ---

func (r *Runner) night(ctx context.Context) {
	night := r.game.Day() + 1
	r.recorder.NightStart()
	logger.Log.Infof("Night %d begins", night)

	r.werewolves(ctx, night)
	r.guard(ctx, night)
	r.seer(ctx, night)
	r.witch(ctx, night)

	deaths, err := r.game.SunRise()
	if err != nil {
		logger.Log.Errorf("sunrise: %v", err)
		return
	}
	r.recorder.NewDay()
	r.nightDeaths = deaths
	for _, d := range deaths {
		r.recordDeath(d)
	}
	if r.game.IsEnd() {
		return
	}
	for _, d := range deaths {
		r.hunter(ctx, d)
	}
}

func (r *Runner) werewolves(ctx context.Context, night int) {
	wolves := r.game.AliveWithRole(game.RoleWerewolf)
	teammates := idsOf(wolves)
	alive := r.views(r.game.AlivePlayers(), false)
	gs := r.gameState()

	results := r.gather(ctx, teammates, network.MethodWerewolfAction, r.actionTimeout, func(int) interface{} {
		return werewolfParams{GameState: gs, NightNumber: night, AlivePlayers: alive, Teammates: teammates}
	})

	ballots := make([]game.Ballot, 0, len(wolves))
	for _, id := range teammates {
		res, _ := decodeResult(results[id])
		r.recorder.RecordWolfAction(id, res.target())
		ballots = append(ballots, game.Ballot{Voter: id, Target: res.target()})
	}

	target, _, err := r.game.ProcessWerewolfVotes(ballots)
	if err != nil {
		logger.Log.Errorf("werewolf votes: %v", err)
		return
	}
	r.recorder.RecordWolfKill(target)
}

func (r *Runner) guard(ctx context.Context, night int) {
	guards := r.game.AliveWithRole(game.RoleGuard)
	if len(guards) == 0 {
		return
	}
	id := guards[0].ID
	res, ok := r.callAction(ctx, id, network.MethodGuardAction, guardParams{
		GameState:     r.gameState(),
		NightNumber:   night,
		AlivePlayers:  r.views(r.game.AlivePlayers(), false),
		LastProtected: r.lastGuarded,
	})
	if !ok || res.target() == 0 {
		r.lastGuarded = 0
		return
	}
	if err := r.game.ProcessGuardProtect(res.target()); err != nil {
		logger.Log.Infof("Guard %d protect %d rejected: %v", id, res.target(), err)
		r.lastGuarded = 0
		return
	}
	r.lastGuarded = res.target()
}

func (r *Runner) seer(ctx context.Context, night int) {
	seers := r.game.AliveWithRole(game.RoleSeer)
	if len(seers) == 0 {
		return
	}
	id := seers[0].ID
	res, ok := r.callAction(ctx, id, network.MethodSeerAction, seerParams{
		GameState:      r.gameState(),
		NightNumber:    night,
		AlivePlayers:   r.views(r.game.AlivePlayers(), false),
		PreviousChecks: append([]seerCheck{}, r.seerChecks...),
	})
	if !ok || res.target() == 0 {
		return
	}
	isWolf, err := r.game.ProcessSeerCheck(res.target())
	if err != nil {
		logger.Log.Infof("Seer %d check %d rejected: %v", id, res.target(), err)
		return
	}
	r.seerChecks = append(r.seerChecks, seerCheck{Night: night, TargetID: res.target(), IsWerewolf: isWolf})
	r.recorder.RecordProphetCheck(id, res.target(), isWolf)
}

func (r *Runner) witch(ctx context.Context, night int) {
	witches := r.game.AliveWithRole(game.RoleWitch)
	if len(witches) == 0 {
		return
	}
	id := witches[0].ID
	antidote, poison := r.game.WitchPotions()
	if !antidote && !poison {
		return
	}
	kill := r.game.KillTarget()
	res, ok := r.callAction(ctx, id, network.MethodWitchAction, witchParams{
		GameState:         r.gameState(),
		NightNumber:       night,
		AlivePlayers:      r.views(r.game.AlivePlayers(), false),
		AntidoteAvailable: antidote,
		PoisonAvailable:   poison,
		KilledPlayerID:    kill,
		PreviousActions:   append([]witchAction{}, r.witchActions...),
	})
	if !ok {
		return
	}

	switch res.Action {
	case "save":
		target := res.target()
		if target == 0 {
			target = kill
		}
		if err := r.game.ProcessWitchSave(target); err != nil {
			logger.Log.Infof("Witch %d save %d rejected: %v", id, target, err)
			return
		}
		r.recorder.RecordWitchSave(target)
		r.witchActions = append(r.witchActions, witchAction{Night: night, Action: "save", TargetID: target})
	case "poison":
		if err := r.game.ProcessWitchPoison(res.target()); err != nil {
			logger.Log.Infof("Witch %d poison %d rejected: %v", id, res.target(), err)
			return
		}
		r.recorder.RecordWitchKill(res.target())
		r.witchActions = append(r.witchActions, witchAction{Night: night, Action: "poison", TargetID: res.target()})
	}
}

// hunter asks a dead hunter for the retaliation shot.
func (r *Runner) hunter(ctx context.Context, d game.Death) {
	if !r.game.CanHunterShoot(d.PlayerID) {
		return
	}
	res, ok := r.callAction(ctx, d.PlayerID, network.MethodHunterAction, hunterParams{
		GameState:    r.gameState(),
		Cause:        d.Cause.String(),
		AlivePlayers: r.views(r.game.AlivePlayers(), false),
	})
	if !ok || res.Action == "skip" || res.target() == 0 {
		return
	}
	shot, err := r.game.ProcessHunterShot(d.PlayerID, res.target())
	if err != nil {
		logger.Log.Infof("Hunter %d shot %d rejected: %v", d.PlayerID, res.target(), err)
		return
	}
	r.recorder.RecordHunterKill(shot.PlayerID)
	r.recordDeath(shot)
}

// --- day ---

func (r *Runner) day(ctx context.Context) {
	day := r.game.Day()
	logger.Log.Infof("Day %d begins", day)
	r.speeches = nil

	r.discuss(ctx, day)
	if r.game.IsEnd() {
		return
	}
	r.vote(ctx, day)
	if r.game.IsEnd() {
		return
	}
	if err := r.game.SunSet(); err != nil {
		logger.Log.Errorf("sunset: %v", err)
	}
}

// discuss asks every living player to speak in seat order.
func (r *Runner) discuss(ctx context.Context, day int) {
	gs := r.gameState()
	for order, p := range r.game.AlivePlayers() {
		res, ok := r.callActionTimeout(ctx, p.ID, network.MethodDiscuss, discussParams{
			GameState:        gs,
			DayNumber:        day,
			SpeechOrder:      order + 1,
			PreviousSpeeches: append([]speech{}, r.speeches...),
			LastNightEvents:  r.nightDeaths,
			RemainingTime:    int(r.speechTimeout / time.Second),
		}, r.speechTimeout)
		if !ok || res.Speech == "" {
			continue
		}
		r.speeches = append(r.speeches, speech{PlayerID: p.ID, Speech: res.Speech})
		r.recorder.RecordSpeech(p.ID, res.Speech)
	}
}

func (r *Runner) vote(ctx context.Context, day int) {
	voters := r.game.AliveIDs()
	alive := r.views(r.game.AlivePlayers(), false)
	gs := r.gameState()
	speeches := append([]speech{}, r.speeches...)

	results := r.gather(ctx, voters, network.MethodVote, r.actionTimeout, func(int) interface{} {
		return voteParams{GameState: gs, DayNumber: day, AlivePlayers: alive, PreviousSpeeches: speeches, VoteType: "elimination"}
	})

	ballots := make([]game.Ballot, 0, len(voters))
	targets := make([]int, 0, len(voters))
	for _, id := range voters {
		res, _ := decodeResult(results[id])
		r.recorder.RecordVote(id, res.target())
		ballots = append(ballots, game.Ballot{Voter: id, Target: res.target()})
		targets = append(targets, res.target())
	}

	out, ok, err := r.game.ProcessDayVotes(ballots)
	if err != nil {
		logger.Log.Errorf("day votes: %v", err)
		return
	}
	r.recorder.RecordVotingResult(targets, out)
	if !ok {
		return
	}

	victim, _ := r.game.Player(out)
	r.recordDeath(game.Death{PlayerID: out, Role: victim.Role, Cause: game.CauseVote})
	r.lastWords(ctx, out, ballots)
	if !r.game.IsEnd() {
		r.hunter(ctx, game.Death{PlayerID: out, Role: victim.Role, Cause: game.CauseVote})
	}
}

// lastWords lets the eliminated player answer the players who voted for it.
func (r *Runner) lastWords(ctx context.Context, id int, ballots []game.Ballot) {
	var accusers []int
	for _, b := range ballots {
		if b.Target == id {
			accusers = append(accusers, b.Voter)
		}
	}
	res, ok := r.callActionTimeout(ctx, id, network.MethodDefend, defendParams{
		GameState:   r.gameState(),
		Accusations: accusers,
		TimeLimit:   int(r.speechTimeout / time.Second),
	}, r.speechTimeout)
	if !ok || res.Defense == "" {
		return
	}
	r.recorder.RecordSpeech(id, res.Defense)
}

func (r *Runner) callActionTimeout(ctx context.Context, id int, method string, params interface{}, timeout time.Duration) (actionResult, bool) {
	raw, ok := r.call(ctx, id, method, params, timeout)
	if !ok {
		return actionResult{}, false
	}
	return decodeResult(raw)
}

// --- helpers ---

func (r *Runner) recordDeath(d game.Death) {
	r.recorder.RecordPlayerDeath(d.PlayerID, d.Cause)
	if r.observer != nil {
		r.observer.IncDeaths(d.Cause.String())
	}
}

func idsOf(players []game.Player) []int {
	ids := make([]int, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	return ids
}

// views hides roles of living players unless reveal is set.
func (r *Runner) views(players []game.Player, reveal bool) []playerView {
	out := make([]playerView, len(players))
	for i, p := range players {
		v := playerView{PlayerID: p.ID, Name: r.server.PlayerName(p.ID), IsAlive: p.Alive}
		if reveal || !p.Alive {
			v.Role = p.Role.String()
		}
		out[i] = v
	}
	return out
}

func (r *Runner) gameState() gameState {
	gs := gameState{DayNumber: r.game.Day(), Phase: r.game.Phase().String()}
	for _, v := range r.views(r.game.Players(), false) {
		if v.IsAlive {
			gs.AlivePlayers = append(gs.AlivePlayers, v)
		} else {
			gs.DeadPlayers = append(gs.DeadPlayers, v)
		}
	}
	return gs
}

// playerRecords snapshots the roster; Won is only set once ended.
func (r *Runner) playerRecords(result game.Result, ended bool) []models.PlayerRecord {
	players := r.game.Players()
	out := make([]models.PlayerRecord, len(players))
	for i, p := range players {
		out[i] = models.PlayerRecord{
			PlayerID:       p.ID,
			Name:           r.server.PlayerName(p.ID),
			Role:           p.Role.String(),
			Alive:          p.Alive,
			Won:            ended && result.Wins(p.Role),
			NightsSurvived: p.NightsSurvived,
			VotesCast:      p.VotesCast,
			VotesCorrect:   p.VotesCorrect,
		}
		if !p.Alive {
			out[i].DeathCause = p.Cause.String()
		}
	}
	return out
}

func (r *Runner) gameOverParams(result game.Result) gameOverParams {
	players := r.game.Players()
	params := gameOverParams{Winner: result}
	params.FinalState = r.gameState()
	for _, p := range players {
		if result.Wins(p.Role) {
			params.WinningPlayers = append(params.WinningPlayers, p.ID)
		}
		params.RoleReveal = append(params.RoleReveal, roleReveal{PlayerID: p.ID, Name: r.server.PlayerName(p.ID), Role: p.Role})
		params.PerformanceStats = append(params.PerformanceStats, performance{
			PlayerID:       p.ID,
			Alive:          p.Alive,
			NightsSurvived: p.NightsSurvived,
			VotesCast:      p.VotesCast,
			VotesCorrect:   p.VotesCorrect,
		})
	}
	return params
}

// Status reports the game for the operator RPC.
func (r *Runner) Status() rpc.StatusReply {
	r.bindMutex.Lock()
	server, rm := r.server, r.room
	r.bindMutex.Unlock()

	reply := rpc.StatusReply{
		Phase:    r.game.Phase().String(),
		Day:      r.game.Day(),
		Required: r.game.Config().PlayerCount,
		Alive:    r.game.AliveIDs(),
		Room:     room.StatusIdle.String(),
	}
	if server != nil {
		reply.Connected = server.ConnectedCount()
	}
	if rm != nil {
		reply.Room = rm.GetStatus().String()
	}
	if result, ok := r.game.Result(); ok {
		reply.Result = result.String()
	}
	return reply
}
