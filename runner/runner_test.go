package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/wfunc/werewolfserver/game"
	"github.com/wfunc/werewolfserver/models"
	"github.com/wfunc/werewolfserver/network"
	"github.com/wfunc/werewolfserver/recorder"
	"github.com/wfunc/werewolfserver/state"
)

var errNoReply = errors.New("no reply")

// MockServer answers calls with a scripted handler.
type MockServer struct {
	players int
	handler func(id int, method string, params interface{}) (json.RawMessage, error)

	mutex sync.Mutex
	calls map[string]int
}

func newMockServer(players int, handler func(id int, method string, params interface{}) (json.RawMessage, error)) *MockServer {
	return &MockServer{players: players, handler: handler, calls: make(map[string]int)}
}

func (m *MockServer) Call(ctx context.Context, id int, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	m.mutex.Lock()
	m.calls[method]++
	m.mutex.Unlock()
	return m.handler(id, method, params)
}

func (m *MockServer) Broadcast(method string, params interface{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for id := 1; id <= m.players; id++ {
			m.Call(context.Background(), id, method, params, time.Second)
		}
	}()
	return done
}

func (m *MockServer) ConnectedCount() int { return m.players }

func (m *MockServer) PlayerName(id int) string { return fmt.Sprintf("bot-%d", id) }

func (m *MockServer) count(method string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.calls[method]
}

func reply(v interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	return data, err
}

func newTestGame(t *testing.T, cfg game.Config) *game.Game {
	t.Helper()
	g, err := game.New(cfg, game.WithRand(rand.New(rand.NewSource(7))), game.WithWinRule(game.WinRuleTotalElimination))
	if err != nil {
		t.Fatalf("game.New: %v", err)
	}
	return g
}

func lowestAlive(g *game.Game, match func(game.Player) bool) int {
	for _, p := range g.AlivePlayers() {
		if match(p) {
			return p.ID
		}
	}
	return 0
}

func isWolf(p game.Player) bool { return p.Role.IsWerewolf() }

func notWolf(p game.Player) bool { return !p.Role.IsWerewolf() }

// villageStrategy: werewolves kill the lowest living non-werewolf, everyone
// votes for the lowest living werewolf, the witch declines.
func villageStrategy(g *game.Game) func(id int, method string, params interface{}) (json.RawMessage, error) {
	return func(id int, method string, params interface{}) (json.RawMessage, error) {
		switch method {
		case network.MethodWerewolfAction:
			return reply(map[string]interface{}{"action": "kill", "target_id": lowestAlive(g, notWolf)})
		case network.MethodVote:
			return reply(map[string]interface{}{"vote_target": lowestAlive(g, isWolf)})
		case network.MethodWitchAction:
			return reply(map[string]interface{}{"action": "abstain"})
		case network.MethodSeerAction:
			return reply(map[string]interface{}{"action": "check", "target_id": lowestAlive(g, isWolf)})
		case network.MethodDiscuss:
			return reply(map[string]interface{}{"speech": fmt.Sprintf("player %d speaking", id)})
		case network.MethodDefend:
			return reply(map[string]interface{}{"defense": "I was framed."})
		}
		return reply(map[string]interface{}{})
	}
}

func TestRunner_Bind(t *testing.T) {
	g := newTestGame(t, game.Preset6)
	s1 := newMockServer(6, nil)
	s2 := newMockServer(6, nil)
	rec := recorder.New()

	r := New(g, nil, nil)
	if _, err := r.Run(context.Background()); !errors.Is(err, ErrNotBound) {
		t.Errorf("Expected ErrNotBound, got %v", err)
	}

	if err := r.BindServer(s1); err != nil {
		t.Fatalf("BindServer: %v", err)
	}
	if err := r.BindServer(s1); err != nil {
		t.Errorf("Binding the same server twice should be a no-op, got %v", err)
	}
	if err := r.BindServer(s2); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("Expected ErrAlreadyBound, got %v", err)
	}
	if err := r.BindRecorder(rec); err != nil {
		t.Fatalf("BindRecorder: %v", err)
	}
	if err := r.BindRecorder(recorder.New()); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("Expected ErrAlreadyBound for a second recorder, got %v", err)
	}
}

func TestRunner_SixPlayerGame(t *testing.T) {
	g := newTestGame(t, game.Preset6)
	srv := newMockServer(6, villageStrategy(g))
	rec := recorder.New()

	var phases []state.Phase
	r := New(g, srv, rec, WithPollInterval(time.Millisecond),
		WithPhaseListener(func(p state.Phase) { phases = append(phases, p) }))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result != game.VillageWins {
		t.Errorf("Expected VILLAGE_WINS, got %s", result)
	}
	if g.Day() != 2 {
		t.Errorf("Expected the game to end on day 2, got %d", g.Day())
	}
	if len(g.AliveWithRole(game.RoleWerewolf)) != 0 {
		t.Error("Expected every werewolf dead")
	}
	if srv.count(network.MethodInitialize) != 6 || srv.count(network.MethodGameOver) != 6 {
		t.Errorf("Expected initialize and game_over for every player, got %d and %d",
			srv.count(network.MethodInitialize), srv.count(network.MethodGameOver))
	}
	if srv.count(network.MethodDefend) != 2 {
		t.Errorf("Expected last words from both eliminated werewolves, got %d", srv.count(network.MethodDefend))
	}

	want := []state.Phase{state.PhaseNight, state.PhaseDay, state.PhaseNight, state.PhaseDay, state.PhaseFinished}
	if fmt.Sprint(phases) != fmt.Sprint(want) {
		t.Errorf("Expected phases %v, got %v", want, phases)
	}

	snap := rec.Snapshot()
	if snap.GameInfo.Winner != "VILLAGE_WINS" || snap.GameInfo.DayCount != 2 {
		t.Errorf("Unexpected recorded game info: %+v", snap.GameInfo)
	}
	if len(rec.Logs(recorder.LogWolf)) != 3 {
		t.Errorf("Expected 2 wolf votes night 1 and 1 night 2, got %d", len(rec.Logs(recorder.LogWolf)))
	}
	if got := r.Status(); got.Phase != "FINISHED" || got.Result != "VILLAGE_WINS" || got.Room != "SETTLEMENT" {
		t.Errorf("Unexpected status: %+v", got)
	}
}

// endSink wraps a recorder and notes what agents had been told when the
// game was finalized.
type endSink struct {
	*recorder.Recorder
	server       *MockServer
	gameOverSent int
	winners      int
}

func (e *endSink) GameEnd(result game.Result, players []models.PlayerRecord) {
	e.gameOverSent = e.server.count(network.MethodGameOver)
	for _, p := range players {
		if p.Won {
			e.winners++
		}
	}
	e.Recorder.GameEnd(result, players)
}

func TestRunner_GameOverBeforeGameEnd(t *testing.T) {
	g := newTestGame(t, game.Preset6)
	srv := newMockServer(6, villageStrategy(g))
	sink := &endSink{Recorder: recorder.New(), server: srv}

	r := New(g, srv, sink, WithPollInterval(time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sink.gameOverSent != 6 {
		t.Errorf("Expected game_over sent to all 6 players before GameEnd, got %d", sink.gameOverSent)
	}
	want := 0
	for _, p := range g.Players() {
		if result.Wins(p.Role) {
			want++
		}
	}
	if want == 0 || sink.winners != want {
		t.Errorf("Expected %d winners in the final records, got %d", want, sink.winners)
	}
}

func TestRunner_UnresponsiveWerewolves(t *testing.T) {
	g := newTestGame(t, game.Preset6)
	strategy := villageStrategy(g)
	srv := newMockServer(6, func(id int, method string, params interface{}) (json.RawMessage, error) {
		if method == network.MethodWerewolfAction {
			return nil, errNoReply
		}
		if method == network.MethodVote {
			// Nobody agrees, so no elimination either.
			return reply(map[string]interface{}{"vote_target": id%6 + 1})
		}
		return strategy(id, method, params)
	})
	rec := recorder.New()
	r := New(g, srv, rec, WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for g.Day() < 2 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	if _, err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected the endless game to stop on cancel, got %v", err)
	}
	if n := len(g.AlivePlayers()); n != 6 {
		t.Errorf("Expected nobody to die, %d alive", n)
	}
	for _, e := range rec.Logs(recorder.LogWolf) {
		if e.Metadata["target_id"] != 0 {
			t.Errorf("Expected abstentions from silent werewolves, got %v", e.Metadata)
		}
	}
}

func TestRunner_WitchSave(t *testing.T) {
	g := newTestGame(t, game.Preset6)
	strategy := villageStrategy(g)
	var saved []int
	srv := newMockServer(6, func(id int, method string, params interface{}) (json.RawMessage, error) {
		if method == network.MethodWitchAction {
			p := params.(witchParams)
			if p.AntidoteAvailable && p.KilledPlayerID != 0 {
				saved = append(saved, p.KilledPlayerID)
				return reply(map[string]interface{}{"action": "save", "target_id": p.KilledPlayerID})
			}
		}
		return strategy(id, method, params)
	})
	rec := recorder.New()
	r := New(g, srv, rec, WithPollInterval(time.Millisecond))

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("Expected the antidote to be offered and used exactly once, got %v", saved)
	}
	for _, e := range rec.Logs(recorder.LogPublic) {
		if e.Event == "player_death" && e.Day == 1 && e.Metadata["reason"] == "werewolf" {
			t.Errorf("Nobody should die by werewolf on night 1 after a save: %v", e.Metadata)
		}
	}
}

func TestRunner_HunterRetaliates(t *testing.T) {
	cfg := game.Config{PlayerCount: 4, Roles: map[game.Role]int{
		game.RoleWerewolf: 1,
		game.RoleHunter:   1,
		game.RoleVillager: 2,
	}}
	g := newTestGame(t, cfg)
	srv := newMockServer(4, func(id int, method string, params interface{}) (json.RawMessage, error) {
		switch method {
		case network.MethodWerewolfAction:
			return reply(map[string]interface{}{"target_id": lowestAlive(g, func(p game.Player) bool { return p.Role == game.RoleHunter })})
		case network.MethodHunterAction:
			if params.(hunterParams).Cause != "werewolf" {
				t.Errorf("Expected hunter to learn the cause, got %+v", params)
			}
			return reply(map[string]interface{}{"action": "shoot", "target_id": lowestAlive(g, isWolf)})
		}
		return reply(map[string]interface{}{})
	})
	rec := recorder.New()
	r := New(g, srv, rec, WithPollInterval(time.Millisecond))

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != game.VillageWins || g.Day() != 1 {
		t.Errorf("Expected the hunter's shot to win on day 1, got %s on day %d", result, g.Day())
	}

	var shot bool
	for _, e := range rec.Logs(recorder.LogPublic) {
		if e.Event == "hunter_kill" {
			shot = true
		}
	}
	if !shot {
		t.Error("Expected hunter_kill in the public log")
	}
}

func TestRunner_MalformedResultsAreAbstentions(t *testing.T) {
	g := newTestGame(t, game.Preset6)
	strategy := villageStrategy(g)
	srv := newMockServer(6, func(id int, method string, params interface{}) (json.RawMessage, error) {
		if method == network.MethodWerewolfAction {
			return json.RawMessage(`{"target_id":"three"}`), nil
		}
		return strategy(id, method, params)
	})
	r := New(g, srv, recorder.New(), WithPollInterval(time.Millisecond))

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, p := range g.Players() {
		if p.Cause == game.CauseWerewolf {
			t.Errorf("Player %d killed despite malformed werewolf votes", p.ID)
		}
	}
}

func TestRunner_WaitCancelled(t *testing.T) {
	g := newTestGame(t, game.Preset6)
	srv := newMockServer(5, villageStrategy(g))
	r := New(g, srv, recorder.New(), WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected the waiting room to give up on cancel, got %v", err)
	}
	if g.Phase() != state.PhaseNotStarted {
		t.Errorf("Game must not start with 5 of 6 agents, phase %s", g.Phase())
	}
}
