package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"

	"github.com/wfunc/werewolfserver/game"
	"github.com/wfunc/werewolfserver/logger"
	"github.com/wfunc/werewolfserver/network"
)

// errUnknownMethod is sent back as a JSON-RPC style "method not found".
var errUnknownMethod = errors.New("unknown method")

const codeUnknownMethod = -32601

type handlerFunc func(params json.RawMessage) (interface{}, error)

type seat struct {
	PlayerID int  `json:"player_id"`
	IsAlive  bool `json:"is_alive"`
}

// request covers the params fields this agent looks at.
type request struct {
	PlayerID          int    `json:"player_id"`
	Role              string `json:"role"`
	AlivePlayers      []seat `json:"alive_players"`
	Teammates         []int  `json:"teammates"`
	KilledPlayerID    int    `json:"killed_player_id"`
	AntidoteAvailable bool   `json:"antidote_available"`
	PoisonAvailable   bool   `json:"poison_available"`
	LastProtected     int    `json:"last_protected"`
	Winner            string `json:"winner"`
}

// Agent answers every method with a random legal choice.
type Agent struct {
	playerID  int
	name      string
	role      game.Role
	teammates map[int]bool
	rng       *rand.Rand
	handlers  map[string]handlerFunc
}

func NewAgent(playerID int, name string, rng *rand.Rand) *Agent {
	a := &Agent{
		playerID:  playerID,
		name:      name,
		teammates: make(map[int]bool),
		rng:       rng,
	}
	a.handlers = map[string]handlerFunc{
		network.MethodInitialize:     a.onInitialize,
		network.MethodWerewolfAction: a.onWerewolfAction,
		network.MethodSeerAction:     a.onTargetAction("check"),
		network.MethodGuardAction:    a.onGuardAction,
		network.MethodWitchAction:    a.onWitchAction,
		network.MethodHunterAction:   a.onTargetAction("shoot"),
		network.MethodDiscuss:        a.onDiscuss,
		network.MethodVote:           a.onVote,
		network.MethodDefend:         a.onDefend,
		network.MethodGameOver:       a.onGameOver,
	}
	return a
}

func (a *Agent) Handshake() ([]byte, error) {
	return json.Marshal(network.Handshake{PlayerID: a.playerID, Name: a.name})
}

// Handle answers one request frame. Frames that are not requests produce no
// reply.
func (a *Agent) Handle(frame []byte) ([]byte, error) {
	req, err := network.DecodeRequest(frame)
	if err != nil {
		return nil, err
	}
	h, ok := a.handlers[req.Method]
	if !ok {
		return network.EncodeError(req.ID, codeUnknownMethod, fmt.Sprintf("%v: %s", errUnknownMethod, req.Method))
	}
	result, err := h(req.Params)
	if err != nil {
		return network.EncodeError(req.ID, 0, err.Error())
	}
	return network.EncodeResult(req.ID, result)
}

// Serve handshakes and answers requests until the connection closes.
func (a *Agent) Serve(conn network.Connection) error {
	hs, err := a.Handshake()
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(hs); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		out, err := a.Handle(frame)
		if err != nil {
			logger.Log.Warnf("skip frame: %v", err)
			continue
		}
		if err := conn.WriteMessage(out); err != nil {
			return err
		}
	}
}

func decode(params json.RawMessage) (request, error) {
	var r request
	if len(params) == 0 {
		return r, nil
	}
	err := json.Unmarshal(params, &r)
	return r, err
}

// pick returns a random living seat accepted by allow, 0 if none.
func (a *Agent) pick(seats []seat, allow func(id int) bool) int {
	var ids []int
	for _, s := range seats {
		if s.PlayerID != a.playerID && allow(s.PlayerID) {
			ids = append(ids, s.PlayerID)
		}
	}
	if len(ids) == 0 {
		return 0
	}
	return ids[a.rng.Intn(len(ids))]
}

func anyone(int) bool { return true }

func (a *Agent) onInitialize(params json.RawMessage) (interface{}, error) {
	r, err := decode(params)
	if err != nil {
		return nil, err
	}
	role, err := game.ParseRole(r.Role)
	if err != nil {
		return nil, err
	}
	a.role = role
	for _, id := range r.Teammates {
		a.teammates[id] = true
	}
	logger.Log.Infof("Agent %s initialized as %s (ID: %d)", a.name, a.role, a.playerID)
	return map[string]string{"status": "success"}, nil
}

func (a *Agent) onWerewolfAction(params json.RawMessage) (interface{}, error) {
	r, err := decode(params)
	if err != nil {
		return nil, err
	}
	for _, id := range r.Teammates {
		a.teammates[id] = true
	}
	target := a.pick(r.AlivePlayers, func(id int) bool { return !a.teammates[id] })
	return map[string]interface{}{"action": "kill", "target_id": target}, nil
}

func (a *Agent) onTargetAction(action string) handlerFunc {
	return func(params json.RawMessage) (interface{}, error) {
		r, err := decode(params)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"action": action, "target_id": a.pick(r.AlivePlayers, anyone)}, nil
	}
}

func (a *Agent) onGuardAction(params json.RawMessage) (interface{}, error) {
	r, err := decode(params)
	if err != nil {
		return nil, err
	}
	target := a.pick(r.AlivePlayers, func(id int) bool { return id != r.LastProtected })
	return map[string]interface{}{"action": "protect", "target_id": target}, nil
}

func (a *Agent) onWitchAction(params json.RawMessage) (interface{}, error) {
	r, err := decode(params)
	if err != nil {
		return nil, err
	}
	switch {
	case r.KilledPlayerID != 0 && r.AntidoteAvailable:
		return map[string]interface{}{"action": "save", "target_id": r.KilledPlayerID}, nil
	case r.PoisonAvailable && a.rng.Intn(2) == 0:
		return map[string]interface{}{"action": "poison", "target_id": a.pick(r.AlivePlayers, anyone)}, nil
	}
	return map[string]interface{}{"action": "abstain"}, nil
}

func (a *Agent) onDiscuss(json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"speech": fmt.Sprintf("I am player %d and I am on the village side.", a.playerID)}, nil
}

func (a *Agent) onVote(params json.RawMessage) (interface{}, error) {
	r, err := decode(params)
	if err != nil {
		return nil, err
	}
	target := a.pick(r.AlivePlayers, func(id int) bool { return !a.teammates[id] })
	return map[string]interface{}{"vote_target": target}, nil
}

func (a *Agent) onDefend(json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"defense": "You got the wrong one."}, nil
}

func (a *Agent) onGameOver(params json.RawMessage) (interface{}, error) {
	r, err := decode(params)
	if err != nil {
		return nil, err
	}
	logger.Log.Infof("Agent %s game over, winner: %s", a.name, r.Winner)
	return map[string]string{"status": "acknowledged"}, nil
}
