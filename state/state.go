package state

import (
	"errors"
	"sync"
)

// Phase 游戏阶段
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseNight
	PhaseDay
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "NOT_STARTED"
	case PhaseNight:
		return "NIGHT"
	case PhaseDay:
		return "DAY"
	case PhaseFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// 状态机接口
type StateMachine interface {
	ChangeState(to Phase) error
	GetCurrentState() Phase
	AddTransition(from, to Phase, condition func() bool) error
	OnChange(fn func(from, to Phase))
}

// Machine is a phase machine driven by an explicit transition table.
// A transition that is not in the table is rejected.
type Machine struct {
	current     Phase
	transitions map[Phase]map[Phase]func() bool // from -> to -> condition
	listeners   []func(from, to Phase)
	mutex       sync.RWMutex
}

func NewMachine(initial Phase) *Machine {
	return &Machine{
		current:     initial,
		transitions: make(map[Phase]map[Phase]func() bool),
	}
}

// NewGameMachine returns a machine with the werewolf phase graph:
// NOT_STARTED -> NIGHT <-> DAY -> FINISHED, FINISHED is terminal.
func NewGameMachine() *Machine {
	m := NewMachine(PhaseNotStarted)
	m.AddTransition(PhaseNotStarted, PhaseNight, nil)
	m.AddTransition(PhaseNight, PhaseDay, nil)
	m.AddTransition(PhaseNight, PhaseFinished, nil)
	m.AddTransition(PhaseDay, PhaseNight, nil)
	m.AddTransition(PhaseDay, PhaseFinished, nil)
	return m
}

func (sm *Machine) ChangeState(to Phase) error {
	sm.mutex.Lock()
	from := sm.current

	conditions, exists := sm.transitions[from]
	if !exists {
		sm.mutex.Unlock()
		return ErrTransitionNotAllowed
	}
	condition, exists := conditions[to]
	if !exists || (condition != nil && !condition()) {
		sm.mutex.Unlock()
		return ErrTransitionNotAllowed
	}

	sm.current = to
	listeners := append([]func(from, to Phase){}, sm.listeners...)
	sm.mutex.Unlock()

	for _, fn := range listeners {
		fn(from, to)
	}
	return nil
}

func (sm *Machine) GetCurrentState() Phase {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.current
}

func (sm *Machine) AddTransition(from, to Phase, condition func() bool) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if _, exists := sm.transitions[from]; !exists {
		sm.transitions[from] = make(map[Phase]func() bool)
	}
	sm.transitions[from][to] = condition
	return nil
}

// OnChange registers a listener called after every successful transition.
func (sm *Machine) OnChange(fn func(from, to Phase)) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.listeners = append(sm.listeners, fn)
}
