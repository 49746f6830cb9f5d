package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

// MockCaller records calls and blocks each one until released.
type MockCaller struct {
	players []int
	release chan struct{}
	mutex   sync.Mutex
	called  []int
}

func (m *MockCaller) Call(ctx context.Context, playerID int, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	m.mutex.Lock()
	m.called = append(m.called, playerID)
	m.mutex.Unlock()
	<-m.release
	if playerID == 2 {
		return nil, errors.New("unreachable")
	}
	return json.RawMessage(`{}`), nil
}

func (m *MockCaller) ConnectedPlayers() []int { return m.players }

func TestBroadcastToAll_DoesNotWait(t *testing.T) {
	caller := &MockCaller{players: []int{1, 2, 3}, release: make(chan struct{})}
	b := NewBroadcaster(caller, time.Second)

	done := b.BroadcastToAll("game_over", nil)
	select {
	case <-done:
		t.Fatal("Broadcast should not finish before the calls do")
	case <-time.After(20 * time.Millisecond):
	}

	close(caller.release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast should finish once every call returns")
	}

	caller.mutex.Lock()
	defer caller.mutex.Unlock()
	sort.Ints(caller.called)
	if len(caller.called) != 3 || caller.called[0] != 1 || caller.called[2] != 3 {
		t.Errorf("Expected a call per player, got %v", caller.called)
	}
}
