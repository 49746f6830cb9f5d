package monitor

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMonitor_Metrics(t *testing.T) {
	m := NewMonitor("werewolf_test")

	m.SetConnectedAgents(4)
	m.ObserveCall("vote", "ok", 10*time.Millisecond)
	m.ObserveCall("vote", "timeout", time.Second)
	m.IncGamesFinished("VILLAGE_WINS")

	if got := testutil.ToFloat64(m.metrics.ConnectedAgents); got != 4 {
		t.Errorf("Expected 4 connected agents, got %v", got)
	}
	if got := testutil.ToFloat64(m.metrics.Calls.WithLabelValues("vote", "timeout")); got != 1 {
		t.Errorf("Expected 1 timed out vote call, got %v", got)
	}
	if m.callCount != 2 {
		t.Errorf("Expected 2 calls counted, got %d", m.callCount)
	}
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor("werewolf_handler")
	m.SetPhase(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "werewolf_handler_game_phase 2") {
		t.Errorf("Expected phase gauge in output, got:\n%s", rec.Body.String())
	}
}

func TestMonitor_Independent(t *testing.T) {
	// Separate registries: creating two monitors must not panic.
	NewMonitor("werewolf_dup")
	NewMonitor("werewolf_dup")
}
