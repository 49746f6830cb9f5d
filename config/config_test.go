package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), t.TempDir())
	if err != nil {
		t.Fatalf("Load without a file should succeed, got: %v", err)
	}
	if cfg.Game.Players != 6 {
		t.Errorf("Expected default players 6, got %d", cfg.Game.Players)
	}
	if cfg.Timeouts.Handshake != 5*time.Second {
		t.Errorf("Expected handshake timeout 5s, got %v", cfg.Timeouts.Handshake)
	}
	if cfg.Server.Transport != "websocket" {
		t.Errorf("Expected websocket transport, got %s", cfg.Server.Transport)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
server:
  agent_address: "127.0.0.1:9000"
  transport: tcp
game:
  players: 9
  win_rule: total
timeouts:
  action: 3s
`)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(viper.New(), dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.AgentAddress != "127.0.0.1:9000" {
		t.Errorf("Unexpected agent address %s", cfg.Server.AgentAddress)
	}
	if cfg.Game.Players != 9 || cfg.Game.WinRule != "total" {
		t.Errorf("Unexpected game config %+v", cfg.Game)
	}
	if cfg.Timeouts.Action != 3*time.Second {
		t.Errorf("Expected action timeout 3s, got %v", cfg.Timeouts.Action)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("WEREWOLF_GAME_PLAYERS", "12")
	cfg, err := Load(viper.New(), t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Game.Players != 12 {
		t.Errorf("Expected env override to 12 players, got %d", cfg.Game.Players)
	}
}

func TestValidate_BadTransport(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  transport: udp\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(viper.New(), dir)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}
