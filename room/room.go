// room/room.go
package room

import (
	"context"
	"sync"
	"time"

	"github.com/wfunc/werewolfserver/logger"
)

// RoomStatus 表示房间的业务状态，例如等待、游戏中等
type RoomStatus int

const (
	StatusIdle RoomStatus = iota
	StatusWaiting
	StatusGaming
	StatusSettlement
)

func (s RoomStatus) String() string {
	switch s {
	case StatusWaiting:
		return "WAITING"
	case StatusGaming:
		return "GAMING"
	case StatusSettlement:
		return "SETTLEMENT"
	default:
		return "IDLE"
	}
}

// Room 是等待室: the game starts once every seat has a live agent.
type Room struct {
	ID          string
	Required    int
	CreatedAt   time.Time
	counter     Counter
	interval    time.Duration
	status      RoomStatus
	connected   int
	statusMutex sync.RWMutex
}

// NewRoom 创建一个新房间
func NewRoom(id string, required int, counter Counter, interval time.Duration) *Room {
	if interval <= 0 {
		interval = time.Second
	}
	return &Room{
		ID:        id,
		Required:  required,
		CreatedAt: time.Now(),
		counter:   counter,
		interval:  interval,
		status:    StatusIdle,
	}
}

// Wait polls the connected count until it equals Required. Each change is
// logged so operators can follow the waiting room.
func (r *Room) Wait(ctx context.Context) error {
	r.SetStatus(StatusWaiting)
	logger.Log.Infof("Room %s waiting for %d agents", r.ID, r.Required)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if r.update() {
			r.SetStatus(StatusGaming)
			logger.Log.Infof("Room %s is full, starting game", r.ID)
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			r.SetStatus(StatusIdle)
			return ctx.Err()
		}
	}
}

// update 由主循环调用, reports whether the room is full.
func (r *Room) update() bool {
	count := r.counter.ConnectedCount()

	r.statusMutex.Lock()
	changed := count != r.connected
	r.connected = count
	r.statusMutex.Unlock()

	if changed {
		logger.Log.Infof("Room %s: %d/%d agents connected", r.ID, count, r.Required)
	}
	return count == r.Required
}

// Connected is the count seen by the last poll.
func (r *Room) Connected() int {
	r.statusMutex.RLock()
	defer r.statusMutex.RUnlock()
	return r.connected
}

// SetStatus 设置房间的业务状态
func (r *Room) SetStatus(status RoomStatus) {
	r.statusMutex.Lock()
	defer r.statusMutex.Unlock()
	r.status = status
}

// GetStatus 获取房间的业务状态
func (r *Room) GetStatus() RoomStatus {
	r.statusMutex.RLock()
	defer r.statusMutex.RUnlock()
	return r.status
}
