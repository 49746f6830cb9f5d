// broadcast/broadcast.go
package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/wfunc/werewolfserver/logger"
)

// Caller is the part of the agent server a broadcaster needs. It is defined
// here to break the import cycle between server and broadcast.
type Caller interface {
	Call(ctx context.Context, playerID int, method string, params interface{}, timeout time.Duration) (json.RawMessage, error)
	ConnectedPlayers() []int
}

// 广播器: one call per player, each bounded by its own timeout.
type Broadcaster struct {
	caller  Caller
	timeout time.Duration
}

func NewBroadcaster(caller Caller, timeout time.Duration) *Broadcaster {
	return &Broadcaster{caller: caller, timeout: timeout}
}

// BroadcastToAll calls method on every connected player and returns at once.
// The returned channel is closed when every call has finished.
func (b *Broadcaster) BroadcastToAll(method string, params interface{}) <-chan struct{} {
	return b.BroadcastToPlayers(b.caller.ConnectedPlayers(), method, params)
}

func (b *Broadcaster) BroadcastToPlayers(playerIDs []int, method string, params interface{}) <-chan struct{} {
	done := make(chan struct{})
	ids := append([]int(nil), playerIDs...)

	go func() {
		defer close(done)
		var wg conc.WaitGroup
		for _, id := range ids {
			id := id
			wg.Go(func() {
				if _, err := b.caller.Call(context.Background(), id, method, params, b.timeout); err != nil {
					logger.Log.Debugf("broadcast %s to player %d: %v", method, id, err)
				}
			})
		}
		wg.Wait()
	}()
	return done
}
