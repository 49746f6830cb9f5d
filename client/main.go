package main

import (
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/wfunc/werewolfserver/logger"
	"github.com/wfunc/werewolfserver/network"
)

func dial(transport, addr string) (network.Connection, error) {
	switch transport {
	case "websocket":
		u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
		c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err != nil {
			return nil, err
		}
		return network.NewWSConnection(c), nil
	case "tcp":
		c, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err != nil {
			return nil, err
		}
		return network.NewLineConnection(c), nil
	}
	return nil, fmt.Errorf("unknown transport %q", transport)
}

func main() {
	addr := pflag.String("addr", "localhost:1999", "server address")
	transport := pflag.String("transport", "websocket", "websocket or tcp")
	playerID := pflag.Int("player-id", 1, "seat to claim")
	name := pflag.String("name", "", "agent name")
	seed := pflag.Int64("seed", time.Now().UnixNano(), "random seed")
	level := pflag.String("log-level", "info", "log level")
	pflag.Parse()

	logger.InitWithLevel(*level)
	defer logger.Sync()

	if *name == "" {
		*name = fmt.Sprintf("random-%d", *playerID)
	}

	conn, err := dial(*transport, *addr)
	if err != nil {
		logger.Log.Fatalf("Dial failed: %v", err)
	}
	logger.Log.Infof("Connected to %s as player %d", *addr, *playerID)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		logger.Log.Info("Interrupt received, closing connection.")
		conn.Close()
	}()

	agent := NewAgent(*playerID, *name, rand.New(rand.NewSource(*seed)))
	if err := agent.Serve(conn); err != nil {
		logger.Log.Infof("Connection closed: %v", err)
	}
}
