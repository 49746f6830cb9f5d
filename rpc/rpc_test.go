package rpc

import (
	"context"
	"net/rpc"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type MockStatusSource struct {
	reply StatusReply
}

func (m *MockStatusSource) Status() StatusReply {
	return m.reply
}

func TestGameService_Status(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Stop()

	source := &MockStatusSource{reply: StatusReply{Phase: "DAY", Day: 2, Connected: 6, Required: 6, Alive: []int{1, 3, 4}}}
	if err := srv.Register(NewGameService(source)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	go srv.Start()

	client, err := rpc.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	var reply StatusReply
	if err := client.Call("GameService.Status", &StatusArgs{}, &reply); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Phase != "DAY" || reply.Day != 2 || len(reply.Alive) != 3 {
		t.Errorf("Unexpected status reply: %+v", reply)
	}
}

func TestHealthServer_FollowsGame(t *testing.T) {
	hs, err := NewHealthServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewHealthServer: %v", err)
	}
	go hs.Start()
	defer hs.Stop()

	conn, err := grpc.NewClient(hs.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		return resp.GetStatus()
	}

	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Expected NOT_SERVING before the game, got %v", got)
	}
	hs.SetServing(true)
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING during the game, got %v", got)
	}
}
