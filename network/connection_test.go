package network

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestLineConnection_Framing(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := NewLineConnection(server)
	go func() {
		client.Write([]byte("{\"a\":1}\n\n{\"b\":"))
		client.Write([]byte("2}\n"))
	}()

	first, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if string(first) != `{"a":1}` {
		t.Errorf("Unexpected first frame %q", first)
	}
	second, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if string(second) != `{"b":2}` {
		t.Errorf("Unexpected second frame %q", second)
	}
}

func TestLineConnection_Write(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := NewLineConnection(server)
	go conn.WriteMessage([]byte("{\"x\":\n1}"))

	peer := NewLineConnection(client)
	data, err := peer.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"x":1}` {
		t.Errorf("Embedded newlines must be stripped, got %q", data)
	}
}

func TestLineConnection_ReadDeadline(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := NewLineConnection(server)
	conn.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	if _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected a deadline error")
	}
}

func TestWSConnection_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	done := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWSConnection(ws)
		data, err := conn.ReadMessage()
		if err == nil {
			conn.WriteMessage(data)
		}
		done <- data
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	client := NewWSConnection(ws)
	defer client.Close()

	if err := client.WriteMessage([]byte(`{"player_id":1}`)); err != nil {
		t.Fatal(err)
	}
	echo, err := client.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(echo) != `{"player_id":1}` {
		t.Errorf("Unexpected echo %q", echo)
	}
	if got := <-done; string(got) != `{"player_id":1}` {
		t.Errorf("Server read %q", got)
	}
}
