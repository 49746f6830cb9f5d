package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wfunc/werewolfserver/broadcast"
	"github.com/wfunc/werewolfserver/logger"
	"github.com/wfunc/werewolfserver/network"
	"github.com/wfunc/werewolfserver/session"
)

const (
	TransportWebSocket = "websocket"
	TransportTCP       = "tcp"
)

var (
	ErrNotConnected   = errors.New("player not connected")
	ErrCallTimeout    = errors.New("call timed out")
	ErrWriteFailed    = errors.New("write failed")
	ErrDisconnected   = errors.New("player disconnected before replying")
	ErrServerClosed   = errors.New("server closed")
	ErrBadTransport   = errors.New("unknown transport")
	ErrInvalidPlayer  = errors.New("player id out of range")
	ErrHandshakeStale = errors.New("handshake timed out")
)

// RemoteError is an error object returned by the agent.
type RemoteError struct {
	Method string
	Err    *network.RPCError
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Method, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Observer receives connection and call metrics. *monitor.Monitor satisfies it.
type Observer interface {
	SetConnectedAgents(count int)
	ObserveCall(method, outcome string, duration time.Duration)
}

type Options struct {
	Address          string
	Transport        string
	HandshakeTimeout time.Duration
	NotifyTimeout    time.Duration
	// Players bounds the accepted player ids to 1..Players when positive.
	Players int
	// WSPath is the websocket upgrade path, "/ws" by default.
	WSPath string
}

type callResult struct {
	resp *network.Response
	err  error
}

type pendingCall struct {
	sess   *session.Session
	method string
	result chan callResult
}

// AgentServer accepts agent connections and calls methods on them.
type AgentServer struct {
	opts        Options
	upgrader    websocket.Upgrader
	sessions    *session.Manager
	broadcaster *broadcast.Broadcaster
	observer    Observer

	pending      map[string]*pendingCall
	pendingMutex sync.Mutex

	listenerMutex sync.Mutex
	listener      net.Listener
	httpServer    *http.Server

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewAgentServer(opts Options, observer Observer) *AgentServer {
	if opts.Transport == "" {
		opts.Transport = TransportWebSocket
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	if opts.WSPath == "" {
		opts.WSPath = "/ws"
	}

	s := &AgentServer{
		opts:         opts,
		sessions:     session.NewManager(),
		observer:     observer,
		pending:      make(map[string]*pendingCall),
		shutdownChan: make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	s.broadcaster = broadcast.NewBroadcaster(s, opts.NotifyTimeout)
	if observer != nil {
		s.sessions.OnChange(observer.SetConnectedAgents)
	}
	return s
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled or Shutdown is called.
func (s *AgentServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Address, err)
	}
	return s.Serve(ctx, ln)
}

func (s *AgentServer) Serve(ctx context.Context, ln net.Listener) error {
	s.listenerMutex.Lock()
	s.listener = ln
	s.listenerMutex.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.Shutdown()
		case <-s.shutdownChan:
		}
	}()

	logger.Log.Infof("Agent server listening on %s (%s)", ln.Addr(), s.opts.Transport)
	switch s.opts.Transport {
	case TransportWebSocket:
		return s.serveWebSocket(ln)
	case TransportTCP:
		return s.serveTCP(ln)
	default:
		ln.Close()
		return fmt.Errorf("%w: %q", ErrBadTransport, s.opts.Transport)
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *AgentServer) Addr() net.Addr {
	s.listenerMutex.Lock()
	defer s.listenerMutex.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *AgentServer) serveWebSocket(ln net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.opts.WSPath, s.handleWebSocket)

	srv := &http.Server{Handler: mux}
	s.listenerMutex.Lock()
	s.httpServer = srv
	s.listenerMutex.Unlock()

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *AgentServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.HandleConn(network.NewWSConnection(conn))
}

func (s *AgentServer) serveTCP(ln net.Listener) error {
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdownChan:
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				logger.Log.Warnf("accept error: %v; retrying in %v", err, backoff)
				time.Sleep(backoff)
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0
		go s.HandleConn(network.NewLineConnection(conn))
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

// HandleConn runs one connection: handshake, registration, read loop and
// cleanup. It returns when the connection is gone.
func (s *AgentServer) HandleConn(conn network.Connection) {
	sess, err := s.handshake(conn)
	if err != nil {
		logger.Log.Infof("Handshake from %s failed: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	if old := s.sessions.Register(sess); old != nil {
		logger.Log.Infof("Player %d reconnected from %s, previous connection %s closed",
			sess.PlayerID, conn.RemoteAddr(), old.Conn.RemoteAddr())
	} else {
		logger.Log.Infof("Player %d (%s) connected from %s", sess.PlayerID, sess.Name, conn.RemoteAddr())
	}

	defer func() {
		if s.sessions.Remove(sess) {
			logger.Log.Infof("Player %d disconnected", sess.PlayerID)
		}
		sess.Close()
		s.failPending(sess)
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sess.Touch()

		resp, err := network.DecodeResponse(data)
		if err != nil {
			logger.Log.Debugf("Ignoring frame from player %d: %v", sess.PlayerID, err)
			continue
		}
		s.resolve(sess, resp)
	}
}

func (s *AgentServer) handshake(conn network.Connection) (*session.Session, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout)); err != nil {
		return nil, err
	}
	data, err := conn.ReadMessage()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ErrHandshakeStale
		}
		return nil, err
	}
	hs, err := network.DecodeHandshake(data)
	if err != nil {
		return nil, err
	}
	if hs.PlayerID < 1 || (s.opts.Players > 0 && hs.PlayerID > s.opts.Players) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPlayer, hs.PlayerID)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return session.NewSession(hs.PlayerID, hs.Name, conn), nil
}

// Call sends method to the player and waits for the matching response.
// Every error means the player produced no result.
func (s *AgentServer) Call(ctx context.Context, playerID int, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	start := time.Now()
	result, err := s.call(ctx, playerID, method, params, timeout)
	if s.observer != nil {
		s.observer.ObserveCall(method, outcome(err), time.Since(start))
	}
	return result, err
}

func (s *AgentServer) call(ctx context.Context, playerID int, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	sess, ok := s.sessions.Get(playerID)
	if !ok {
		return nil, ErrNotConnected
	}

	id := uuid.New().String()
	data, err := network.EncodeRequest(id, method, params)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	p := &pendingCall{sess: sess, method: method, result: make(chan callResult, 1)}
	s.pendingMutex.Lock()
	s.pending[id] = p
	s.pendingMutex.Unlock()
	defer s.removePending(id)

	// 超时从写之前开始计算, the write itself is bounded by the same deadline.
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	sent := make(chan error, 1)
	deadline := time.Now().Add(timeout)
	go func() { sent <- sess.Send(data, deadline) }()

	for {
		select {
		case err := <-sent:
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					return nil, ErrCallTimeout
				}
				return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
			}
			sent = nil
		case r := <-p.result:
			if r.err != nil {
				return nil, r.err
			}
			if r.resp.Error != nil {
				return nil, &RemoteError{Method: method, Err: r.resp.Error}
			}
			return r.resp.Result, nil
		case <-timer.C:
			return nil, ErrCallTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.shutdownChan:
			return nil, ErrServerClosed
		}
	}
}

func outcome(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCallTimeout):
		return "timeout"
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrDisconnected):
		return "disconnected"
	case errors.As(err, &remote):
		return "remote_error"
	default:
		return "error"
	}
}

func (s *AgentServer) removePending(id string) {
	s.pendingMutex.Lock()
	delete(s.pending, id)
	s.pendingMutex.Unlock()
}

// resolve completes the pending call with resp.ID if it was written on sess.
func (s *AgentServer) resolve(sess *session.Session, resp *network.Response) {
	s.pendingMutex.Lock()
	p, exists := s.pending[resp.ID]
	if exists && p.sess == sess {
		delete(s.pending, resp.ID)
	}
	s.pendingMutex.Unlock()

	if !exists {
		logger.Log.Debugf("Player %d answered unknown request %s", sess.PlayerID, resp.ID)
		return
	}
	if p.sess != sess {
		logger.Log.Debugf("Player %d answered request %s on a different connection", sess.PlayerID, resp.ID)
		return
	}
	select {
	case p.result <- callResult{resp: resp}:
	default:
	}
}

func (s *AgentServer) failPending(sess *session.Session) {
	s.pendingMutex.Lock()
	defer s.pendingMutex.Unlock()
	for id, p := range s.pending {
		if p.sess != sess {
			continue
		}
		delete(s.pending, id)
		select {
		case p.result <- callResult{err: ErrDisconnected}:
		default:
		}
	}
}

// PendingCount reports the number of in-flight calls.
func (s *AgentServer) PendingCount() int {
	s.pendingMutex.Lock()
	defer s.pendingMutex.Unlock()
	return len(s.pending)
}

// Broadcast calls method on every connected player without waiting. The
// returned channel closes once every call has finished.
func (s *AgentServer) Broadcast(method string, params interface{}) <-chan struct{} {
	return s.broadcaster.BroadcastToAll(method, params)
}

func (s *AgentServer) BroadcastTo(playerIDs []int, method string, params interface{}) <-chan struct{} {
	return s.broadcaster.BroadcastToPlayers(playerIDs, method, params)
}

func (s *AgentServer) ConnectedCount() int {
	return s.sessions.Count()
}

func (s *AgentServer) ConnectedPlayers() []int {
	return s.sessions.PlayerIDs()
}

// PlayerName is the name given at handshake, empty if not connected.
func (s *AgentServer) PlayerName(playerID int) string {
	if sess, ok := s.sessions.Get(playerID); ok {
		return sess.Name
	}
	return ""
}

func (s *AgentServer) IsConnected(playerID int) bool {
	_, ok := s.sessions.Get(playerID)
	return ok
}

// Shutdown stops accepting, closes every session and fails pending calls.
func (s *AgentServer) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)

		s.listenerMutex.Lock()
		if s.httpServer != nil {
			s.httpServer.Close()
		} else if s.listener != nil {
			s.listener.Close()
		}
		s.listenerMutex.Unlock()

		s.sessions.CloseAll()
		logger.Log.Info("Agent server stopped")
	})
}
