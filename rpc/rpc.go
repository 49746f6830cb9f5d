package rpc

import (
	"errors"
	"net"
	"net/rpc"

	"github.com/wfunc/werewolfserver/logger"
)

// Server manages the operator RPC listener.
type Server struct {
	listener  net.Listener
	address   string
	rpcServer *rpc.Server
}

// NewServer listens on addr. Services are added with Register before Start.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener:  listener,
		address:   listener.Addr().String(),
		rpcServer: rpc.NewServer(),
	}, nil
}

func (s *Server) Addr() string {
	return s.address
}

func (s *Server) Register(rcvr interface{}) error {
	return s.rpcServer.Register(rcvr)
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpcServer.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

type StatusArgs struct{}

// StatusReply describes the running game.
type StatusReply struct {
	Phase     string
	Day       int
	Connected int
	Required  int
	Alive     []int
	Room      string
	Result    string
}

// StatusSource supplies the game status.
type StatusSource interface {
	Status() StatusReply
}

// GameService is the struct that exposes RPC methods.
type GameService struct {
	source StatusSource
}

func NewGameService(source StatusSource) *GameService {
	return &GameService{source: source}
}

// Status follows the net/rpc signature: pointer args, pointer reply, error.
func (gs *GameService) Status(args *StatusArgs, reply *StatusReply) error {
	*reply = gs.source.Status()
	return nil
}
