package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/starford/kilnd/internal/kiln"
)

// maxLineBytes bounds one request line; anything longer is a parse error.
const maxLineBytes = 1 << 20

// Server answers JSON-RPC requests on a unix socket. Every connection is
// served by its own task; all of them share the kiln Manager.
type Server struct {
	socketPath string
	manager    *kiln.Manager
	logger     *slog.Logger

	// onShutdown, if set, is called once when a client asks the daemon to
	// stop. The server also stops its own accept loop and connections.
	onShutdown func()

	stopOnce sync.Once
	stopping chan struct{}
}

// NewServer creates a server for the given socket path. onShutdown may be
// nil when the caller only wants the server itself to stop.
func NewServer(socketPath string, manager *kiln.Manager, logger *slog.Logger, onShutdown func()) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		manager:    manager,
		logger:     logger,
		onShutdown: onShutdown,
		stopping:   make(chan struct{}),
	}
}

// stop broadcasts shutdown to the accept loop and every open connection.
func (s *Server) stop() {
	s.stopOnce.Do(func() {
		close(s.stopping)
		if s.onShutdown != nil {
			s.onShutdown()
		}
	})
}

// Run listens on the socket and serves until ctx is cancelled or a client
// calls shutdown. A stale socket file from a previous run is removed.
func (s *Server) Run(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rpc: remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", s.socketPath, err)
	}
	defer os.Remove(s.socketPath)

	s.logger.Info("rpc: listening", slog.String("socket", s.socketPath))

	go func() {
		select {
		case <-ctx.Done():
			s.stop()
		case <-s.stopping:
		}
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopping:
				wg.Wait()
				s.logger.Info("rpc: stopped")
				return nil
			default:
				wg.Wait()
				return fmt.Errorf("rpc: accept: %w", err)
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	// Unblock the reader when shutdown is broadcast.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.stopping:
			conn.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, shuttingDown := s.handle(line)
		if err := enc.Encode(resp); err != nil {
			s.logger.Debug("rpc: write failed", slog.String("error", err.Error()))
			return
		}
		if shuttingDown {
			s.stop()
			return
		}
	}
}

// handle answers one request line. Malformed input yields an error response
// on that line only; the connection stays usable.
func (s *Server) handle(line []byte) (Response, bool) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errResponse(nil, CodeParseError, "parse error"), false
	}

	switch req.Method {
	case "ping":
		return result(req.ID, "pong"), false

	case "shutdown":
		s.logger.Info("rpc: shutdown requested")
		return result(req.ID, "shutting down"), true

	case "kiln.open":
		params, errResp := s.pathParams(req)
		if errResp != nil {
			return *errResp, false
		}
		if err := s.manager.Open(params.Path); err != nil {
			return errResponse(req.ID, CodeInternal, err.Error()), false
		}
		return result(req.ID, map[string]string{"status": "ok"}), false

	case "kiln.close":
		params, errResp := s.pathParams(req)
		if errResp != nil {
			return *errResp, false
		}
		if err := s.manager.Close(params.Path); err != nil {
			return errResponse(req.ID, CodeInternal, err.Error()), false
		}
		return result(req.ID, map[string]string{"status": "ok"}), false

	case "kiln.list":
		return result(req.ID, s.manager.List()), false

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method)), false
	}
}

func (s *Server) pathParams(req Request) (kilnParams, *Response) {
	var params kilnParams
	if len(req.Params) == 0 {
		resp := errResponse(req.ID, CodeInvalidParams, "missing params")
		return params, &resp
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, "invalid params: "+err.Error())
		return params, &resp
	}
	if params.Path == "" {
		resp := errResponse(req.ID, CodeInvalidParams, "path is required")
		return params, &resp
	}
	return params, nil
}
