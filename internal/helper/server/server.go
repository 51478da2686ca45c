// Package server provides the UNIX socket server for the helper daemon.
package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shini4i/wifimon/internal/helper/protocol"
)

const (
	// DefaultSocketPath is the default path for the UNIX socket.
	DefaultSocketPath = "/run/wifimon/helper.sock"
	// DefaultSocketGroup is the group that can access the socket.
	DefaultSocketGroup = "wifimon"

	// maxMessageSize bounds a single request line.
	maxMessageSize = 64 * 1024
	// maxConcurrentClients bounds the number of connected clients.
	maxConcurrentClients = 16
	// sendTimeout bounds one write so a client that stops reading cannot
	// stall the sampling loops that broadcast through the server.
	sendTimeout = 2 * time.Second
)

// RequestHandler is called for each incoming request.
// It should return a response to send back to the client.
type RequestHandler func(req *protocol.Request) *protocol.Response

// DisconnectHandler is called once a client connection is gone, after its
// last request was answered.
type DisconnectHandler func(clientID uint64)

// Server manages client connections over a UNIX socket.
type Server struct {
	socketPath  string
	socketGroup string
	listener    net.Listener
	handler     RequestHandler
	sendTimeout time.Duration

	mu       sync.RWMutex
	clients  map[*Client]struct{}
	running  bool
	starting     bool
	nextID       atomic.Uint64
	onDisconnect DisconnectHandler
}

// NewServer creates a new server instance with the default socket group.
func NewServer(socketPath string, handler RequestHandler) *Server {
	return NewServerWithGroup(socketPath, DefaultSocketGroup, handler)
}

// NewServerWithGroup creates a new server instance with a custom socket group.
// Panics if handler is nil to prevent runtime panic when processing requests.
func NewServerWithGroup(socketPath, socketGroup string, handler RequestHandler) *Server {
	if handler == nil {
		panic("server: NewServerWithGroup called with nil handler")
	}
	return &Server{
		socketPath:  socketPath,
		socketGroup: socketGroup,
		handler:     handler,
		sendTimeout: sendTimeout,
		clients:     make(map[*Client]struct{}),
	}
}

// OnDisconnect registers a callback run when a client goes away, whether it
// closed the connection, failed a write or was closed by Stop.
func (s *Server) OnDisconnect(handler DisconnectHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = handler
}

// Start creates the socket and begins accepting clients.
// Returns an error if the server is already running or starting.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running || s.starting {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.starting = true
	s.mu.Unlock()

	listener, err := s.listen()

	s.mu.Lock()
	s.starting = false
	if err == nil {
		s.listener = listener
		s.running = true
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	slog.Info("Helper socket listening", "socket", s.socketPath, "group", s.socketGroup)
	go s.acceptLoop(listener)
	return nil
}

// listen replaces any stale socket file and returns a listener whose socket
// is only reachable by root and the configured group.
func (s *Server) listen() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on socket: %w", err)
	}
	if err := s.restrictSocket(); err != nil {
		if closeErr := listener.Close(); closeErr != nil {
			slog.Error("Failed to close listener", "error", closeErr)
		}
		return nil, err
	}
	return listener, nil
}

func (s *Server) restrictSocket() error {
	if s.socketGroup != "" {
		gid, err := lookupGID(s.socketGroup)
		if err != nil {
			return err
		}
		// -1 keeps the owning user.
		if err := os.Chown(s.socketPath, -1, gid); err != nil {
			return fmt.Errorf("failed to chown socket: %w", err)
		}
	}
	if err := os.Chmod(s.socketPath, 0o660); err != nil {
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return nil
}

func lookupGID(name string) (int, error) {
	grp, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("group %q not found: %w", name, err)
	}
	gid, err := strconv.Atoi(grp.Gid)
	if err != nil {
		return 0, fmt.Errorf("invalid gid %q: %w", grp.Gid, err)
	}
	return gid, nil
}

// Stop closes the listener and every client, then removes the socket file.
// Stopping a server that is not running is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	listener := s.listener
	s.mu.Unlock()

	if err := listener.Close(); err != nil {
		slog.Error("Failed to close listener", "error", err)
	}
	// Closing outside the lock lets the read loops unregister themselves.
	for _, client := range s.snapshot() {
		if err := client.Close(); err != nil {
			slog.Debug("Failed to close client", "client", client.id, "error", err)
		}
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove socket file", "path", s.socketPath, "error", err)
	}

	slog.Info("Helper socket closed")
	return nil
}

// snapshot returns the currently connected clients.
func (s *Server) snapshot() []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	return clients
}

// Broadcast sends an event to all connected clients. The event is encoded
// once; clients whose write fails or times out are disconnected.
func (s *Server) Broadcast(event *protocol.Event) {
	line, err := encodeLine(event)
	if err != nil {
		slog.Error("Failed to encode event", "event", event.Name, "error", err)
		return
	}

	for _, client := range s.snapshot() {
		if err := client.write(line); err != nil {
			slog.Warn("Dropping client that is not reading events",
				"client", client.id, "event", event.Name, "error", err)
			// The read loop sees the closed connection and unregisters the client.
			_ = client.Close()
		}
	}
}

// BroadcastEvent builds an event from name and data and broadcasts it.
func (s *Server) BroadcastEvent(name protocol.EventName, data any) {
	event, err := protocol.NewEvent(name, data)
	if err != nil {
		slog.Error("Failed to encode event", "event", name, "error", err)
		return
	}
	s.Broadcast(event)
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !s.isRunning() {
				return
			}
			slog.Error("Accept error", "error", err)
			continue
		}

		client := &Client{id: s.nextID.Add(1), conn: conn, sendTimeout: s.sendTimeout}
		if !s.addClient(client) {
			slog.Warn("Rejecting client: too many connections", "limit", maxConcurrentClients)
			_ = conn.Close()
			continue
		}
		go s.serve(client)
	}
}

func (s *Server) isRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) addClient(client *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) >= maxConcurrentClients {
		return false
	}
	s.clients[client] = struct{}{}
	slog.Info("Client connected", "client", client.id, "clients", len(s.clients))
	return true
}

func (s *Server) removeClient(client *Client) {
	s.mu.Lock()
	delete(s.clients, client)
	remaining := len(s.clients)
	onDisconnect := s.onDisconnect
	s.mu.Unlock()

	slog.Info("Client disconnected", "client", client.id, "clients", remaining)
	if onDisconnect != nil {
		onDisconnect(client.id)
	}
}

// serve answers requests from one client until it disconnects. Each
// non-empty line is one request; the reply goes back on the same connection.
func (s *Server) serve(client *Client) {
	defer func() {
		_ = client.Close()
		s.removeClient(client)
	}()

	scanner := bufio.NewScanner(client.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxMessageSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := client.SendResponse(s.dispatch(client, line)); err != nil {
			slog.Warn("Failed to send response", "client", client.id, "error", err)
			return
		}
	}

	err := scanner.Err()
	switch {
	case err == nil, errors.Is(err, net.ErrClosed):
	case errors.Is(err, bufio.ErrTooLong):
		slog.Warn("Request exceeds size limit", "client", client.id, "limit", maxMessageSize)
		resp := protocol.NewErrorResponse("", protocol.ErrCodeMessageTooLarge, "message too large")
		_ = client.SendResponse(resp)
	default:
		slog.Error("Read error", "client", client.id, "error", err)
	}
}

// dispatch decodes one request line and runs the handler on it.
func (s *Server) dispatch(client *Client, line []byte) *protocol.Response {
	var req protocol.Request
	if err := json.Unmarshal(line, &req); err != nil {
		slog.Warn("Invalid request", "client", client.id, "error", err)
		return protocol.NewErrorResponse("", protocol.ErrCodeInvalidRequest, "invalid JSON")
	}
	req.ClientID = client.id
	slog.Debug("Request received", "client", client.id, "id", req.ID, "command", req.Command)
	return s.handler(&req)
}

// Client is one connection to the helper socket. Writes are serialized so
// responses and broadcast events never interleave on the wire.
type Client struct {
	id          uint64
	conn        net.Conn
	sendTimeout time.Duration
	mu          sync.Mutex
}

// SendResponse sends a response to the client.
func (c *Client) SendResponse(resp *protocol.Response) error {
	return c.sendJSON(resp)
}

// SendEvent sends an event to the client.
func (c *Client) SendEvent(event *protocol.Event) error {
	return c.sendJSON(event)
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) sendJSON(v any) error {
	line, err := encodeLine(v)
	if err != nil {
		return err
	}
	return c.write(line)
}

func (c *Client) write(line []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.sendTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write(line)
	return err
}

// encodeLine marshals v as one NDJSON line.
func encodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
