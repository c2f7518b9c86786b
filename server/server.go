package server

import (
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/wlkit/wlkit/internal/logging"
	"github.com/wlkit/wlkit/internal/observability"
	"github.com/wlkit/wlkit/transport"
)

// Options tunes per-client behavior.
type Options struct {
	// RequestsPerSecond caps each client's sustained request rate as
	// flood protection; exceeding it is fatal for that client. Zero
	// disables the limiter.
	RequestsPerSecond float64

	// Burst is the limiter's bucket size. Defaults to
	// RequestsPerSecond when zero.
	Burst int
}

// Server accepts clients and owns the global registry.
type Server struct {
	ln  *transport.Listener
	log zerolog.Logger

	mu       sync.Mutex
	globals  map[uint32]*globalEntry
	order    []uint32
	nextName uint32
	clients  map[*Client]struct{}
	closed   bool

	limit rate.Limit
	burst int

	socketLabel string
}

// Listen binds a socket under XDG_RUNTIME_DIR and returns a server
// ready to Serve.
func Listen(name string, opts Options) (*Server, error) {
	ln, err := transport.Listen(name)
	if err != nil {
		return nil, err
	}
	s := newServer(opts)
	s.ln = ln
	s.socketLabel = name
	return s, nil
}

func newServer(opts Options) *Server {
	s := &Server{
		log:         logging.Logger("server"),
		globals:     make(map[uint32]*globalEntry),
		clients:     make(map[*Client]struct{}),
		socketLabel: "conn",
	}
	if opts.RequestsPerSecond > 0 {
		s.limit = rate.Limit(opts.RequestsPerSecond)
		s.burst = opts.Burst
		if s.burst == 0 {
			s.burst = int(opts.RequestsPerSecond)
		}
	}
	return s
}

// NewServer wraps pre-established connections (ServeConn) without a
// listening socket.
func NewServer(opts Options) *Server {
	return newServer(opts)
}

// Serve accepts clients until Close. Each client runs on its own
// goroutine.
func (s *Server) Serve() error {
	s.log.Info().Str("socket", s.ln.Path()).Msg("listening")
	for {
		sock, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return ErrClosed
			}
			return err
		}
		s.ServeConn(sock)
	}
}

// ServeConn adopts an established socket as a client and starts serving
// it. Used by Serve and directly by socketpair setups.
func (s *Server) ServeConn(sock *transport.Socket) *Client {
	c := newClient(s, sock)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.Close()
		return nil
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	observability.ClientConnected(s.socketLabel)
	s.log.Debug().Msg("client connected")
	go c.serve()
	return c
}

func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if present {
		c.Close()
		observability.ClientDisconnected(s.socketLabel)
		s.log.Debug().Msg("client gone")
	}
}

// Close stops accepting, disconnects every client and removes the
// socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}
