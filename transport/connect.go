package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// Environment contract for locating the session socket.
const (
	EnvDisplay    = "WAYLAND_DISPLAY" // socket name, or absolute path
	EnvRuntimeDir = "XDG_RUNTIME_DIR" // directory holding session sockets
	EnvSocketFD   = "WAYLAND_SOCKET"  // pre-connected fd handed down by a parent
	DefaultSocket = "wayland-0"
)

var (
	ErrNoRuntimeDir = errors.New("transport: XDG_RUNTIME_DIR is not set")
	ErrBadSocketFD  = errors.New("transport: WAYLAND_SOCKET is not a valid fd")
)

// SocketPath resolves the session socket path from the environment.
// WAYLAND_DISPLAY may be absolute; otherwise it names a socket inside
// XDG_RUNTIME_DIR.
func SocketPath() (string, error) {
	name := os.Getenv(EnvDisplay)
	if name == "" {
		name = DefaultSocket
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	runDir := os.Getenv(EnvRuntimeDir)
	if runDir == "" {
		return "", ErrNoRuntimeDir
	}
	return filepath.Join(runDir, name), nil
}

// Connect establishes the client end of a session. A WAYLAND_SOCKET fd
// inherited from a parent process takes priority over path resolution;
// it is claimed exactly once (the variable is unset) and flagged
// close-on-exec.
func Connect() (*Socket, error) {
	if raw := os.Getenv(EnvSocketFD); raw != "" {
		os.Unsetenv(EnvSocketFD)
		fd, err := strconv.Atoi(raw)
		if err != nil || fd < 0 {
			return nil, fmt.Errorf("%w: %q", ErrBadSocketFD, raw)
		}
		_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC)
		return socketFromFD(fd)
	}
	path, err := SocketPath()
	if err != nil {
		return nil, err
	}
	return ConnectPath(path)
}

// ConnectPath dials a unix stream socket at an explicit path.
func ConnectPath(path string) (*Socket, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("transport: connect %s: %w", path, err)
	}
	return NewSocket(conn), nil
}

func socketFromFD(fd int) (*Socket, error) {
	file := os.NewFile(uintptr(fd), "wayland-socket")
	defer file.Close()
	conn, err := net.FileConn(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSocketFD, err)
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("%w: fd %d is not a unix socket", ErrBadSocketFD, fd)
	}
	return NewSocket(uc), nil
}

// Listener accepts client connections on a session socket.
type Listener struct {
	ln   *net.UnixListener
	path string
}

// Listen binds a socket named name inside XDG_RUNTIME_DIR. An empty name
// uses the default. A stale socket file from a crashed previous instance
// is removed before binding.
func Listen(name string) (*Listener, error) {
	if name == "" {
		name = DefaultSocket
	}
	path := name
	if !filepath.IsAbs(name) {
		runDir := os.Getenv(EnvRuntimeDir)
		if runDir == "" {
			return nil, ErrNoRuntimeDir
		}
		path = filepath.Join(runDir, name)
	}
	if _, err := os.Stat(path); err == nil {
		if c, derr := net.Dial("unix", path); derr == nil {
			c.Close()
			return nil, fmt.Errorf("transport: socket %s is already in use", path)
		}
		os.Remove(path)
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", path, err)
	}
	return &Listener{ln: ln, path: path}, nil
}

// Accept waits for the next client.
func (l *Listener) Accept() (*Socket, error) {
	conn, err := l.ln.AcceptUnix()
	if err != nil {
		return nil, err
	}
	return NewSocket(conn), nil
}

// Path reports where the socket was bound.
func (l *Listener) Path() string {
	return l.path
}

// Close stops accepting and removes the socket file.
func (l *Listener) Close() error {
	err := l.ln.Close()
	os.Remove(l.path)
	return err
}
