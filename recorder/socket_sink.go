package recorder

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/proxysec/rdpmitm/glog"
)

// SocketSink fans the record stream out to every connected websocket
// viewer, the live counterpart of FileSink. Each accepted connection
// gets the records written from its accept point forward; there is no
// replay of history to a late joiner.
type SocketSink struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
}

// NewSocketSink constructs an empty sink; call ServeHTTP from an
// http.Server owned by the caller to accept viewers.
func NewSocketSink() *SocketSink {
	return &SocketSink{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket and registers it as a
// viewer of this sink until the connection drops.
func (s *SocketSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warnf("recorder: websocket upgrade failed: %v", err)
		return
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	// Viewers never send anything meaningful; read and discard so the
	// connection's control frames (ping/close) are still processed,
	// dropping the viewer once it disconnects.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				_ = conn.Close()
				return
			}
		}
	}()
}

// Write implements Sink by broadcasting b to every connected viewer. A
// per-connection write failure drops that viewer but never fails the
// call; recording continues on survivors.
func (s *SocketSink) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
			glog.Warnf("recorder: dropping websocket viewer: %v", err)
			delete(s.conns, conn)
			_ = conn.Close()
		}
	}
	return len(b), nil
}

// Close disconnects every viewer.
func (s *SocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
	return nil
}

func (s *SocketSink) Name() string { return "socket" }
