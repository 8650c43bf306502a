package mirror

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// wsConn is the subset of *websocket.Conn the pool writes through.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type poolClient struct {
	conn wsConn
	send chan []byte
	done chan struct{}
}

// ConnectionPool fans frames out to the websocket clients of one conversation. Every
// connection has its own buffered writer; a client that falls behind by more than the
// buffer, or whose write fails, is dropped.
type ConnectionPool struct {
	convKey      string
	mu           sync.Mutex
	clients      map[wsConn]*poolClient
	sendBuffer   int
	writeTimeout time.Duration
}

func NewConnectionPool(convKey string) *ConnectionPool {
	return &ConnectionPool{
		convKey:      convKey,
		clients:      map[wsConn]*poolClient{},
		sendBuffer:   64,
		writeTimeout: 5 * time.Second,
	}
}

// Add registers conn. first, when non-nil, is called under the pool lock and its frame is
// queued ahead of any later broadcast.
func (cp *ConnectionPool) Add(conn wsConn, first func() []byte) {
	if cp == nil || conn == nil {
		return
	}
	buf := cp.sendBuffer
	if buf < 1 {
		buf = 1
	}
	c := &poolClient{conn: conn, send: make(chan []byte, buf), done: make(chan struct{})}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if old, ok := cp.clients[conn]; ok {
		cp.dropLocked(old)
	}
	cp.clients[conn] = c
	if first != nil {
		if data := first(); len(data) > 0 {
			c.send <- data
		}
	}
	go cp.writeLoop(c)
}

func (cp *ConnectionPool) Remove(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	if c, ok := cp.clients[conn]; ok {
		cp.dropLocked(c)
	}
	cp.mu.Unlock()
	_ = conn.Close()
}

func (cp *ConnectionPool) Broadcast(data []byte) {
	if cp == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for _, c := range cp.clients {
		select {
		case c.send <- data:
		default:
			log.Warn().Str("component", "mirror").Str("conv_key", cp.convKey).Msg("ws client too slow, dropping connection")
			cp.dropLocked(c)
		}
	}
}

func (cp *ConnectionPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.clients)
}

func (cp *ConnectionPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	for _, c := range cp.clients {
		cp.dropLocked(c)
	}
	cp.mu.Unlock()
}

func (cp *ConnectionPool) dropLocked(c *poolClient) {
	if cur, ok := cp.clients[c.conn]; ok && cur == c {
		delete(cp.clients, c.conn)
	}
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (cp *ConnectionPool) writeLoop(c *poolClient) {
	defer func() {
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if cp.writeTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(cp.writeTimeout))
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("component", "mirror").Str("conv_key", cp.convKey).Msg("ws send failed, dropping connection")
				cp.mu.Lock()
				cp.dropLocked(c)
				cp.mu.Unlock()
				return
			}
		}
	}
}
