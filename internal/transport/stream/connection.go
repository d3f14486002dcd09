package stream

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var (
	ErrConnectionClosed = errors.New("stream: connection closed")
	ErrSendQueueFull    = errors.New("stream: send queue full")
)

// sendQueue bounds the frames buffered for one slow client.
const sendQueue = 16

// Connection is one subscribed client. Frames are queued by Send and written
// by the client's own writer goroutine; reads only happen on the goroutine
// that accepted the client.
type Connection struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration
	connectedAt  time.Time
	closed       atomic.Bool

	send chan []byte
	quit chan struct{}

	writeMu sync.Mutex

	messagesSent atomic.Uint64
	bytesSent    atomic.Uint64
}

func newConnection(conn *websocket.Conn, writeTimeout time.Duration) *Connection {
	return &Connection{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: writeTimeout,
		connectedAt:  time.Now(),
		send:         make(chan []byte, sendQueue),
		quit:         make(chan struct{}),
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// Send queues one binary frame without blocking. A full queue drops the
// frame and reports ErrSendQueueFull; the client stays connected.
func (c *Connection) Send(data []byte) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	case <-c.quit:
		return ErrConnectionClosed
	default:
		return ErrSendQueueFull
	}
}

// writePump writes queued frames until the connection closes. A failed write
// is handed to onError and ends the pump.
func (c *Connection) writePump(onError func(error)) {
	for {
		select {
		case <-c.quit:
			return
		case data := <-c.send:
			if err := c.write(data); err != nil {
				if !c.IsClosed() {
					onError(err)
				}
				return
			}
		}
	}
}

func (c *Connection) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}

	c.messagesSent.Add(1)
	c.bytesSent.Add(uint64(len(data)))
	return nil
}

// MessagesSent and BytesSent count successful writes.
func (c *Connection) MessagesSent() uint64 { return c.messagesSent.Load() }
func (c *Connection) BytesSent() uint64 { return c.bytesSent.Load() }

func (c *Connection) Close() error {
	return c.CloseWithReason("stream closed")
}

// CloseWithReason sends a close frame and closes the socket. Closing twice is a no-op.
func (c *Connection) CloseWithReason(reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.quit)

	// a writer stuck on a slow peer gets no close frame; closing the socket
	// below releases it
	if c.writeMu.TryLock() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
	}

	return c.conn.Close()
}

// discardReads consumes client frames until the peer goes away. It answers
// pings and close frames through the websocket library's default handlers.
func (c *Connection) discardReads() {
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}
