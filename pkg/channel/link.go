package channel

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/voxlink/pkg/protocol"
)

const maxMessageSize = 1 << 20

type outbound struct {
	kind int
	data []byte
}

// link is one live connection. Only writePump writes to conn and only
// readPump reads from it.
type link struct {
	conn *websocket.Conn
	send chan outbound
	done chan struct{}
	once sync.Once
}

func newLink(conn *websocket.Conn, buffer int) *link {
	return &link{
		conn: conn,
		send: make(chan outbound, buffer),
		done: make(chan struct{}),
	}
}

func (l *link) enqueue(msg outbound) error {
	select {
	case <-l.done:
		return ErrNotConnected
	default:
	}
	select {
	case l.send <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

func (l *link) closeGracefully(timeout time.Duration) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	l.close()
}

func (c *Channel) writePump(l *link) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case msg := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := l.conn.WriteMessage(msg.kind, msg.data); err != nil {
				c.handleDrop(l, err)
				return
			}
		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.handleDrop(l, err)
				return
			}
		}
	}
}

func (c *Channel) readPump(l *link) {
	pongWait := c.cfg.PingInterval * 2
	l.conn.SetReadLimit(maxMessageSize)
	_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		kind, raw, err := l.conn.ReadMessage()
		if err != nil {
			c.handleDrop(l, err)
			return
		}
		_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
		if kind != websocket.TextMessage {
			continue
		}
		env, err := protocol.Decode(raw)
		if err != nil {
			c.logger.Debug("channel_bad_message", slog.Any("error", err))
			continue
		}
		c.emit(Event{Name: env.Event, Data: env.Data})
	}
}
