package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/internal/playlist"
)

// maxChatTextLen bounds a single chat line; the websocket read limit already
// caps the whole frame.
const maxChatTextLen = 500

// Connection is one client's websocket plus its outbound queue. Events and
// acks are only ever written by the write pump, in the order they were
// enqueued.
type Connection struct {
	Session

	conn     *websocket.Conn
	send     chan []byte
	registry *Registry
}

// writePump drains the send queue onto the websocket and keeps the
// connection alive with periodic pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.registry.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.registry.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.registry.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ConnectionID).
					Msg("failed to write to websocket")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.registry.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client commands until the connection closes. Disconnect is
// the only cancellation signal, and it only removes the connection from the
// broadcast set; in-flight commands still complete and broadcast.
func (c *Connection) readPump() {
	defer func() {
		c.registry.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.registry.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.registry.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.registry.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().
					Err(err).
					Str("connection_id", c.ConnectionID).
					Msg("unexpected websocket close")
			}
			return
		}
		c.handleCommand(message)
		c.conn.SetReadDeadline(time.Now().Add(c.registry.config.ReadTimeout))
	}
}

// handleCommand applies one client command to the store and acks the result
// to this connection only. Errors are never broadcast. Enqueue runs in its
// own goroutine because metadata resolution may block; the pending enqueue
// commits at its own turn while other commands proceed.
func (c *Connection) handleCommand(message []byte) {
	var cmd playlist.Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ConnectionID).
			Msg("dropping malformed command")
		return
	}

	log.Debug().
		Str("connection_id", c.ConnectionID).
		Str("command_id", cmd.ID).
		Str("action", string(cmd.Action)).
		Msg("handling command")

	switch cmd.Action {
	case playlist.ActionEnqueue:
		go func() {
			// Deliberately not tied to the connection's lifetime: a
			// mutation in flight when the client disconnects still
			// commits for everyone else.
			src, err := c.registry.store.Enqueue(context.Background(), cmd.Ref, cmd.InsertAfterID)
			ack := playlist.AckFor(cmd.ID, err)
			if err == nil {
				ack.SourceID = src.ID
			}
			c.sendAck(ack)
		}()

	case playlist.ActionRemove:
		c.sendAck(playlist.AckFor(cmd.ID, c.registry.store.Remove(cmd.SourceID)))

	case playlist.ActionMove:
		c.sendAck(playlist.AckFor(cmd.ID, c.registry.store.Move(cmd.SourceID, cmd.InsertAfterID)))

	case playlist.ActionChat:
		text := strings.TrimSpace(cmd.Text)
		if text == "" || len(text) > maxChatTextLen {
			ack := playlist.AckFor(cmd.ID, fmt.Errorf("chat text must be 1-%d characters", maxChatTextLen))
			ack.ErrorCode = "bad_request"
			c.sendAck(ack)
			return
		}
		c.registry.Chat(c, text)
		c.sendAck(playlist.AckFor(cmd.ID, nil))

	default:
		ack := playlist.AckFor(cmd.ID, fmt.Errorf("unknown action %q", cmd.Action))
		ack.ErrorCode = "bad_request"
		c.sendAck(ack)
	}
}

func (c *Connection) sendAck(ack playlist.Ack) {
	data, err := json.Marshal(ack)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal ack")
		return
	}
	if !c.registry.deliverTo(c, data) {
		log.Debug().
			Str("connection_id", c.ConnectionID).
			Msg("connection gone, dropping ack")
	}
}
