package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/internal/playlist"
)

// CommandError is a server-rejected command, carrying the protocol error
// code from the ack.
type CommandError struct {
	Code    string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client connects to a watch-party server, feeds inbound events to its
// Projector, and issues commands with correlated acknowledgments. Commands
// are never applied locally before the server broadcasts the resulting
// event.
type Client struct {
	conn      *websocket.Conn
	projector *Projector

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan playlist.Ack

	// OnEvent, when set before Run, observes every applied event.
	OnEvent func(event playlist.Event)

	// OnChat, when set before Run, receives every broadcast chat message.
	OnChat func(msg playlist.ChatMessage)
}

// Dial connects to serverURL (ws:// or wss://) joining as displayName.
func Dial(ctx context.Context, serverURL, displayName string, clock clockwork.Clock) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("name", displayName)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}

	return &Client{
		conn:      conn,
		projector: NewProjector(clock),
		pending:   make(map[string]chan playlist.Ack),
	}, nil
}

// Projector exposes the mirrored state.
func (c *Client) Projector() *Projector {
	return c.projector
}

// Run reads frames until the connection closes or ctx is cancelled. The
// first frame the server sends is always a Replaced snapshot.
func (c *Client) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if err := c.handleFrame(message); err != nil {
			log.Warn().Err(err).Msg("failed to handle frame")
		}
	}
}

func (c *Client) handleFrame(message []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &head); err != nil {
		return fmt.Errorf("parse frame: %w", err)
	}

	if head.Type == playlist.AckType {
		var ack playlist.Ack
		if err := json.Unmarshal(message, &ack); err != nil {
			return fmt.Errorf("parse ack: %w", err)
		}
		c.resolve(ack)
		return nil
	}

	if head.Type == playlist.ChatType {
		var msg playlist.ChatMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return fmt.Errorf("parse chat message: %w", err)
		}
		if c.OnChat != nil {
			c.OnChat(msg)
		}
		return nil
	}

	var event playlist.Event
	if err := json.Unmarshal(message, &event); err != nil {
		return fmt.Errorf("parse event: %w", err)
	}
	if err := c.projector.Apply(event); err != nil {
		return err
	}
	if c.OnEvent != nil {
		c.OnEvent(event)
	}
	return nil
}

// Enqueue asks the server to resolve ref and insert it after insertAfterID
// (empty means the head of the queue).
func (c *Client) Enqueue(ctx context.Context, ref, insertAfterID string) error {
	return c.command(ctx, playlist.Command{
		Action:        playlist.ActionEnqueue,
		Ref:           ref,
		InsertAfterID: insertAfterID,
	})
}

// Remove asks the server to delete the entry sourceID names.
func (c *Client) Remove(ctx context.Context, sourceID string) error {
	return c.command(ctx, playlist.Command{
		Action:   playlist.ActionRemove,
		SourceID: sourceID,
	})
}

// Chat sends a chat line to everyone in the party, including this client.
func (c *Client) Chat(ctx context.Context, text string) error {
	return c.command(ctx, playlist.Command{
		Action: playlist.ActionChat,
		Text:   text,
	})
}

// Move asks the server to reposition sourceID after insertAfterID.
func (c *Client) Move(ctx context.Context, sourceID, insertAfterID string) error {
	return c.command(ctx, playlist.Command{
		Action:        playlist.ActionMove,
		SourceID:      sourceID,
		InsertAfterID: insertAfterID,
	})
}

func (c *Client) command(ctx context.Context, cmd playlist.Command) error {
	cmd.ID = uuid.New().String()

	ackCh := make(chan playlist.Ack, 1)
	c.pendingMu.Lock()
	c.pending[cmd.ID] = ackCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, cmd.ID)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(cmd)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send command: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ack := <-ackCh:
		if ack.OK {
			return nil
		}
		return &CommandError{Code: ack.ErrorCode, Message: ack.Error}
	}
}

func (c *Client) resolve(ack playlist.Ack) {
	c.pendingMu.Lock()
	ch, ok := c.pending[ack.ID]
	c.pendingMu.Unlock()
	if ok {
		ch <- ack
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}
