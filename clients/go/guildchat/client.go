package guildchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Message is the wire shape of a chat message as the server returns it.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Kind           string    `json:"kind"`
	Body           string    `json:"body,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// Event is the envelope pushed over the stream.
type Event struct {
	Type           string     `json:"type"`
	Alert          bool       `json:"alert,omitempty"`
	ConversationID string     `json:"conversation_id,omitempty"`
	UserID         string     `json:"user_id,omitempty"`
	MessageID      string     `json:"message_id,omitempty"`
	Mode           string     `json:"mode,omitempty"`
	Online         *bool      `json:"online,omitempty"`
	LastActiveAt   *time.Time `json:"last_active_at,omitempty"`
	Message        *Message   `json:"message,omitempty"`
}

// Handlers receive events the client does not fold into a timeline itself.
// Nil fields are skipped.
type Handlers struct {
	OnTyping   func(conversationID, userID string, typing bool)
	OnPresence func(userID string, online bool, lastActiveAt *time.Time)
	OnAlert    func(evt Event)
	OnDelete   func(conversationID, messageID, mode string)
}

// Client talks to one guildchat server as one user: HTTP for state changes,
// the websocket stream for pushes, and a per-conversation timeline for
// reconciliation.
type Client struct {
	BaseURL  string
	Token    string
	SelfID   string
	Handlers Handlers
	HTTP     *http.Client
	Logger   *slog.Logger

	mu        sync.Mutex
	timelines map[string]*Timeline
	conn      *websocket.Conn
}

// Connect dials the event stream and starts routing pushes until ctx ends.
func (c *Client) Connect(ctx context.Context) error {
	wsURL := strings.Replace(c.BaseURL, "http", "ws", 1) + "/api/v1/ws?token=" + c.Token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("guildchat: dial stream: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(ctx, conn)
	return nil
}

// Close tears down the stream connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "client closed")
}

// TimelineFor returns the conversation's timeline, creating it on first use.
func (c *Client) TimelineFor(conversationID string) *Timeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timelines == nil {
		c.timelines = make(map[string]*Timeline)
	}
	tl, ok := c.timelines[conversationID]
	if !ok {
		tl = NewTimeline(conversationID, c.SelfID, 0)
		c.timelines[conversationID] = tl
	}
	return tl
}

// Send performs the optimistic flow: the entry renders immediately, the HTTP
// call runs, and the canonical response confirms or fails the entry.
func (c *Client) Send(ctx context.Context, conversationID, body string) (Message, error) {
	tl := c.TimelineFor(conversationID)
	tempID := tl.AppendLocal(body)

	msg, err := c.postMessage(ctx, conversationID, body)
	if err != nil {
		if content, ok := tl.FailLocal(tempID); ok && c.Logger != nil {
			c.Logger.Debug("send failed, entry removed", "conversation_id", conversationID, "body_len", len(content))
		}
		return Message{}, err
	}
	tl.ConfirmLocal(tempID, msg)
	return msg, nil
}

// Delete removes a message in the given mode. The timeline converges when the
// server's push arrives; for the requester's own view it converges here too.
func (c *Client) Delete(ctx context.Context, conversationID, messageID, mode string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/messages/"+messageID+"?mode="+mode, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("guildchat: delete message: status %d", resp.StatusCode)
	}
	c.TimelineFor(conversationID).ApplyDelete(messageID, mode)
	return nil
}

// Typing signals the typing state for a conversation over the stream.
func (c *Client) Typing(ctx context.Context, conversationID string, typing bool) error {
	kind := "typing:stop"
	if typing {
		kind = "typing:start"
	}
	return c.writeSignal(ctx, map[string]string{"type": kind, "conversation_id": conversationID})
}

// Focus tells the server which conversation is on screen so its pushes stop
// carrying the alert flag. An empty id clears the focus.
func (c *Client) Focus(ctx context.Context, conversationID string) error {
	return c.writeSignal(ctx, map[string]string{"type": "focus", "conversation_id": conversationID})
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var evt Event
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil && c.Logger != nil {
				c.Logger.Debug("stream read failed", "error", err)
			}
			return
		}
		c.route(evt)
	}
}

func (c *Client) route(evt Event) {
	switch evt.Type {
	case "message:new":
		if evt.Message == nil {
			return
		}
		c.TimelineFor(evt.ConversationID).ApplyRemote(*evt.Message)
		if evt.Alert && c.Handlers.OnAlert != nil {
			c.Handlers.OnAlert(evt)
		}
	case "message:deleted":
		c.TimelineFor(evt.ConversationID).ApplyDelete(evt.MessageID, evt.Mode)
		if c.Handlers.OnDelete != nil {
			c.Handlers.OnDelete(evt.ConversationID, evt.MessageID, evt.Mode)
		}
	case "typing:start", "typing:stop":
		if c.Handlers.OnTyping != nil {
			c.Handlers.OnTyping(evt.ConversationID, evt.UserID, evt.Type == "typing:start")
		}
	case "presence:changed":
		if c.Handlers.OnPresence != nil && evt.Online != nil {
			c.Handlers.OnPresence(evt.UserID, *evt.Online, evt.LastActiveAt)
		}
	}
}

func (c *Client) postMessage(ctx context.Context, conversationID, body string) (Message, error) {
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return Message{}, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/conversations/"+conversationID+"/messages", payload)
	if err != nil {
		return Message{}, err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Message{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return Message{}, fmt.Errorf("guildchat: send message: status %d", resp.StatusCode)
	}
	var msg Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (c *Client) writeSignal(ctx context.Context, signal map[string]string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("guildchat: stream not connected")
	}
	return wsjson.Write(ctx, conn, signal)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}
