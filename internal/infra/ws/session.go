package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"guildchat/internal/infra/obs"
	"guildchat/internal/realtime"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

var errSessionClosed = errors.New("ws: session closed")

// Session pumps registry events onto one websocket connection. Deliver never
// blocks: events go through a buffered channel drained by a single writer
// goroutine, and a full buffer terminates the session rather than stall a
// broadcast.
type Session struct {
	userID string
	conn   *websocket.Conn
	logger *slog.Logger

	sendCh    chan realtime.Event
	closeOnce sync.Once
	done      chan struct{}
}

func NewSession(userID string, conn *websocket.Conn, logger *slog.Logger) *Session {
	return &Session{
		userID: userID,
		conn:   conn,
		logger: logger,
		sendCh: make(chan realtime.Event, sendBuffer),
		done:   make(chan struct{}),
	}
}

// Run drains the send channel until the session closes or ctx is cancelled.
// Call from its own goroutine.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Shutdown("server shutting down")
			return
		case <-s.done:
			return
		case evt := <-s.sendCh:
			if err := s.write(ctx, evt); err != nil {
				if s.logger != nil {
					s.logger.Debug("websocket write failed", "user_id", s.userID, "type", evt.Type, "error", err)
				}
				s.close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
			obs.EventsDelivered.WithLabelValues(evt.Type).Inc()
		}
	}
}

func (s *Session) Deliver(evt realtime.Event) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.sendCh <- evt:
		return nil
	default:
		// A consumer that cannot keep up gets cut off; it reconnects and
		// resyncs over HTTP instead of receiving a gapped stream.
		s.close(websocket.StatusPolicyViolation, "send buffer overflow")
		return errSessionClosed
	}
}

func (s *Session) Shutdown(reason string) {
	s.close(websocket.StatusNormalClosure, reason)
}

// Done closes when the session has terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) write(ctx context.Context, evt realtime.Event) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, s.conn, evt)
}

func (s *Session) close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close(code, reason)
	})
}

var _ realtime.Session = (*Session)(nil)
