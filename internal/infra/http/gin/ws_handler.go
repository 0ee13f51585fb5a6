package ginserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	gin "github.com/gin-gonic/gin"

	"guildchat/internal/app/pipeline"
	"guildchat/internal/infra/obs"
	wssession "guildchat/internal/infra/ws"
	"guildchat/internal/realtime"
)

// Client-to-server signal kinds carried over the socket. Everything stateful
// goes over HTTP; the socket only carries ephemeral signals upstream.
const (
	signalTypingStart = "typing:start"
	signalTypingStop  = "typing:stop"
	signalFocus       = "focus"
)

type clientSignal struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// WSHandler upgrades an authenticated request to the event stream session.
type WSHandler struct {
	Registry *realtime.Registry
	Typing   *realtime.TypingCoordinator
	Notifier *realtime.NotificationRouter
	Pipeline *pipeline.Service
	Logger   *slog.Logger
}

func (h WSHandler) Stream(c *gin.Context) {
	principal, ok := requireUser(c)
	if !ok {
		return
	}
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Debug("websocket accept failed", "user_id", principal.ID, "error", err)
		}
		return
	}

	sess := wssession.NewSession(principal.ID, conn, h.Logger)
	h.Registry.Register(principal.ID, sess)
	obs.ActiveSessions.Set(float64(h.Registry.ActiveSessions()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go sess.Run(ctx)

	h.readLoop(ctx, conn, sess, principal.ID)

	h.Registry.Unregister(principal.ID, sess)
	obs.ActiveSessions.Set(float64(h.Registry.ActiveSessions()))
	sess.Shutdown("connection closed")
	c.Status(http.StatusOK)
}

func (h WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, sess *wssession.Session, userID string) {
	for {
		select {
		case <-sess.Done():
			return
		default:
		}
		var sig clientSignal
		if err := wsjson.Read(ctx, conn, &sig); err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && h.Logger != nil {
				h.Logger.Debug("websocket read failed", "user_id", userID, "error", err)
			}
			return
		}
		h.dispatch(ctx, userID, sig)
	}
}

func (h WSHandler) dispatch(ctx context.Context, userID string, sig clientSignal) {
	switch sig.Type {
	case signalTypingStart, signalTypingStop:
		if sig.ConversationID == "" || h.Typing == nil {
			return
		}
		// membership gate: a non-participant cannot make others see typing
		if h.Pipeline != nil && !h.Pipeline.IsParticipant(ctx, sig.ConversationID, userID) {
			return
		}
		if sig.Type == signalTypingStart {
			h.Typing.StartTyping(ctx, sig.ConversationID, userID)
			obs.TypingSignals.WithLabelValues("start").Inc()
		} else {
			h.Typing.StopTyping(ctx, sig.ConversationID, userID)
			obs.TypingSignals.WithLabelValues("stop").Inc()
		}
	case signalFocus:
		if h.Notifier == nil {
			return
		}
		if sig.ConversationID != "" && h.Pipeline != nil && !h.Pipeline.IsParticipant(ctx, sig.ConversationID, userID) {
			return
		}
		h.Notifier.SetFocus(userID, sig.ConversationID)
	default:
		if h.Logger != nil {
			h.Logger.Debug("unknown client signal", "user_id", userID, "type", sig.Type)
		}
	}
}
