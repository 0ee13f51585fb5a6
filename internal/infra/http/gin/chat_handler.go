package ginserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	gin "github.com/gin-gonic/gin"

	"guildchat/internal/app/dto"
	"guildchat/internal/app/pipeline"
	"guildchat/internal/domain/chat"
	"guildchat/internal/infra/obs"
)

// ChatHTTP exposes the conversation and message endpoints.
type ChatHTTP interface {
	ListMyConversations(c *gin.Context)
	CreateConversation(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	DeleteMessage(c *gin.Context)
	MarkRead(c *gin.Context)
}

// ChatHandler bridges HTTP with the message pipeline.
type ChatHandler struct {
	Pipeline *pipeline.Service
	Logger   *slog.Logger
}

// ListMyConversations pages the current user's conversations by last activity.
func (h ChatHandler) ListMyConversations(c *gin.Context) {
	principal, ok := requireUser(c)
	if !ok {
		return
	}
	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), 20)

	conversations, err := h.Pipeline.ListConversations(c.Request.Context(), principal.ID, page, limit)
	if err != nil {
		h.respondError(c, err, "list conversations", "user_id", principal.ID)
		return
	}
	collection := dto.ConversationList{
		Items: make([]dto.Conversation, 0, len(conversations)),
		Page:  page,
		Limit: limit,
	}
	for _, conv := range conversations {
		collection.Items = append(collection.Items, dto.FromConversation(conv))
	}
	c.JSON(http.StatusOK, collection)
}

// CreateConversation starts a direct or group thread. Creating a direct
// conversation that already exists returns the existing one with 200.
func (h ChatHandler) CreateConversation(c *gin.Context) {
	principal, ok := requireUser(c)
	if !ok {
		return
	}
	var req struct {
		Type         string   `json:"type"`
		Title        string   `json:"title"`
		Participants []string `json:"participants"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	typ := chat.ConversationType(strings.ToLower(strings.TrimSpace(req.Type)))
	if typ == "" {
		typ = chat.TypeDirect
	}

	conv, created, err := h.Pipeline.CreateConversation(c.Request.Context(), principal.ID, req.Participants, typ, req.Title)
	if err != nil {
		h.respondError(c, err, "create conversation", "user_id", principal.ID)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		obs.ConversationsCreated.Inc()
	}
	c.JSON(status, dto.FromConversation(conv))
}

// ListMessages returns the requester's view of the history, newest-first.
func (h ChatHandler) ListMessages(c *gin.Context) {
	principal, ok := requireUser(c)
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	limit := parsePositiveInt(c.Query("limit"), 50)
	cursor := strings.TrimSpace(c.Query("before"))

	messages, next, err := h.Pipeline.ListMessages(c.Request.Context(), conversationID, principal.ID, limit, cursor)
	if err != nil {
		h.respondError(c, err, "list messages", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	collection := dto.ChatMessageList{
		Items:      make([]dto.ChatMessage, 0, len(messages)),
		NextCursor: next,
	}
	for i := range messages {
		collection.Items = append(collection.Items, dto.FromMessage(&messages[i]))
	}
	c.JSON(http.StatusOK, collection)
}

// SendMessage posts a message and returns the canonical persisted copy, which
// the client reconciles against its optimistic entry.
func (h ChatHandler) SendMessage(c *gin.Context) {
	principal, ok := requireUser(c)
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	var req struct {
		Body        string           `json:"body"`
		Attachments []dto.Attachment `json:"attachments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	content := chat.TextContent(req.Body)
	if len(req.Attachments) > 0 {
		attachments := make([]chat.Attachment, 0, len(req.Attachments))
		for _, a := range req.Attachments {
			attachments = append(attachments, chat.Attachment{
				Name:        a.Name,
				Size:        a.Size,
				ContentType: a.ContentType,
				StoragePath: a.StoragePath,
			})
		}
		content = chat.FileContent(req.Body, attachments...)
	}

	message, err := h.Pipeline.Send(c.Request.Context(), conversationID, principal.ID, content)
	if err != nil {
		h.respondError(c, err, "send message", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	obs.MessagesSent.Inc()
	c.JSON(http.StatusCreated, dto.FromMessage(message))
}

// DeleteMessage applies a deletion mode from the query string; mode defaults
// to self.
func (h ChatHandler) DeleteMessage(c *gin.Context) {
	principal, ok := requireUser(c)
	if !ok {
		return
	}
	messageID := strings.TrimSpace(c.Param("messageId"))
	if messageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message id is required"})
		return
	}
	raw := c.Query("mode")
	if strings.TrimSpace(raw) == "" {
		raw = string(chat.DeleteForSelf)
	}
	mode, err := chat.ParseDeletionMode(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown deletion mode"})
		return
	}

	if err := h.Pipeline.Delete(c.Request.Context(), messageID, principal.ID, mode); err != nil {
		h.respondError(c, err, "delete message", "message_id", messageID, "user_id", principal.ID)
		return
	}
	obs.MessagesDeleted.WithLabelValues(string(mode)).Inc()
	c.Status(http.StatusNoContent)
}

// MarkRead upserts the user's read receipt, defaulting to the latest message.
func (h ChatHandler) MarkRead(c *gin.Context) {
	principal, ok := requireUser(c)
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	var req struct {
		MessageID string `json:"message_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	readAt, err := h.Pipeline.MarkRead(c.Request.Context(), conversationID, principal.ID, strings.TrimSpace(req.MessageID))
	if err != nil {
		h.respondError(c, err, "mark read", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"read_at": readAt})
}

func (h ChatHandler) respondError(c *gin.Context, err error, action string, attrs ...any) {
	switch {
	case errors.Is(err, chat.ErrConversationNotFound), errors.Is(err, chat.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, chat.ErrNotParticipant), errors.Is(err, chat.ErrNotOriginalSender):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, chat.ErrDeleteWindowExpired):
		c.JSON(http.StatusConflict, gin.H{"error": "delete window expired"})
	case errors.Is(err, chat.ErrAlreadyDeleted):
		c.JSON(http.StatusConflict, gin.H{"error": "already deleted"})
	case errors.Is(err, chat.ErrConversationInactive):
		c.JSON(http.StatusGone, gin.H{"error": "conversation inactive"})
	case errors.Is(err, chat.ErrEmptyContent),
		errors.Is(err, chat.ErrInvalidAttachment),
		errors.Is(err, chat.ErrInvalidParticipants),
		errors.Is(err, chat.ErrDirectParticipants),
		errors.Is(err, chat.ErrTitleOnGroupOnly),
		errors.Is(err, chat.ErrUnknownDeletionMode):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		if h.Logger != nil {
			h.Logger.Error("chat request failed", append([]any{"action", action, "error", err}, attrs...)...)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parsePositiveInt(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return def
	}
	return value
}

var _ ChatHTTP = (*ChatHandler)(nil)
