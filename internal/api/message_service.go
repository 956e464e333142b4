package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chatarchive/mamsync/internal/chat"
	"github.com/chatarchive/mamsync/internal/ingest"
	"github.com/chatarchive/mamsync/internal/store"
	"github.com/chatarchive/mamsync/internal/xmpp"
)

// MessageService serves stored conversations and messages.
type MessageService struct {
	db       *store.DB
	saver    *ingest.Saver
	registry *chat.Registry
}

func NewMessageService(db *store.DB, saver *ingest.Saver, registry *chat.Registry) *MessageService {
	return &MessageService{db: db, saver: saver, registry: registry}
}

// ListChats returns the account's conversations.
func (s *MessageService) ListChats(c *gin.Context) {
	account := c.Param("account")
	if err := xmpp.ValidateBare(account); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	convs, err := s.db.ListConversations(account)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]gin.H, 0, len(convs))
	for _, conv := range convs {
		items = append(items, gin.H{
			"peer":         conv.Peer,
			"kind":         conv.Kind,
			"last_cursor":  conv.LastCursor,
			"history_full": conv.HistoryFull,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type composeRequest struct {
	Body string `json:"body" binding:"required"`
	Kind string `json:"kind"`
}

// Compose stores a locally written message. Delivery is the connection
// layer's job; the stored copy is what the archive echo will merge into.
func (s *MessageService) Compose(c *gin.Context) {
	account := c.Param("account")
	peer := c.Param("peer")
	if err := xmpp.ValidateBare(account); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := xmpp.ValidateBare(peer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req composeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Kind != "" && req.Kind != store.KindChat && req.Kind != store.KindGroup {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be chat or group"})
		return
	}
	conv, err := s.registry.Get(account, peer, req.Kind)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	m, err := s.saver.SaveOutgoing(conv, req.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": m.ID, "origin_id": m.OriginID, "ts": m.Timestamp})
}

// List returns a page of the conversation's timeline, newest first.
// "before" bounds the page by timestamp; "limit" caps its size.
func (s *MessageService) List(c *gin.Context) {
	account := c.Param("account")
	peer := c.Param("peer")
	if err := xmpp.ValidateBare(account); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := xmpp.ValidateBare(peer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var before int64
	if raw := c.Query("before"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad before timestamp"})
			return
		}
		before = v
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad limit"})
			return
		}
		limit = v
	}

	msgs, err := s.db.ListMessages(account, peer, before, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]gin.H, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, gin.H{
			"id":             m.ID,
			"body":           m.Body,
			"markup_body":    m.MarkupBody,
			"ts":             m.Timestamp,
			"incoming":       m.Incoming,
			"read":           m.Read,
			"from_archive":   m.FromArchive,
			"archive_cursor": m.Cursor(),
			"forwarded_ids":  m.ForwardedIDs,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
