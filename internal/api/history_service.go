package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatarchive/mamsync/internal/chat"
	"github.com/chatarchive/mamsync/internal/loader"
	"github.com/chatarchive/mamsync/internal/worker"
	"github.com/chatarchive/mamsync/internal/xmpp"
)

// HistoryService serves per-conversation history triggers.
type HistoryService struct {
	loader   *loader.Loader
	registry *chat.Registry
	pool     *worker.Pool
}

func NewHistoryService(l *loader.Loader, registry *chat.Registry, pool *worker.Pool) *HistoryService {
	return &HistoryService{loader: l, registry: registry, pool: pool}
}

func (s *HistoryService) pair(c *gin.Context) (string, string, bool) {
	account := c.Param("account")
	peer := c.Param("peer")
	if err := xmpp.ValidateBare(account); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", "", false
	}
	if err := xmpp.ValidateBare(peer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", "", false
	}
	return account, peer, true
}

func (s *HistoryService) schedule(c *gin.Context, job func()) {
	if !s.pool.Submit(job) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "worker queue full"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scheduled": true})
}

// Open handles the chat-opened trigger.
func (s *HistoryService) Open(c *gin.Context) {
	account, peer, ok := s.pair(c)
	if !ok {
		return
	}
	s.schedule(c, func() { s.loader.OnChatOpened(account, peer) })
}

// More handles the scrolled-near-top trigger.
func (s *HistoryService) More(c *gin.Context) {
	account, peer, ok := s.pair(c)
	if !ok {
		return
	}
	s.schedule(c, func() { s.loader.OnScrolledNearTop(account, peer) })
}

// Full requests the conversation's complete history.
func (s *HistoryService) Full(c *gin.Context) {
	account, peer, ok := s.pair(c)
	if !ok {
		return
	}
	s.schedule(c, func() { s.loader.LoadFullHistory(account, peer) })
}

// Foreground marks the conversation as on screen, which suppresses
// new-message notifications for it.
func (s *HistoryService) Foreground(c *gin.Context) {
	account, peer, ok := s.pair(c)
	if !ok {
		return
	}
	s.registry.SetForeground(account, peer)
	c.JSON(http.StatusOK, gin.H{"account": account, "peer": peer})
}

// ClearForeground marks all conversations as off screen.
func (s *HistoryService) ClearForeground(c *gin.Context) {
	account := c.Param("account")
	s.registry.SetForeground(account, "")
	c.JSON(http.StatusOK, gin.H{"account": account})
}
