package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatarchive/mamsync/internal/orchestrator"
	"github.com/chatarchive/mamsync/internal/roster"
	"github.com/chatarchive/mamsync/internal/status"
	"github.com/chatarchive/mamsync/internal/store"
	"github.com/chatarchive/mamsync/internal/worker"
	"github.com/chatarchive/mamsync/internal/xmpp"
)

// AccountService serves account-level sync control.
type AccountService struct {
	db      *store.DB
	orch    *orchestrator.Orchestrator
	tracker *status.Tracker
	roster  *roster.Static
	pool    *worker.Pool
	log     *zap.Logger
}

func NewAccountService(db *store.DB, orch *orchestrator.Orchestrator, tracker *status.Tracker, contacts *roster.Static, pool *worker.Pool, log *zap.Logger) *AccountService {
	return &AccountService{
		db:      db,
		orch:    orch,
		tracker: tracker,
		roster:  contacts,
		pool:    pool,
		log:     log.Named("api"),
	}
}

// Status reports the account's sync phase and persisted sync state.
func (s *AccountService) Status(c *gin.Context) {
	account := c.Param("account")
	if err := xmpp.ValidateBare(account); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acc, err := s.db.GetAccount(account)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{
		"account": account,
		"phase":   s.tracker.Current(account),
	}
	if acc != nil {
		resp["archive_support"] = acc.ArchiveSupport
		resp["start_history_ts"] = acc.StartHistoryTS
		resp["default_behavior"] = acc.DefaultBehavior
		resp["load_history"] = acc.LoadHistory
	}
	c.JSON(http.StatusOK, resp)
}

// Sync schedules the account's sync run, as if its roster just arrived.
func (s *AccountService) Sync(c *gin.Context) {
	account := c.Param("account")
	if err := xmpp.ValidateBare(account); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.pool.Submit(func() { s.orch.OnRosterReceived(account) }) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "worker queue full"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"account": account})
}

type rosterEntry struct {
	JID   string `json:"jid" binding:"required"`
	Group bool   `json:"group"`
}

// SetRoster replaces the account's contact list and schedules a sync.
func (s *AccountService) SetRoster(c *gin.Context) {
	account := c.Param("account")
	if err := xmpp.ValidateBare(account); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var entries []rosterEntry
	if err := c.ShouldBindJSON(&entries); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contacts := make([]roster.Contact, 0, len(entries))
	for _, e := range entries {
		if err := xmpp.ValidateBare(e.JID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		contacts = append(contacts, roster.Contact{JID: e.JID, Group: e.Group})
	}
	s.roster.Set(account, contacts)
	if !s.pool.Submit(func() { s.orch.OnRosterReceived(account) }) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "worker queue full"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"account": account, "contacts": len(contacts)})
}

type prefsBody struct {
	Default string `json:"default" binding:"required"`
}

// UpdatePrefs writes the server-side archiving preference default.
func (s *AccountService) UpdatePrefs(c *gin.Context) {
	account := c.Param("account")
	var body prefsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch body.Default {
	case xmpp.PrefAlways, xmpp.PrefNever, xmpp.PrefRoster:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown preference default"})
		return
	}
	if !s.orch.RequestPrefsUpdate(account, body.Default) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "server did not accept the update"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account, "default": body.Default})
}

type loadHistoryBody struct {
	Setting string `json:"setting" binding:"required"`
}

// SetLoadHistory changes how much history the account loads.
func (s *AccountService) SetLoadHistory(c *gin.Context) {
	account := c.Param("account")
	var body loadHistoryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch body.Setting {
	case store.LoadHistoryNone, store.LoadHistoryCurrent, store.LoadHistoryAll:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown load-history setting"})
		return
	}
	if _, err := s.db.EnsureAccount(account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.db.SetLoadHistory(account, body.Setting); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account, "setting": body.Setting})
}
