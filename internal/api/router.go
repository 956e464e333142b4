// Package api exposes the daemon's control surface over HTTP: sync
// triggers, history loading, message reads, and preference updates.
// The daemon serves it on the session's unix socket.
package api

import (
	"github.com/gin-gonic/gin"
)

// NewRouter assembles the control API.
func NewRouter(accounts *AccountService, history *HistoryService, messages *MessageService) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/v1")
	{
		v1.GET("/accounts/:account/status", accounts.Status)
		v1.POST("/accounts/:account/sync", accounts.Sync)
		v1.PUT("/accounts/:account/roster", accounts.SetRoster)
		v1.PUT("/accounts/:account/prefs", accounts.UpdatePrefs)
		v1.PUT("/accounts/:account/load-history", accounts.SetLoadHistory)

		v1.GET("/accounts/:account/chats", messages.ListChats)
		v1.GET("/accounts/:account/chats/:peer/messages", messages.List)
		v1.POST("/accounts/:account/chats/:peer/messages", messages.Compose)

		v1.POST("/accounts/:account/chats/:peer/open", history.Open)
		v1.POST("/accounts/:account/chats/:peer/more", history.More)
		v1.POST("/accounts/:account/chats/:peer/full", history.Full)
		v1.PUT("/accounts/:account/chats/:peer/foreground", history.Foreground)
		v1.DELETE("/accounts/:account/foreground", history.ClearForeground)
	}
	return r
}
