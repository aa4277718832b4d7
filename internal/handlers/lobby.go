package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quellen-dev/lobbyd/internal/gateway"
	"github.com/quellen-dev/lobbyd/pkg/errors"
	"github.com/quellen-dev/lobbyd/pkg/response"
)

// LobbyHandler exposes the roster and session lifecycle over the admin API.
type LobbyHandler struct {
	lobby *gateway.Gateway
}

func NewLobbyHandler(lobby *gateway.Gateway) *LobbyHandler {
	return &LobbyHandler{lobby: lobby}
}

// GET /api/roster
func (h *LobbyHandler) Roster(c *gin.Context) {
	players := h.lobby.RosterView()
	response.SuccessWithMeta(c, http.StatusOK, players, &response.Meta{Total: len(players)})
}

// GET /api/roster/:player_id
func (h *LobbyHandler) Player(c *gin.Context) {
	view, ok := h.lobby.Player(c.Param("player_id"))
	if !ok {
		response.Error(c, errors.ErrUnknownPlayer)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// GET /api/session
func (h *LobbyHandler) Session(c *gin.Context) {
	response.Success(c, http.StatusOK, h.lobby.Session())
}

// POST /api/session/start
func (h *LobbyHandler) StartSession(c *gin.Context) {
	h.lobby.StartSession()
	response.Success(c, http.StatusOK, gin.H{"active": true})
}

// POST /api/session/end
func (h *LobbyHandler) EndSession(c *gin.Context) {
	h.lobby.EndSession()
	response.Success(c, http.StatusOK, gin.H{"active": false})
}

// POST /api/server/reset
func (h *LobbyHandler) ResetServer(c *gin.Context) {
	h.lobby.ResetServer()
	response.Success(c, http.StatusOK, gin.H{"reset": true})
}
