// Package api exposes the REST-style session operations over HTTP and
// a websocket stream of store snapshots. The handlers are a thin shell:
// all coordination rules live in the services, and any number of API
// gateways may run against the same store at once.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/minhtp/drawdash/internal/arbiter"
	"github.com/minhtp/drawdash/internal/chat"
	"github.com/minhtp/drawdash/internal/domain"
	"github.com/minhtp/drawdash/internal/errors"
	"github.com/minhtp/drawdash/internal/lobby"
	"github.com/minhtp/drawdash/internal/predict"
	"github.com/minhtp/drawdash/internal/presence"
	"github.com/minhtp/drawdash/internal/round"
	"github.com/minhtp/drawdash/internal/store"
)

type Config struct {
	Router *gin.Engine
	Store  store.Store

	Lobby   *lobby.Service
	Round   *round.Service
	Chat    *chat.Service
	Arbiter *arbiter.Service

	// Categories is the word list used when a request does not carry
	// its own.
	Categories []string
}

type API struct {
	st store.Store

	lobby   *lobby.Service
	round   *round.Service
	chat    *chat.Service
	arbiter *arbiter.Service

	categories []string
}

func New(c Config) *API {
	a := &API{
		st:         c.Store,
		lobby:      c.Lobby,
		round:      c.Round,
		chat:       c.Chat,
		arbiter:    c.Arbiter,
		categories: c.Categories,
	}

	r := c.Router
	r.POST("/sessions", a.createSession)
	r.GET("/sessions", a.listSessions)
	r.GET("/sessions/:code", a.getSession)
	r.POST("/sessions/:code/join", a.joinSession)
	r.POST("/sessions/:code/leave", a.leaveSession)
	r.POST("/sessions/:code/start", a.startGame)
	r.POST("/sessions/:code/ready", a.markReady)
	r.POST("/sessions/:code/force-start", a.forceStart)
	r.POST("/sessions/:code/results", a.submitResult)
	r.POST("/sessions/:code/advance", a.advance)
	r.POST("/sessions/:code/timeout", a.timeout)
	r.POST("/sessions/:code/chat", a.postChat)
	r.GET("/sessions/:code/chat", a.listChat)
	r.GET("/sessions/:code/presence", a.listPresence)
	r.POST("/sessions/:code/drawing", a.updateDrawing)
	r.POST("/sessions/:code/ai-guess", a.aiGuess)
	r.GET("/sessions/:code/ws", a.streamSession)

	return a
}

func (a *API) createSession(c *gin.Context) {
	var req struct {
		Mode   domain.Mode `json:"mode" binding:"required"`
		Name   string      `json:"name" binding:"required"`
		Avatar string      `json:"avatar"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	session, err := a.lobby.CreateSession(c.Request.Context(), req.Mode, lobby.Profile{
		Name:   req.Name,
		Avatar: req.Avatar,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"code":     session.Code,
		"playerId": session.HostID,
		"session":  session,
	})
}

func (a *API) listSessions(c *gin.Context) {
	mode := domain.Mode(c.DefaultQuery("mode", string(domain.ModeRace)))

	list, err := a.lobby.ListJoinable(c.Request.Context(), mode)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (a *API) getSession(c *gin.Context) {
	snap, err := a.st.Get(c.Request.Context(), domain.SessionPath(c.Param("code")))
	if err != nil {
		fail(c, err)
		return
	}
	if !snap.Exists() {
		fail(c, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session %s not found", c.Param("code"))))
		return
	}

	c.Data(http.StatusOK, "application/json", snap.Raw())
}

func (a *API) joinSession(c *gin.Context) {
	var req struct {
		Name   string `json:"name" binding:"required"`
		Avatar string `json:"avatar"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	player, err := a.lobby.JoinSession(c.Request.Context(), c.Param("code"), lobby.Profile{
		Name:   req.Name,
		Avatar: req.Avatar,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"playerId": player.ID})
}

func (a *API) leaveSession(c *gin.Context) {
	var req struct {
		PlayerID string `json:"playerId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := a.lobby.Leave(c.Request.Context(), c.Param("code"), req.PlayerID); err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) startGame(c *gin.Context) {
	var req struct {
		PlayerID   string   `json:"playerId" binding:"required"`
		Categories []string `json:"categories"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	err := a.round.Start(c.Request.Context(), c.Param("code"), req.PlayerID, a.pickCategories(req.Categories))
	if err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) markReady(c *gin.Context) {
	var req struct {
		PlayerID string `json:"playerId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := a.round.MarkReady(c.Request.Context(), c.Param("code"), req.PlayerID); err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) forceStart(c *gin.Context) {
	if err := a.round.ForceStart(c.Request.Context(), c.Param("code")); err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) submitResult(c *gin.Context) {
	var req struct {
		PlayerID        string  `json:"playerId" binding:"required"`
		Success         bool    `json:"success"`
		Confidence      float64 `json:"confidence"`
		TimeRemainingMS int64   `json:"timeRemainingMs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	err := a.round.SubmitResult(c.Request.Context(), c.Param("code"), req.PlayerID,
		req.Success, req.Confidence, time.Duration(req.TimeRemainingMS)*time.Millisecond)
	if err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) advance(c *gin.Context) {
	var req struct {
		FromRound  int      `json:"fromRound" binding:"required"`
		Categories []string `json:"categories"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	err := a.round.Advance(c.Request.Context(), c.Param("code"), req.FromRound, a.pickCategories(req.Categories))
	if errors.IsStaleWrite(err) {
		// Another client already advanced; treat as done.
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) timeout(c *gin.Context) {
	var req struct {
		Categories []string `json:"categories"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	err := a.round.Timeout(c.Request.Context(), c.Param("code"), a.pickCategories(req.Categories))
	if err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) postChat(c *gin.Context) {
	var req struct {
		PlayerID  string `json:"playerId" binding:"required"`
		Name      string `json:"name" binding:"required"`
		Text      string `json:"text" binding:"required"`
		IsCorrect bool   `json:"isCorrect"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	msg, err := a.chat.Post(c.Request.Context(), c.Param("code"), req.PlayerID, req.Name, req.Text, req.IsCorrect)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

func (a *API) listChat(c *gin.Context) {
	log, err := a.chat.Messages(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": log})
}

func (a *API) listPresence(c *gin.Context) {
	ctx := c.Request.Context()

	children, err := a.st.List(ctx, domain.PresenceTreePath(c.Param("code")))
	if err != nil {
		fail(c, err)
		return
	}

	now := time.Now()
	players := make(map[string]gin.H, len(children))
	for id, snap := range children {
		var rec domain.PresenceRecord
		if err := snap.Decode(&rec); err != nil {
			continue
		}
		players[id] = gin.H{
			"online":   presence.Online(rec, now, presence.DefaultStaleness),
			"lastSeen": rec.LastSeen,
		}
	}

	c.JSON(http.StatusOK, gin.H{"players": players})
}

func (a *API) updateDrawing(c *gin.Context) {
	var req struct {
		PlayerID string `json:"playerId" binding:"required"`
		Data     string `json:"data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := a.round.UpdateDrawing(c.Request.Context(), c.Param("code"), req.PlayerID, req.Data); err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) aiGuess(c *gin.Context) {
	var req struct {
		// Predictions is the classifier response, label to probability.
		Predictions map[string]float64 `json:"predictions" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	err := a.arbiter.ResolveAIGuess(c.Request.Context(), c.Param("code"), predict.Top(req.Predictions))
	if err != nil && !errors.IsStaleWrite(err) {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) pickCategories(requested []string) []string {
	if len(requested) > 0 {
		return requested
	}

	return a.categories
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    "InvalidArgument",
		"message": err.Error(),
	})
}

func fail(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), gin.H{
		"code":    e.Code.String(),
		"message": e.Message,
	})
}
