package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bowerhall/kindred/internal/persona"
	"github.com/bowerhall/kindred/internal/store"
)

const (
	defaultMessagePage = 50
	maxMessagePage     = 500
)

type PersonaHandler struct {
	store     Store
	rebuilder Rebuilder
	responder Responder
}

func NewPersonaHandler(r *gin.Engine, st Store, rebuilder Rebuilder, responder Responder) *PersonaHandler {
	h := &PersonaHandler{store: st, rebuilder: rebuilder, responder: responder}

	owners := r.Group("/v1/owners/:owner")
	owners.GET("/personality", h.GetPersonality)
	owners.POST("/personality/rebuild", h.Rebuild)
	owners.POST("/conversations/messages", h.Converse)

	r.GET("/v1/conversations/:id/messages", h.Messages)

	return h
}

func (h *PersonaHandler) GetPersonality(c *gin.Context) {
	p, err := h.store.GetPersonality(c.Request.Context(), c.Param("owner"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PersonaHandler) Rebuild(c *gin.Context) {
	p, err := h.rebuilder.Rebuild(c.Request.Context(), c.Param("owner"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PersonaHandler) Converse(c *gin.Context) {
	var req persona.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	req.OwnerID = c.Param("owner")

	resp, err := h.responder.Respond(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *PersonaHandler) Messages(c *gin.Context) {
	limit := defaultMessagePage
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = min(n, maxMessagePage)
	}

	ctx := c.Request.Context()
	conv, err := h.store.GetConversation(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	messages, err := h.store.RecentMessages(ctx, conv.ID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": messages})
}
