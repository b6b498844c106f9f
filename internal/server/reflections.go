package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bowerhall/kindred/internal/logger"
	"github.com/bowerhall/kindred/internal/store"
)

type ReflectionHandler struct {
	store     Store
	dispatch  Dispatcher
	extractor Extractor
}

type createReflectionRequest struct {
	Question   string `json:"question"`
	Category   string `json:"category"`
	RawContent string `json:"raw_content"`
	Modality   string `json:"modality"`
	Transcript string `json:"transcript"`
}

func NewReflectionHandler(r *gin.Engine, st Store, dispatch Dispatcher, extractor Extractor) *ReflectionHandler {
	h := &ReflectionHandler{store: st, dispatch: dispatch, extractor: extractor}

	owners := r.Group("/v1/owners/:owner")
	owners.POST("/reflections", h.Create)
	owners.GET("/reflections", h.List)

	r.GET("/v1/reflections/:id", h.Get)
	r.POST("/v1/reflections/:id/extract", h.Extract)

	return h
}

// Create stores the reflection and hands enrichment to the dispatcher.
// Enrichment problems never fail the submission.
func (h *ReflectionHandler) Create(c *gin.Context) {
	var req createReflectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.RawContent) == "" {
		badRequest(c, "raw_content is required")
		return
	}

	modality := store.Modality(req.Modality)
	if modality == "" {
		modality = store.ModalityText
	}
	if !modality.Valid() {
		badRequest(c, "modality must be text, audio or video")
		return
	}

	ref := &store.Reflection{
		OwnerID:    c.Param("owner"),
		Question:   strings.TrimSpace(req.Question),
		Category:   strings.TrimSpace(req.Category),
		RawContent: req.RawContent,
		Modality:   modality,
		Transcript: strings.TrimSpace(req.Transcript),
	}
	if err := h.store.CreateReflection(c.Request.Context(), ref); err != nil {
		respondError(c, err)
		return
	}

	if h.dispatch != nil && !h.dispatch.Submit(ref.ID, ref.OwnerID) {
		logger.Warn("reflection stored without enrichment hand-off", "reflection", ref.ID, "owner", ref.OwnerID)
	}

	c.JSON(http.StatusCreated, ref)
}

func (h *ReflectionHandler) List(c *gin.Context) {
	reflections, err := h.store.ListReflections(c.Request.Context(), c.Param("owner"))
	if err != nil {
		respondError(c, err)
		return
	}
	if reflections == nil {
		reflections = []store.Reflection{}
	}
	c.JSON(http.StatusOK, gin.H{"reflections": reflections})
}

func (h *ReflectionHandler) Get(c *gin.Context) {
	ref, err := h.store.GetReflection(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ref)
}

// Extract runs extraction synchronously, for retries from outside.
func (h *ReflectionHandler) Extract(c *gin.Context) {
	if h.extractor == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, errorBody{Error: "extraction not configured", Code: "unavailable"})
		return
	}

	res, err := h.extractor.Extract(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reflection_id":     res.ReflectionID,
		"values":            res.Values,
		"emotions":          res.Emotions,
		"summary":           res.Summary,
		"transcript":        res.Transcript,
		"processed_count":   res.ProcessedCount,
		"should_aggregate":  res.ShouldAggregate,
		"already_processed": res.AlreadyProcessed,
	})
}
