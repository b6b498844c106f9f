package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bowerhall/kindred/internal/essence"
	"github.com/bowerhall/kindred/internal/llm"
	"github.com/bowerhall/kindred/internal/logger"
	"github.com/bowerhall/kindred/internal/persona"
	"github.com/bowerhall/kindred/internal/personality"
	"github.com/bowerhall/kindred/internal/storage"
	"github.com/bowerhall/kindred/internal/store"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{persona.ErrPersonaNotReady, http.StatusConflict, "persona_not_ready"},
	{personality.ErrNoReflections, http.StatusConflict, "no_reflections"},
	{essence.ErrNeedsTranscription, http.StatusUnprocessableEntity, "needs_transcription"},
	{llm.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{llm.ErrQuotaExceeded, http.StatusPaymentRequired, "quota_exceeded"},
	{llm.ErrTimeout, http.StatusGatewayTimeout, "timeout"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
	{llm.ErrMalformedOutput, http.StatusBadGateway, "malformed_model_output"},
	{persona.ErrEmptyGeneration, http.StatusBadGateway, "empty_generation"},
	{persona.ErrEmptyMessage, http.StatusBadRequest, "invalid_request"},
	{persona.ErrForeignConversation, http.StatusNotFound, "not_found"},
	{store.ErrNotFound, http.StatusNotFound, "not_found"},
	{storage.ErrNotFound, http.StatusNotFound, "not_found"},
}

// classify maps a pipeline error onto an HTTP status and a stable code.
func classify(err error) (int, string) {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.status, ec.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func respondError(c *gin.Context, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, errorBody{Error: msg, Code: code})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: msg, Code: "invalid_request"})
}
