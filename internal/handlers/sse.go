package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/studyowl/studyowl-backend/internal/logger"
	"github.com/studyowl/studyowl-backend/internal/services"
	"github.com/studyowl/studyowl-backend/internal/sse"
)

type SSEHandler struct {
	log *logger.Logger
	hub *sse.SSEHub
}

func NewSSEHandler(log *logger.Logger, hub *sse.SSEHub) *SSEHandler {
	return &SSEHandler{
		log: log.With("handler", "SSEHandler"),
		hub: hub,
	}
}

// GET /api/sse/stream?chapters=<id>,<id>
// Subscribes the caller to their user channel plus any requested chapter
// channels, then holds the connection open.
func (h *SSEHandler) SSEStream(c *gin.Context) {
	userID, err := requestUserID(c)
	if err != nil {
		RespondError(c, http.StatusUnauthorized, "missing_user", err)
		return
	}

	client := h.hub.NewSSEClient(userID)
	h.hub.AddChannel(client, services.UserChannel(userID))
	for _, raw := range strings.Split(c.Query("chapters"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		chapterID, err := uuid.Parse(raw)
		if err != nil {
			h.hub.RemoveClient(client)
			RespondError(c, http.StatusBadRequest, "invalid_chapter_id", err)
			return
		}
		h.hub.AddChannel(client, services.ChapterChannel(chapterID))
	}

	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
