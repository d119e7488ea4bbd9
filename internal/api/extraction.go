package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"studyhub/internal/models"
	"studyhub/internal/service/extraction"
)

type parseEmailRequest struct {
	Text *string `json:"text"`
}

type studyPlanRequest struct {
	Title    *string            `json:"title"`
	DueDate  *string            `json:"dueDate"`
	Schedule []models.BusyBlock `json:"schedule"`
}

func (h *Handler) parseEmail(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	if !h.extraction.Enabled() {
		h.respondError(c, extraction.ErrNotConfigured)
		return
	}
	var req parseEmailRequest
	if !h.bindExtraction(c, &req) {
		return
	}
	events, err := h.extraction.ParseEmail(c.Request.Context(), id.UserID, deref(req.Text))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) generateStudyPlan(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	if !h.extraction.Enabled() {
		h.respondError(c, extraction.ErrNotConfigured)
		return
	}
	var req studyPlanRequest
	if !h.bindExtraction(c, &req) {
		return
	}
	milestones, err := h.extraction.GenerateStudyPlan(c.Request.Context(), id.UserID, extraction.StudyPlanInput{
		Title:    deref(req.Title),
		DueDate:  deref(req.DueDate),
		Schedule: req.Schedule,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestones": milestones})
}

// bindExtraction rejects bodies that are not JSON or carry wrongly typed fields.
func (h *Handler) bindExtraction(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.respondError(c, fmt.Errorf("%w: %s", extraction.ErrInvalidInput, err))
		return false
	}
	return true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
