package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kidguard-api/internal/models"
	appErrors "github.com/noah-isme/kidguard-api/pkg/errors"
	"github.com/noah-isme/kidguard-api/pkg/response"
)

type guardianshipService interface {
	LinkGuardian(ctx context.Context, actor models.Identity, req models.LinkGuardianRequest) (*models.LinkResult, error)
	ListStudentsFor(ctx context.Context, identityID string) ([]models.LinkedStudent, error)
}

// GuardianHandler exposes the guardian registry.
type GuardianHandler struct {
	registry guardianshipService
}

// NewGuardianHandler constructs GuardianHandler.
func NewGuardianHandler(registry guardianshipService) *GuardianHandler {
	return &GuardianHandler{registry: registry}
}

// Link godoc
// @Summary Link a guardian to a student
// @Description Primary guardians (and administrators) grant another account pickup rights
// @Tags Guardian
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.LinkGuardianRequest true "Link payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /guardian/link-guardian [post]
func (h *GuardianHandler) Link(c *gin.Context) {
	actor, ok := identityFromContext(c)
	if !ok {
		return
	}
	var req models.LinkGuardianRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid link payload"))
		return
	}

	res, err := h.registry.LinkGuardian(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res)
}

// MyStudents godoc
// @Summary Students linked to the caller
// @Tags Guardian
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /guardian/my-students [get]
func (h *GuardianHandler) MyStudents(c *gin.Context) {
	actor, ok := identityFromContext(c)
	if !ok {
		return
	}
	students, err := h.registry.ListStudentsFor(c.Request.Context(), actor.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, map[string]interface{}{"total": len(students)})
}
