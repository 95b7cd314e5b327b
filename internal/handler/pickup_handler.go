package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noah-isme/kidguard-api/internal/models"
	"github.com/noah-isme/kidguard-api/internal/service"
	appErrors "github.com/noah-isme/kidguard-api/pkg/errors"
	"github.com/noah-isme/kidguard-api/pkg/response"
)

type pickupService interface {
	RequestToken(ctx context.Context, actor models.Identity, req models.RequestTokenRequest) (*models.TokenResult, error)
	RedeemToken(ctx context.Context, actor models.Identity, req models.RedeemTokenRequest) (*models.Redemption, error)
	History(ctx context.Context, actor models.Identity, filter models.HistoryFilter) ([]models.HistoryEntry, error)
	ExportHistory(ctx context.Context, actor models.Identity, filter models.HistoryFilter, format string) (*service.ExportFile, error)
}

// PickupHandler exposes the pickup session lifecycle.
type PickupHandler struct {
	pickups pickupService
}

// NewPickupHandler constructs PickupHandler.
func NewPickupHandler(pickups pickupService) *PickupHandler {
	return &PickupHandler{pickups: pickups}
}

// GenerateQR godoc
// @Summary Request a pickup token
// @Description Returns the live token for the student or mints a new one. 201 when minted, 200 when reused.
// @Tags Pickup
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.RequestTokenRequest true "Token request"
// @Success 200 {object} response.Envelope
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /pickup/generate-qr [post]
func (h *PickupHandler) GenerateQR(c *gin.Context) {
	actor, ok := identityFromContext(c)
	if !ok {
		return
	}
	var req models.RequestTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid token request"))
		return
	}

	res, err := h.pickups.RequestToken(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	response.JSON(c, status, res)
}

// VerifyQR godoc
// @Summary Redeem a pickup token
// @Tags Pickup
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.RedeemTokenRequest true "Scanned token"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /pickup/verify-qr [post]
func (h *PickupHandler) VerifyQR(c *gin.Context) {
	actor, ok := identityFromContext(c)
	if !ok {
		return
	}
	var req models.RedeemTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid redemption payload"))
		return
	}

	res, err := h.pickups.RedeemToken(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res)
}

// History godoc
// @Summary Pickup history
// @Tags Pickup
// @Produce json
// @Security BearerAuth
// @Param studentId query string false "Filter by student"
// @Param from query string false "Lower bound (RFC3339 or YYYY-MM-DD)"
// @Param to query string false "Upper bound (RFC3339 or YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /pickup/history [get]
func (h *PickupHandler) History(c *gin.Context) {
	actor, ok := identityFromContext(c)
	if !ok {
		return
	}
	filter, err := historyFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	entries, err := h.pickups.History(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, map[string]interface{}{"total": len(entries)})
}

// ExportHistory godoc
// @Summary Download pickup history
// @Tags Pickup
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv or pdf"
// @Param studentId query string false "Filter by student"
// @Param from query string false "Lower bound"
// @Param to query string false "Upper bound"
// @Success 200 {file} file
// @Router /pickup/history/export [get]
func (h *PickupHandler) ExportHistory(c *gin.Context) {
	actor, ok := identityFromContext(c)
	if !ok {
		return
	}
	filter, err := historyFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	file, err := h.pickups.ExportHistory(c.Request.Context(), actor, filter, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

func historyFilter(c *gin.Context) (models.HistoryFilter, error) {
	filter := models.HistoryFilter{StudentID: c.Query("studentId")}
	if filter.StudentID != "" {
		if _, err := uuid.Parse(filter.StudentID); err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "studentId must be a uuid")
		}
	}
	from, err := parseTimeQuery(c.Query("from"), false)
	if err != nil {
		return filter, appErrors.Clone(appErrors.ErrValidation, "from must be RFC3339 or YYYY-MM-DD")
	}
	to, err := parseTimeQuery(c.Query("to"), true)
	if err != nil {
		return filter, appErrors.Clone(appErrors.ErrValidation, "to must be RFC3339 or YYYY-MM-DD")
	}
	filter.From, filter.To = from, to
	return filter, nil
}
