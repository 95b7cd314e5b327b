package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kidguard-api/internal/middleware"
	"github.com/noah-isme/kidguard-api/internal/models"
	appErrors "github.com/noah-isme/kidguard-api/pkg/errors"
	"github.com/noah-isme/kidguard-api/pkg/response"
)

// identityFromContext returns the caller or writes 401 and reports false.
func identityFromContext(c *gin.Context) (models.Identity, bool) {
	claims, ok := middleware.Claims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Identity{}, false
	}
	return claims.Identity(), true
}

// parseTimeQuery accepts RFC3339 or a plain date. A plain date used as an upper
// bound covers the whole day.
func parseTimeQuery(raw string, upper bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
