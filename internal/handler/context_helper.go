package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/vacademy-io/notify-delivery-api/internal/middleware"
	"github.com/vacademy-io/notify-delivery-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.DeliveryClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.DeliveryClaims)
	if !ok {
		return nil
	}
	return claims
}
