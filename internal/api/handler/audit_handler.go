package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/JebGy/parkingiot/internal/domain"
	"github.com/JebGy/parkingiot/internal/service"
)

type AuditHandler struct {
	auditService *service.AuditService
}

func NewAuditHandler(auditService *service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// ListAudit GET /api/v1/audit?codigo=...&limit=...
func (h *AuditHandler) ListAudit(c *gin.Context) {
	var codigo *string
	if v := c.Query("codigo"); v != "" {
		codigo = &v
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit không hợp lệ"})
			return
		}
		limit = parsed
	}

	entries, err := h.auditService.List(c.Request.Context(), codigo, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Không thể lấy nhật ký", "details": err.Error()})
		return
	}
	if entries == nil {
		entries = []domain.AuditLog{}
	}
	c.JSON(http.StatusOK, gin.H{"audit": entries})
}
