package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JebGy/parkingiot/internal/domain"
	"github.com/JebGy/parkingiot/internal/service"
)

type SpaceHandler struct {
	spaceService *service.SpaceService
}

func NewSpaceHandler(spaceService *service.SpaceService) *SpaceHandler {
	return &SpaceHandler{spaceService: spaceService}
}

// ReportOccupancy POST /api/v1/spaces/update - callback từ thiết bị, không cần auth.
func (h *SpaceHandler) ReportOccupancy(c *gin.Context) {
	var dto domain.SpaceReportDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dữ liệu không hợp lệ", "details": err.Error()})
		return
	}

	result, err := h.spaceService.ReportOccupancy(c.Request.Context(), dto, c.ClientIP())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSpaceID),
			errors.Is(err, service.ErrInvalidOccupancyFlag),
			errors.Is(err, service.ErrInvalidTimestamp):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrGenerationExhausted):
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi hệ thống", "details": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListSpaces GET /api/v1/spaces
func (h *SpaceHandler) ListSpaces(c *gin.Context) {
	spaces, err := h.spaceService.CurrentSpaces(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Không thể lấy trạng thái chỗ đỗ", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"spaces": spaces})
}

// SeedSpaces POST /api/v1/spaces/seed - admin tạo các chỗ đỗ còn thiếu.
func (h *SpaceHandler) SeedSpaces(c *gin.Context) {
	created, err := h.spaceService.SeedSpaces(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Seed thất bại", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": created})
}

// Stats GET /api/v1/stats
func (h *SpaceHandler) Stats(c *gin.Context) {
	stats, err := h.spaceService.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Không thể lấy thống kê", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
