package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JebGy/parkingiot/internal/api/middleware"
	"github.com/JebGy/parkingiot/internal/domain"
	"github.com/JebGy/parkingiot/internal/repository"
	"github.com/JebGy/parkingiot/internal/service"
)

// usuarioFromContext lấy userID do middleware Authenticate gắn vào,
// nil khi route không yêu cầu đăng nhập.
func usuarioFromContext(c *gin.Context) *string {
	if v, ok := c.Get(middleware.UserIDKey); ok {
		if id, ok := v.(string); ok {
			return &id
		}
	}
	return nil
}

type CodeHandler struct {
	codeService *service.CodeService
}

func NewCodeHandler(codeService *service.CodeService) *CodeHandler {
	return &CodeHandler{codeService: codeService}
}

// ListCodes GET /api/v1/codes
func (h *CodeHandler) ListCodes(c *gin.Context) {
	var filter domain.CodeFilterDTO
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Tham số lọc không hợp lệ", "details": err.Error()})
		return
	}

	codes, err := h.codeService.ListCodes(c.Request.Context(), filter, usuarioFromContext(c), c.ClientIP())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Không thể lấy danh sách mã", "details": err.Error()})
		return
	}
	if codes == nil {
		codes = []domain.ParkingCode{}
	}
	c.JSON(http.StatusOK, gin.H{"codes": codes})
}

// SubmitCode POST /api/v1/codes
func (h *CodeHandler) SubmitCode(c *gin.Context) {
	var dto domain.SubmitCodeDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dữ liệu không hợp lệ", "details": err.Error()})
		return
	}

	code, err := h.codeService.SubmitCode(c.Request.Context(), dto.Codigo, usuarioFromContext(c), c.ClientIP())
	if err != nil {
		h.respondCodeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, code)
}

// ClaimCode PATCH /api/v1/codes/claim
func (h *CodeHandler) ClaimCode(c *gin.Context) {
	var dto domain.ClaimCodeDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dữ liệu không hợp lệ", "details": err.Error()})
		return
	}

	code, err := h.codeService.Claim(c.Request.Context(), dto, usuarioFromContext(c), c.ClientIP())
	if err != nil {
		h.respondCodeError(c, err)
		return
	}
	c.JSON(http.StatusOK, code)
}

// ChangeStatus PATCH /api/v1/codes/status
func (h *CodeHandler) ChangeStatus(c *gin.Context) {
	var dto domain.ChangeCodeStatusDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dữ liệu không hợp lệ", "details": err.Error()})
		return
	}

	// Force chỉ dành cho admin
	if dto.Force {
		if role, ok := c.Get(middleware.UserRoleKey); !ok || role != "admin" {
			c.JSON(http.StatusForbidden, gin.H{"error": "Chỉ admin mới được dùng force"})
			return
		}
	}

	code, err := h.codeService.ChangeStatus(c.Request.Context(), dto, usuarioFromContext(c), c.ClientIP())
	if err != nil {
		h.respondCodeError(c, err)
		return
	}
	c.JSON(http.StatusOK, code)
}

func (h *CodeHandler) respondCodeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCodeFormat),
		errors.Is(err, service.ErrInvalidCodeStatus),
		errors.Is(err, service.ErrInvalidSpaceID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Không tìm thấy mã"})
	case errors.Is(err, service.ErrSpaceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrCodeExpired):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrCodeNotWaiting),
		errors.Is(err, service.ErrSpaceHasClaimedCode),
		errors.Is(err, service.ErrCrossSpaceConflict),
		errors.Is(err, service.ErrCodeLocked),
		errors.Is(err, repository.ErrDuplicateEntry):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi hệ thống", "details": err.Error()})
	}
}
