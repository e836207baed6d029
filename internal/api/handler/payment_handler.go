package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JebGy/parkingiot/internal/domain"
	"github.com/JebGy/parkingiot/internal/repository"
	"github.com/JebGy/parkingiot/internal/service"
)

type PaymentHandler struct {
	paymentService *service.PaymentService
}

func NewPaymentHandler(paymentService *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

// ListPayments GET /api/v1/payments
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	var filter domain.PaymentFilterDTO
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Tham số lọc không hợp lệ", "details": err.Error()})
		return
	}

	payments, err := h.paymentService.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Không thể lấy danh sách hóa đơn", "details": err.Error()})
		return
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

// ConfirmPayment PATCH /api/v1/payments - thu ngân xác nhận đã thu tiền.
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	var dto domain.ConfirmPaymentDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dữ liệu không hợp lệ", "details": err.Error()})
		return
	}

	payment, err := h.paymentService.Confirm(c.Request.Context(), dto, usuarioFromContext(c), c.ClientIP())
	if err != nil {
		h.respondPaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

type estadoCallbackDTO struct {
	Estado string `json:"estado" binding:"required"`
}

// CodeStatusCallback PATCH /api/v1/codigos/:codigo_id/estado - kênh máy
// (kiosk) báo đã thanh toán, chỉ chấp nhận estado="pagado".
func (h *PaymentHandler) CodeStatusCallback(c *gin.Context) {
	codigoID := c.Param("codigo_id")

	var dto estadoCallbackDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dữ liệu không hợp lệ", "details": err.Error()})
		return
	}

	payment, err := h.paymentService.ConfirmByCallback(c.Request.Context(), codigoID, dto.Estado, c.ClientIP())
	if err != nil {
		if errors.Is(err, service.ErrUnsupportedState) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.respondPaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "payment": payment})
}

func (h *PaymentHandler) respondPaymentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCodeFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Không tìm thấy hóa đơn chờ thanh toán"})
	case errors.Is(err, service.ErrCodeExpired):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrAlreadyPaid):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi hệ thống", "details": err.Error()})
	}
}
