package domain

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

type Payment struct {
	ID               int64         `json:"id"`
	Codigo           string        `json:"codigo"`
	SpaceID          null.Int      `json:"space_id"`
	AmountCalculated float64       `json:"amount_calculated"`
	AmountFinal      float64       `json:"amount_final"`
	TimeUsedMinutes  int64         `json:"time_used_minutes"`
	Currency         string        `json:"currency"`
	Status           PaymentStatus `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	PaidAt           null.Time     `json:"paid_at"`
	Method           null.String   `json:"method"`
	ReceiptNumber    null.String   `json:"receipt_number"`
}

type ConfirmPaymentDTO struct {
	Codigo string `json:"codigo" binding:"required"`
	Method string `json:"method" binding:"required,oneof=CASH CARD"`
}

type PaymentFilterDTO struct {
	SpaceID *int    `form:"space_id"`
	Status  *string `form:"status"`
	Codigo  *string `form:"codigo"`
}

// FeeBreakdown - kết quả tính phí thuần túy từ thời lượng phiên.
type FeeBreakdown struct {
	TimeUsedMinutes  int64   `json:"time_used_minutes"`
	AmountCalculated float64 `json:"amount_calculated"`
	AmountFinal      float64 `json:"amount_final"`
}
