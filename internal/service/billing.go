package service

import (
	"math"
	"time"

	"github.com/JebGy/parkingiot/internal/domain"
)

// Block tính phí 15 phút: thời lượng phiên được làm tròn về bội số 15 gần nhất
// trước khi nhân đơn giá, nên 37 phút chỉ tính 2 block (30 phút).
const billingIntervalMinutes = 15

type FeeCalculator struct {
	RatePerInterval float64
	MinCharge       float64
}

func NewFeeCalculator(ratePerInterval, minCharge float64) *FeeCalculator {
	return &FeeCalculator{RatePerInterval: ratePerInterval, MinCharge: minCharge}
}

// ComputeFee tính phí cho một phiên [start, end). Phiên âm hoặc bằng 0 coi như 0 phút.
func (c *FeeCalculator) ComputeFee(start, end time.Time) domain.FeeBreakdown {
	elapsed := end.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}

	minutes := math.Round(elapsed.Minutes())
	// Làm tròn nửa-ra-xa-0 về bội số 15: 7.5 -> 15, 22 -> 15, 37 -> 30
	rounded := math.Round(minutes/billingIntervalMinutes) * billingIntervalMinutes
	if rounded < 0 {
		rounded = 0
	}
	intervals := rounded / billingIntervalMinutes

	calculated := intervals * c.RatePerInterval
	final := calculated
	if final < c.MinCharge {
		final = c.MinCharge
	}

	return domain.FeeBreakdown{
		TimeUsedMinutes:  int64(rounded),
		AmountCalculated: calculated,
		AmountFinal:      final,
	}
}
