package service

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/JebGy/parkingiot/internal/domain"
)

// ServoPublisher đẩy lệnh servo xuống hàng đợi thiết bị.
// Triển khai thật nằm ở internal/mq (RabbitMQ).
type ServoPublisher interface {
	Publish(ctx context.Context, payload domain.ServoCommandPayload) error
}

type ServoService struct {
	publisher   ServoPublisher
	minAmount   float64
	maxAttempts int
}

func NewServoService(publisher ServoPublisher, minAmount float64) *ServoService {
	return &ServoService{publisher: publisher, minAmount: minAmount, maxAttempts: 3}
}

// DecideAction trả về 1 (mở) khi số tiền cuối cùng đạt ngưỡng, ngược lại 0.
// NaN không bao giờ mở khóa.
func (s *ServoService) DecideAction(amountFinal float64) int {
	if math.IsNaN(amountFinal) {
		return 0
	}
	if amountFinal >= s.minAmount {
		return 1
	}
	return 0
}

// Dispatch gửi lệnh servo với retry giới hạn. Trả về false khi mọi lần gửi
// đều thất bại; caller coi đây là best-effort, không rollback thanh toán.
func (s *ServoService) Dispatch(ctx context.Context, codigoID string, value int) bool {
	if s.publisher == nil {
		log.Printf("ServoService: không có publisher được cấu hình, bỏ qua lệnh servo cho mã %s", codigoID)
		return false
	}

	payload := domain.ServoCommandPayload{
		Action:    "servo",
		Value:     value,
		CodigoID:  codigoID,
		RequestID: uuid.NewString(),
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.publisher.Publish(ctx, payload)
		if err == nil {
			log.Printf("ServoService: đã gửi lệnh servo (value=%d) cho mã %s (lần thử %d)", value, codigoID, attempt+1)
			return true
		}
		log.Printf("ServoService: gửi lệnh servo cho mã %s thất bại (lần thử %d): %v", codigoID, attempt+1, err)
		if attempt < s.maxAttempts-1 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(time.Duration(attempt+1) * 200 * time.Millisecond):
			}
		}
	}
	return false
}
