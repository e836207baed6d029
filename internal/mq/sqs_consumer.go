package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/JebGy/parkingiot/internal/config"
	"github.com/JebGy/parkingiot/internal/domain"
	"github.com/JebGy/parkingiot/internal/service"
)

// SQSConsumer nhận sự kiện cảm biến từ ESP32 (qua IoT Rule -> SQS)
// và đẩy vào cùng đường xử lý với HTTP callback.
type SQSConsumer struct {
	sqsClient *sqs.Client
	queueURL  string
	spaceSvc  *service.SpaceService
}

func NewSQSConsumer(client *sqs.Client, cfg *config.Config, spaceSvc *service.SpaceService) *SQSConsumer {
	return &SQSConsumer{
		sqsClient: client,
		queueURL:  cfg.SQSEventQueueURL,
		spaceSvc:  spaceSvc,
	}
}

func (c *SQSConsumer) Start(ctx context.Context) {
	log.Printf("SQS Consumer đang bắt đầu lắng nghe queue: %s", c.queueURL)
	for {
		select {
		case <-ctx.Done():
			log.Println("SQS Consumer: context cancelled, stopping.")
			return
		default:
			receiveInput := &sqs.ReceiveMessageInput{
				QueueUrl:            &c.queueURL,
				MaxNumberOfMessages: 10,
				WaitTimeSeconds:     20,
				VisibilityTimeout:   60,
			}

			result, err := c.sqsClient.ReceiveMessage(ctx, receiveInput)
			if err != nil {
				log.Printf("SQS Consumer: Lỗi khi nhận message: %v", err)
				select {
				case <-time.After(5 * time.Second):
				case <-ctx.Done():
					log.Println("SQS Consumer: context cancelled while waiting for retry.")
					return
				}
				continue
			}

			if len(result.Messages) == 0 {
				continue
			}

			log.Printf("SQS Consumer: Đã nhận %d message(s)", len(result.Messages))

			for _, message := range result.Messages {
				if message.Body == nil {
					log.Println("SQS Consumer: Nhận được message với body rỗng. Đang xóa...")
					c.deleteMessage(ctx, message.ReceiptHandle)
					continue
				}

				processingErr := c.handleDeviceEvent(ctx, *message.Body)

				if processingErr == nil {
					c.deleteMessage(ctx, message.ReceiptHandle)
				} else {
					log.Printf("SQS Consumer: Lỗi khi xử lý message ID %s: %v. Message sẽ được xử lý lại sau visibility timeout.", *message.MessageId, processingErr)
				}
			}
		}
	}
}

// handleDeviceEvent parse hai lớp: lớp ngoài lấy message_type,
// lớp trong theo từng loại sự kiện cụ thể.
func (c *SQSConsumer) handleDeviceEvent(ctx context.Context, body string) error {
	var generic domain.GenericIoTEvent
	if err := json.Unmarshal([]byte(body), &generic); err != nil {
		// Message không parse được thì redeliver cũng vô ích, coi như xử lý xong
		log.Printf("SQS Consumer: message không đúng định dạng JSON, bỏ qua: %v", err)
		return nil
	}

	switch generic.MessageType {
	case "space_status":
		var event domain.DeviceSpaceStatusEvent
		if err := json.Unmarshal([]byte(body), &event); err != nil {
			log.Printf("SQS Consumer: sự kiện space_status không parse được, bỏ qua: %v", err)
			return nil
		}
		ts := event.Timestamp
		if ts == "" {
			ts = time.Now().UTC().Format(time.RFC3339)
		}
		dto := domain.SpaceReportDTO{
			IDEspacio: event.IDEspacio,
			Estado:    event.Estado,
			Timestamp: ts,
		}
		_, err := c.spaceSvc.ReportOccupancy(ctx, dto, "sqs:"+event.DeviceID)
		if err != nil {
			// Lỗi dữ liệu thì redeliver không cứu được, chỉ lỗi hạ tầng mới retry
			if errors.Is(err, service.ErrInvalidSpaceID) ||
				errors.Is(err, service.ErrInvalidOccupancyFlag) ||
				errors.Is(err, service.ErrInvalidTimestamp) {
				log.Printf("SQS Consumer: sự kiện space_status không hợp lệ (chỗ %d): %v. Bỏ qua.", event.IDEspacio, err)
				return nil
			}
			return fmt.Errorf("xử lý space_status cho chỗ %d: %w", event.IDEspacio, err)
		}
		return nil
	default:
		log.Printf("SQS Consumer: message_type '%s' không được hỗ trợ, bỏ qua.", generic.MessageType)
		return nil
	}
}

func (c *SQSConsumer) deleteMessage(ctx context.Context, receiptHandle *string) {
	if receiptHandle == nil {
		log.Println("SQS Consumer: Receipt handle rỗng, không thể xóa message.")
		return
	}
	_, delErr := c.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.queueURL,
		ReceiptHandle: receiptHandle,
	})
	if delErr != nil {
		log.Printf("SQS Consumer: Lỗi khi xóa message: %v", delErr)
	}
}
