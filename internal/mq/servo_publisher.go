package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/JebGy/parkingiot/internal/domain"
)

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateReady
)

// RabbitServoPublisher giữ một kết nối RabbitMQ dùng chung, mở lười khi có
// lệnh đầu tiên. Nhiều goroutine cùng publish thì chỉ một goroutine quay số,
// các goroutine còn lại chờ kết quả thay vì mở kết nối riêng.
type RabbitServoPublisher struct {
	url       string
	queueName string

	mu      sync.Mutex
	state   connState
	conn    *amqp.Connection
	channel *amqp.Channel
	waiters []chan error

	publishTimeout time.Duration
}

func NewRabbitServoPublisher(url, queueName string) *RabbitServoPublisher {
	return &RabbitServoPublisher{
		url:            url,
		queueName:      queueName,
		publishTimeout: 5 * time.Second,
	}
}

// acquire trả về channel sẵn sàng publish, mở kết nối nếu cần.
func (p *RabbitServoPublisher) acquire(ctx context.Context) (*amqp.Channel, error) {
	p.mu.Lock()
	switch p.state {
	case stateReady:
		ch := p.channel
		p.mu.Unlock()
		return ch, nil
	case stateConnecting:
		// Goroutine khác đang quay số, xếp hàng chờ
		wait := make(chan error, 1)
		p.waiters = append(p.waiters, wait)
		p.mu.Unlock()
		select {
		case err := <-wait:
			if err != nil {
				return nil, err
			}
			p.mu.Lock()
			ch := p.channel
			ready := p.state == stateReady
			p.mu.Unlock()
			if !ready {
				return nil, fmt.Errorf("kết nối RabbitMQ bị đóng ngay sau khi mở")
			}
			return ch, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.state = stateConnecting
	p.mu.Unlock()

	ch, err := p.dial()

	p.mu.Lock()
	if err != nil {
		p.state = stateDisconnected
	} else {
		p.state = stateReady
		p.channel = ch
	}
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		w <- err
	}
	return ch, err
}

func (p *RabbitServoPublisher) dial() (*amqp.Channel, error) {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("lỗi kết nối RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("lỗi mở channel RabbitMQ: %w", err)
	}
	// Confirm mode: biết chắc broker đã nhận message trước khi báo thành công
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("lỗi bật confirm mode: %w", err)
	}
	_, err = ch.QueueDeclare(p.queueName, true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("lỗi khai báo queue %s: %w", p.queueName, err)
	}

	p.conn = conn
	log.Printf("RabbitServoPublisher: đã kết nối RabbitMQ, queue=%s", p.queueName)
	return ch, nil
}

// invalidate đóng kết nối hỏng để lần publish sau quay số lại.
func (p *RabbitServoPublisher) invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.channel = nil
	p.state = stateDisconnected
}

func (p *RabbitServoPublisher) Publish(ctx context.Context, payload domain.ServoCommandPayload) error {
	ch, err := p.acquire(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("lỗi serialize lệnh servo: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()

	confirm, err := ch.PublishWithDeferredConfirmWithContext(pubCtx, "", p.queueName, false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		p.invalidate()
		return fmt.Errorf("lỗi publish lệnh servo: %w", err)
	}

	acked, err := confirm.WaitContext(pubCtx)
	if err != nil {
		p.invalidate()
		return fmt.Errorf("lỗi chờ confirm từ broker: %w", err)
	}
	if !acked {
		p.invalidate()
		return fmt.Errorf("broker từ chối (nack) lệnh servo cho mã %s", payload.CodigoID)
	}
	return nil
}

func (p *RabbitServoPublisher) Close() {
	p.invalidate()
}
