package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/JebGy/parkingiot/internal/domain"
	"github.com/JebGy/parkingiot/internal/repository"
)

var (
	ErrAlreadyPaid      = errors.New("hóa đơn đã được thanh toán")
	ErrUnsupportedState = errors.New("trạng thái yêu cầu không được hỗ trợ")
)

// Notifier đẩy sự kiện realtime tới các client dashboard đang kết nối.
// Triển khai thật là WebSocketManager bên handler.
type Notifier interface {
	BroadcastSpaceUpdate(spaceID int, occupied bool)
	BroadcastPaymentPaid(codigo string, amountFinal float64)
}

type PaymentService struct {
	paymentRepo repository.PaymentRepository
	codeRepo    repository.ParkingCodeRepository
	spaceRepo   repository.ParkingSpaceRepository
	auditSvc    *AuditService
	servoSvc    *ServoService
	notifier    Notifier
	currency    string
}

func NewPaymentService(
	paymentRepo repository.PaymentRepository,
	codeRepo repository.ParkingCodeRepository,
	spaceRepo repository.ParkingSpaceRepository,
	auditSvc *AuditService,
	servoSvc *ServoService,
	notifier Notifier,
	currency string,
) *PaymentService {
	return &PaymentService{
		paymentRepo: paymentRepo,
		codeRepo:    codeRepo,
		spaceRepo:   spaceRepo,
		auditSvc:    auditSvc,
		servoSvc:    servoSvc,
		notifier:    notifier,
		currency:    currency,
	}
}

// Open mở hóa đơn PENDING cho một mã. Nếu mã đã có hóa đơn PENDING
// thì trả lại hóa đơn đó thay vì tạo trùng.
func (s *PaymentService) Open(ctx context.Context, codigo string, spaceID null.Int, fee domain.FeeBreakdown) (*domain.Payment, error) {
	existing, err := s.paymentRepo.FindPendingByCodigo(ctx, codigo)
	if err == nil {
		log.Printf("PaymentService: mã %s đã có hóa đơn PENDING #%d, không tạo thêm", codigo, existing.ID)
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("PaymentService.Open: %w", err)
	}

	payment := &domain.Payment{
		Codigo:           codigo,
		SpaceID:          spaceID,
		AmountCalculated: fee.AmountCalculated,
		AmountFinal:      fee.AmountFinal,
		TimeUsedMinutes:  fee.TimeUsedMinutes,
		Currency:         s.currency,
		Status:           domain.PaymentPending,
	}
	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, err
	}
	log.Printf("PaymentService: đã mở hóa đơn #%d cho mã %s (%.2f %s, %d phút)",
		payment.ID, codigo, payment.AmountFinal, payment.Currency, payment.TimeUsedMinutes)
	return payment, nil
}

// Confirm xác nhận thanh toán từ quầy thu ngân. Hai thu ngân cùng xác nhận
// thì chỉ một người thắng, người kia nhận ErrAlreadyPaid.
func (s *PaymentService) Confirm(ctx context.Context, dto domain.ConfirmPaymentDTO, usuarioID *string, ip string) (*domain.Payment, error) {
	if err := s.checkCodeConfirmable(ctx, dto.Codigo); err != nil {
		return nil, err
	}

	pending, err := s.paymentRepo.FindPendingByCodigo(ctx, dto.Codigo)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			latest, lerr := s.paymentRepo.FindLatestByCodigo(ctx, dto.Codigo)
			if lerr == nil && latest.Status == domain.PaymentPaid {
				return nil, ErrAlreadyPaid
			}
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	receipt := fmt.Sprintf("R-%d-%d", time.Now().UnixMilli(), rand.Intn(10000))
	paid, err := s.paymentRepo.MarkPaidIfPending(ctx, pending.ID, time.Now().UTC(),
		null.StringFrom(dto.Method), null.StringFrom(receipt))
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, ErrAlreadyPaid
		}
		return nil, err
	}

	s.auditSvc.Log(ctx, AuditPaymentPaid, &paid.Codigo, usuarioID, ip, map[string]any{
		"payment_id":     paid.ID,
		"amount_final":   paid.AmountFinal,
		"method":         dto.Method,
		"receipt_number": receipt,
	})

	s.finalize(ctx, paid, usuarioID, ip)
	return paid, nil
}

// ConfirmByCallback xử lý PATCH trạng thái từ kênh máy (kiosk/thiết bị):
// body chỉ có estado="pagado", không có phương thức hay biên lai.
func (s *PaymentService) ConfirmByCallback(ctx context.Context, codigo string, estado string, ip string) (*domain.Payment, error) {
	if !codePattern.MatchString(codigo) {
		return nil, ErrInvalidCodeFormat
	}
	if estado != "pagado" {
		return nil, ErrUnsupportedState
	}
	if err := s.checkCodeConfirmable(ctx, codigo); err != nil {
		return nil, err
	}

	pending, err := s.paymentRepo.FindPendingByCodigo(ctx, codigo)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			latest, lerr := s.paymentRepo.FindLatestByCodigo(ctx, codigo)
			if lerr == nil && latest.Status == domain.PaymentPaid {
				return nil, ErrAlreadyPaid
			}
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	paid, err := s.paymentRepo.MarkPaidIfPending(ctx, pending.ID, time.Now().UTC(), null.String{}, null.String{})
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, ErrAlreadyPaid
		}
		return nil, err
	}

	servoAction, notifSent := s.finalize(ctx, paid, nil, ip)
	s.auditSvc.Log(ctx, AuditCodePaid, &paid.Codigo, nil, ip, map[string]any{
		"codigo_id":    paid.Codigo,
		"servo_action": servoAction,
		"notif_sent":   notifSent,
	})
	return paid, nil
}

// checkCodeConfirmable chặn xác nhận trên mã không còn sống: mã đã bị
// thu hồi (quét dọn quá hạn) thì hóa đơn PENDING còn sót không thu được nữa,
// trừ khi mã hết hạn vì chính nó đã được thanh toán xong.
func (s *PaymentService) checkCodeConfirmable(ctx context.Context, codigo string) error {
	code, err := s.codeRepo.FindByCodigo(ctx, codigo)
	if err != nil {
		return err
	}
	if code.Status == domain.CodeExpired {
		latest, lerr := s.paymentRepo.FindLatestByCodigo(ctx, codigo)
		if lerr == nil && latest.Status == domain.PaymentPaid {
			return ErrAlreadyPaid
		}
		return ErrCodeExpired
	}
	return nil
}

// finalize chạy sau khi thắng cập nhật PENDING -> PAID: hết hạn mã,
// trả chỗ đỗ, phát thông báo và gửi lệnh servo. Mọi bước đều best-effort,
// thanh toán đã ghi nhận không bị rollback.
func (s *PaymentService) finalize(ctx context.Context, paid *domain.Payment, usuarioID *string, ip string) (servoAction int, notifSent bool) {
	if _, err := s.codeRepo.UpdateStatus(ctx, paid.Codigo, domain.CodeExpired, paid.SpaceID); err != nil {
		log.Printf("PaymentService: không chuyển được mã %s sang EXPIRED sau thanh toán: %v", paid.Codigo, err)
	}

	if paid.SpaceID.Valid {
		spaceID := int(paid.SpaceID.Int64)
		if err := s.spaceRepo.SetOccupied(ctx, spaceID, false, time.Now().UTC()); err != nil {
			log.Printf("PaymentService: không trả được chỗ đỗ %d sau thanh toán: %v", spaceID, err)
		} else {
			s.auditSvc.Log(ctx, AuditSpaceReleaseByPayment, &paid.Codigo, usuarioID, ip, map[string]any{
				"space_id":   spaceID,
				"payment_id": paid.ID,
			})
		}

		if s.notifier != nil {
			s.notifier.BroadcastSpaceUpdate(spaceID, false)
			notifSent = true
			s.auditSvc.Log(ctx, AuditSpaceNotifyRelease, &paid.Codigo, usuarioID, ip, map[string]any{
				"space_id": spaceID,
			})
		}
	}

	if s.notifier != nil {
		s.notifier.BroadcastPaymentPaid(paid.Codigo, paid.AmountFinal)
	}

	servoAction = s.servoSvc.DecideAction(paid.AmountFinal)
	if !s.servoSvc.Dispatch(ctx, paid.Codigo, servoAction) {
		log.Printf("PaymentService: lệnh servo cho mã %s không gửi được, bỏ qua (best-effort)", paid.Codigo)
	}
	return servoAction, notifSent
}

func (s *PaymentService) List(ctx context.Context, filter domain.PaymentFilterDTO) ([]domain.Payment, error) {
	return s.paymentRepo.Find(ctx, filter)
}
