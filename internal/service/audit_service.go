package service

import (
	"context"
	"encoding/json"
	"log"

	"gopkg.in/guregu/null.v4"

	"github.com/JebGy/parkingiot/internal/domain"
	"github.com/JebGy/parkingiot/internal/repository"
)

// Các accion chuẩn được ghi vào audit_logs.
const (
	AuditListCodes             = "LIST_CODES"
	AuditSubmitCode            = "SUBMIT_CODE"
	AuditChangeStatus          = "CHANGE_STATUS"
	AuditQRAssociated          = "QR_ASSOCIATED"
	AuditSpaceUpdate           = "SPACE_UPDATE"
	AuditPaymentPaid           = "PAYMENT_PAID"
	AuditSpaceReleaseByPayment = "SPACE_RELEASE_BY_PAYMENT"
	AuditSpaceNotifyRelease    = "SPACE_NOTIFY_RELEASE"
	AuditCodePaid              = "CODE_PAID"
	AuditAdminOverride         = "ADMIN_OVERRIDE"
)

type AuditService struct {
	auditRepo repository.AuditLogRepository
}

func NewAuditService(auditRepo repository.AuditLogRepository) *AuditService {
	return &AuditService{auditRepo: auditRepo}
}

// Log ghi một dòng audit best-effort: lỗi ghi chỉ log ra console,
// không bao giờ làm hỏng nghiệp vụ đang chạy.
func (s *AuditService) Log(ctx context.Context, accion string, codigo *string, usuarioID *string, ip string, datos any) {
	var raw json.RawMessage
	if datos != nil {
		b, err := json.Marshal(datos)
		if err != nil {
			log.Printf("AuditService: không serialize được datos cho accion %s: %v", accion, err)
		} else {
			raw = b
		}
	}

	entry := &domain.AuditLog{
		UsuarioID: null.StringFromPtr(usuarioID),
		IP:        ip,
		Accion:    accion,
		Datos:     raw,
		Codigo:    null.StringFromPtr(codigo),
	}
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		log.Printf("AuditService: ghi audit thất bại (accion=%s, codigo=%v): %v", accion, codigo, err)
	}
}

func (s *AuditService) List(ctx context.Context, codigo *string, limit int) ([]domain.AuditLog, error) {
	return s.auditRepo.Find(ctx, codigo, limit)
}
