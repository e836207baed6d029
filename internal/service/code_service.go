package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"regexp"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/JebGy/parkingiot/internal/domain"
	"github.com/JebGy/parkingiot/internal/repository"
)

var (
	ErrInvalidCodeFormat  = errors.New("mã không đúng định dạng (6 ký tự chữ/số)")
	ErrCodeExpired        = errors.New("mã đã hết hạn")
	ErrCodeNotWaiting     = errors.New("mã không ở trạng thái chờ")
	ErrInvalidCodeStatus  = errors.New("trạng thái mã không hợp lệ")
	ErrSpaceHasClaimedCode = errors.New("chỗ đỗ đã có mã khác đang giữ")
	ErrCrossSpaceConflict = errors.New("mã đã được phát cho chỗ đỗ khác")
	ErrCodeLocked         = errors.New("mã đang giữ chỗ đỗ có xe, không thể sửa")
	ErrGenerationExhausted = errors.New("không sinh được mã mới sau nhiều lần thử")
	ErrInvalidSpaceID     = errors.New("id chỗ đỗ không hợp lệ")
	ErrSpaceNotFound      = errors.New("không tìm thấy chỗ đỗ")
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9]{6}$`)

const codeGenAttempts = 5

type CodeService struct {
	codeRepo    repository.ParkingCodeRepository
	spaceRepo   repository.ParkingSpaceRepository
	paymentRepo repository.PaymentRepository
	auditSvc    *AuditService

	totalSpaces    int
	waitingTimeout time.Duration
	paymentGrace   time.Duration
}

func NewCodeService(
	codeRepo repository.ParkingCodeRepository,
	spaceRepo repository.ParkingSpaceRepository,
	paymentRepo repository.PaymentRepository,
	auditSvc *AuditService,
	totalSpaces int,
	waitingTimeout time.Duration,
	paymentGrace time.Duration,
) *CodeService {
	return &CodeService{
		codeRepo:       codeRepo,
		spaceRepo:      spaceRepo,
		paymentRepo:    paymentRepo,
		auditSvc:       auditSvc,
		totalSpaces:    totalSpaces,
		waitingTimeout: waitingTimeout,
		paymentGrace:   paymentGrace,
	}
}

// IssueOrReuse trả về mã WAITING còn hiệu lực của chỗ đỗ nếu có,
// nếu không thì sinh mã 6 chữ số mới. Xe đỗ lâu không lấy mã mới liên tục.
func (s *CodeService) IssueOrReuse(ctx context.Context, spaceID int) (*domain.ParkingCode, error) {
	cutoff := time.Now().UTC().Add(-s.waitingTimeout)
	existing, err := s.codeRepo.FindWaitingBySpace(ctx, spaceID, cutoff)
	if err == nil {
		log.Printf("CodeService: tái sử dụng mã WAITING %s cho chỗ đỗ %d", existing.Codigo, spaceID)
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("CodeService.IssueOrReuse: %w", err)
	}

	for attempt := 0; attempt < codeGenAttempts; attempt++ {
		codigo := fmt.Sprintf("%06d", 100000+rand.Intn(900000))
		code := &domain.ParkingCode{
			Codigo:  codigo,
			Status:  domain.CodeWaiting,
			SpaceID: null.IntFrom(int64(spaceID)),
		}
		err := s.codeRepo.Create(ctx, code)
		if err == nil {
			log.Printf("CodeService: đã sinh mã %s cho chỗ đỗ %d", codigo, spaceID)
			return code, nil
		}
		if errors.Is(err, repository.ErrDuplicateEntry) {
			continue // đụng mã đã tồn tại, thử lại
		}
		return nil, fmt.Errorf("CodeService.IssueOrReuse: %w", err)
	}
	return nil, ErrGenerationExhausted
}

// SubmitCode xử lý UI gửi lên một mã đã sinh sẵn: lưu mới ở trạng thái
// WAITING, mã trùng trả ErrDuplicateEntry.
func (s *CodeService) SubmitCode(ctx context.Context, codigo string, usuarioID *string, ip string) (*domain.ParkingCode, error) {
	if !codePattern.MatchString(codigo) {
		return nil, ErrInvalidCodeFormat
	}

	code := &domain.ParkingCode{
		Codigo: codigo,
		Status: domain.CodeWaiting,
	}
	if err := s.codeRepo.Create(ctx, code); err != nil {
		return nil, err
	}

	s.auditSvc.Log(ctx, AuditSubmitCode, &code.Codigo, usuarioID, ip, map[string]any{
		"status": code.Status,
	})
	return code, nil
}

// Claim gắn một mã WAITING vào chỗ đỗ. Chỗ đang có xe vẫn claim được
// (người dùng quét sau khi đã đỗ), nhưng chỗ đã bị mã CLAIMED khác giữ thì không.
func (s *CodeService) Claim(ctx context.Context, dto domain.ClaimCodeDTO, usuarioID *string, ip string) (*domain.ParkingCode, error) {
	if !codePattern.MatchString(dto.Codigo) {
		return nil, ErrInvalidCodeFormat
	}
	if dto.SpaceID < 1 || dto.SpaceID > s.totalSpaces {
		return nil, ErrInvalidSpaceID
	}
	if _, err := s.spaceRepo.FindByID(ctx, dto.SpaceID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSpaceNotFound
		}
		return nil, fmt.Errorf("CodeService.Claim: %w", err)
	}

	code, err := s.codeRepo.FindByCodigo(ctx, dto.Codigo)
	if err != nil {
		return nil, err
	}
	switch code.Status {
	case domain.CodeExpired:
		return nil, ErrCodeExpired
	case domain.CodeClaimed:
		return nil, ErrCodeNotWaiting
	}
	if time.Since(code.FechaCreacion) > s.waitingTimeout {
		if _, err := s.codeRepo.UpdateStatus(ctx, code.Codigo, domain.CodeExpired, code.SpaceID); err != nil {
			log.Printf("CodeService: không chuyển được mã quá hạn %s sang EXPIRED: %v", code.Codigo, err)
		}
		return nil, ErrCodeExpired
	}
	// Mã phát cho chỗ khác chỉ bị chặn khi chỗ đó còn xe; chỗ gốc đã trống
	// thì coi như mã tự do claim lại nơi khác.
	if code.SpaceID.Valid && int(code.SpaceID.Int64) != dto.SpaceID {
		boundSpace, err := s.spaceRepo.FindByID(ctx, int(code.SpaceID.Int64))
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("CodeService.Claim: %w", err)
		}
		if err == nil && boundSpace.Occupied {
			return nil, ErrCrossSpaceConflict
		}
	}

	if _, err := s.codeRepo.FindClaimedBySpace(ctx, dto.SpaceID); err == nil {
		return nil, ErrSpaceHasClaimedCode
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("CodeService.Claim: %w", err)
	}

	claimed, err := s.codeRepo.ClaimIfWaiting(ctx, dto.Codigo, dto.SpaceID)
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			// Thua cuộc đua: một request khác vừa claim hoặc mã vừa bị expire
			return nil, ErrCodeNotWaiting
		}
		return nil, err
	}

	s.auditSvc.Log(ctx, AuditQRAssociated, &claimed.Codigo, usuarioID, ip, map[string]any{
		"space_id": dto.SpaceID,
	})
	return claimed, nil
}

// ChangeStatus đổi trạng thái mã theo yêu cầu vận hành viên.
// Force (admin) bỏ qua khóa ràng buộc để sửa dữ liệu sai.
func (s *CodeService) ChangeStatus(ctx context.Context, dto domain.ChangeCodeStatusDTO, usuarioID *string, ip string) (*domain.ParkingCode, error) {
	if !codePattern.MatchString(dto.Codigo) {
		return nil, ErrInvalidCodeFormat
	}
	newStatus := domain.CodeStatus(dto.Status)
	switch newStatus {
	case domain.CodeWaiting, domain.CodeClaimed, domain.CodeExpired:
	default:
		return nil, ErrInvalidCodeStatus
	}

	code, err := s.codeRepo.FindByCodigo(ctx, dto.Codigo)
	if err != nil {
		return nil, err
	}

	// Chỉ mã WAITING mới được nâng lên CLAIMED; mã EXPIRED không sống lại
	// trừ khi admin force sửa dữ liệu
	if !dto.Force && newStatus == domain.CodeClaimed && code.Status != domain.CodeWaiting {
		return nil, ErrCodeNotWaiting
	}

	if !dto.Force && code.Status == domain.CodeClaimed && code.SpaceID.Valid {
		space, err := s.spaceRepo.FindByID(ctx, int(code.SpaceID.Int64))
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("CodeService.ChangeStatus: %w", err)
		}
		// Xe còn trong chỗ: mã CLAIMED bị khóa cho tới khi thanh toán/ra bãi
		if err == nil && space.Occupied {
			return nil, ErrCodeLocked
		}
	}

	updated, err := s.codeRepo.UpdateStatus(ctx, dto.Codigo, newStatus, code.SpaceID)
	if err != nil {
		return nil, err
	}

	accion := AuditChangeStatus
	if dto.Force {
		accion = AuditAdminOverride
	}
	s.auditSvc.Log(ctx, accion, &updated.Codigo, usuarioID, ip, map[string]any{
		"old_status": code.Status,
		"new_status": updated.Status,
	})
	return updated, nil
}

// ListCodes chạy dọn dẹp lười trước khi trả danh sách, để UI luôn thấy
// trạng thái đã phản ánh timeout.
func (s *CodeService) ListCodes(ctx context.Context, filter domain.CodeFilterDTO, usuarioID *string, ip string) ([]domain.ParkingCode, error) {
	if _, err := s.ExpireOldWaiting(ctx); err != nil {
		log.Printf("CodeService: dọn mã WAITING quá hạn thất bại: %v", err)
	}
	if _, err := s.ExpireClaimedUnpaid(ctx); err != nil {
		log.Printf("CodeService: dọn mã CLAIMED quá hạn thanh toán thất bại: %v", err)
	}

	codes, err := s.codeRepo.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	s.auditSvc.Log(ctx, AuditListCodes, nil, usuarioID, ip, map[string]any{
		"count": len(codes),
	})
	return codes, nil
}

// ExpireOldWaiting chuyển mọi mã WAITING quá hạn chờ sang EXPIRED. Idempotent.
func (s *CodeService) ExpireOldWaiting(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.waitingTimeout)
	n, err := s.codeRepo.ExpireWaitingBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("CodeService: đã chuyển %d mã WAITING quá hạn sang EXPIRED", n)
	}
	return n, nil
}

// ExpireClaimedUnpaid thu hồi các mã CLAIMED có hóa đơn PENDING đã quá thời gian
// ân hạn thanh toán. Không đụng tới occupied của chỗ đỗ: thiết bị là nguồn sự thật.
func (s *CodeService) ExpireClaimedUnpaid(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.paymentGrace)
	pendings, err := s.paymentRepo.FindPendingCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(pendings) == 0 {
		return 0, nil
	}

	codigos := make([]string, 0, len(pendings))
	for _, p := range pendings {
		codigos = append(codigos, p.Codigo)
	}
	n, err := s.codeRepo.ExpireClaimedIn(ctx, codigos)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("CodeService: đã thu hồi %d mã CLAIMED quá hạn thanh toán", n)
	}
	return n, nil
}
