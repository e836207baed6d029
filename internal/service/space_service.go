package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/JebGy/parkingiot/internal/domain"
	"github.com/JebGy/parkingiot/internal/repository"
)

var (
	ErrInvalidOccupancyFlag = errors.New("trường estado phải là boolean")
	ErrInvalidTimestamp     = errors.New("timestamp không đúng định dạng")
)

// SpaceReportResult gom kết quả của một lần thiết bị báo trạng thái:
// chỗ đỗ sau cập nhật, mã được phát (nếu xe vào) và hóa đơn mở ra (nếu xe ra).
type SpaceReportResult struct {
	Space   *domain.ParkingSpace `json:"space"`
	Code    *domain.ParkingCode  `json:"code,omitempty"`
	Payment *domain.Payment      `json:"payment,omitempty"`
}

type SpaceService struct {
	spaceRepo    repository.ParkingSpaceRepository
	spaceLogRepo repository.SpaceLogRepository
	codeRepo     repository.ParkingCodeRepository
	paymentRepo  repository.PaymentRepository
	codeSvc      *CodeService
	paymentSvc   *PaymentService
	feeCalc      *FeeCalculator
	auditSvc     *AuditService
	notifier     Notifier
	totalSpaces  int
}

func NewSpaceService(
	spaceRepo repository.ParkingSpaceRepository,
	spaceLogRepo repository.SpaceLogRepository,
	codeRepo repository.ParkingCodeRepository,
	paymentRepo repository.PaymentRepository,
	codeSvc *CodeService,
	paymentSvc *PaymentService,
	feeCalc *FeeCalculator,
	auditSvc *AuditService,
	notifier Notifier,
	totalSpaces int,
) *SpaceService {
	return &SpaceService{
		spaceRepo:    spaceRepo,
		spaceLogRepo: spaceLogRepo,
		codeRepo:     codeRepo,
		paymentRepo:  paymentRepo,
		codeSvc:      codeSvc,
		paymentSvc:   paymentSvc,
		feeCalc:      feeCalc,
		auditSvc:     auditSvc,
		notifier:     notifier,
		totalSpaces:  totalSpaces,
	}
}

// ReportOccupancy là đường vào duy nhất cho trạng thái cảm biến, dù đến
// qua HTTP hay SQS. Xe vào thì phát mã, xe ra thì chốt phiên và mở hóa đơn.
func (s *SpaceService) ReportOccupancy(ctx context.Context, dto domain.SpaceReportDTO, ip string) (*SpaceReportResult, error) {
	if dto.IDEspacio < 1 || dto.IDEspacio > s.totalSpaces {
		return nil, ErrInvalidSpaceID
	}
	if dto.Estado == nil {
		return nil, ErrInvalidOccupancyFlag
	}
	reportedAt, err := time.Parse(time.RFC3339, dto.Timestamp)
	if err != nil {
		return nil, ErrInvalidTimestamp
	}
	reportedAt = reportedAt.In(time.UTC)
	occupied := *dto.Estado

	space := &domain.ParkingSpace{ID: dto.IDEspacio, Occupied: occupied, UpdatedAt: reportedAt}
	if err := s.spaceRepo.Upsert(ctx, space); err != nil {
		return nil, err
	}

	entry := &domain.SpaceLog{SpaceID: dto.IDEspacio, Occupied: occupied, Timestamp: reportedAt, IP: ip}
	if err := s.spaceLogRepo.Create(ctx, entry); err != nil {
		// Mất một dòng lịch sử không được chặn cập nhật trạng thái
		log.Printf("SpaceService: ghi space_log cho chỗ %d thất bại: %v", dto.IDEspacio, err)
	}

	s.auditSvc.Log(ctx, AuditSpaceUpdate, nil, nil, ip, map[string]any{
		"id_espacio": dto.IDEspacio,
		"estado":     occupied,
		"timestamp":  dto.Timestamp,
	})
	if s.notifier != nil {
		s.notifier.BroadcastSpaceUpdate(dto.IDEspacio, occupied)
	}

	result := &SpaceReportResult{Space: space}
	if occupied {
		code, err := s.codeSvc.IssueOrReuse(ctx, dto.IDEspacio)
		if err != nil {
			return nil, err
		}
		result.Code = code
		return result, nil
	}

	payment, err := s.handleVacated(ctx, dto.IDEspacio, reportedAt)
	if err != nil {
		return nil, err
	}
	result.Payment = payment
	return result, nil
}

// handleVacated chốt phiên khi chỗ đỗ được trả: tính phí từ mốc occupied
// gần nhất và mở hóa đơn nếu có mã CLAIMED chưa thanh toán.
func (s *SpaceService) handleVacated(ctx context.Context, spaceID int, vacatedAt time.Time) (*domain.Payment, error) {
	// Mã WAITING của chỗ này không còn ý nghĩa khi xe đã rời đi
	if _, err := s.codeRepo.ExpireWaitingBySpace(ctx, spaceID); err != nil {
		log.Printf("SpaceService: dọn mã WAITING của chỗ %d thất bại: %v", spaceID, err)
	}

	lastOccupied, err := s.spaceLogRepo.FindLastOccupied(ctx, spaceID, vacatedAt)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Không có mốc bắt đầu phiên thì không có gì để tính
			return nil, nil
		}
		return nil, fmt.Errorf("SpaceService.handleVacated: %w", err)
	}

	claimed, err := s.codeRepo.FindClaimedBySpace(ctx, spaceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("SpaceService.handleVacated: %w", err)
	}

	latest, err := s.paymentRepo.FindLatestByCodigo(ctx, claimed.Codigo)
	if err == nil && latest.Status == domain.PaymentPaid {
		// Đã trả tiền trước khi rời bãi: chỉ cần thu hồi mã
		if _, uerr := s.codeRepo.UpdateStatus(ctx, claimed.Codigo, domain.CodeExpired, claimed.SpaceID); uerr != nil {
			log.Printf("SpaceService: không thu hồi được mã %s đã thanh toán: %v", claimed.Codigo, uerr)
		}
		return nil, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("SpaceService.handleVacated: %w", err)
	}

	fee := s.feeCalc.ComputeFee(lastOccupied.Timestamp, vacatedAt)
	payment, err := s.paymentSvc.Open(ctx, claimed.Codigo, null.IntFrom(int64(spaceID)), fee)
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// CurrentSpaces trả về trạng thái của toàn bộ chỗ đỗ 1..N; chỗ chưa từng
// báo cáo xuất hiện với occupied=false và updated_at null.
func (s *SpaceService) CurrentSpaces(ctx context.Context) ([]domain.SpaceStateDTO, error) {
	spaces, err := s.spaceRepo.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[int]domain.ParkingSpace, len(spaces))
	for _, sp := range spaces {
		byID[sp.ID] = sp
	}

	out := make([]domain.SpaceStateDTO, 0, s.totalSpaces)
	for id := 1; id <= s.totalSpaces; id++ {
		if sp, ok := byID[id]; ok {
			out = append(out, domain.SpaceStateDTO{ID: id, Occupied: sp.Occupied, UpdatedAt: null.TimeFrom(sp.UpdatedAt)})
		} else {
			out = append(out, domain.SpaceStateDTO{ID: id, Occupied: false})
		}
	}
	return out, nil
}

// SeedSpaces tạo các chỗ đỗ còn thiếu (1..N, trống). Chỗ đã tồn tại giữ nguyên.
func (s *SpaceService) SeedSpaces(ctx context.Context) (int, error) {
	created := 0
	for id := 1; id <= s.totalSpaces; id++ {
		_, err := s.spaceRepo.FindByID(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return created, fmt.Errorf("SpaceService.SeedSpaces: %w", err)
		}
		space := &domain.ParkingSpace{ID: id, Occupied: false, UpdatedAt: time.Now().UTC()}
		if err := s.spaceRepo.Upsert(ctx, space); err != nil {
			return created, err
		}
		created++
	}
	log.Printf("SpaceService: seed hoàn tất, tạo mới %d chỗ đỗ", created)
	return created, nil
}

// OccupancyStats gộp trạng thái hiện tại với thống kê lịch sử cho dashboard.
type OccupancyStats struct {
	Spaces       []domain.SpaceStateDTO    `json:"spaces"`
	OccupiedNow  int                       `json:"occupied_now"`
	FreeNow      int                       `json:"free_now"`
	LogsBySpace  map[int]domain.SpaceStats `json:"logs_by_space"`
}

func (s *SpaceService) Stats(ctx context.Context) (*OccupancyStats, error) {
	spaces, err := s.CurrentSpaces(ctx)
	if err != nil {
		return nil, err
	}
	logs, err := s.spaceLogRepo.CountBySpace(ctx)
	if err != nil {
		return nil, err
	}

	stats := &OccupancyStats{Spaces: spaces, LogsBySpace: logs}
	for _, sp := range spaces {
		if sp.Occupied {
			stats.OccupiedNow++
		} else {
			stats.FreeNow++
		}
	}
	return stats, nil
}
