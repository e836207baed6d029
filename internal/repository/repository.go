package repository

import (
	"context"
	"errors"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/JebGy/parkingiot/internal/domain"
)

var (
	ErrNotFound       = errors.New("không tìm thấy bản ghi")
	ErrDuplicateEntry = errors.New("bản ghi đã tồn tại")
	// ErrStaleState - cập nhật có điều kiện thất bại vì bản ghi đã đổi trạng thái.
	ErrStaleState = errors.New("bản ghi đã thay đổi trạng thái")
)

type ParkingCodeRepository interface {
	Create(ctx context.Context, code *domain.ParkingCode) error
	FindByCodigo(ctx context.Context, codigo string) (*domain.ParkingCode, error)
	Find(ctx context.Context, filter domain.CodeFilterDTO) ([]domain.ParkingCode, error)
	// FindWaitingBySpace trả về mã WAITING mới nhất của chỗ đỗ, tạo sau cutoff.
	FindWaitingBySpace(ctx context.Context, spaceID int, cutoff time.Time) (*domain.ParkingCode, error)
	FindClaimedBySpace(ctx context.Context, spaceID int) (*domain.ParkingCode, error)
	// ClaimIfWaiting chỉ gán chỗ khi mã còn WAITING; trả ErrStaleState nếu thua cuộc đua.
	ClaimIfWaiting(ctx context.Context, codigo string, spaceID int) (*domain.ParkingCode, error)
	UpdateStatus(ctx context.Context, codigo string, status domain.CodeStatus, spaceID null.Int) (*domain.ParkingCode, error)
	ExpireWaitingBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ExpireWaitingBySpace(ctx context.Context, spaceID int) (int64, error)
	ExpireClaimedIn(ctx context.Context, codigos []string) (int64, error)
}

type ParkingSpaceRepository interface {
	Upsert(ctx context.Context, space *domain.ParkingSpace) error
	FindByID(ctx context.Context, id int) (*domain.ParkingSpace, error)
	FindAll(ctx context.Context) ([]domain.ParkingSpace, error)
	SetOccupied(ctx context.Context, id int, occupied bool, at time.Time) error
}

type SpaceLogRepository interface {
	Create(ctx context.Context, entry *domain.SpaceLog) error
	// FindLastOccupied tìm bản ghi "occupied" gần nhất trước thời điểm before,
	// dùng làm mốc bắt đầu phiên khi chỗ đỗ được trả.
	FindLastOccupied(ctx context.Context, spaceID int, before time.Time) (*domain.SpaceLog, error)
	CountBySpace(ctx context.Context) (map[int]domain.SpaceStats, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
	FindLatestByCodigo(ctx context.Context, codigo string) (*domain.Payment, error)
	FindPendingByCodigo(ctx context.Context, codigo string) (*domain.Payment, error)
	// MarkPaidIfPending chỉ chuyển PENDING -> PAID; trả ErrStaleState nếu đã có người xác nhận trước.
	MarkPaidIfPending(ctx context.Context, id int64, paidAt time.Time, method null.String, receipt null.String) (*domain.Payment, error)
	Find(ctx context.Context, filter domain.PaymentFilterDTO) ([]domain.Payment, error)
	FindPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]domain.Payment, error)
}

type AuditLogRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
	Find(ctx context.Context, codigo *string, limit int) ([]domain.AuditLog, error)
}

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	FindByID(ctx context.Context, id int) (*domain.User, error)
}
