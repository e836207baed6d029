package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/JebGy/parkingiot/internal/domain"
)

type spaceServiceFixture struct {
	svc         *SpaceService
	codeSvc     *CodeService
	paymentSvc  *PaymentService
	codeRepo    *fakeCodeRepo
	spaceRepo   *fakeSpaceRepo
	logRepo     *fakeSpaceLogRepo
	paymentRepo *fakePaymentRepo
	auditRepo   *fakeAuditRepo
	notifier    *fakeNotifier
}

func newSpaceServiceFixture() *spaceServiceFixture {
	codeRepo := newFakeCodeRepo()
	spaceRepo := newFakeSpaceRepo()
	logRepo := newFakeSpaceLogRepo()
	paymentRepo := newFakePaymentRepo()
	auditRepo := newFakeAuditRepo()
	notifier := &fakeNotifier{}

	auditSvc := NewAuditService(auditRepo)
	servoSvc := NewServoService(&fakePublisher{}, 0)
	feeCalc := NewFeeCalculator(5, 5)
	codeSvc := NewCodeService(codeRepo, spaceRepo, paymentRepo, auditSvc, 3, 30*time.Minute, 60*time.Minute)
	paymentSvc := NewPaymentService(paymentRepo, codeRepo, spaceRepo, auditSvc, servoSvc, notifier, "MXN")
	svc := NewSpaceService(spaceRepo, logRepo, codeRepo, paymentRepo,
		codeSvc, paymentSvc, feeCalc, auditSvc, notifier, 3)

	return &spaceServiceFixture{svc: svc, codeSvc: codeSvc, paymentSvc: paymentSvc,
		codeRepo: codeRepo, spaceRepo: spaceRepo, logRepo: logRepo,
		paymentRepo: paymentRepo, auditRepo: auditRepo, notifier: notifier}
}

func report(spaceID int, occupied bool, at time.Time) domain.SpaceReportDTO {
	return domain.SpaceReportDTO{
		IDEspacio: spaceID,
		Estado:    &occupied,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

func TestReportOccupancyValidation(t *testing.T) {
	f := newSpaceServiceFixture()
	now := time.Now().UTC()
	ok := true

	tests := []struct {
		name    string
		dto     domain.SpaceReportDTO
		wantErr error
	}{
		{"cho-ngoai-pham-vi", report(9, true, now), ErrInvalidSpaceID},
		{"cho-bang-khong", report(0, true, now), ErrInvalidSpaceID},
		{"estado-thieu", domain.SpaceReportDTO{IDEspacio: 1, Estado: nil, Timestamp: now.Format(time.RFC3339)}, ErrInvalidOccupancyFlag},
		{"timestamp-hong", domain.SpaceReportDTO{IDEspacio: 1, Estado: &ok, Timestamp: "hôm qua"}, ErrInvalidTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ReportOccupancy(context.Background(), tt.dto, "1.2.3.4")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, muốn %v", err, tt.wantErr)
			}
		})
	}
}

func TestReportOccupiedIssuesCode(t *testing.T) {
	f := newSpaceServiceFixture()
	now := time.Now().UTC()

	result, err := f.svc.ReportOccupancy(context.Background(), report(1, true, now), "1.2.3.4")
	if err != nil {
		t.Fatalf("ReportOccupancy lỗi: %v", err)
	}

	if result.Code == nil {
		t.Fatal("xe vào nhưng không phát mã")
	}
	if result.Code.Status != domain.CodeWaiting {
		t.Errorf("mã phát ra ở %s, muốn WAITING", result.Code.Status)
	}
	if result.Space == nil || !result.Space.Occupied {
		t.Error("trạng thái chỗ đỗ không được cập nhật thành occupied")
	}

	// Báo lại lần nữa: tái sử dụng mã, không phát mã mới
	again, err := f.svc.ReportOccupancy(context.Background(), report(1, true, now.Add(time.Minute)), "1.2.3.4")
	if err != nil {
		t.Fatalf("ReportOccupancy lần 2 lỗi: %v", err)
	}
	if again.Code.Codigo != result.Code.Codigo {
		t.Errorf("lần 2 phát mã mới %s, muốn tái sử dụng %s", again.Code.Codigo, result.Code.Codigo)
	}
}

func TestVacateOpensPendingInvoiceFor37Minutes(t *testing.T) {
	f := newSpaceServiceFixture()
	entered := time.Now().UTC().Add(-37 * time.Minute)

	// Xe vào, nhận mã, claim chỗ
	in, err := f.svc.ReportOccupancy(context.Background(), report(2, true, entered), "1.2.3.4")
	if err != nil {
		t.Fatalf("báo xe vào lỗi: %v", err)
	}
	if _, err := f.codeSvc.Claim(context.Background(),
		domain.ClaimCodeDTO{Codigo: in.Code.Codigo, SpaceID: 2}, nil, "1.2.3.4"); err != nil {
		t.Fatalf("claim lỗi: %v", err)
	}

	// Xe ra sau 37 phút
	out, err := f.svc.ReportOccupancy(context.Background(), report(2, false, entered.Add(37*time.Minute)), "1.2.3.4")
	if err != nil {
		t.Fatalf("báo xe ra lỗi: %v", err)
	}

	if out.Payment == nil {
		t.Fatal("xe ra với mã CLAIMED nhưng không mở hóa đơn")
	}
	if out.Payment.Status != domain.PaymentPending {
		t.Errorf("hóa đơn ở %s, muốn PENDING", out.Payment.Status)
	}
	// 37 phút làm tròn về 30 = 2 block * 5
	if out.Payment.TimeUsedMinutes != 30 {
		t.Errorf("TimeUsedMinutes = %d, muốn 30", out.Payment.TimeUsedMinutes)
	}
	if out.Payment.AmountFinal != 10 {
		t.Errorf("AmountFinal = %v, muốn 10", out.Payment.AmountFinal)
	}
}

func TestVacateWithoutClaimedCode(t *testing.T) {
	f := newSpaceServiceFixture()
	entered := time.Now().UTC().Add(-20 * time.Minute)

	in, err := f.svc.ReportOccupancy(context.Background(), report(1, true, entered), "1.2.3.4")
	if err != nil {
		t.Fatalf("báo xe vào lỗi: %v", err)
	}

	out, err := f.svc.ReportOccupancy(context.Background(), report(1, false, entered.Add(20*time.Minute)), "1.2.3.4")
	if err != nil {
		t.Fatalf("báo xe ra lỗi: %v", err)
	}
	if out.Payment != nil {
		t.Errorf("không có mã CLAIMED nhưng vẫn mở hóa đơn #%d", out.Payment.ID)
	}

	// Mã WAITING của chỗ này phải bị dọn khi xe rời đi
	code, _ := f.codeRepo.FindByCodigo(context.Background(), in.Code.Codigo)
	if code.Status != domain.CodeExpired {
		t.Errorf("mã WAITING sau khi xe ra ở %s, muốn EXPIRED", code.Status)
	}
}

func TestVacateAfterPrepaidOnlyRetiresCode(t *testing.T) {
	f := newSpaceServiceFixture()
	entered := time.Now().UTC().Add(-30 * time.Minute)

	in, err := f.svc.ReportOccupancy(context.Background(), report(3, true, entered), "1.2.3.4")
	if err != nil {
		t.Fatalf("báo xe vào lỗi: %v", err)
	}
	if _, err := f.codeSvc.Claim(context.Background(),
		domain.ClaimCodeDTO{Codigo: in.Code.Codigo, SpaceID: 3}, nil, "1.2.3.4"); err != nil {
		t.Fatalf("claim lỗi: %v", err)
	}

	// Trả tiền trước khi rời bãi
	paid := &domain.Payment{Codigo: in.Code.Codigo, SpaceID: null.IntFrom(3),
		AmountFinal: 10, Currency: "MXN", Status: domain.PaymentPaid}
	f.paymentRepo.Create(context.Background(), paid)

	out, err := f.svc.ReportOccupancy(context.Background(), report(3, false, entered.Add(30*time.Minute)), "1.2.3.4")
	if err != nil {
		t.Fatalf("báo xe ra lỗi: %v", err)
	}
	if out.Payment != nil {
		t.Errorf("đã trả tiền trước nhưng vẫn mở hóa đơn mới #%d", out.Payment.ID)
	}

	code, _ := f.codeRepo.FindByCodigo(context.Background(), in.Code.Codigo)
	if code.Status != domain.CodeExpired {
		t.Errorf("mã đã thanh toán sau khi xe ra ở %s, muốn EXPIRED", code.Status)
	}
}

func TestCurrentSpacesFillsDefaults(t *testing.T) {
	f := newSpaceServiceFixture()
	now := time.Now().UTC()
	if _, err := f.svc.ReportOccupancy(context.Background(), report(2, true, now), "1.2.3.4"); err != nil {
		t.Fatalf("ReportOccupancy lỗi: %v", err)
	}

	spaces, err := f.svc.CurrentSpaces(context.Background())
	if err != nil {
		t.Fatalf("CurrentSpaces lỗi: %v", err)
	}
	if len(spaces) != 3 {
		t.Fatalf("trả về %d chỗ, muốn đủ 3", len(spaces))
	}
	if spaces[0].ID != 1 || spaces[0].Occupied || spaces[0].UpdatedAt.Valid {
		t.Errorf("chỗ chưa báo cáo phải mặc định trống, updated_at null: %+v", spaces[0])
	}
	if !spaces[1].Occupied || !spaces[1].UpdatedAt.Valid {
		t.Errorf("chỗ 2 phải occupied với updated_at hợp lệ: %+v", spaces[1])
	}
}

func TestSeedSpacesOnlyCreatesMissing(t *testing.T) {
	f := newSpaceServiceFixture()
	now := time.Now().UTC()
	if _, err := f.svc.ReportOccupancy(context.Background(), report(1, true, now), "1.2.3.4"); err != nil {
		t.Fatalf("ReportOccupancy lỗi: %v", err)
	}

	created, err := f.svc.SeedSpaces(context.Background())
	if err != nil {
		t.Fatalf("SeedSpaces lỗi: %v", err)
	}
	if created != 2 {
		t.Errorf("tạo %d chỗ, muốn 2 (chỗ 1 đã tồn tại)", created)
	}

	// Chỗ đã occupied không bị seed ghi đè
	space, _ := f.spaceRepo.FindByID(context.Background(), 1)
	if !space.Occupied {
		t.Error("seed ghi đè trạng thái chỗ 1 đang occupied")
	}
}

func TestStatsCountsCurrentAndHistory(t *testing.T) {
	f := newSpaceServiceFixture()
	now := time.Now().UTC()
	if _, err := f.svc.ReportOccupancy(context.Background(), report(1, true, now.Add(-10*time.Minute)), "1.2.3.4"); err != nil {
		t.Fatalf("ReportOccupancy lỗi: %v", err)
	}
	if _, err := f.svc.ReportOccupancy(context.Background(), report(1, false, now), "1.2.3.4"); err != nil {
		t.Fatalf("ReportOccupancy lỗi: %v", err)
	}
	if _, err := f.svc.ReportOccupancy(context.Background(), report(2, true, now), "1.2.3.4"); err != nil {
		t.Fatalf("ReportOccupancy lỗi: %v", err)
	}

	stats, err := f.svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats lỗi: %v", err)
	}
	if stats.OccupiedNow != 1 || stats.FreeNow != 2 {
		t.Errorf("occupied_now=%d free_now=%d, muốn 1/2", stats.OccupiedNow, stats.FreeNow)
	}
	if s := stats.LogsBySpace[1]; s.OccupiedCount != 1 || s.FreeCount != 1 {
		t.Errorf("thống kê log chỗ 1 = %+v, muốn 1 occupied / 1 free", s)
	}
}
