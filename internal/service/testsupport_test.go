package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/JebGy/parkingiot/internal/domain"
	"github.com/JebGy/parkingiot/internal/repository"
)

// Các fake repo dưới đây giữ dữ liệu trong map có mutex và tái hiện đúng
// ngữ nghĩa cập nhật có điều kiện của bản PostgreSQL (thua cuộc đua nhận
// ErrStaleState), để test được hành vi tranh chấp mà không cần DB.

type fakeCodeRepo struct {
	mu    sync.Mutex
	codes map[string]*domain.ParkingCode
}

func newFakeCodeRepo() *fakeCodeRepo {
	return &fakeCodeRepo{codes: make(map[string]*domain.ParkingCode)}
}

func (r *fakeCodeRepo) Create(ctx context.Context, code *domain.ParkingCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.codes[code.Codigo]; exists {
		return repository.ErrDuplicateEntry
	}
	now := time.Now().UTC()
	if code.FechaCreacion.IsZero() {
		code.FechaCreacion = now
	}
	code.FechaActualizacion = now
	cp := *code
	r.codes[code.Codigo] = &cp
	return nil
}

func (r *fakeCodeRepo) FindByCodigo(ctx context.Context, codigo string) (*domain.ParkingCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.codes[codigo]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *code
	return &cp, nil
}

func (r *fakeCodeRepo) Find(ctx context.Context, filter domain.CodeFilterDTO) ([]domain.ParkingCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ParkingCode
	for _, code := range r.codes {
		if filter.Status != nil && *filter.Status != "" && string(code.Status) != *filter.Status {
			continue
		}
		if filter.Q != nil && *filter.Q != "" && !strings.Contains(code.Codigo, *filter.Q) {
			continue
		}
		if filter.SpaceID != nil && (!code.SpaceID.Valid || int(code.SpaceID.Int64) != *filter.SpaceID) {
			continue
		}
		out = append(out, *code)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FechaCreacion.After(out[j].FechaCreacion)
	})
	return out, nil
}

func (r *fakeCodeRepo) FindWaitingBySpace(ctx context.Context, spaceID int, cutoff time.Time) (*domain.ParkingCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.ParkingCode
	for _, code := range r.codes {
		if code.Status != domain.CodeWaiting {
			continue
		}
		if !code.SpaceID.Valid || int(code.SpaceID.Int64) != spaceID {
			continue
		}
		if !code.FechaCreacion.After(cutoff) {
			continue
		}
		if best == nil || code.FechaCreacion.After(best.FechaCreacion) {
			best = code
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *fakeCodeRepo) FindClaimedBySpace(ctx context.Context, spaceID int) (*domain.ParkingCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.ParkingCode
	for _, code := range r.codes {
		if code.Status != domain.CodeClaimed {
			continue
		}
		if !code.SpaceID.Valid || int(code.SpaceID.Int64) != spaceID {
			continue
		}
		if best == nil || code.FechaActualizacion.After(best.FechaActualizacion) {
			best = code
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *fakeCodeRepo) ClaimIfWaiting(ctx context.Context, codigo string, spaceID int) (*domain.ParkingCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.codes[codigo]
	if !ok || code.Status != domain.CodeWaiting {
		return nil, repository.ErrStaleState
	}
	code.Status = domain.CodeClaimed
	code.SpaceID = null.IntFrom(int64(spaceID))
	code.FechaActualizacion = time.Now().UTC()
	cp := *code
	return &cp, nil
}

func (r *fakeCodeRepo) UpdateStatus(ctx context.Context, codigo string, status domain.CodeStatus, spaceID null.Int) (*domain.ParkingCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.codes[codigo]
	if !ok {
		return nil, repository.ErrNotFound
	}
	code.Status = status
	code.SpaceID = spaceID
	code.FechaActualizacion = time.Now().UTC()
	cp := *code
	return &cp, nil
}

func (r *fakeCodeRepo) ExpireWaitingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, code := range r.codes {
		if code.Status == domain.CodeWaiting && code.FechaCreacion.Before(cutoff) {
			code.Status = domain.CodeExpired
			code.FechaActualizacion = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (r *fakeCodeRepo) ExpireWaitingBySpace(ctx context.Context, spaceID int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, code := range r.codes {
		if code.Status == domain.CodeWaiting && code.SpaceID.Valid && int(code.SpaceID.Int64) == spaceID {
			code.Status = domain.CodeExpired
			code.FechaActualizacion = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (r *fakeCodeRepo) ExpireClaimedIn(ctx context.Context, codigos []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, codigo := range codigos {
		if code, ok := r.codes[codigo]; ok && code.Status == domain.CodeClaimed {
			code.Status = domain.CodeExpired
			code.FechaActualizacion = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

type fakeSpaceRepo struct {
	mu     sync.Mutex
	spaces map[int]*domain.ParkingSpace
}

func newFakeSpaceRepo() *fakeSpaceRepo {
	return &fakeSpaceRepo{spaces: make(map[int]*domain.ParkingSpace)}
}

func (r *fakeSpaceRepo) Upsert(ctx context.Context, space *domain.ParkingSpace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *space
	r.spaces[space.ID] = &cp
	return nil
}

func (r *fakeSpaceRepo) FindByID(ctx context.Context, id int) (*domain.ParkingSpace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	space, ok := r.spaces[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *space
	return &cp, nil
}

func (r *fakeSpaceRepo) FindAll(ctx context.Context) ([]domain.ParkingSpace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ParkingSpace
	for _, space := range r.spaces {
		out = append(out, *space)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeSpaceRepo) SetOccupied(ctx context.Context, id int, occupied bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	space, ok := r.spaces[id]
	if !ok {
		return repository.ErrNotFound
	}
	space.Occupied = occupied
	space.UpdatedAt = at
	return nil
}

type fakeSpaceLogRepo struct {
	mu      sync.Mutex
	entries []domain.SpaceLog
	nextID  int64
}

func newFakeSpaceLogRepo() *fakeSpaceLogRepo {
	return &fakeSpaceLogRepo{}
}

func (r *fakeSpaceLogRepo) Create(ctx context.Context, entry *domain.SpaceLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry.ID = r.nextID
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeSpaceLogRepo) FindLastOccupied(ctx context.Context, spaceID int, before time.Time) (*domain.SpaceLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.SpaceLog
	for i := range r.entries {
		e := &r.entries[i]
		if e.SpaceID != spaceID || !e.Occupied || !e.Timestamp.Before(before) {
			continue
		}
		if best == nil || e.Timestamp.After(best.Timestamp) {
			best = e
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *fakeSpaceLogRepo) CountBySpace(ctx context.Context) (map[int]domain.SpaceStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := make(map[int]domain.SpaceStats)
	for _, e := range r.entries {
		s := stats[e.SpaceID]
		if e.Occupied {
			s.OccupiedCount++
		} else {
			s.FreeCount++
		}
		stats[e.SpaceID] = s
	}
	return stats, nil
}

type fakePaymentRepo struct {
	mu       sync.Mutex
	payments []*domain.Payment
	nextID   int64
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{}
}

func (r *fakePaymentRepo) Create(ctx context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	payment.ID = r.nextID
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	cp := *payment
	r.payments = append(r.payments, &cp)
	return nil
}

func (r *fakePaymentRepo) FindLatestByCodigo(ctx context.Context, codigo string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.Payment
	for _, p := range r.payments {
		if p.Codigo != codigo {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) || (p.CreatedAt.Equal(best.CreatedAt) && p.ID > best.ID) {
			best = p
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *fakePaymentRepo) FindPendingByCodigo(ctx context.Context, codigo string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.Payment
	for _, p := range r.payments {
		if p.Codigo != codigo || p.Status != domain.PaymentPending {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) {
			best = p
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *fakePaymentRepo) MarkPaidIfPending(ctx context.Context, id int64, paidAt time.Time, method null.String, receipt null.String) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.ID != id {
			continue
		}
		if p.Status != domain.PaymentPending {
			return nil, repository.ErrStaleState
		}
		p.Status = domain.PaymentPaid
		p.PaidAt = null.TimeFrom(paidAt)
		p.Method = method
		p.ReceiptNumber = receipt
		cp := *p
		return &cp, nil
	}
	return nil, repository.ErrStaleState
}

func (r *fakePaymentRepo) Find(ctx context.Context, filter domain.PaymentFilterDTO) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.payments {
		if filter.SpaceID != nil && (!p.SpaceID.Valid || int(p.SpaceID.Int64) != *filter.SpaceID) {
			continue
		}
		if filter.Status != nil && *filter.Status != "" && string(p.Status) != *filter.Status {
			continue
		}
		if filter.Codigo != nil && *filter.Codigo != "" && p.Codigo != *filter.Codigo {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (r *fakePaymentRepo) FindPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.payments {
		if p.Status == domain.PaymentPending && p.CreatedAt.Before(cutoff) {
			out = append(out, *p)
		}
	}
	return out, nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func newFakeAuditRepo() *fakeAuditRepo {
	return &fakeAuditRepo{}
}

func (r *fakeAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = int64(len(r.entries) + 1)
	entry.CreatedAt = time.Now().UTC()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeAuditRepo) Find(ctx context.Context, codigo *string, limit int) ([]domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AuditLog
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.entries[i]
		if codigo != nil && (!e.Codigo.Valid || e.Codigo.String != *codigo) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *fakeAuditRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Accion)
	}
	return out
}

// fakePublisher đếm số lần Publish và có thể ép N lần đầu thất bại.
type fakePublisher struct {
	mu       sync.Mutex
	attempts int
	failures int
	payloads []domain.ServoCommandPayload
}

func (p *fakePublisher) Publish(ctx context.Context, payload domain.ServoCommandPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.attempts <= p.failures {
		return context.DeadlineExceeded
	}
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *fakePublisher) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *fakePublisher) published() []domain.ServoCommandPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.ServoCommandPayload, len(p.payloads))
	copy(out, p.payloads)
	return out
}

type fakeNotifier struct {
	mu           sync.Mutex
	spaceEvents  []int
	paidEvents   []string
}

func (n *fakeNotifier) BroadcastSpaceUpdate(spaceID int, occupied bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.spaceEvents = append(n.spaceEvents, spaceID)
}

func (n *fakeNotifier) BroadcastPaymentPaid(codigo string, amountFinal float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paidEvents = append(n.paidEvents, codigo)
}
