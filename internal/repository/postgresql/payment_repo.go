package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/JebGy/parkingiot/internal/domain"
	"github.com/JebGy/parkingiot/internal/repository"
)

type pgPaymentRepository struct {
	db *sql.DB
}

func NewPgPaymentRepository(db *sql.DB) repository.PaymentRepository {
	return &pgPaymentRepository{db: db}
}

const paymentColumns = `id, codigo, space_id, amount_calculated, amount_final, time_used_minutes,
	currency, status, created_at, paid_at, method, receipt_number`

func scanPayment(row interface{ Scan(...any) error }, p *domain.Payment) error {
	err := row.Scan(
		&p.ID, &p.Codigo, &p.SpaceID, &p.AmountCalculated, &p.AmountFinal, &p.TimeUsedMinutes,
		&p.Currency, &p.Status, &p.CreatedAt, &p.PaidAt, &p.Method, &p.ReceiptNumber,
	)
	if err != nil {
		return err
	}
	p.CreatedAt = p.CreatedAt.In(time.UTC)
	if p.PaidAt.Valid {
		p.PaidAt.Time = p.PaidAt.Time.In(time.UTC)
	}
	return nil
}

func (r *pgPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `INSERT INTO payments (codigo, space_id, amount_calculated, amount_final, time_used_minutes, currency, status, created_at)
	           VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP)
	           RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		payment.Codigo, payment.SpaceID, payment.AmountCalculated, payment.AmountFinal,
		payment.TimeUsedMinutes, payment.Currency, payment.Status,
	).Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		return fmt.Errorf("PaymentRepository.Create: %w", err)
	}
	payment.CreatedAt = payment.CreatedAt.In(time.UTC)
	return nil
}

func (r *pgPaymentRepository) FindLatestByCodigo(ctx context.Context, codigo string) (*domain.Payment, error) {
	payment := &domain.Payment{}
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE codigo = $1 ORDER BY created_at DESC LIMIT 1`
	err := scanPayment(r.db.QueryRowContext(ctx, query, codigo), payment)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("PaymentRepository.FindLatestByCodigo: %w", err)
	}
	return payment, nil
}

func (r *pgPaymentRepository) FindPendingByCodigo(ctx context.Context, codigo string) (*domain.Payment, error) {
	payment := &domain.Payment{}
	query := `SELECT ` + paymentColumns + ` FROM payments
	           WHERE codigo = $1 AND status = $2 ORDER BY created_at DESC LIMIT 1`
	err := scanPayment(r.db.QueryRowContext(ctx, query, codigo, domain.PaymentPending), payment)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("PaymentRepository.FindPendingByCodigo: %w", err)
	}
	return payment, nil
}

func (r *pgPaymentRepository) MarkPaidIfPending(ctx context.Context, id int64, paidAt time.Time, method null.String, receipt null.String) (*domain.Payment, error) {
	payment := &domain.Payment{}
	// Hai thu ngân cùng bấm xác nhận thì chỉ một UPDATE có hiệu lực.
	query := `UPDATE payments
	           SET status = $1, paid_at = $2, method = $3, receipt_number = $4
	           WHERE id = $5 AND status = $6
	           RETURNING ` + paymentColumns
	err := scanPayment(r.db.QueryRowContext(ctx, query, domain.PaymentPaid, paidAt, method, receipt, id, domain.PaymentPending), payment)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrStaleState
		}
		return nil, fmt.Errorf("PaymentRepository.MarkPaidIfPending: %w", err)
	}
	return payment, nil
}

func (r *pgPaymentRepository) Find(ctx context.Context, filter domain.PaymentFilterDTO) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE 1=1`
	args := []any{}
	if filter.SpaceID != nil {
		args = append(args, *filter.SpaceID)
		query += fmt.Sprintf(" AND space_id = $%d", len(args))
	}
	if filter.Status != nil && *filter.Status != "" {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Codigo != nil && *filter.Codigo != "" {
		args = append(args, *filter.Codigo)
		query += fmt.Sprintf(" AND codigo = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("PaymentRepository.Find: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var payment domain.Payment
		if err := scanPayment(rows, &payment); err != nil {
			return nil, fmt.Errorf("PaymentRepository.Find (scanning row): %w", err)
		}
		payments = append(payments, payment)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("PaymentRepository.Find (rows error): %w", err)
	}
	return payments, nil
}

func (r *pgPaymentRepository) FindPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
	           WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, domain.PaymentPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("PaymentRepository.FindPendingCreatedBefore: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var payment domain.Payment
		if err := scanPayment(rows, &payment); err != nil {
			return nil, fmt.Errorf("PaymentRepository.FindPendingCreatedBefore (scanning row): %w", err)
		}
		payments = append(payments, payment)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("PaymentRepository.FindPendingCreatedBefore (rows error): %w", err)
	}
	return payments, nil
}
