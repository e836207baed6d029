package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"gopkg.in/guregu/null.v4"

	"github.com/JebGy/parkingiot/internal/domain"
	"github.com/JebGy/parkingiot/internal/repository"
)

type pgParkingCodeRepository struct {
	db *sql.DB
}

func NewPgParkingCodeRepository(db *sql.DB) repository.ParkingCodeRepository {
	return &pgParkingCodeRepository{db: db}
}

func scanCode(row interface{ Scan(...any) error }, code *domain.ParkingCode) error {
	if err := row.Scan(&code.Codigo, &code.Status, &code.SpaceID, &code.FechaCreacion, &code.FechaActualizacion); err != nil {
		return err
	}
	code.FechaCreacion = code.FechaCreacion.In(time.UTC)
	code.FechaActualizacion = code.FechaActualizacion.In(time.UTC)
	return nil
}

func (r *pgParkingCodeRepository) Create(ctx context.Context, code *domain.ParkingCode) error {
	query := `INSERT INTO parking_codes (codigo, status, space_id, fecha_creacion, fecha_actualizacion)
	           VALUES ($1, $2, $3, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	           RETURNING fecha_creacion, fecha_actualizacion`
	err := r.db.QueryRowContext(ctx, query, code.Codigo, code.Status, code.SpaceID).
		Scan(&code.FechaCreacion, &code.FechaActualizacion)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code.Name() == "unique_violation" {
				return fmt.Errorf("%w: mã '%s' đã tồn tại", repository.ErrDuplicateEntry, code.Codigo)
			}
		}
		return fmt.Errorf("ParkingCodeRepository.Create: %w", err)
	}
	code.FechaCreacion = code.FechaCreacion.In(time.UTC)
	code.FechaActualizacion = code.FechaActualizacion.In(time.UTC)
	return nil
}

func (r *pgParkingCodeRepository) FindByCodigo(ctx context.Context, codigo string) (*domain.ParkingCode, error) {
	code := &domain.ParkingCode{}
	query := `SELECT codigo, status, space_id, fecha_creacion, fecha_actualizacion
	           FROM parking_codes WHERE codigo = $1`
	err := scanCode(r.db.QueryRowContext(ctx, query, codigo), code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ParkingCodeRepository.FindByCodigo: %w", err)
	}
	return code, nil
}

func (r *pgParkingCodeRepository) Find(ctx context.Context, filter domain.CodeFilterDTO) ([]domain.ParkingCode, error) {
	query := `SELECT codigo, status, space_id, fecha_creacion, fecha_actualizacion FROM parking_codes WHERE 1=1`
	args := []any{}
	if filter.Status != nil && *filter.Status != "" {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Q != nil && *filter.Q != "" {
		args = append(args, "%"+*filter.Q+"%")
		query += fmt.Sprintf(" AND codigo ILIKE $%d", len(args))
	}
	if filter.SpaceID != nil {
		args = append(args, *filter.SpaceID)
		query += fmt.Sprintf(" AND space_id = $%d", len(args))
	}

	// Chỉ cho phép các cột/sắp xếp đã biết để tránh SQL injection qua query param
	sortCol := "fecha_creacion"
	if filter.Sort == "fecha_actualizacion" {
		sortCol = "fecha_actualizacion"
	}
	order := "DESC"
	if filter.Order == "asc" {
		order = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortCol, order)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ParkingCodeRepository.Find: %w", err)
	}
	defer rows.Close()

	var codes []domain.ParkingCode
	for rows.Next() {
		var code domain.ParkingCode
		if err := scanCode(rows, &code); err != nil {
			return nil, fmt.Errorf("ParkingCodeRepository.Find (scanning row): %w", err)
		}
		codes = append(codes, code)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ParkingCodeRepository.Find (rows error): %w", err)
	}
	return codes, nil
}

func (r *pgParkingCodeRepository) FindWaitingBySpace(ctx context.Context, spaceID int, cutoff time.Time) (*domain.ParkingCode, error) {
	code := &domain.ParkingCode{}
	query := `SELECT codigo, status, space_id, fecha_creacion, fecha_actualizacion
	           FROM parking_codes
	           WHERE space_id = $1 AND status = $2 AND fecha_creacion > $3
	           ORDER BY fecha_creacion DESC LIMIT 1`
	err := scanCode(r.db.QueryRowContext(ctx, query, spaceID, domain.CodeWaiting, cutoff), code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ParkingCodeRepository.FindWaitingBySpace: %w", err)
	}
	return code, nil
}

func (r *pgParkingCodeRepository) FindClaimedBySpace(ctx context.Context, spaceID int) (*domain.ParkingCode, error) {
	code := &domain.ParkingCode{}
	query := `SELECT codigo, status, space_id, fecha_creacion, fecha_actualizacion
	           FROM parking_codes
	           WHERE space_id = $1 AND status = $2
	           ORDER BY fecha_actualizacion DESC LIMIT 1`
	err := scanCode(r.db.QueryRowContext(ctx, query, spaceID, domain.CodeClaimed), code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ParkingCodeRepository.FindClaimedBySpace: %w", err)
	}
	return code, nil
}

func (r *pgParkingCodeRepository) ClaimIfWaiting(ctx context.Context, codigo string, spaceID int) (*domain.ParkingCode, error) {
	code := &domain.ParkingCode{}
	// UPDATE có điều kiện: hai yêu cầu gán cùng lúc thì chỉ một bên thắng,
	// bên thua nhận ErrStaleState thay vì ghi đè.
	query := `UPDATE parking_codes
	           SET status = $1, space_id = $2, fecha_actualizacion = CURRENT_TIMESTAMP
	           WHERE codigo = $3 AND status = $4
	           RETURNING codigo, status, space_id, fecha_creacion, fecha_actualizacion`
	err := scanCode(r.db.QueryRowContext(ctx, query, domain.CodeClaimed, spaceID, codigo, domain.CodeWaiting), code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrStaleState
		}
		return nil, fmt.Errorf("ParkingCodeRepository.ClaimIfWaiting: %w", err)
	}
	return code, nil
}

func (r *pgParkingCodeRepository) UpdateStatus(ctx context.Context, codigo string, status domain.CodeStatus, spaceID null.Int) (*domain.ParkingCode, error) {
	code := &domain.ParkingCode{}
	query := `UPDATE parking_codes
	           SET status = $1, space_id = $2, fecha_actualizacion = CURRENT_TIMESTAMP
	           WHERE codigo = $3
	           RETURNING codigo, status, space_id, fecha_creacion, fecha_actualizacion`
	err := scanCode(r.db.QueryRowContext(ctx, query, status, spaceID, codigo), code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ParkingCodeRepository.UpdateStatus: %w", err)
	}
	return code, nil
}

func (r *pgParkingCodeRepository) ExpireWaitingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `UPDATE parking_codes
	           SET status = $1, fecha_actualizacion = CURRENT_TIMESTAMP
	           WHERE status = $2 AND fecha_creacion < $3`
	result, err := r.db.ExecContext(ctx, query, domain.CodeExpired, domain.CodeWaiting, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ParkingCodeRepository.ExpireWaitingBefore: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ParkingCodeRepository.ExpireWaitingBefore (checking rows affected): %w", err)
	}
	return rowsAffected, nil
}

func (r *pgParkingCodeRepository) ExpireWaitingBySpace(ctx context.Context, spaceID int) (int64, error) {
	query := `UPDATE parking_codes
	           SET status = $1, fecha_actualizacion = CURRENT_TIMESTAMP
	           WHERE status = $2 AND space_id = $3`
	result, err := r.db.ExecContext(ctx, query, domain.CodeExpired, domain.CodeWaiting, spaceID)
	if err != nil {
		return 0, fmt.Errorf("ParkingCodeRepository.ExpireWaitingBySpace: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ParkingCodeRepository.ExpireWaitingBySpace (checking rows affected): %w", err)
	}
	return rowsAffected, nil
}

func (r *pgParkingCodeRepository) ExpireClaimedIn(ctx context.Context, codigos []string) (int64, error) {
	if len(codigos) == 0 {
		return 0, nil
	}
	query := `UPDATE parking_codes
	           SET status = $1, fecha_actualizacion = CURRENT_TIMESTAMP
	           WHERE status = $2 AND codigo = ANY($3)`
	result, err := r.db.ExecContext(ctx, query, domain.CodeExpired, domain.CodeClaimed, pq.Array(codigos))
	if err != nil {
		return 0, fmt.Errorf("ParkingCodeRepository.ExpireClaimedIn: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ParkingCodeRepository.ExpireClaimedIn (checking rows affected): %w", err)
	}
	return rowsAffected, nil
}
